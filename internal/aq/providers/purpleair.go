package providers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
)

// DefaultPurpleAirFields is the synoptic field list requested when the caller
// does not supply one.
var DefaultPurpleAirFields = []string{
	"sensor_index", "name", "latitude", "longitude", "altitude", "private",
	"last_seen", "humidity", "temperature", "pm2.5_60minute", "pm2.5_cf_1",
}

// PurpleAirConfig holds the credentials and request scope for the PurpleAir
// API. Bounds and ShowOnly are mutually exclusive.
type PurpleAirConfig struct {
	APIKey  string
	BaseURL string // default https://api.purpleair.com/v1

	Fields        []string
	LocationType  *int // 0 = outside, 1 = inside
	MaxAgeSeconds int
	Bounds        *aq.BoundingBox
	ShowOnly      []string
	ModifiedSince time.Time
	ReadKeys      []string
}

// PurpleAirProvider implements aq.SynopticSource and aq.TimeseriesSource for
// the PurpleAir API.
type PurpleAirProvider struct {
	name    string
	cfg     PurpleAirConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewPurpleAirProvider(client *http.Client, cfg PurpleAirConfig) *PurpleAirProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.purpleair.com/v1"
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultPurpleAirFields
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "purpleair",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &PurpleAirProvider{
		name:    "purpleair",
		cfg:     cfg,
		httpCfg: defaultBackoff(client),
		circuit: cb,
	}
}

func (p *PurpleAirProvider) Name() string { return p.name }

func (p *PurpleAirProvider) Profile() aq.VendorProfile { return aq.PurpleAir }

// MaxChunk is the vendor's per-request lookback limit for each averaging
// period: raw and short averages allow shorter windows than daily rollups.
func (p *PurpleAirProvider) MaxChunk(average int) time.Duration {
	days := 365
	switch average {
	case 0:
		days = 30
	case 10:
		days = 60
	case 30:
		days = 90
	case 60:
		days = 180
	}
	return time.Duration(days) * 24 * time.Hour
}

// FetchSynoptic calls GET /sensors and explodes the response into a flat
// table plus one single-timestamp matrix per requested measurement field.
// PurpleAir supplies no QC flags, so the flag matrices are all-good.
func (p *PurpleAirProvider) FetchSynoptic(ctx context.Context) (aq.SynopticBundle, error) {
	if p.cfg.APIKey == "" {
		return aq.SynopticBundle{}, fmt.Errorf("purpleair api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("fields", strings.Join(p.cfg.Fields, ","))
		if p.cfg.LocationType != nil {
			values.Set("location_type", strconv.Itoa(*p.cfg.LocationType))
		}
		if p.cfg.MaxAgeSeconds > 0 {
			values.Set("max_age", strconv.Itoa(p.cfg.MaxAgeSeconds))
		}
		if len(p.cfg.ShowOnly) > 0 {
			values.Set("show_only", strings.Join(p.cfg.ShowOnly, ","))
		} else if p.cfg.Bounds != nil {
			b := p.cfg.Bounds.Normalized()
			// nwlng/nwlat is the northwest corner, selng/selat the southeast.
			values.Set("nwlng", formatFloat(b.West))
			values.Set("nwlat", formatFloat(b.North))
			values.Set("selng", formatFloat(b.East))
			values.Set("selat", formatFloat(b.South))
		}
		if !p.cfg.ModifiedSince.IsZero() {
			values.Set("modified_since", strconv.FormatInt(p.cfg.ModifiedSince.Unix(), 10))
		}
		if len(p.cfg.ReadKeys) > 0 {
			values.Set("read_keys", strings.Join(p.cfg.ReadKeys, ","))
		}

		u := fmt.Sprintf("%s/sensors?%s", p.cfg.BaseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-Key", p.cfg.APIKey)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.name, parsePurpleAirError, buildRequest)
	if err != nil {
		return aq.SynopticBundle{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Fields        []string `json:"fields"`
		Data          [][]any  `json:"data"`
		DataTimeStamp int64    `json:"data_time_stamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return aq.SynopticBundle{}, fmt.Errorf("purpleair: decode synoptic payload: %w", err)
	}
	if len(payload.Data) == 0 {
		return aq.SynopticBundle{}, &aq.EmptyResultError{Vendor: p.name}
	}

	table := aq.RawTable{Columns: payload.Fields}
	for _, raw := range payload.Data {
		row := make([]string, len(payload.Fields))
		for i := range payload.Fields {
			if i < len(raw) {
				row[i] = stringifyCell(raw[i])
			}
		}
		row = coerceSensorIndex(table, row)
		table.Rows = append(table.Rows, row)
	}

	snapshotTime := time.Unix(payload.DataTimeStamp, 0).UTC()
	if payload.DataTimeStamp == 0 {
		snapshotTime = time.Now().UTC().Truncate(time.Minute)
	}

	return aq.SynopticBundle{
		Synoptic: table,
		Matrices: snapshotMatrices(table, snapshotTime),
	}, nil
}

// FetchTimeseriesChunk calls GET /sensors/{id}/history/csv for one
// sub-window and parses the CSV into a RawTable.
func (p *PurpleAirProvider) FetchTimeseriesChunk(ctx context.Context, req aq.TimeseriesRequest) (aq.RawTable, error) {
	if p.cfg.APIKey == "" {
		return aq.RawTable{}, fmt.Errorf("purpleair api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("start_timestamp", strconv.FormatInt(req.Start.Unix(), 10))
		// end_timestamp is exclusive; add one second so the final sample of
		// the window is included.
		values.Set("end_timestamp", strconv.FormatInt(req.End.Unix()+1, 10))
		values.Set("average", strconv.Itoa(req.Average))
		if len(req.Fields) > 0 {
			values.Set("fields", strings.Join(req.Fields, ","))
		}

		u := fmt.Sprintf("%s/sensors/%s/history/csv?%s", p.cfg.BaseURL, url.PathEscape(req.NativeID), values.Encode())
		httpReq, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("X-API-Key", p.cfg.APIKey)
		return httpReq, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.name, parsePurpleAirError, buildRequest)
	if err != nil {
		return aq.RawTable{}, err
	}
	defer resp.Body.Close()

	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		return aq.RawTable{}, fmt.Errorf("purpleair: parse history csv: %w", err)
	}
	if len(records) < 2 {
		return aq.RawTable{}, &aq.EmptyResultError{Vendor: p.name}
	}

	table := aq.RawTable{Columns: records[0]}
	for _, row := range records[1:] {
		table.Rows = append(table.Rows, coerceSensorIndex(table, row))
	}
	return table, nil
}

// coerceSensorIndex forces sensor_index into a consistent string form. The
// API inconsistently returns numeric or string values, and "76545.0" and
// "76545" must concatenate as the same sensor across chunks.
func coerceSensorIndex(table aq.RawTable, row []string) []string {
	i := table.ColumnIndex("sensor_index")
	if i < 0 || i >= len(row) {
		return row
	}
	if f, err := strconv.ParseFloat(row[i], 64); err == nil && f == float64(int64(f)) {
		row[i] = strconv.FormatInt(int64(f), 10)
	}
	return row
}

// snapshotMatrices builds one single-timestamp wide matrix per measurement
// column, letting periodic synoptic snapshots merge into a growing monitor.
func snapshotMatrices(table aq.RawTable, at time.Time) map[string]aq.ParameterMatrix {
	static := map[string]bool{
		"sensor_index": true, "name": true, "latitude": true, "longitude": true,
		"altitude": true, "private": true, "last_seen": true,
	}

	idIdx := table.ColumnIndex("sensor_index")
	if idIdx < 0 {
		return nil
	}

	sensors := make([]string, 0, len(table.Rows))
	for r := range table.Rows {
		id, _ := table.Value(r, "sensor_index")
		sensors = append(sensors, id)
	}

	matrices := make(map[string]aq.ParameterMatrix)
	for _, col := range table.Columns {
		if static[col] {
			continue
		}

		name := parameterName(col)
		values := make([]*float64, len(table.Rows))
		flags := make([]*float64, len(table.Rows))
		good := 1.0
		for r := range table.Rows {
			flags[r] = &good
			cell, _ := table.Value(r, col)
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				v := f
				values[r] = &v
			}
		}

		matrices[name] = aq.ParameterMatrix{
			Values:  aq.WideMatrix{Times: []time.Time{at}, Sensors: sensors, Values: [][]*float64{values}},
			QCFlags: aq.WideMatrix{Times: []time.Time{at}, Sensors: sensors, Values: [][]*float64{flags}},
		}
	}
	return matrices
}

// parameterName collapses window-suffixed snapshot columns onto their base
// parameter, so "pm2.5_60minute" feeds the "pm2.5" monitor.
func parameterName(col string) string {
	for _, suffix := range []string{"_60minute", "_30minute", "_10minute", "_6hour", "_24hour", "_1week"} {
		if strings.HasSuffix(col, suffix) {
			return strings.TrimSuffix(col, suffix)
		}
	}
	return col
}

func parsePurpleAirError(status int, body []byte) string {
	var payload struct {
		Err         string `json:"error"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if payload.Description != "" {
		return payload.Description
	}
	return payload.Err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func stringifyCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", t)
	}
}
