package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
)

// ClarityConfig holds the credentials and scope for the Clarity open data
// API. An empty DatasourceID requests the all-sensors feed.
type ClarityConfig struct {
	APIKey  string
	BaseURL string // default https://clarity-data-api.clarity.io

	// Format optionally requests the extended feed ("USFS" or "USFS2"); the
	// extended formats carry calibration fields and a nowcast column.
	Format       string
	DatasourceID string
}

// ClarityProvider implements aq.SynopticSource for the Clarity API. One call
// returns every sensor's last three hours of hourly data, so the synoptic
// table and the wide matrices come from the same response.
type ClarityProvider struct {
	name    string
	cfg     ClarityConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewClarityProvider(client *http.Client, cfg ClarityConfig) *ClarityProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://clarity-data-api.clarity.io"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "clarity",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &ClarityProvider{
		name:    "clarity",
		cfg:     cfg,
		httpCfg: defaultBackoff(client),
		circuit: cb,
	}
}

func (p *ClarityProvider) Name() string { return p.name }

func (p *ClarityProvider) Profile() aq.VendorProfile { return aq.Clarity }

// claritySensor mirrors one entry of the feed. Data rows are
// [epochSeconds, qcFlag, pm2.5] with a trailing nowcast column in the
// extended formats; nulls are preserved.
type claritySensor struct {
	DatasourceID        string       `json:"datasourceId"`
	Lat                 float64      `json:"lat"`
	Lon                 float64      `json:"lon"`
	Label               string       `json:"label"`
	CalibrationID       *string      `json:"calibrationId"`
	CalibrationCategory *string      `json:"calibrationCategory"`
	Data                [][]*float64 `json:"data"`
}

const (
	clarityColTime = iota
	clarityColQC
	clarityColPM25
	clarityColNowcast
)

func (p *ClarityProvider) FetchSynoptic(ctx context.Context) (aq.SynopticBundle, error) {
	if p.cfg.APIKey == "" {
		return aq.SynopticBundle{}, fmt.Errorf("clarity api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		path := "/v1/open/all-recent-measurement/pm25/hourly"
		if p.cfg.DatasourceID != "" {
			path = "/v1/open/datasource-measurement/" + url.PathEscape(p.cfg.DatasourceID) + "/pm25/hourly"
		}
		u := p.cfg.BaseURL + path
		if p.cfg.Format != "" {
			u += "?format=" + url.QueryEscape(p.cfg.Format)
		}

		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-api-key", p.cfg.APIKey)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.name, parseClarityError, buildRequest)
	if err != nil {
		return aq.SynopticBundle{}, err
	}
	defer resp.Body.Close()

	var sensors []claritySensor
	if err := json.NewDecoder(resp.Body).Decode(&sensors); err != nil {
		return aq.SynopticBundle{}, fmt.Errorf("clarity: decode payload: %w", err)
	}
	if len(sensors) == 0 {
		return aq.SynopticBundle{}, &aq.EmptyResultError{Vendor: p.name}
	}

	return aq.SynopticBundle{
		Synoptic: claritySynopticTable(sensors),
		Matrices: clarityMatrices(sensors),
	}, nil
}

// claritySynopticTable flattens the feed into one row per sensor, using the
// most recent data row for the snapshot measurement. Calibration columns are
// always present; the basic format leaves them empty rather than omitted so
// the schema stays uniform.
func claritySynopticTable(sensors []claritySensor) aq.RawTable {
	table := aq.RawTable{
		Columns: []string{
			"datasourceId", "lon", "lat", "label",
			"calibrationId", "calibrationCategory", "time", "pm2.5", "nowcast",
		},
	}

	for _, s := range sensors {
		row := make([]string, len(table.Columns))
		row[0] = s.DatasourceID
		row[1] = formatFloat(s.Lon)
		row[2] = formatFloat(s.Lat)
		row[3] = s.Label
		if s.CalibrationID != nil {
			row[4] = *s.CalibrationID
		}
		if s.CalibrationCategory != nil {
			row[5] = *s.CalibrationCategory
		}

		if latest := latestClarityRow(s.Data); latest != nil {
			if ts := latest[clarityColTime]; ts != nil {
				row[6] = strconv.FormatInt(int64(*ts), 10)
			}
			if len(latest) > clarityColPM25 && latest[clarityColPM25] != nil {
				row[7] = formatFloat(*latest[clarityColPM25])
			}
			if len(latest) > clarityColNowcast && latest[clarityColNowcast] != nil {
				row[8] = formatFloat(*latest[clarityColNowcast])
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func latestClarityRow(data [][]*float64) []*float64 {
	var latest []*float64
	for _, row := range data {
		if len(row) <= clarityColTime || row[clarityColTime] == nil {
			continue
		}
		if latest == nil || *row[clarityColTime] > *latest[clarityColTime] {
			latest = row
		}
	}
	return latest
}

// clarityMatrices explodes the nested per-sensor matrices into shared-axis
// wide matrices, one per parameter, plus the parallel QC-flag matrices.
func clarityMatrices(sensors []claritySensor) map[string]aq.ParameterMatrix {
	epochSet := make(map[int64]bool)
	hasNowcast := false
	for _, s := range sensors {
		for _, row := range s.Data {
			if len(row) > clarityColTime && row[clarityColTime] != nil {
				epochSet[int64(*row[clarityColTime])] = true
			}
			if len(row) > clarityColNowcast {
				hasNowcast = true
			}
		}
	}

	epochs := make([]int64, 0, len(epochSet))
	for e := range epochSet {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	times := make([]time.Time, len(epochs))
	rowOf := make(map[int64]int, len(epochs))
	for i, e := range epochs {
		times[i] = time.Unix(e, 0).UTC()
		rowOf[e] = i
	}

	ids := make([]string, len(sensors))
	for i, s := range sensors {
		ids[i] = s.DatasourceID
	}

	params := []struct {
		name string
		col  int
	}{{"pm2.5", clarityColPM25}}
	if hasNowcast {
		params = append(params, struct {
			name string
			col  int
		}{"nowcast", clarityColNowcast})
	}

	matrices := make(map[string]aq.ParameterMatrix, len(params))
	for _, param := range params {
		values := emptyMatrix(len(times), len(sensors))
		flags := emptyMatrix(len(times), len(sensors))

		for si, s := range sensors {
			for _, row := range s.Data {
				if len(row) <= clarityColTime || row[clarityColTime] == nil {
					continue
				}
				r, ok := rowOf[int64(*row[clarityColTime])]
				if !ok {
					continue
				}
				if param.col < len(row) {
					values[r][si] = row[param.col]
				}
				if clarityColQC < len(row) {
					flags[r][si] = row[clarityColQC]
				}
			}
		}

		matrices[param.name] = aq.ParameterMatrix{
			Values:  aq.WideMatrix{Times: times, Sensors: ids, Values: values},
			QCFlags: aq.WideMatrix{Times: times, Sensors: ids, Values: flags},
		}
	}
	return matrices
}

func emptyMatrix(rows, cols int) [][]*float64 {
	out := make([][]*float64, rows)
	for i := range out {
		out[i] = make([]*float64, cols)
	}
	return out
}

func parseClarityError(status int, body []byte) string {
	var payload struct {
		Code    int    `json:"Code"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return http.StatusText(status)
	}
	return payload.Message
}
