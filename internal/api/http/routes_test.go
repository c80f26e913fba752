package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
	"github.com/airnet-dev/airquality-pipeline/internal/store"
)

type fakeHistorySource struct{}

func (fakeHistorySource) Name() string               { return "purpleair" }
func (fakeHistorySource) Profile() aq.VendorProfile  { return aq.PurpleAir }
func (fakeHistorySource) MaxChunk(int) time.Duration { return 30 * 24 * time.Hour }

func (fakeHistorySource) FetchTimeseriesChunk(ctx context.Context, req aq.TimeseriesRequest) (aq.RawTable, error) {
	return aq.RawTable{
		Columns: []string{"time_stamp", "pm2.5_cf_1", "humidity"},
		Rows: [][]string{
			{"1698796800", "12.5", "48"},
			{"1698800400", "13.1", "47"},
		},
	}, nil
}

func testApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore(0, 0)
	service := aq.NewService(st, nil, nil, fakeHistorySource{}, nil, aq.ServiceConfig{})

	app := fiber.New()
	RegisterRoutes(app, service)
	return app, st
}

func seedMonitor(t *testing.T, st *store.MemoryStore) []time.Time {
	t.Helper()

	loc := aq.LocationID(-118.2, 34.1)
	dev := aq.DeviceID("pa", "76545")
	dep := aq.DeviceDeploymentID(loc, dev)

	times := []time.Time{
		time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 11, 1, 1, 0, 0, 0, time.UTC),
	}
	v1, v2 := 12.5, 13.1
	m := aq.Monitor{
		Meta: []aq.MonitorRecord{{
			DeviceDeploymentID: dep,
			DeviceID:           dev,
			LocationID:         loc,
			NativeID:           "76545",
			Longitude:          -118.2,
			Latitude:           34.1,
			CountryCode:        "US",
			Timezone:           "America/Los_Angeles",
			Privacy:            aq.PrivacyPublic,
			SensorManufacturer: "PurpleAir",
			Pollutant:          "PM2.5",
			Units:              "UG/M3",
		}},
		Data: aq.MonitorData{Times: times, Values: [][]*float64{{&v1}, {&v2}}},
	}
	if err := st.UpsertMonitor("purpleair", m); err != nil {
		t.Fatalf("seeding monitor: %v", err)
	}

	st.SaveRecords("purpleair", []aq.SynopticRecord{{
		DeviceID:           dev,
		LocationID:         loc,
		DeviceDeploymentID: dep,
		NativeID:           "76545",
		Longitude:          -118.2,
		Latitude:           34.1,
		CountryCode:        "US",
		Timezone:           "America/Los_Angeles",
		Privacy:            aq.PrivacyPublic,
		SensorManufacturer: "PurpleAir",
	}})
	return times
}

func TestMonitorMetaUnknownSource(t *testing.T) {
	app, _ := testApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/monitors/clarity/meta", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMonitorMeta(t *testing.T) {
	app, st := testApp(t)
	seedMonitor(t, st)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/monitors/purpleair/meta", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Meta []aq.MonitorRecord `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Meta) != 1 || body.Meta[0].NativeID != "76545" {
		t.Errorf("unexpected meta %+v", body.Meta)
	}
}

func TestMonitorDataWindow(t *testing.T) {
	app, st := testApp(t)
	times := seedMonitor(t, st)

	// Restrict to the second timestamp only.
	from := times[1].Format(time.RFC3339)
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/monitors/purpleair/data?from="+from, nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Deployments []string     `json:"deployments"`
		Times       []time.Time  `json:"times"`
		Values      [][]*float64 `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Times) != 1 || !body.Times[0].Equal(times[1]) {
		t.Errorf("window should keep only the second row, got %v", body.Times)
	}
	if len(body.Deployments) != 1 {
		t.Errorf("expected 1 deployment, got %d", len(body.Deployments))
	}
	if v := body.Values[0][0]; v == nil || *v != 13.1 {
		t.Errorf("value = %v, want 13.1", v)
	}
}

func TestMonitorDataInvalidWindow(t *testing.T) {
	app, st := testApp(t)
	seedMonitor(t, st)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/monitors/purpleair/data?from=not-a-time", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSensorTimeseries(t *testing.T) {
	app, st := testApp(t)
	seedMonitor(t, st)

	u := "/api/v1/sensors/76545/timeseries?start=1698796800&end=1698883200&average=60"
	resp, err := app.Test(httptest.NewRequest("GET", u, nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var ts aq.Timeseries
	if err := json.NewDecoder(resp.Body).Decode(&ts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ts.Times) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(ts.Times))
	}
	if ts.Meta.DeviceID != "pa.76545" {
		t.Errorf("meta deviceID = %q", ts.Meta.DeviceID)
	}
}

func TestSensorTimeseriesWithCorrection(t *testing.T) {
	app, st := testApp(t)
	seedMonitor(t, st)

	u := "/api/v1/sensors/76545/timeseries?start=1698796800&end=1698883200&correction=EPA_FASM"
	resp, err := app.Test(httptest.NewRequest("GET", u, nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var ts aq.Timeseries
	if err := json.NewDecoder(resp.Body).Decode(&ts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ts.FieldIndex(aq.CorrectedField) < 0 {
		t.Errorf("corrected column missing from %v", ts.Fields)
	}
}

func TestSensorTimeseriesValidation(t *testing.T) {
	app, st := testApp(t)
	seedMonitor(t, st)

	cases := []struct {
		name string
		url  string
	}{
		{"missing window", "/api/v1/sensors/76545/timeseries"},
		{"end before start", "/api/v1/sensors/76545/timeseries?start=1698883200&end=1698796800"},
		{"bad average", "/api/v1/sensors/76545/timeseries?start=1698796800&end=1698883200&average=7"},
		{"bad correction", "/api/v1/sensors/76545/timeseries?start=1698796800&end=1698883200&correction=LRAPA"},
	}
	for _, c := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", c.url, nil))
		if err != nil {
			t.Fatalf("%s: request failed: %v", c.name, err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", c.name, resp.StatusCode)
		}
	}
}

func TestSensorTimeseriesUnknownSensor(t *testing.T) {
	app, st := testApp(t)
	seedMonitor(t, st)

	u := "/api/v1/sensors/999/timeseries?start=1698796800&end=1698883200"
	resp, err := app.Test(httptest.NewRequest("GET", u, nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
