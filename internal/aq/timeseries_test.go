package aq

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testMeta() SynopticRecord {
	return SynopticRecord{
		DeviceID:           "pa.100",
		LocationID:         "9q5cyr9quk",
		DeviceDeploymentID: "9q5cyr9quk_pa.100",
		NativeID:           "100",
		Longitude:          -118.2,
		Latitude:           34.1,
		Timezone:           "America/Los_Angeles",
	}
}

func historyChunk(rows [][]string) RawTable {
	return RawTable{
		Columns: []string{"time_stamp", "pm2.5_cf_1", "humidity"},
		Rows:    rows,
	}
}

func TestBuildTimeseriesOrderingAndUniqueness(t *testing.T) {
	chunk := historyChunk([][]string{
		{"1700007200", "12.0", "40"},
		{"1700000000", "10.0", "41"},
		{"1700003600", "11.0", "42"},
	})

	ts, err := BuildTimeseries(testMeta(), []RawTable{chunk}, PurpleAir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.Times) != 3 {
		t.Fatalf("expected 3 timestamps, got %d", len(ts.Times))
	}
	for i := 1; i < len(ts.Times); i++ {
		if !ts.Times[i].After(ts.Times[i-1]) {
			t.Errorf("timestamps not strictly increasing at %d: %v !> %v", i, ts.Times[i], ts.Times[i-1])
		}
	}
}

func TestBuildTimeseriesOverlappingChunksAverage(t *testing.T) {
	// Two chunks overlap at one timestamp with differing values; the merged
	// row must be their average, not one or the other.
	a := historyChunk([][]string{
		{"1700000000", "10.0", "40"},
		{"1700003600", "12.0", "40"},
	})
	b := historyChunk([][]string{
		{"1700003600", "14.0", "40"},
		{"1700007200", "16.0", "40"},
	})

	ts, err := BuildTimeseries(testMeta(), []RawTable{a, b}, PurpleAir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.Times) != 3 {
		t.Fatalf("expected 3 rows after merge, got %d", len(ts.Times))
	}
	col := ts.Column("pm2.5_cf_1")
	if col[1] == nil || *col[1] != 13.0 {
		t.Errorf("overlapping timestamp should average to 13.0, got %v", col[1])
	}
}

func TestBuildTimeseriesDropsExactDuplicates(t *testing.T) {
	a := historyChunk([][]string{{"1700000000", "10.0", "40"}})
	b := historyChunk([][]string{{"1700000000", "10.0", "40"}})

	ts, err := BuildTimeseries(testMeta(), []RawTable{a, b}, PurpleAir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.Times) != 1 {
		t.Fatalf("exact duplicate rows must collapse, got %d rows", len(ts.Times))
	}
	if v := ts.Column("pm2.5_cf_1")[0]; v == nil || *v != 10.0 {
		t.Errorf("value = %v, want 10.0", v)
	}
}

func TestBuildTimeseriesInvalidMeta(t *testing.T) {
	meta := testMeta()
	meta.Timezone = ""

	_, err := BuildTimeseries(meta, []RawTable{historyChunk(nil)}, PurpleAir)

	var invalid *InvalidTimeseriesError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTimeseriesError, got %v", err)
	}
	found := false
	for _, f := range invalid.Missing {
		if f == "timezone" {
			found = true
		}
	}
	if !found {
		t.Errorf("error should name timezone as missing: %v", invalid.Missing)
	}
}

func TestSplitWindows(t *testing.T) {
	start := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * 24 * time.Hour)

	windows := SplitWindows(start, end, 2*24*time.Hour)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	if !windows[0].Start.Equal(start) || !windows[2].End.Equal(end) {
		t.Errorf("windows do not cover the full range: %+v", windows)
	}
	for i := 1; i < len(windows); i++ {
		if !windows[i].Start.Equal(windows[i-1].End) {
			t.Errorf("gap between windows %d and %d", i-1, i)
		}
	}
}

// fakeTimeseriesSource serves canned chunks or errors keyed by window start.
type fakeTimeseriesSource struct {
	maxChunk time.Duration
	fetch    func(req TimeseriesRequest) (RawTable, error)
}

func (f *fakeTimeseriesSource) Name() string                   { return "fake" }
func (f *fakeTimeseriesSource) Profile() VendorProfile         { return PurpleAir }
func (f *fakeTimeseriesSource) MaxChunk(int) time.Duration     { return f.maxChunk }
func (f *fakeTimeseriesSource) FetchTimeseriesChunk(ctx context.Context, req TimeseriesRequest) (RawTable, error) {
	return f.fetch(req)
}

func TestFetchChunksParallelFailFast(t *testing.T) {
	start := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	failAt := start.Add(24 * time.Hour)

	src := &fakeTimeseriesSource{
		maxChunk: 24 * time.Hour,
		fetch: func(req TimeseriesRequest) (RawTable, error) {
			if req.Start.Equal(failAt) {
				return RawTable{}, errors.New("boom")
			}
			return historyChunk(nil), nil
		},
	}

	req := TimeseriesRequest{NativeID: "100", Start: start, End: start.Add(3 * 24 * time.Hour)}
	_, err := FetchChunks(context.Background(), src, req, true, 0)
	if err == nil {
		t.Fatal("expected the failing window to abort the build")
	}
	if !strings.Contains(err.Error(), failAt.Format(time.RFC3339)) {
		t.Errorf("error should identify the failing window: %v", err)
	}
}

func TestFetchChunksSequential(t *testing.T) {
	start := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

	var calls int
	src := &fakeTimeseriesSource{
		maxChunk: 24 * time.Hour,
		fetch: func(req TimeseriesRequest) (RawTable, error) {
			calls++
			return historyChunk([][]string{{"1700000000", "10.0", "40"}}), nil
		},
	}

	req := TimeseriesRequest{NativeID: "100", Start: start, End: start.Add(2 * 24 * time.Hour)}
	chunks, err := FetchChunks(context.Background(), src, req, false, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || len(chunks) != 2 {
		t.Errorf("expected 2 sequential chunk fetches, got calls=%d chunks=%d", calls, len(chunks))
	}
}
