package aq

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func testRecords() []SynopticRecord {
	mk := func(native string, lon, lat float64) SynopticRecord {
		loc := LocationID(lon, lat)
		dev := DeviceID("clarity", native)
		return SynopticRecord{
			DeviceID:           dev,
			LocationID:         loc,
			DeviceDeploymentID: DeviceDeploymentID(loc, dev),
			NativeID:           native,
			Longitude:          lon,
			Latitude:           lat,
			CountryCode:        "US",
			StateCode:          "CA",
			Timezone:           "America/Los_Angeles",
			Privacy:            PrivacyPublic,
			SensorManufacturer: "Clarity",
		}
	}
	return []SynopticRecord{
		mk("A1", -118.2, 34.1),
		mk("B2", -118.3, 34.2),
	}
}

func testMatrices(times []time.Time, sensors []string, values, qc [][]*float64) map[string]ParameterMatrix {
	return map[string]ParameterMatrix{
		"pm2.5": {
			Values:  WideMatrix{Times: times, Sensors: sensors, Values: values},
			QCFlags: WideMatrix{Times: times, Sensors: sensors, Values: qc},
		},
	}
}

func TestAssembleFromSynopticInvariants(t *testing.T) {
	records := testRecords()
	times := []time.Time{time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)}

	// Data columns deliberately in reverse of metadata order.
	matrices := testMatrices(times, []string{"B2", "A1"},
		[][]*float64{{f(5.0), f(8.0)}},
		[][]*float64{{f(1), f(1)}},
	)

	m, err := AssembleFromSynoptic(records, matrices, AssembleOptions{Parameter: "pm2.5", ApplyQCMask: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.Meta) != 2 || len(m.Data.Values[0]) != 2 {
		t.Fatalf("meta rows %d, data cols %d; want 2 and 2", len(m.Meta), len(m.Data.Values[0]))
	}
	// Column order must match metadata row order: A1 first.
	if v := m.Data.Values[0][0]; v == nil || *v != 8.0 {
		t.Errorf("first column should be A1's value 8.0, got %v", v)
	}
	if v := m.Data.Values[0][1]; v == nil || *v != 5.0 {
		t.Errorf("second column should be B2's value 5.0, got %v", v)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("assembled monitor failed validation: %v", err)
	}
}

func TestAssembleDeduplicatesMetaKeepingFirst(t *testing.T) {
	records := testRecords()
	dup := records[0]
	dup.LocationName = "duplicate"
	records = append(records, dup)

	times := []time.Time{time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)}
	matrices := testMatrices(times, []string{"A1", "B2"},
		[][]*float64{{f(8.0), f(5.0)}},
		[][]*float64{{f(1), f(1)}},
	)

	m, err := AssembleFromSynoptic(records, matrices, AssembleOptions{Parameter: "pm2.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Meta) != 2 {
		t.Fatalf("expected 2 meta rows after dedupe, got %d", len(m.Meta))
	}
	if m.Meta[0].LocationName == "duplicate" {
		t.Error("dedupe should keep the first occurrence")
	}
}

func TestAssembleAlignmentError(t *testing.T) {
	records := testRecords()
	times := []time.Time{time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)}

	// Only one data column for two metadata rows.
	matrices := testMatrices(times, []string{"A1"},
		[][]*float64{{f(8.0)}},
		[][]*float64{{f(1)}},
	)

	_, err := AssembleFromSynoptic(records, matrices, AssembleOptions{Parameter: "pm2.5"})

	var alignment *AlignmentError
	if !errors.As(err, &alignment) {
		t.Fatalf("expected AlignmentError, got %v", err)
	}
}

func TestAssembleMissingParameter(t *testing.T) {
	records := testRecords()
	_, err := AssembleFromSynoptic(records, map[string]ParameterMatrix{}, AssembleOptions{Parameter: "nowcast"})

	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError for absent parameter, got %v", err)
	}
}

func TestMaskQC(t *testing.T) {
	times := []time.Time{time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)}
	values := WideMatrix{Times: times, Sensors: []string{"A1", "B2", "C3"},
		Values: [][]*float64{{f(8.0), f(5.0), f(3.0)}}}
	qc := WideMatrix{Times: times, Sensors: []string{"A1", "B2", "C3"},
		Values: [][]*float64{{f(1), f(0), nil}}}

	masked := MaskQC(values, qc)

	if v := masked.Values[0][0]; v == nil || *v != 8.0 {
		t.Errorf("qc=1 should keep the value, got %v", v)
	}
	if masked.Values[0][1] != nil {
		t.Error("qc=0 should null the value")
	}
	if masked.Values[0][2] != nil {
		t.Error("absent qc flag should null the value")
	}

	// Masking is idempotent.
	again := MaskQC(masked, qc)
	if !reflect.DeepEqual(again.Values, masked.Values) {
		t.Error("masking an already-masked matrix changed it")
	}
}

func buildTestMonitor(t *testing.T, sensors []string, times []time.Time, values [][]*float64) Monitor {
	t.Helper()

	var records []SynopticRecord
	for i, native := range sensors {
		lon := -118.2 - float64(i)*0.1
		loc := LocationID(lon, 34.1)
		dev := DeviceID("clarity", native)
		records = append(records, SynopticRecord{
			DeviceID:           dev,
			LocationID:         loc,
			DeviceDeploymentID: DeviceDeploymentID(loc, dev),
			NativeID:           native,
			Longitude:          lon,
			Latitude:           34.1,
			CountryCode:        "US",
			Timezone:           "America/Los_Angeles",
			Privacy:            PrivacyPublic,
			SensorManufacturer: "Clarity",
		})
	}

	qc := make([][]*float64, len(times))
	for r := range qc {
		row := make([]*float64, len(sensors))
		for c := range row {
			row[c] = f(1)
		}
		qc[r] = row
	}

	m, err := AssembleFromSynoptic(records, testMatrices(times, sensors, values, qc),
		AssembleOptions{Parameter: "pm2.5"})
	if err != nil {
		t.Fatalf("building test monitor: %v", err)
	}
	return m
}

func TestMergeMonitorsReplaceAll(t *testing.T) {
	t0 := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	existing := buildTestMonitor(t, []string{"A1"}, []time.Time{t0, t1},
		[][]*float64{{f(1.0)}, {f(2.0)}})
	incoming := buildTestMonitor(t, []string{"A1"}, []time.Time{t1, t2},
		[][]*float64{{f(20.0)}, {f(30.0)}})

	merged, err := MergeMonitors(existing, incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(merged.Data.Times) != 3 {
		t.Fatalf("expected union of 3 timestamps, got %d", len(merged.Data.Times))
	}
	// t0 retained from existing, t1 replaced by incoming, t2 appended.
	if v := merged.Data.Values[0][0]; v == nil || *v != 1.0 {
		t.Errorf("t0 value = %v, want existing 1.0", v)
	}
	if v := merged.Data.Values[1][0]; v == nil || *v != 20.0 {
		t.Errorf("t1 value = %v, want incoming 20.0 (replace-all)", v)
	}
	if v := merged.Data.Values[2][0]; v == nil || *v != 30.0 {
		t.Errorf("t2 value = %v, want incoming 30.0", v)
	}
}

func TestMergeMonitorsNewAndStaleDeployments(t *testing.T) {
	t0 := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	existing := buildTestMonitor(t, []string{"A1"}, []time.Time{t0},
		[][]*float64{{f(1.0)}})
	// The update carries a new deployment and does not refresh A1.
	incoming := buildTestMonitor(t, []string{"B2"}, []time.Time{t1},
		[][]*float64{{f(9.0)}})

	merged, err := MergeMonitors(existing, incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(merged.Meta) != 2 {
		t.Fatalf("expected 2 deployments after merge, got %d", len(merged.Meta))
	}
	if err := merged.Validate(); err != nil {
		t.Fatalf("merged monitor failed validation: %v", err)
	}

	// A1's existing value is retained; B2 has no value at t0.
	if v := merged.Data.Values[0][0]; v == nil || *v != 1.0 {
		t.Errorf("stale deployment value = %v, want retained 1.0", v)
	}
	if merged.Data.Values[0][1] != nil {
		t.Error("new deployment should have no value at the old timestamp")
	}
	if v := merged.Data.Values[1][1]; v == nil || *v != 9.0 {
		t.Errorf("new deployment value = %v, want 9.0", v)
	}
}

func TestMergeMonitorsMetadataReplacement(t *testing.T) {
	t0 := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

	existing := buildTestMonitor(t, []string{"A1"}, []time.Time{t0}, [][]*float64{{f(1.0)}})
	incoming := buildTestMonitor(t, []string{"A1"}, []time.Time{t0}, [][]*float64{{f(2.0)}})
	incoming.Meta[0].LocationName = "renamed"

	merged, err := MergeMonitors(existing, incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Meta[0].LocationName != "renamed" {
		t.Errorf("incoming metadata should replace existing wholesale, got %q", merged.Meta[0].LocationName)
	}
}
