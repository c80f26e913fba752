package aq

import (
	"sort"
	"time"
)

// AssembleOptions controls monitor assembly.
type AssembleOptions struct {
	// Parameter selects which data matrix becomes the monitor data, e.g.
	// "pm2.5" or "nowcast".
	Parameter string
	// ApplyQCMask nulls out cells whose QC flag is absent or zero.
	ApplyQCMask bool
}

// AssembleFromSynoptic builds a Monitor from normalized synoptic records and
// the matching wide data matrices. Metadata is deduplicated by
// deviceDeploymentID keeping the first occurrence; the value matrix columns
// are re-ordered to exactly match the metadata row order, and an
// AlignmentError is raised when the two disagree.
func AssembleFromSynoptic(records []SynopticRecord, matrices map[string]ParameterMatrix, opts AssembleOptions) (Monitor, error) {
	meta := make([]MonitorRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.DeviceDeploymentID] {
			continue
		}
		seen[rec.DeviceDeploymentID] = true
		meta = append(meta, newMonitorRecord(rec))
	}

	pm, ok := matrices[opts.Parameter]
	if !ok {
		return Monitor{}, &MissingFieldError{Fields: []string{opts.Parameter}}
	}

	values := pm.Values
	if opts.ApplyQCMask {
		values = MaskQC(values, pm.QCFlags)
	}

	if len(values.Sensors) != len(meta) {
		return Monitor{}, &AlignmentError{MetaRows: len(meta), DataColumns: len(values.Sensors)}
	}

	// Re-order data columns into metadata row order, matching on the vendor
	// sensor id; the deployment key then names each column implicitly.
	colIdx := make(map[string]int, len(values.Sensors))
	for i, id := range values.Sensors {
		colIdx[id] = i
	}

	order := make([]int, len(meta))
	for i, rec := range meta {
		j, ok := colIdx[rec.NativeID]
		if !ok {
			return Monitor{}, &AlignmentError{
				MetaRows:    len(meta),
				DataColumns: len(values.Sensors),
				Detail:      "no data column for sensor " + rec.NativeID,
			}
		}
		order[i] = j
	}

	data := MonitorData{Times: values.Times, Values: make([][]*float64, len(values.Values))}
	for r, row := range values.Values {
		aligned := make([]*float64, len(order))
		for i, j := range order {
			if j < len(row) {
				aligned[i] = row[j]
			}
		}
		data.Values[r] = aligned
	}

	m := Monitor{Meta: meta, Data: data}
	if err := m.Validate(); err != nil {
		return Monitor{}, err
	}
	return m, nil
}

func newMonitorRecord(rec SynopticRecord) MonitorRecord {
	return MonitorRecord{
		DeviceDeploymentID: rec.DeviceDeploymentID,
		DeviceID:           rec.DeviceID,
		LocationID:         rec.LocationID,
		NativeID:           rec.NativeID,
		LocationName:       rec.LocationName,
		Longitude:          rec.Longitude,
		Latitude:           rec.Latitude,
		Elevation:          rec.Elevation,
		CountryCode:        rec.CountryCode,
		StateCode:          rec.StateCode,
		CountyName:         rec.CountyName,
		Timezone:           rec.Timezone,
		Privacy:            rec.Privacy,
		SensorManufacturer: rec.SensorManufacturer,
		Pollutant:          "PM2.5",
		Units:              "UG/M3",
	}
}

// MaskQC nulls every value cell whose QC flag is absent or zero. The two
// matrices are congruent by construction (same time axis, same sensor
// columns); masking is idempotent. QC flags are not retained downstream.
func MaskQC(values, qc WideMatrix) WideMatrix {
	qcCol := make(map[string]int, len(qc.Sensors))
	for i, id := range qc.Sensors {
		qcCol[id] = i
	}

	out := WideMatrix{Times: values.Times, Sensors: values.Sensors, Values: make([][]*float64, len(values.Values))}
	for r, row := range values.Values {
		masked := make([]*float64, len(row))
		for c, v := range row {
			j, ok := qcCol[values.Sensors[c]]
			if !ok || r >= len(qc.Values) || j >= len(qc.Values[r]) {
				continue
			}
			flag := qc.Values[r][j]
			if flag == nil || *flag == 0 {
				continue
			}
			masked[c] = v
		}
		out.Values[r] = masked
	}
	return out
}

// FilterMatrices restricts every matrix to the sensors present in the given
// records, preserving matrix column order. It prepares assembly inputs after
// normalization has dropped unresolvable rows.
func FilterMatrices(matrices map[string]ParameterMatrix, records []SynopticRecord) map[string]ParameterMatrix {
	keep := make(map[string]bool, len(records))
	for _, rec := range records {
		keep[rec.NativeID] = true
	}

	out := make(map[string]ParameterMatrix, len(matrices))
	for name, pm := range matrices {
		out[name] = ParameterMatrix{
			Values:  selectSensors(pm.Values, keep),
			QCFlags: selectSensors(pm.QCFlags, keep),
		}
	}
	return out
}

func selectSensors(m WideMatrix, keep map[string]bool) WideMatrix {
	var cols []int
	var sensors []string
	for i, id := range m.Sensors {
		if keep[id] {
			cols = append(cols, i)
			sensors = append(sensors, id)
		}
	}

	out := WideMatrix{Times: m.Times, Sensors: sensors, Values: make([][]*float64, len(m.Values))}
	for r, row := range m.Values {
		sel := make([]*float64, len(cols))
		for i, c := range cols {
			if c < len(row) {
				sel[i] = row[c]
			}
		}
		out.Values[r] = sel
	}
	return out
}

// MergeMonitors merges an incoming Monitor into an existing one with
// replace-all overlap semantics: incoming metadata rows replace existing rows
// with the same key, and for any timestamp present in both tables the
// incoming value wins for every column the incoming monitor carries.
// Deployments not refreshed by the update keep their existing values
// unchanged. No time-based trimming happens here.
func MergeMonitors(existing, incoming Monitor) (Monitor, error) {
	incomingMeta := make(map[string]MonitorRecord, len(incoming.Meta))
	for _, rec := range incoming.Meta {
		incomingMeta[rec.DeviceDeploymentID] = rec
	}

	meta := make([]MonitorRecord, 0, len(existing.Meta)+len(incoming.Meta))
	seen := make(map[string]bool)
	for _, rec := range existing.Meta {
		if seen[rec.DeviceDeploymentID] {
			continue
		}
		seen[rec.DeviceDeploymentID] = true
		if repl, ok := incomingMeta[rec.DeviceDeploymentID]; ok {
			meta = append(meta, repl)
		} else {
			meta = append(meta, rec)
		}
	}
	for _, rec := range incoming.Meta {
		if seen[rec.DeviceDeploymentID] {
			continue
		}
		seen[rec.DeviceDeploymentID] = true
		meta = append(meta, rec)
	}

	times := unionTimes(existing.Data.Times, incoming.Data.Times)

	exRow := timeIndex(existing.Data.Times)
	inRow := timeIndex(incoming.Data.Times)
	exCol := deploymentIndex(existing.Meta)
	inCol := deploymentIndex(incoming.Meta)

	data := MonitorData{Times: times, Values: make([][]*float64, len(times))}
	for r, t := range times {
		row := make([]*float64, len(meta))
		for c, rec := range meta {
			key := rec.DeviceDeploymentID
			if ir, ok := inRow[t.Unix()]; ok {
				if ic, ok := inCol[key]; ok {
					row[c] = incoming.Data.Values[ir][ic]
					continue
				}
			}
			if er, ok := exRow[t.Unix()]; ok {
				if ec, ok := exCol[key]; ok {
					row[c] = existing.Data.Values[er][ec]
				}
			}
		}
		data.Values[r] = row
	}

	m := Monitor{Meta: meta, Data: data}
	if err := m.Validate(); err != nil {
		return Monitor{}, err
	}
	return m, nil
}

func unionTimes(a, b []time.Time) []time.Time {
	seen := make(map[int64]time.Time, len(a)+len(b))
	for _, t := range a {
		seen[t.Unix()] = t.UTC()
	}
	for _, t := range b {
		seen[t.Unix()] = t.UTC()
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func timeIndex(times []time.Time) map[int64]int {
	idx := make(map[int64]int, len(times))
	for i, t := range times {
		idx[t.Unix()] = i
	}
	return idx
}

func deploymentIndex(meta []MonitorRecord) map[string]int {
	idx := make(map[string]int, len(meta))
	for i, rec := range meta {
		idx[rec.DeviceDeploymentID] = i
	}
	return idx
}
