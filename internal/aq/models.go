package aq

import (
	"fmt"
	"time"
)

// Privacy classifies whether a sensor's readings are publicly visible.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// Calibration carries vendor calibration metadata when the vendor supplies it.
type Calibration struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

// SynopticRecord represents one sensor deployment at observation time. It is
// immutable once returned by the normalizer; a later fetch produces a new
// record that may replace an earlier one with the same DeviceDeploymentID.
type SynopticRecord struct {
	// DeviceID is the vendor-prefixed sensor identifier, e.g. "pa.76545".
	DeviceID string `json:"deviceID"`
	// LocationID identifies the physical spot, independent of the device.
	LocationID string `json:"locationID"`
	// DeviceDeploymentID is LocationID + "_" + DeviceID, the durable primary
	// key for one physical deployment across time.
	DeviceDeploymentID string `json:"deviceDeploymentID"`
	// NativeID is the vendor's unprefixed sensor identifier.
	NativeID string `json:"nativeID"`

	Longitude float64  `json:"longitude"`
	Latitude  float64  `json:"latitude"`
	Elevation *float64 `json:"elevation,omitempty"`

	CountryCode string `json:"countryCode"`
	StateCode   string `json:"stateCode,omitempty"`
	CountyName  string `json:"countyName,omitempty"`
	Timezone    string `json:"timezone,omitempty"`

	LocationName       string       `json:"locationName,omitempty"`
	Privacy            Privacy      `json:"privacy"`
	SensorManufacturer string       `json:"sensorManufacturer"`
	Calibration        *Calibration `json:"calibration,omitempty"`

	ObservedAt time.Time `json:"observedAt"`
	// Measurements holds the request-specific snapshot columns, e.g.
	// "pm2.5_60minute" or "humidity". Nil entries never appear; absent
	// readings are absent keys.
	Measurements map[string]*float64 `json:"measurements,omitempty"`
}

// Timeseries is one sensor's measurements across time. Times are strictly
// increasing UTC instants with no duplicates; Values is row-per-timestamp,
// column-per-field.
type Timeseries struct {
	Meta   SynopticRecord `json:"meta"`
	Times  []time.Time    `json:"times"`
	Fields []string       `json:"fields"`
	Values [][]*float64   `json:"values"`
}

// FieldIndex returns the position of a named field, or -1.
func (ts Timeseries) FieldIndex(name string) int {
	for i, f := range ts.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// Column returns one field's values aligned with Times, or nil if the field
// does not exist.
func (ts Timeseries) Column(name string) []*float64 {
	i := ts.FieldIndex(name)
	if i < 0 {
		return nil
	}
	col := make([]*float64, len(ts.Values))
	for r, row := range ts.Values {
		if i < len(row) {
			col[r] = row[i]
		}
	}
	return col
}

// WideMatrix is a time-by-sensor value grid: one row per UTC timestamp, one
// column per vendor sensor id.
type WideMatrix struct {
	Times   []time.Time  `json:"times"`
	Sensors []string     `json:"sensors"`
	Values  [][]*float64 `json:"values"`
}

// ParameterMatrix pairs a value matrix with its congruent QC-flag matrix.
// Both share the same time axis and sensor column order.
type ParameterMatrix struct {
	Values  WideMatrix
	QCFlags WideMatrix
}

// SynopticBundle is what a synoptic fetch yields: the flat per-sensor table
// plus wide data matrices keyed by parameter name.
type SynopticBundle struct {
	Synoptic RawTable
	Matrices map[string]ParameterMatrix
}

// MonitorRecord is one row of a Monitor's metadata table.
type MonitorRecord struct {
	DeviceDeploymentID string   `json:"deviceDeploymentID"`
	DeviceID           string   `json:"deviceID"`
	LocationID         string   `json:"locationID"`
	NativeID           string   `json:"nativeID"`
	LocationName       string   `json:"locationName,omitempty"`
	Longitude          float64  `json:"longitude"`
	Latitude           float64  `json:"latitude"`
	Elevation          *float64 `json:"elevation,omitempty"`
	CountryCode        string   `json:"countryCode"`
	StateCode          string   `json:"stateCode,omitempty"`
	CountyName         string   `json:"countyName,omitempty"`
	Timezone           string   `json:"timezone,omitempty"`
	Privacy            Privacy  `json:"privacy"`
	SensorManufacturer string   `json:"sensorManufacturer"`
	Pollutant          string   `json:"pollutant"`
	Units              string   `json:"units"`
}

// MonitorData is the wide data table of a Monitor: one row per UTC timestamp,
// one column per deployment, in the exact order of the metadata rows.
type MonitorData struct {
	Times  []time.Time  `json:"times"`
	Values [][]*float64 `json:"values"`
}

// Monitor is the multi-sensor, time-aligned structure consumed downstream.
// It is a value type with no internal state.
type Monitor struct {
	Meta []MonitorRecord `json:"meta"`
	Data MonitorData     `json:"data"`
}

// Validate checks the Monitor invariants: column count matches metadata row
// count, every data row has that width, and deployment keys are unique.
func (m Monitor) Validate() error {
	for i, row := range m.Data.Values {
		if len(row) != len(m.Meta) {
			return &AlignmentError{
				MetaRows:    len(m.Meta),
				DataColumns: len(row),
				Detail:      fmt.Sprintf("data row %d", i),
			}
		}
	}
	if len(m.Data.Times) != len(m.Data.Values) {
		return &AlignmentError{
			MetaRows:    len(m.Data.Times),
			DataColumns: len(m.Data.Values),
			Detail:      "time axis length does not match data row count",
		}
	}
	seen := make(map[string]bool, len(m.Meta))
	for _, rec := range m.Meta {
		if seen[rec.DeviceDeploymentID] {
			return fmt.Errorf("duplicate deviceDeploymentID %q in monitor metadata", rec.DeviceDeploymentID)
		}
		seen[rec.DeviceDeploymentID] = true
	}
	return nil
}

// BoundingBox is a geographic request scope. Normalized guarantees west<east
// and south<north regardless of the order the caller supplied.
type BoundingBox struct {
	West  float64 `json:"west"`
	East  float64 `json:"east"`
	South float64 `json:"south"`
	North float64 `json:"north"`
}

// Normalized returns the box with corners swapped into canonical order.
func (b BoundingBox) Normalized() BoundingBox {
	if b.West > b.East {
		b.West, b.East = b.East, b.West
	}
	if b.South > b.North {
		b.South, b.North = b.North, b.South
	}
	return b
}
