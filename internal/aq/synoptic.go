package aq

import (
	"strconv"
	"strings"
	"time"

	"github.com/airnet-dev/airquality-pipeline/internal/spatial"
)

// VendorProfile describes how one vendor's raw columns map onto canonical
// names and which columns carry identity and time. Column names below the
// rename mapping are given in post-rename (canonical) form.
type VendorProfile struct {
	Vendor       string // canonical vendor name, e.g. "purpleair"
	Prefix       string // deviceID prefix, e.g. "pa"
	Manufacturer string

	IDColumn       string // vendor-native sensor id
	TimeColumn     string // timestamp column in timeseries tables
	ObservedColumn string // synoptic observation time (epoch seconds)

	Renames map[string]string // raw column name -> canonical name
}

// PurpleAir is the vendor profile for the PurpleAir API.
var PurpleAir = VendorProfile{
	Vendor:         "purpleair",
	Prefix:         "pa",
	Manufacturer:   "Purple Air",
	IDColumn:       "sensor_index",
	TimeColumn:     "time_stamp",
	ObservedColumn: "last_seen",
	Renames: map[string]string{
		"lat":      "latitude",
		"lon":      "longitude",
		"name":     "locationName",
		"altitude": "elevation",
	},
}

// Clarity is the vendor profile for the Clarity open data API.
var Clarity = VendorProfile{
	Vendor:         "clarity",
	Prefix:         "clarity",
	Manufacturer:   "Clarity",
	IDColumn:       "datasourceId",
	TimeColumn:     "time",
	ObservedColumn: "time",
	Renames: map[string]string{
		"lat":   "latitude",
		"lon":   "longitude",
		"label": "locationName",
	},
}

// SynopticOptions carries optional scoping hints. They are a performance
// filter, not a correctness requirement: without hints all valid rows are
// retained.
type SynopticOptions struct {
	StateCodes []string
	Counties   []string
}

// NormalizeSynoptic converts a raw synoptic table into canonical records:
// rename, coerce, derive identity keys, enrich spatially, and filter rows
// that cannot be keyed or placed. Rows with missing or out-of-range
// coordinates are dropped; rows whose country cannot be resolved are dropped
// deliberately, since wildly wrong coordinates are worse than absent rows.
func NormalizeSynoptic(raw RawTable, profile VendorProfile, enricher *spatial.Enricher, opts SynopticOptions) ([]SynopticRecord, error) {
	t := raw.Renamed(profile.Renames)

	identity := map[string]bool{
		"latitude":            true,
		"longitude":           true,
		"elevation":           true,
		"locationName":        true,
		"private":             true,
		"calibrationId":       true,
		"calibrationCategory": true,
		profile.IDColumn:      true,
		profile.ObservedColumn: true,
	}

	var records []SynopticRecord
	for i := range t.Rows {
		rec, ok := buildRecord(t, i, profile, identity)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	records, err := enrichRecords(records, enricher)
	if err != nil {
		return nil, err
	}

	records = dedupeByDeployment(records)
	records = filterScope(records, opts)
	return records, nil
}

func buildRecord(t RawTable, row int, profile VendorProfile, identity map[string]bool) (SynopticRecord, bool) {
	lonStr, _ := t.Value(row, "longitude")
	latStr, _ := t.Value(row, "latitude")
	lon, err1 := strconv.ParseFloat(lonStr, 64)
	lat, err2 := strconv.ParseFloat(latStr, 64)
	if err1 != nil || err2 != nil || !ValidCoordinates(lon, lat) {
		return SynopticRecord{}, false
	}

	nativeID, _ := t.Value(row, profile.IDColumn)
	if nativeID == "" {
		return SynopticRecord{}, false
	}

	deviceID := DeviceID(profile.Prefix, nativeID)
	locationID := LocationID(lon, lat)

	rec := SynopticRecord{
		DeviceID:           deviceID,
		LocationID:         locationID,
		DeviceDeploymentID: DeviceDeploymentID(locationID, deviceID),
		NativeID:           nativeID,
		Longitude:          lon,
		Latitude:           lat,
		Privacy:            parsePrivacy(t, row),
		SensorManufacturer: profile.Manufacturer,
	}

	if name, ok := t.Value(row, "locationName"); ok {
		rec.LocationName = name
	}
	if elevStr, ok := t.Value(row, "elevation"); ok && elevStr != "" {
		if elev, err := strconv.ParseFloat(elevStr, 64); err == nil {
			rec.Elevation = &elev
		}
	}
	if obsStr, ok := t.Value(row, profile.ObservedColumn); ok && obsStr != "" {
		if epoch, err := strconv.ParseFloat(obsStr, 64); err == nil {
			rec.ObservedAt = time.Unix(int64(epoch), 0).UTC()
		}
	}

	calID, _ := t.Value(row, "calibrationId")
	calCat, _ := t.Value(row, "calibrationCategory")
	if calID != "" || calCat != "" {
		rec.Calibration = &Calibration{ID: calID, Category: calCat}
	}

	for _, col := range t.Columns {
		if identity[col] {
			continue
		}
		v, ok := t.Value(row, col)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if rec.Measurements == nil {
			rec.Measurements = make(map[string]*float64)
		}
		val := f
		rec.Measurements[col] = &val
	}

	return rec, true
}

// parsePrivacy maps a raw privacy flag: "0" (or an absent flag) is public,
// anything else is private.
func parsePrivacy(t RawTable, row int) Privacy {
	v, ok := t.Value(row, "private")
	if !ok {
		return PrivacyPublic
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false":
		return PrivacyPublic
	default:
		return PrivacyPrivate
	}
}

func enrichRecords(records []SynopticRecord, enricher *spatial.Enricher) ([]SynopticRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	points := make([]spatial.Point, len(records))
	for i, rec := range records {
		points[i] = spatial.Point{Longitude: rec.Longitude, Latitude: rec.Latitude}
	}

	enrichments, err := enricher.Enrich(points)
	if err != nil {
		return nil, err
	}

	kept := records[:0]
	for i, en := range enrichments {
		if !en.Resolved {
			continue
		}
		rec := records[i]
		rec.CountryCode = en.CountryCode
		rec.StateCode = en.StateCode
		rec.CountyName = en.CountyName
		rec.Timezone = en.Timezone
		kept = append(kept, rec)
	}
	return kept, nil
}

// dedupeByDeployment enforces the key uniqueness invariant, keeping the most
// recently observed record for each deviceDeploymentID. Ties keep the later
// row.
func dedupeByDeployment(records []SynopticRecord) []SynopticRecord {
	index := make(map[string]int, len(records))
	var out []SynopticRecord
	for _, rec := range records {
		if i, ok := index[rec.DeviceDeploymentID]; ok {
			if !rec.ObservedAt.Before(out[i].ObservedAt) {
				out[i] = rec
			}
			continue
		}
		index[rec.DeviceDeploymentID] = len(out)
		out = append(out, rec)
	}
	return out
}

func filterScope(records []SynopticRecord, opts SynopticOptions) []SynopticRecord {
	if len(opts.StateCodes) == 0 && len(opts.Counties) == 0 {
		return records
	}
	kept := records[:0]
	for _, rec := range records {
		if len(opts.StateCodes) > 0 && !containsFold(opts.StateCodes, rec.StateCode) {
			continue
		}
		if len(opts.Counties) > 0 && !containsFold(opts.Counties, rec.CountyName) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
