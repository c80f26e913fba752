package spatial

import (
	"math"
	"strconv"
)

// CoarseService is a built-in, dataset-free Service used when no polygon
// backend is configured. Country resolution covers North America with coarse
// bounding rectangles; timezones fall back to fixed UTC-offset zones derived
// from longitude. State and county lookups never resolve.
type CoarseService struct{}

type rect struct {
	code                   string
	west, east, south, north float64
}

// Checked in order; the continental US box is tested before Canada because
// the two overlap between 41.7N and 49.4N.
var coarseCountries = []rect{
	{"US", -125.0, -66.9, 24.5, 49.4}, // conterminous US
	{"US", -170.0, -129.0, 51.0, 72.0},  // Alaska
	{"US", -161.0, -154.0, 18.5, 22.5},  // Hawaii
	{"CA", -141.0, -52.6, 41.7, 83.2},
	{"MX", -118.5, -86.7, 14.5, 32.7},
}

func (CoarseService) CountryCodeAt(lon, lat float64) (string, bool, error) {
	for _, r := range coarseCountries {
		if lon >= r.west && lon <= r.east && lat >= r.south && lat <= r.north {
			return r.code, true, nil
		}
	}
	return "", false, nil
}

func (CoarseService) StateCodeAt(lon, lat float64, countryCode string) (string, bool, error) {
	return "", false, nil
}

func (CoarseService) CountyNameAt(lon, lat float64, stateCode string) (string, bool, error) {
	return "", false, nil
}

// TimezoneAt returns a fixed-offset zone by longitude. Note the Etc/GMT sign
// convention is inverted: Etc/GMT+8 means UTC-8.
func (CoarseService) TimezoneAt(lon, lat float64, countryCode string) (string, bool, error) {
	return offsetZone(lon), true, nil
}

func offsetZone(lon float64) string {
	offset := int(math.Round(lon / 15))
	switch {
	case offset == 0:
		return "Etc/GMT"
	case offset > 0:
		return "Etc/GMT-" + strconv.Itoa(offset)
	default:
		return "Etc/GMT+" + strconv.Itoa(-offset)
	}
}
