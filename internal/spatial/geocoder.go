package spatial

import (
	"strings"

	"github.com/kelvins/geocoder"
)

// GeocoderService resolves country, state, and county by reverse geocoding.
// It is the application-boundary implementation of Service; a full polygon
// dataset backend can replace it behind the same interface. Timezone lookups
// delegate to the coarse longitude-offset fallback since the geocoding API
// does not return zone names.
type GeocoderService struct {
	fallback CoarseService
}

// NewGeocoderService configures the shared geocoder API key and returns the
// service. The key is process-wide in the underlying library.
func NewGeocoderService(apiKey string) *GeocoderService {
	geocoder.ApiKey = apiKey
	return &GeocoderService{}
}

func (s *GeocoderService) CountryCodeAt(lon, lat float64) (string, bool, error) {
	addr, ok, err := s.reverse(lon, lat)
	if err != nil || !ok {
		return "", false, err
	}
	code, ok := countryCodes[addr.Country]
	return code, ok, nil
}

func (s *GeocoderService) StateCodeAt(lon, lat float64, countryCode string) (string, bool, error) {
	addr, ok, err := s.reverse(lon, lat)
	if err != nil || !ok {
		return "", false, err
	}
	state := addr.State
	if state == "" {
		return "", false, nil
	}
	// Geocoding sometimes returns the ISO code directly.
	if len(state) == 2 {
		return strings.ToUpper(state), true, nil
	}
	if countryCode == "US" {
		if code, ok := usStateCodes[state]; ok {
			return code, true, nil
		}
	}
	return "", false, nil
}

func (s *GeocoderService) CountyNameAt(lon, lat float64, stateCode string) (string, bool, error) {
	addr, ok, err := s.reverse(lon, lat)
	if err != nil || !ok {
		return "", false, err
	}
	county := strings.TrimSuffix(addr.County, " County")
	if county == "" {
		return "", false, nil
	}
	return county, true, nil
}

func (s *GeocoderService) TimezoneAt(lon, lat float64, countryCode string) (string, bool, error) {
	return s.fallback.TimezoneAt(lon, lat, countryCode)
}

func (s *GeocoderService) reverse(lon, lat float64) (geocoder.Address, bool, error) {
	addrs, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
	if err != nil {
		// The library reports an unresolvable point as an error; treat that
		// as a valid miss rather than a lookup failure.
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return geocoder.Address{}, false, nil
		}
		return geocoder.Address{}, false, err
	}
	for _, a := range addrs {
		if a.Country != "" {
			return a, true, nil
		}
	}
	return geocoder.Address{}, false, nil
}

var countryCodes = map[string]string{
	"United States":  "US",
	"Canada":         "CA",
	"Mexico":         "MX",
	"United Kingdom": "GB",
	"Germany":        "DE",
	"France":         "FR",
	"Spain":          "ES",
	"Italy":          "IT",
	"Australia":      "AU",
	"New Zealand":    "NZ",
	"Japan":          "JP",
	"India":          "IN",
	"Brazil":         "BR",
	"Chile":          "CL",
}

var usStateCodes = map[string]string{
	"Alabama": "AL", "Alaska": "AK", "Arizona": "AZ", "Arkansas": "AR",
	"California": "CA", "Colorado": "CO", "Connecticut": "CT", "Delaware": "DE",
	"Florida": "FL", "Georgia": "GA", "Hawaii": "HI", "Idaho": "ID",
	"Illinois": "IL", "Indiana": "IN", "Iowa": "IA", "Kansas": "KS",
	"Kentucky": "KY", "Louisiana": "LA", "Maine": "ME", "Maryland": "MD",
	"Massachusetts": "MA", "Michigan": "MI", "Minnesota": "MN", "Mississippi": "MS",
	"Missouri": "MO", "Montana": "MT", "Nebraska": "NE", "Nevada": "NV",
	"New Hampshire": "NH", "New Jersey": "NJ", "New Mexico": "NM", "New York": "NY",
	"North Carolina": "NC", "North Dakota": "ND", "Ohio": "OH", "Oklahoma": "OK",
	"Oregon": "OR", "Pennsylvania": "PA", "Rhode Island": "RI", "South Carolina": "SC",
	"South Dakota": "SD", "Tennessee": "TN", "Texas": "TX", "Utah": "UT",
	"Vermont": "VT", "Virginia": "VA", "Washington": "WA", "West Virginia": "WV",
	"Wisconsin": "WI", "Wyoming": "WY", "District of Columbia": "DC",
}
