// Package spatial wraps an external point-in-polygon lookup service and
// exposes the batch enrichment used by the synoptic normalizer.
package spatial

import "fmt"

// Service resolves administrative metadata for a single point. The boolean
// return reports whether the point resolved; false is a valid, meaningful
// outcome (the point falls outside all known polygons) and is distinct from
// an error. Country lookups are expected to be EEZ-inclusive with an exact
// boundary test; state, county, and timezone lookups may apply a small buffer
// and should only search polygons within the supplied scope.
type Service interface {
	CountryCodeAt(lon, lat float64) (string, bool, error)
	StateCodeAt(lon, lat float64, countryCode string) (string, bool, error)
	CountyNameAt(lon, lat float64, stateCode string) (string, bool, error)
	TimezoneAt(lon, lat float64, countryCode string) (string, bool, error)
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Longitude float64
	Latitude  float64
}

// Enrichment is the resolved metadata for one point. Resolved is false when
// the country lookup failed to place the point; the remaining fields may be
// empty even when Resolved is true.
type Enrichment struct {
	CountryCode string
	StateCode   string
	CountyName  string
	Timezone    string
	Resolved    bool
}

// Enricher fans lookups out over parallel point arrays, scoping the narrower
// lookups by the already-resolved country and state.
type Enricher struct {
	svc Service
}

func NewEnricher(svc Service) *Enricher {
	return &Enricher{svc: svc}
}

// Enrich resolves every point, returning a parallel slice of the same length.
// Lookup errors abort the batch; unresolvable points do not.
func (e *Enricher) Enrich(points []Point) ([]Enrichment, error) {
	out := make([]Enrichment, len(points))
	for i, p := range points {
		cc, ok, err := e.svc.CountryCodeAt(p.Longitude, p.Latitude)
		if err != nil {
			return nil, fmt.Errorf("country lookup (%.5f, %.5f): %w", p.Longitude, p.Latitude, err)
		}
		if !ok {
			continue
		}

		en := Enrichment{CountryCode: cc, Resolved: true}

		sc, ok, err := e.svc.StateCodeAt(p.Longitude, p.Latitude, cc)
		if err != nil {
			return nil, fmt.Errorf("state lookup (%.5f, %.5f): %w", p.Longitude, p.Latitude, err)
		}
		if ok {
			en.StateCode = sc

			// County datasets only cover the US.
			if cc == "US" {
				county, ok, err := e.svc.CountyNameAt(p.Longitude, p.Latitude, sc)
				if err != nil {
					return nil, fmt.Errorf("county lookup (%.5f, %.5f): %w", p.Longitude, p.Latitude, err)
				}
				if ok {
					en.CountyName = county
				}
			}
		}

		tz, ok, err := e.svc.TimezoneAt(p.Longitude, p.Latitude, cc)
		if err != nil {
			return nil, fmt.Errorf("timezone lookup (%.5f, %.5f): %w", p.Longitude, p.Latitude, err)
		}
		if ok {
			en.Timezone = tz
		}

		out[i] = en
	}
	return out, nil
}
