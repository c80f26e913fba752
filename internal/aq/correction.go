package aq

import "fmt"

// CorrectionName selects a PM2.5 correction equation.
type CorrectionName string

// CorrectionEPAFASM is the EPA fire-and-smoke-map equation, piecewise on the
// channel-averaged cf_1 reading.
const CorrectionEPAFASM CorrectionName = "EPA_FASM"

// CorrectedField is the column ApplyCorrection appends.
const CorrectedField = "correctedPM25"

const (
	fieldCF1      = "pm2.5_cf_1"
	fieldHumidity = "humidity"

	// Above this cf_1 concentration the humidity term is dropped and a
	// quadratic term takes over.
	epaFASMBreakpoint = 343.0
)

// ApplyCorrection returns a copy of the timeseries with a corrected PM2.5
// column appended. A MissingFieldError names any absent input columns.
func ApplyCorrection(ts Timeseries, name CorrectionName) (Timeseries, error) {
	switch name {
	case CorrectionEPAFASM:
		return applyEPAFASM(ts)
	default:
		return Timeseries{}, fmt.Errorf("unknown correction %q", name)
	}
}

func applyEPAFASM(ts Timeseries) (Timeseries, error) {
	cf1Idx := ts.FieldIndex(fieldCF1)
	humIdx := ts.FieldIndex(fieldHumidity)

	var missing []string
	if cf1Idx < 0 {
		missing = append(missing, fieldCF1)
	}
	if humIdx < 0 {
		missing = append(missing, fieldHumidity)
	}
	if len(missing) > 0 {
		return Timeseries{}, &MissingFieldError{Fields: missing}
	}

	out := ts
	out.Fields = append(append([]string{}, ts.Fields...), CorrectedField)
	out.Values = make([][]*float64, len(ts.Values))

	for r, row := range ts.Values {
		cf1 := row[cf1Idx]
		hum := row[humIdx]

		// A null cf_1 falls through to the low-concentration branch, where
		// the null propagates through the arithmetic.
		var corrected *float64
		if cf1 != nil && *cf1 > epaFASMBreakpoint {
			v := 0.46**cf1 + 0.000393**cf1**cf1 + 2.97
			corrected = &v
		} else if cf1 != nil && hum != nil {
			v := 0.52**cf1 - 0.086**hum + 5.75
			corrected = &v
		}

		out.Values[r] = append(append([]*float64{}, row...), corrected)
	}

	return out, nil
}
