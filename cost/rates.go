package cost

// Rates configures the per-unit prices the Estimate and external callers
// use to translate usage into cents. Defaults exist for sensible first use
// (spec §4.5) and can be overlaid with partial operator configuration via
// LoadRates (SPEC_FULL.md "SUPPLEMENTED FEATURES" item 4).
type Rates struct {
	// InputCentsPer1K is the price of 1,000 input tokens, in cents.
	InputCentsPer1K float64
	// OutputCentsPer1K is the price of 1,000 output tokens, in cents.
	OutputCentsPer1K float64
	// ComputeCentsPerMinute is the sandbox compute price per minute.
	ComputeCentsPerMinute float64
	// ExternalCentsPerCall is the flat price of one external API call.
	ExternalCentsPerCall float64
}

// DefaultRates returns the built-in rate card used when an operator has
// not configured one.
func DefaultRates() Rates {
	return Rates{
		InputCentsPer1K:       0.3,
		OutputCentsPer1K:      1.5,
		ComputeCentsPerMinute: 2.0,
		ExternalCentsPerCall:  0.1,
	}
}

// PartialRates overlays onto DefaultRates; zero fields are left at their
// default rather than zeroing out the rate.
type PartialRates struct {
	InputCentsPer1K       *float64
	OutputCentsPer1K      *float64
	ComputeCentsPerMinute *float64
	ExternalCentsPerCall  *float64
}

// LoadRates merges a partial operator configuration onto DefaultRates,
// matching the teacher's Options-merge convention rather than requiring a
// full Rates struct from every caller.
func LoadRates(partial PartialRates) Rates {
	rates := DefaultRates()
	if partial.InputCentsPer1K != nil {
		rates.InputCentsPer1K = *partial.InputCentsPer1K
	}
	if partial.OutputCentsPer1K != nil {
		rates.OutputCentsPer1K = *partial.OutputCentsPer1K
	}
	if partial.ComputeCentsPerMinute != nil {
		rates.ComputeCentsPerMinute = *partial.ComputeCentsPerMinute
	}
	if partial.ExternalCentsPerCall != nil {
		rates.ExternalCentsPerCall = *partial.ExternalCentsPerCall
	}
	return rates
}
