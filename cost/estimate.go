package cost

// EstimateInput is the caller-supplied basis for a pre-run cost estimate
// (spec §4.5 Estimate).
type EstimateInput struct {
	GoalTokens      int
	// ExpectedOutputTokens defaults to 3x GoalTokens when zero.
	ExpectedOutputTokens int
	EstimatedMinutes     float64
	ExpectedToolCalls    int
}

// Estimate is a central cost projection with ±30% bounds (spec §4.5).
type Estimate struct {
	CentralCents int64
	LowCents     int64
	HighCents    int64
}

// EstimateBoundFraction is the ±30% spread spec §4.5 specifies.
const EstimateBoundFraction = 0.30

// EstimateCost produces a central cost estimate with low/high bounds from
// in, using rates for unit prices (spec §4.5).
func EstimateCost(in EstimateInput, rates Rates) Estimate {
	outputTokens := in.ExpectedOutputTokens
	if outputTokens <= 0 {
		outputTokens = in.GoalTokens * 3
	}

	inputCents := float64(in.GoalTokens) / 1000 * rates.InputCentsPer1K
	outputCents := float64(outputTokens) / 1000 * rates.OutputCentsPer1K
	computeCents := in.EstimatedMinutes * rates.ComputeCentsPerMinute
	externalCents := float64(in.ExpectedToolCalls) * rates.ExternalCentsPerCall

	central := inputCents + outputCents + computeCents + externalCents

	return Estimate{
		CentralCents: round(central),
		LowCents:     round(central * (1 - EstimateBoundFraction)),
		HighCents:    round(central * (1 + EstimateBoundFraction)),
	}
}

func round(v float64) int64 {
	if v < 0 {
		return int64(v - 0.5)
	}
	return int64(v + 0.5)
}
