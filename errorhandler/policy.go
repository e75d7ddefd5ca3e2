package errorhandler

import "time"

// Policy is one category's retry configuration (spec §4.6 table).
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Exponential selects ×2 backoff; when false, Delay always returns
	// BaseDelay (the sandbox_crash row: "Base Delay 5s, Backoff —").
	Exponential bool
	Cap         time.Duration
}

// policies is the fixed per-category table from spec §4.6. Categories not
// present here (agent_error, contract_violation, timeout, approval_timeout,
// stalled) all carry zero retries and are looked up via the zero Policy.
var policies = map[Category]Policy{
	CategoryTransient:    {MaxRetries: 3, BaseDelay: 2 * time.Second, Exponential: true, Cap: 16 * time.Second},
	CategoryToolFailure:  {MaxRetries: 2, BaseDelay: 1 * time.Second, Exponential: true, Cap: 4 * time.Second},
	CategorySandboxCrash: {MaxRetries: 1, BaseDelay: 5 * time.Second, Exponential: false, Cap: 5 * time.Second},
}

// PolicyFor returns the retry policy for category. Categories with no
// table entry return the zero Policy (MaxRetries 0), matching spec §4.6's
// terminal categories.
func PolicyFor(category Category) Policy {
	return policies[category]
}

// Delay computes the backoff for retry attempt n (0-indexed: the delay
// before the first retry is Delay(p, 0)), per spec §4.6: "Delay for retry
// n = min(base × 2^n, cap) when exponential; else base."
func Delay(p Policy, n int) time.Duration {
	if !p.Exponential {
		return p.BaseDelay
	}
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}
