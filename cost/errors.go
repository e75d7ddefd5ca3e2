package cost

import "errors"

var errAmountNegative = errors.New("cost: amount_cents must be >= 0")
