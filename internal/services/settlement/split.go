package settlement

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	perrors "lnwall-gateway/pkg/errors"
)

// MsatPerSat converts the public price unit (sats) to the oracle unit (msats).
const MsatPerSat = 1000

// ParsePrice parses a positive whole-sat price small enough to split in msats.
func ParsePrice(price string) (int64, error) {
	sats, err := strconv.ParseInt(strings.TrimSpace(price), 10, 64)
	if err != nil || sats <= 0 {
		return 0, perrors.NewValidationError("price must be a positive integer")
	}
	if sats > math.MaxInt64/(MsatPerSat*100) {
		return 0, perrors.NewValidationError("price is too large")
	}
	return sats, nil
}

// ParseSplitTerms parses a whole-sat price and a split percentage.
func ParseSplitTerms(price, split string) (int64, int, error) {
	sats, err := ParsePrice(price)
	if err != nil {
		return 0, 0, err
	}
	percent, err := strconv.Atoi(strings.TrimSpace(split))
	if err != nil || percent < 0 || percent > 100 {
		return 0, 0, perrors.NewValidationError("split must be an integer between 0 and 100")
	}
	return sats, percent, nil
}

// ComputeSplit returns floor(total*percent/100) for the first party and the
// remainder for the second, so the shares always sum to total. The second party
// absorbs any rounding.
func ComputeSplit(total int64, percent int) (int64, int64, error) {
	if total < 0 {
		return 0, 0, perrors.NewValidationError("total amount must not be negative")
	}
	if percent < 0 || percent > 100 {
		return 0, 0, perrors.NewValidationError(fmt.Sprintf("split percentage %d out of range [0,100]", percent))
	}
	if total > math.MaxInt64/100 {
		return 0, 0, perrors.NewValidationError("total amount is too large")
	}

	a := total * int64(percent) / 100
	return a, total - a, nil
}
