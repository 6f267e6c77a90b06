// Package params derives display-only parameters from a registration form:
// the protocol fee and the bond term window. Everything here is pure and is
// recomputed on every read; nothing is cached on the form.
package params

import (
	"time"

	"github.com/shopspring/decimal"

	"ipx/internal/catalog"
	"ipx/internal/registration/models"
)

var (
	baseFee            = decimal.RequireFromString("0.2")
	unclassifiedFactor = decimal.RequireFromString("1.5")
	standardFactor     = decimal.NewFromInt(1)
	feeDecimalPlaces   = int32(2)
)

// EstimatedFee returns the protocol fee in protocol currency units, rounded
// to two decimal places: 0.20 for catalogued kinds and 0.30 for "other".
func EstimatedFee(form models.Form) decimal.Decimal {
	factor := standardFactor
	if form.AssetType == catalog.AssetOther {
		factor = unclassifiedFactor
	}
	return baseFee.Mul(factor).Round(feeDecimalPlaces)
}

// FormatFee renders a fee with exactly two decimals.
func FormatFee(fee decimal.Decimal) string {
	return fee.StringFixed(feeDecimalPlaces)
}

// TermWindow is the bond term as calendar dates.
type TermWindow struct {
	Start time.Time
	End   time.Time
}

// EstimatedTermWindow starts on the calendar date of now in loc and ends
// BondTermMonths calendar months later.
//
// The window drifts if a form stays open across midnight; callers that need a
// stable window must capture it themselves.
func EstimatedTermWindow(form models.Form, now time.Time, loc *time.Location) TermWindow {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return TermWindow{Start: start, End: AddMonthsClamped(start, form.BondTermMonths)}
}

// AddMonthsClamped advances t by n calendar months. When the target month is
// shorter than t's day, the result is the last day of the target month
// (Jan 31 + 1 month is Feb 28, or Feb 29 in a leap year). time.AddDate would
// normalize the overflow into the following month instead.
func AddMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	firstOfTarget := time.Date(year, month+time.Month(n), 1, hour, minute, sec, t.Nanosecond(), t.Location())
	last := daysIn(firstOfTarget.Year(), firstOfTarget.Month(), t.Location())
	if day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
