// Package report folds decoded usage rows, resource graph records and plan
// listings into the fixed-shape reports served by the API. Every function in
// this package is pure: the caller supplies the rows and the clock.
package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alecgard/costscope/internal/azure"
	"github.com/alecgard/costscope/internal/costquery"
)

// SubscriptionRows is the outcome of one per-subscription cost query. A
// non-nil Err marks a failed call; its rows, if any, are ignored.
type SubscriptionRows struct {
	Subscription azure.Subscription
	Rows         []costquery.Row
	Err          error
}

// usable returns the rows that may contribute to a report.
func (s SubscriptionRows) usable() []costquery.Row {
	if s.Err != nil {
		return nil
	}
	return s.Rows
}

const unknownLabel = "Unknown"

var hundred = decimal.NewFromInt(100)

// money rounds an accumulated amount to cents for output.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// percentOf returns part/total as a percentage rounded to two places, or 0
// when total is not positive.
func percentOf(part, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	return part.Div(total).Mul(hundred).Round(2).InexactFloat64()
}

func amount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// dateStamp formats the report's lastUpdated field.
func dateStamp(now time.Time) string {
	return now.UTC().Format(time.DateOnly)
}

// subscriptionNames maps subscription ids to display names.
func subscriptionNames(subs []azure.Subscription) map[string]string {
	m := make(map[string]string, len(subs))
	for _, s := range subs {
		m[s.SubscriptionID] = s.Name()
	}
	return m
}
