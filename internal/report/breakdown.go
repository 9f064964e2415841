package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alecgard/costscope/internal/costquery"
)

// OtherCategory labels rows whose category cell is empty.
const OtherCategory = "Other"

// CategoryCost is one line of a category breakdown.
type CategoryCost struct {
	Category   string  `json:"category"`
	Cost       float64 `json:"cost"`
	Percentage float64 `json:"percentage"`
}

// CostBreakdown is the monthly cost of one product family split by category.
type CostBreakdown struct {
	MonthlyCost   float64        `json:"monthlyCost"`
	YearlyCost    float64        `json:"yearlyCost"`
	CostBreakdown []CategoryCost `json:"costBreakdown"`
	LastUpdated   string         `json:"lastUpdated"`
}

// Breakdown groups rows by the dimension at categoryPos and sums their cost.
// Categories keep first-seen order. Percentages are relative to the
// breakdown's own total.
func Breakdown(rows []costquery.Row, categoryPos int, now time.Time) CostBreakdown {
	var order []string
	var total decimal.Decimal
	sums := make(map[string]decimal.Decimal)
	for _, r := range rows {
		cat := r.Dim(categoryPos)
		if cat == "" {
			cat = OtherCategory
		}
		if _, ok := sums[cat]; !ok {
			order = append(order, cat)
		}
		c := amount(r.Cost)
		sums[cat] = sums[cat].Add(c)
		total = total.Add(c)
	}

	lines := make([]CategoryCost, 0, len(order))
	for _, cat := range order {
		lines = append(lines, CategoryCost{
			Category:   cat,
			Cost:       money(sums[cat]),
			Percentage: percentOf(sums[cat], total),
		})
	}

	return CostBreakdown{
		MonthlyCost:   money(total),
		YearlyCost:    money(total.Mul(decimal.NewFromInt(12))),
		CostBreakdown: lines,
		LastUpdated:   dateStamp(now),
	}
}

// UsableRows concatenates the rows of every successful outcome.
func UsableRows(results []SubscriptionRows) []costquery.Row {
	var n int
	for _, res := range results {
		n += len(res.usable())
	}
	rows := make([]costquery.Row, 0, n)
	for _, res := range results {
		rows = append(rows, res.usable()...)
	}
	return rows
}
