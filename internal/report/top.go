package report

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ResourceCost is one resource's summed cost.
type ResourceCost struct {
	ResourceName     string  `json:"resourceName"`
	SubscriptionName string  `json:"subscriptionName"`
	Cost             float64 `json:"cost"`
}

// ResourceSubCategoryCost is a resource's cost within one meter sub-category.
type ResourceSubCategoryCost struct {
	ResourceName     string  `json:"resourceName"`
	SubscriptionName string  `json:"subscriptionName"`
	MeterSubCategory string  `json:"meterSubCategory"`
	Cost             float64 `json:"cost"`
}

// TopResourceList holds the most expensive resources and their
// sub-category split.
type TopResourceList struct {
	Resources   []ResourceCost            `json:"resources"`
	Breakdown   []ResourceSubCategoryCost `json:"breakdown"`
	LastUpdated string                    `json:"lastUpdated"`
}

// ResourceName returns the last segment of a resource path, ignoring a
// trailing slash. An empty path yields "Unknown".
func ResourceName(resourceID string) string {
	id := strings.TrimRight(resourceID, "/")
	if id == "" {
		return unknownLabel
	}
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		return id[i+1:]
	}
	return id
}

type resourceAgg struct {
	name         string
	subscription string
	total        decimal.Decimal
	subOrder     []string
	subs         map[string]decimal.Decimal
}

// TopResources sums cost per resource name, keeps the n most expensive
// (all when n <= 0) and explodes each kept resource into one line per
// sub-category. Ties keep first-seen order.
func TopResources(results []SubscriptionRows, idPos, subCategoryPos, n int, now time.Time) TopResourceList {
	var order []*resourceAgg
	byName := make(map[string]*resourceAgg)

	for _, res := range results {
		subName := res.Subscription.Name()
		for _, r := range res.usable() {
			name := ResourceName(r.Dim(idPos))
			agg, ok := byName[name]
			if !ok {
				agg = &resourceAgg{name: name, subscription: subName, subs: make(map[string]decimal.Decimal)}
				byName[name] = agg
				order = append(order, agg)
			}
			sub := r.Dim(subCategoryPos)
			if sub == "" {
				sub = OtherCategory
			}
			if _, seen := agg.subs[sub]; !seen {
				agg.subOrder = append(agg.subOrder, sub)
			}
			c := amount(r.Cost)
			agg.subs[sub] = agg.subs[sub].Add(c)
			agg.total = agg.total.Add(c)
		}
	}

	slices.SortStableFunc(order, func(a, b *resourceAgg) int {
		return b.total.Cmp(a.total)
	})
	if n > 0 && len(order) > n {
		order = order[:n]
	}

	list := TopResourceList{
		Resources:   make([]ResourceCost, 0, len(order)),
		Breakdown:   make([]ResourceSubCategoryCost, 0, len(order)),
		LastUpdated: dateStamp(now),
	}
	for _, agg := range order {
		list.Resources = append(list.Resources, ResourceCost{
			ResourceName:     agg.name,
			SubscriptionName: agg.subscription,
			Cost:             money(agg.total),
		})
		for _, sub := range agg.subOrder {
			list.Breakdown = append(list.Breakdown, ResourceSubCategoryCost{
				ResourceName:     agg.name,
				SubscriptionName: agg.subscription,
				MeterSubCategory: sub,
				Cost:             money(agg.subs[sub]),
			})
		}
	}
	return list
}
