package report

import (
	"github.com/alecgard/costscope/internal/azure"
	"github.com/alecgard/costscope/internal/costquery"
)

// SubscriptionPricings is the outcome of one pricings listing.
type SubscriptionPricings struct {
	Subscription azure.Subscription
	Pricings     []azure.Pricing
	Err          error
}

// PlanEntry is one Defender plan and its pricing tier.
type PlanEntry struct {
	SubscriptionID   string `json:"subscriptionId"`
	SubscriptionName string `json:"subscriptionName"`
	PlanName         string `json:"planName"`
	PricingTier      string `json:"pricingTier"`
}

// Plans flattens pricings listings, skipping plans without a tier.
func Plans(results []SubscriptionPricings) []PlanEntry {
	out := []PlanEntry{}
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for _, p := range res.Pricings {
			if p.Properties.PricingTier == "" {
				continue
			}
			out = append(out, PlanEntry{
				SubscriptionID:   res.Subscription.SubscriptionID,
				SubscriptionName: res.Subscription.Name(),
				PlanName:         p.Name,
				PricingTier:      p.Properties.PricingTier,
			})
		}
	}
	return out
}

// SubscriptionGroups is the outcome of one resource group listing.
type SubscriptionGroups struct {
	Subscription azure.Subscription
	Groups       []azure.ResourceGroup
	Err          error
}

// ResourceGroupEntry is a resource group tagged with its subscription.
type ResourceGroupEntry struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Location         string `json:"location"`
	SubscriptionID   string `json:"subscriptionId"`
	SubscriptionName string `json:"subscriptionName"`
}

// ResourceGroups flattens resource group listings in subscription order.
func ResourceGroups(results []SubscriptionGroups) []ResourceGroupEntry {
	out := []ResourceGroupEntry{}
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for _, g := range res.Groups {
			out = append(out, ResourceGroupEntry{
				ID:               g.ID,
				Name:             g.Name,
				Location:         g.Location,
				SubscriptionID:   res.Subscription.SubscriptionID,
				SubscriptionName: res.Subscription.Name(),
			})
		}
	}
	return out
}

// CostRows is the raw row dump: each row is
// [cost, meterCategory, meterSubCategory, subscriptionId, resourceGroup, subscriptionName].
type CostRows struct {
	Properties    CostRowsProperties   `json:"properties"`
	Subscriptions []azure.Subscription `json:"subscriptions"`
}

type CostRowsProperties struct {
	Rows    [][]any            `json:"rows"`
	Columns []costquery.Column `json:"columns"`
}

var costRowsColumns = []costquery.Column{
	{Name: "Cost", Type: "Number"},
	{Name: "MeterCategory", Type: "String"},
	{Name: "MeterSubCategory", Type: "String"},
	{Name: "SubscriptionId", Type: "String"},
	{Name: "ResourceGroup", Type: "String"},
	{Name: "SubscriptionName", Type: "String"},
}

// RawRows re-emits rows decoded with layout in the fixed column order above.
// Costs are passed through unrounded; an empty resource group reads "Unknown".
func RawRows(results []SubscriptionRows, layout costquery.Layout, subs []azure.Subscription) CostRows {
	catPos := layout.Index(costquery.MeterCategory)
	subCatPos := layout.Index(costquery.MeterSubCategory)
	rgPos := layout.Index(costquery.ResourceGroup)

	rows := [][]any{}
	for _, res := range results {
		for _, r := range res.usable() {
			rg := r.Dim(rgPos)
			if rg == "" {
				rg = unknownLabel
			}
			rows = append(rows, []any{
				r.Cost,
				r.Dim(catPos),
				r.Dim(subCatPos),
				res.Subscription.SubscriptionID,
				rg,
				res.Subscription.Name(),
			})
		}
	}

	if subs == nil {
		subs = []azure.Subscription{}
	}
	return CostRows{
		Properties: CostRowsProperties{
			Rows:    rows,
			Columns: costRowsColumns,
		},
		Subscriptions: subs,
	}
}
