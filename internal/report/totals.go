package report

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// securityComponent matches cost lines to a security product by substring.
type securityComponent struct {
	label   string
	needles []string
}

// securityComponents are tried in order; the first match wins. The web
// application firewall is listed ahead of the network firewall since its
// labels also contain "Firewall".
var securityComponents = []securityComponent{
	{"Microsoft Defender", []string{"Defender"}},
	{"DDoS Protection", []string{"DDoS"}},
	{"Key Vault", []string{"Key Vault"}},
	{"Web Application Firewall", []string{"WAF", "Web Application Firewall"}},
	{"Azure Firewall", []string{"Firewall"}},
	{"Microsoft Sentinel", []string{"Sentinel"}},
}

// SecurityComponent returns the security product a cost line belongs to,
// matching the sub-category first and the category second. It returns ""
// for non-security spend.
func SecurityComponent(category, subCategory string) string {
	for _, field := range []string{subCategory, category} {
		if field == "" {
			continue
		}
		for _, c := range securityComponents {
			for _, n := range c.needles {
				if strings.Contains(field, n) {
					return c.label
				}
			}
		}
	}
	return ""
}

// SubscriptionCost is one subscription's total spend.
type SubscriptionCost struct {
	SubscriptionID   string  `json:"subscriptionId"`
	SubscriptionName string  `json:"subscriptionName"`
	Cost             float64 `json:"cost"`
}

// TotalCost is tenant-wide spend with the security share split by product.
type TotalCost struct {
	TotalCost          float64            `json:"totalCost"`
	TotalSecurityCost  float64            `json:"totalSecurityCost"`
	SecurityComponents map[string]float64 `json:"securityComponents"`
	Subscriptions      []SubscriptionCost `json:"subscriptions"`
	LastUpdated        string             `json:"lastUpdated"`
}

// Totals sums every row and attributes security spend to its component.
// Every subscription in results is listed, failed ones with zero cost.
func Totals(results []SubscriptionRows, categoryPos, subCategoryPos int, now time.Time) TotalCost {
	components := make(map[string]decimal.Decimal, len(securityComponents))
	var total, security decimal.Decimal
	subs := make([]SubscriptionCost, 0, len(results))

	for _, res := range results {
		var subTotal decimal.Decimal
		for _, r := range res.usable() {
			c := amount(r.Cost)
			subTotal = subTotal.Add(c)
			if label := SecurityComponent(r.Dim(categoryPos), r.Dim(subCategoryPos)); label != "" {
				components[label] = components[label].Add(c)
				security = security.Add(c)
			}
		}
		total = total.Add(subTotal)
		subs = append(subs, SubscriptionCost{
			SubscriptionID:   res.Subscription.SubscriptionID,
			SubscriptionName: res.Subscription.Name(),
			Cost:             money(subTotal),
		})
	}

	out := TotalCost{
		TotalCost:          money(total),
		TotalSecurityCost:  money(security),
		SecurityComponents: make(map[string]float64, len(securityComponents)),
		Subscriptions:      subs,
		LastUpdated:        dateStamp(now),
	}
	for _, c := range securityComponents {
		out.SecurityComponents[c.label] = money(components[c.label])
	}
	return out
}

// Overview extends the tenant totals with inventory figures.
type Overview struct {
	TotalCost
	ResourceGroupCount   int            `json:"resourceGroupCount"`
	TopDefenderResources []ResourceCost `json:"topDefenderResources"`
}

// NewOverview combines totals, a resource group count and the top Defender
// resources into an Overview.
func NewOverview(totals TotalCost, resourceGroups int, top TopResourceList) Overview {
	resources := top.Resources
	if resources == nil {
		resources = []ResourceCost{}
	}
	return Overview{
		TotalCost:            totals,
		ResourceGroupCount:   resourceGroups,
		TopDefenderResources: resources,
	}
}

// HistoricalCost is a month-labelled cost series.
type HistoricalCost struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Historical labels every month from from to to (inclusive) and attributes
// the whole period's cost to the first month. Rows are not dated, so the
// query window's start month is the only month known for them.
func Historical(results []SubscriptionRows, from, to time.Time) HistoricalCost {
	from, to = from.UTC(), to.UTC()
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	if end.Before(start) {
		end = start
	}

	var labels []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		labels = append(labels, m.Format("Jan"))
	}

	var total decimal.Decimal
	for _, r := range UsableRows(results) {
		total = total.Add(amount(r.Cost))
	}

	values := make([]float64, len(labels))
	values[0] = money(total)
	return HistoricalCost{Labels: labels, Values: values}
}
