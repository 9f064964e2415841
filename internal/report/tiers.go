package report

import (
	"slices"
	"time"

	"github.com/alecgard/costscope/internal/azure"
)

const notApplicable = "N/A"

// TierDetail is the classified state of one Defender plan in one subscription.
type TierDetail struct {
	SubscriptionID          string `json:"subscriptionId"`
	SubscriptionName        string `json:"subscriptionName"`
	PlanName                string `json:"planName"`
	Tier                    string `json:"tier"`
	SubPlan                 string `json:"subPlan"`
	ResourcesCoverageStatus string `json:"resourcesCoverageStatus"`
	Deprecated              string `json:"deprecated"`
	ReplacedBy              string `json:"replacedBy"`
}

// TierRow maps plan names to tier labels for one subscription.
type TierRow struct {
	SubscriptionName string            `json:"subscriptionName"`
	Tiers            map[string]string `json:"tiers"`
}

// TierMatrix is the subscriptions by plans grid of tier labels.
type TierMatrix struct {
	TierMatrix  []TierRow    `json:"tierMatrix"`
	Plans       []string     `json:"plans"`
	Details     []TierDetail `json:"details"`
	LastUpdated string       `json:"lastUpdated"`
}

// mdeExtensions enable Plan 2 on a VirtualMachines plan without an explicit
// sub-plan.
var mdeExtensions = []string{"MdeIntegration", "mdeDesignatedSubscription"}

// ClassifyTier turns one pricings record into a tier label.
//
//	Free, not covered          -> Off
//	Free, covered              -> Free
//	Standard VirtualMachines   -> Plan 1 / Plan 2 (sub-plan P1/P2, else MDE extension)
//	Standard, sub-plan X       -> Standard (X)
//	Standard                   -> Standard
//	other tiers                -> the tier as given
//
// Deprecated plans get a " (Deprecated)" suffix and a replacedBy pointer.
func ClassifyTier(rec azure.PricingRecord) TierDetail {
	tier := rec.PricingTier
	if tier == "" {
		tier = "Free"
	}
	coverage := rec.ResourcesCoverageStatus
	if coverage == "" {
		coverage = "NotCovered"
	}

	label := tier
	switch tier {
	case "Free":
		if coverage == "NotCovered" {
			label = "Off"
		}
	case "Standard":
		switch {
		case rec.Name == "VirtualMachines" && rec.SubPlan == "P1":
			label = "Plan 1"
		case rec.Name == "VirtualMachines" && rec.SubPlan == "P2":
			label = "Plan 2"
		case rec.Name == "VirtualMachines":
			label = "Plan 1"
			if mdeEnabled(rec.Extensions) {
				label = "Plan 2"
			}
		case rec.SubPlan != "":
			label = "Standard (" + rec.SubPlan + ")"
		default:
			label = "Standard"
		}
	}

	d := TierDetail{
		SubscriptionID:          rec.SubscriptionID,
		SubscriptionName:        rec.SubscriptionName,
		PlanName:                rec.Name,
		Tier:                    label,
		SubPlan:                 rec.SubPlan,
		ResourcesCoverageStatus: coverage,
		Deprecated:              "No",
		ReplacedBy:              notApplicable,
	}
	if d.SubPlan == "" {
		d.SubPlan = notApplicable
	}
	if rec.Deprecated == "true" {
		d.Deprecated = "Yes"
		d.Tier += " (Deprecated)"
		if rec.ReplacedBy != "" {
			d.ReplacedBy = rec.ReplacedBy
		}
	}
	return d
}

func mdeEnabled(exts []azure.Extension) bool {
	for _, e := range exts {
		if e.IsEnabled == "True" && slices.Contains(mdeExtensions, e.Name) {
			return true
		}
	}
	return false
}

// Tiers classifies every record and lays the results out with one row per
// subscription name and one column per plan, both sorted. Subscription names
// come from subs, falling back to the subscription id. Missing cells read
// "N/A"; the first record for a subscription and plan wins.
func Tiers(records []azure.PricingRecord, subs []azure.Subscription, now time.Time) TierMatrix {
	names := subscriptionNames(subs)

	details := make([]TierDetail, 0, len(records))
	type key struct{ sub, plan string }
	cells := make(map[key]string)
	var plans, subNames []string

	for _, rec := range records {
		d := ClassifyTier(rec)
		if n, ok := names[rec.SubscriptionID]; ok {
			d.SubscriptionName = n
		} else {
			d.SubscriptionName = rec.SubscriptionID
		}
		details = append(details, d)

		k := key{d.SubscriptionName, d.PlanName}
		if _, ok := cells[k]; !ok {
			cells[k] = d.Tier
		}
		if !slices.Contains(plans, d.PlanName) {
			plans = append(plans, d.PlanName)
		}
		if !slices.Contains(subNames, d.SubscriptionName) {
			subNames = append(subNames, d.SubscriptionName)
		}
	}
	slices.Sort(plans)
	slices.Sort(subNames)

	matrix := make([]TierRow, 0, len(subNames))
	for _, sn := range subNames {
		row := TierRow{SubscriptionName: sn, Tiers: make(map[string]string, len(plans))}
		for _, p := range plans {
			if t, ok := cells[key{sn, p}]; ok {
				row.Tiers[p] = t
			} else {
				row.Tiers[p] = notApplicable
			}
		}
		matrix = append(matrix, row)
	}

	if plans == nil {
		plans = []string{}
	}
	return TierMatrix{
		TierMatrix:  matrix,
		Plans:       plans,
		Details:     details,
		LastUpdated: dateStamp(now),
	}
}
