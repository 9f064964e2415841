package azure

import "encoding/json"

// Subscription is a subscription visible to the caller.
type Subscription struct {
	SubscriptionID string `json:"subscriptionId"`
	DisplayName    string `json:"displayName"`
	Status         string `json:"status"`
}

// Name returns the display name, falling back to the id.
func (s Subscription) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.SubscriptionID
}

type ResourceGroup struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Pricing is one Defender plan entry from the Security pricings API.
type Pricing struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Properties PricingProperties `json:"properties"`
}

type PricingProperties struct {
	PricingTier             string      `json:"pricingTier"`
	SubPlan                 string      `json:"subPlan,omitempty"`
	FreeTrialRemainingTime  string      `json:"freeTrialRemainingTime,omitempty"`
	EnablementTime          string      `json:"enablementTime,omitempty"`
	Deprecated              bool        `json:"deprecated,omitempty"`
	ReplacedBy              []string    `json:"replacedBy,omitempty"`
	ResourcesCoverageStatus string      `json:"resourcesCoverageStatus,omitempty"`
	Extensions              []Extension `json:"extensions,omitempty"`
}

// Extension is a plan extension toggle. IsEnabled is the string "True" or
// "False" as returned by the API.
type Extension struct {
	Name      string `json:"name"`
	IsEnabled string `json:"isEnabled"`
}

// PricingRecord is one row of the resource-graph pricings query.
type PricingRecord struct {
	SubscriptionID          string      `json:"subscriptionId"`
	SubscriptionName        string      `json:"subscriptionName"`
	Name                    string      `json:"name"`
	PricingTier             string      `json:"pricingTier"`
	ResourcesCoverageStatus string      `json:"resourcesCoverageStatus"`
	SubPlan                 string      `json:"subPlan"`
	Deprecated              string      `json:"deprecated"`
	ReplacedBy              string      `json:"newreplacedPlan"`
	Extensions              []Extension `json:"extensions"`
}

// PricingsQuery selects Defender plan settings from the securityresources table.
const PricingsQuery = `securityresources
| where type == 'microsoft.security/pricings'
| project subscriptionId, subscriptionName = tostring(properties.subscriptionName), name, properties
| extend pricingTier = tostring(properties.pricingTier),
    resourcesCoverageStatus = tostring(properties.resourcesCoverageStatus),
    subPlan = tostring(properties.subPlan),
    deprecated = tostring(properties.deprecated),
    newreplacedPlan = tostring(properties.replacedBy[0]),
    extensions = properties.extensions
| order by subscriptionId, name asc`

// DecodePricingRecords decodes resource graph rows, skipping rows that do not
// match the record shape.
func DecodePricingRecords(raw []json.RawMessage) []PricingRecord {
	out := make([]PricingRecord, 0, len(raw))
	for _, msg := range raw {
		var rec PricingRecord
		if err := json.Unmarshal(msg, &rec); err != nil || rec.Name == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}
