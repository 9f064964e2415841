// Package costquery builds Cost Management usage queries and decodes the
// positional rows they return.
package costquery

import (
	"fmt"
	"slices"
	"time"
)

// APIVersion is the Cost Management query API version the payload targets.
const APIVersion = "2021-10-01"

// Dimension is a grouping dimension understood by the query API.
type Dimension string

const (
	MeterCategory    Dimension = "MeterCategory"
	MeterSubCategory Dimension = "MeterSubCategory"
	SubscriptionID   Dimension = "SubscriptionId"
	ResourceGroup    Dimension = "ResourceGroup"
	ResourceID       Dimension = "ResourceId"
)

// DefaultGrouping is used when a request names no dimensions.
var DefaultGrouping = Layout{MeterCategory, MeterSubCategory, SubscriptionID, ResourceGroup}

// ResourceGrouping groups cost by resource and meter sub-category.
var ResourceGrouping = Layout{ResourceID, MeterSubCategory}

// Layout is the ordered list of grouping dimensions. Row cell i+1 holds the
// value of Layout[i]; cell 0 is always the cost.
type Layout []Dimension

// Index returns the position of d within a decoded row's Dims, or -1.
func (l Layout) Index(d Dimension) int {
	return slices.Index(l, d)
}

// Request describes one usage query against a subscription.
type Request struct {
	SubscriptionID string
	From           time.Time
	To             time.Time
	GroupBy        Layout
	// Categories restricts rows to these meter categories. Empty means all.
	Categories []string
}

// Layout returns the effective grouping of the request.
func (r Request) Layout() Layout {
	if len(r.GroupBy) == 0 {
		return DefaultGrouping
	}
	return r.GroupBy
}

// Validate checks the parts of the request the remote API would reject.
func (r Request) Validate() error {
	if r.SubscriptionID == "" {
		return fmt.Errorf("costquery: subscription id is required")
	}
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("costquery: time range is required")
	}
	if !r.To.After(r.From) {
		return fmt.Errorf("costquery: end %s is not after start %s", r.To.Format(time.RFC3339), r.From.Format(time.RFC3339))
	}
	return nil
}

// Payload is the JSON body posted to the query endpoint.
type Payload struct {
	Type       string     `json:"type"`
	Timeframe  string     `json:"timeframe"`
	TimePeriod TimePeriod `json:"timePeriod"`
	Dataset    Dataset    `json:"dataset"`
}

type TimePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Dataset struct {
	Granularity string                 `json:"granularity"`
	Aggregation map[string]Aggregation `json:"aggregation"`
	Grouping    []Grouping             `json:"grouping"`
	Filter      *Filter                `json:"filter,omitempty"`
}

type Aggregation struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

type Grouping struct {
	Type string    `json:"type"`
	Name Dimension `json:"name"`
}

type Filter struct {
	Dimensions DimensionFilter `json:"dimensions"`
}

type DimensionFilter struct {
	Name     Dimension `json:"name"`
	Operator string    `json:"operator"`
	Values   []string  `json:"values"`
}

// Build returns the query payload for r.
func Build(r Request) Payload {
	layout := r.Layout()
	grouping := make([]Grouping, len(layout))
	for i, d := range layout {
		grouping[i] = Grouping{Type: "Dimension", Name: d}
	}

	p := Payload{
		Type:      "Usage",
		Timeframe: "Custom",
		TimePeriod: TimePeriod{
			From: r.From.UTC().Format(time.RFC3339),
			To:   r.To.UTC().Format(time.RFC3339),
		},
		Dataset: Dataset{
			Granularity: "None",
			Aggregation: map[string]Aggregation{
				"totalCost": {Name: "Cost", Function: "Sum"},
			},
			Grouping: grouping,
		},
	}
	if len(r.Categories) > 0 {
		p.Dataset.Filter = &Filter{Dimensions: DimensionFilter{
			Name:     MeterCategory,
			Operator: "In",
			Values:   slices.Clone(r.Categories),
		}}
	}
	return p
}
