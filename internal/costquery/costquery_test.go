package costquery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	april = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	may   = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
)

func TestBuildDefaultGrouping(t *testing.T) {
	p := Build(Request{SubscriptionID: "sub-1", From: april, To: may})

	body, err := json.Marshal(p)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "Usage",
		"timeframe": "Custom",
		"timePeriod": {"from": "2025-04-01T00:00:00Z", "to": "2025-05-01T00:00:00Z"},
		"dataset": {
			"granularity": "None",
			"aggregation": {"totalCost": {"name": "Cost", "function": "Sum"}},
			"grouping": [
				{"type": "Dimension", "name": "MeterCategory"},
				{"type": "Dimension", "name": "MeterSubCategory"},
				{"type": "Dimension", "name": "SubscriptionId"},
				{"type": "Dimension", "name": "ResourceGroup"}
			]
		}
	}`, string(body))
}

func TestBuildWithFilterAndCustomGrouping(t *testing.T) {
	cats := []string{"Microsoft Defender for Cloud"}
	p := Build(Request{
		SubscriptionID: "sub-1",
		From:           april.In(time.FixedZone("CEST", 2*3600)),
		To:             may,
		GroupBy:        ResourceGrouping,
		Categories:     cats,
	})
	cats[0] = "mutated"

	assert.Equal(t, "2025-04-01T00:00:00Z", p.TimePeriod.From)
	require.Len(t, p.Dataset.Grouping, 2)
	assert.Equal(t, ResourceID, p.Dataset.Grouping[0].Name)
	assert.Equal(t, MeterSubCategory, p.Dataset.Grouping[1].Name)
	require.NotNil(t, p.Dataset.Filter)
	assert.Equal(t, DimensionFilter{
		Name:     MeterCategory,
		Operator: "In",
		Values:   []string{"Microsoft Defender for Cloud"},
	}, p.Dataset.Filter.Dimensions)
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{SubscriptionID: "s", From: april, To: may}, false},
		{"no subscription", Request{From: april, To: may}, true},
		{"no range", Request{SubscriptionID: "s"}, true},
		{"inverted range", Request{SubscriptionID: "s", From: may, To: april}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestLayoutIndex(t *testing.T) {
	assert.Equal(t, 1, DefaultGrouping.Index(MeterSubCategory))
	assert.Equal(t, 0, ResourceGrouping.Index(ResourceID))
	assert.Equal(t, -1, ResourceGrouping.Index(ResourceGroup))
	assert.Equal(t, DefaultGrouping, Request{}.Layout())
}

func TestDecodeRowsPositional(t *testing.T) {
	body := `{
		"properties": {
			"columns": [
				{"name": "Cost", "type": "Number"},
				{"name": "MeterCategory", "type": "String"},
				{"name": "MeterSubCategory", "type": "String"},
				{"name": "SubscriptionId", "type": "String"},
				{"name": "ResourceGroup", "type": "String"},
				{"name": "Currency", "type": "String"}
			],
			"rows": [
				[10, "Microsoft Defender for Cloud", "DDoS Protection", "sub-1", "rg-a", "EUR"],
				[5.25, "Microsoft Defender for Cloud", null, "sub-1", "rg-b", "EUR"],
				["oops", "Storage", "Tables", "sub-1", "rg-c", "EUR"],
				[1.5, "Storage"],
				"not-a-row"
			]
		}
	}`

	res, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Len(t, res.Columns(), 6)

	rows := res.Rows(DefaultGrouping)
	require.Len(t, rows, 3)
	assert.Equal(t, Row{Cost: 10, Dims: []string{"Microsoft Defender for Cloud", "DDoS Protection", "sub-1", "rg-a"}}, rows[0])
	assert.Equal(t, "", rows[1].Dim(1))
	assert.Equal(t, 5.25, rows[1].Cost)
	assert.Equal(t, "Storage", rows[2].Dim(0))
	assert.Equal(t, "", rows[2].Dim(3))
	assert.Equal(t, "", rows[2].Dim(9))
}

func TestDecodeToleratesMissingRows(t *testing.T) {
	for _, body := range []string{`{}`, `{"properties": null}`, `{"properties": {}}`, `{"properties": {"rows": null}}`} {
		res, err := Decode([]byte(body))
		require.NoError(t, err, body)
		assert.Empty(t, res.Rows(DefaultGrouping), body)
		assert.Nil(t, res.Columns(), body)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{"properties":`))
	assert.Error(t, err)
}
