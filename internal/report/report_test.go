package report

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alecgard/costscope/internal/azure"
	"github.com/alecgard/costscope/internal/costquery"
)

var now = time.Date(2025, 4, 29, 10, 30, 0, 0, time.UTC)

// Positions within costquery.DefaultGrouping.
var (
	catPos    = costquery.DefaultGrouping.Index(costquery.MeterCategory)
	subCatPos = costquery.DefaultGrouping.Index(costquery.MeterSubCategory)
)

func sub(id, name string) azure.Subscription {
	return azure.Subscription{SubscriptionID: id, DisplayName: name, Status: "Active"}
}

func row(cost float64, dims ...string) costquery.Row {
	return costquery.Row{Cost: cost, Dims: dims}
}

func TestBreakdownEndToEnd(t *testing.T) {
	results := []SubscriptionRows{{
		Subscription: sub("s1", "Prod"),
		Rows: []costquery.Row{
			row(10, "Microsoft Defender for Cloud", "DDoS Protection"),
			row(5, "Microsoft Defender for Cloud", "DDoS Protection"),
		},
	}}

	b := Breakdown(UsableRows(results), subCatPos, now)

	assert.Equal(t, 15.0, b.MonthlyCost)
	assert.Equal(t, 180.0, b.YearlyCost)
	require.Len(t, b.CostBreakdown, 1)
	assert.Equal(t, CategoryCost{Category: "DDoS Protection", Cost: 15, Percentage: 100}, b.CostBreakdown[0])
	assert.Equal(t, "2025-04-29", b.LastUpdated)
}

func TestBreakdownPercentagesAndOrder(t *testing.T) {
	rows := []costquery.Row{
		row(1.111, "Key Vault", "Operations"),
		row(2.222, "Key Vault", ""),
		row(3.333, "Key Vault", "Operations"),
		row(0.004, "Key Vault", "Secrets"),
	}

	b := Breakdown(rows, subCatPos, now)

	require.Len(t, b.CostBreakdown, 3)
	assert.Equal(t, "Operations", b.CostBreakdown[0].Category)
	assert.Equal(t, OtherCategory, b.CostBreakdown[1].Category)
	assert.Equal(t, "Secrets", b.CostBreakdown[2].Category)
	assert.Equal(t, 4.44, b.CostBreakdown[0].Cost)
	assert.Equal(t, 6.67, b.MonthlyCost)

	var sum float64
	for _, c := range b.CostBreakdown {
		sum += c.Percentage
	}
	assert.InDelta(t, 100, sum, 0.05)
}

func TestBreakdownZeroTotal(t *testing.T) {
	b := Breakdown([]costquery.Row{row(0, "x", "a"), row(0, "x", "b")}, subCatPos, now)
	for _, c := range b.CostBreakdown {
		assert.Zero(t, c.Percentage)
	}
	assert.Zero(t, b.MonthlyCost)

	empty := Breakdown(nil, subCatPos, now)
	assert.NotNil(t, empty.CostBreakdown)
	assert.Empty(t, empty.CostBreakdown)
}

func TestFailedSubscriptionContributesNothing(t *testing.T) {
	results := []SubscriptionRows{
		{Subscription: sub("s1", "Prod"), Err: errors.New("429"), Rows: []costquery.Row{row(99, "x", "y")}},
	}

	b := Breakdown(UsableRows(results), subCatPos, now)
	assert.Zero(t, b.MonthlyCost)

	tot := Totals(results, catPos, subCatPos, now)
	assert.Zero(t, tot.TotalCost)
	require.Len(t, tot.Subscriptions, 1)
	assert.Zero(t, tot.Subscriptions[0].Cost)

	m := ServiceMatrix(results, []azure.Subscription{sub("s1", "Prod")}, DefenderCatalog, subCatPos, now)
	assert.Zero(t, m.TotalRow.Total)
}

func TestClassifyService(t *testing.T) {
	tests := map[string]string{
		"Microsoft Defender CSPM": "CloudPosture",
		"Tables":                  "StorageAccounts",
		"Files":                   "StorageAccounts",
		"General Block Blob":      "StorageAccounts",
		"Free Plan - Linux":       "VirtualMachines",
		"SQL Server":              "SqlServers",
		"SQL Server VM":           "SqlServerVirtualMachines",
		"Container Registry":      "ContainerRegistry",
		"Other":                   OtherService,
		"":                        OtherService,
		"Something New":           OtherService,
	}
	for in, want := range tests {
		assert.Equal(t, want, ClassifyService(in), in)
	}
}

func TestServiceTableTargetsCatalog(t *testing.T) {
	for label, svc := range serviceTable {
		assert.Contains(t, DefenderCatalog, svc, label)
	}
}

func TestServiceMatrix(t *testing.T) {
	subs := []azure.Subscription{sub("s1", "Prod"), sub("s2", "Dev"), sub("s3", "Idle")}
	results := []SubscriptionRows{
		{Subscription: subs[0], Rows: []costquery.Row{
			row(10, "Microsoft Defender for Cloud", "Microsoft Defender CSPM"),
			row(2.5, "Microsoft Defender for Cloud", "Tables"),
			row(1.5, "Microsoft Defender for Cloud", "Files"),
			row(7, "Microsoft Defender for Cloud", "Mystery"),
		}},
		{Subscription: subs[1], Rows: []costquery.Row{
			row(3, "Microsoft Defender for Cloud", "Microsoft Defender CSPM"),
		}},
		{Subscription: subs[2], Err: errors.New("boom")},
	}

	m := ServiceMatrix(results, subs, DefenderCatalog, subCatPos, now)

	require.Len(t, m.Rows, len(DefenderCatalog))
	for i, r := range m.Rows {
		assert.Equal(t, DefenderCatalog[i], r.Service)
		assert.Len(t, r.CostPerSubscription, len(subs))
	}

	byService := map[string]MatrixRow{}
	for _, r := range m.Rows {
		byService[r.Service] = r
	}
	assert.Equal(t, map[string]float64{"s1": 10, "s2": 3, "s3": 0}, byService["CloudPosture"].CostPerSubscription)
	assert.Equal(t, 13.0, byService["CloudPosture"].Total)
	assert.Equal(t, 4.0, byService["StorageAccounts"].CostPerSubscription["s1"])
	assert.Zero(t, byService["Dns"].Total)

	assert.Equal(t, TotalService, m.TotalRow.Service)
	assert.Equal(t, map[string]float64{"s1": 14, "s2": 3, "s3": 0}, m.TotalRow.CostPerSubscription)
	assert.Equal(t, 17.0, m.TotalRow.Total)
	assert.Equal(t, 7.0, m.OtherCost)

	assert.Equal(t, []SubscriptionTotal{
		{SubscriptionID: "s1", SubscriptionName: "Prod", Total: 14},
		{SubscriptionID: "s2", SubscriptionName: "Dev", Total: 3},
		{SubscriptionID: "s3", SubscriptionName: "Idle", Total: 0},
	}, m.Subscriptions)
}

func TestServiceMatrixNoSubscriptions(t *testing.T) {
	m := ServiceMatrix(nil, nil, DefenderCatalog, subCatPos, now)
	require.Len(t, m.Rows, len(DefenderCatalog))
	assert.Empty(t, m.Subscriptions)
	assert.NotNil(t, m.Subscriptions)
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "vm1", ResourceName("/subscriptions/x/resourceGroups/y/providers/Microsoft.Compute/virtualMachines/vm1"))
	assert.Equal(t, "vm1", ResourceName("/subscriptions/x/virtualMachines/vm1/"))
	assert.Equal(t, "plain", ResourceName("plain"))
	assert.Equal(t, "Unknown", ResourceName(""))
}

func TestTopResourcesTieBreakByFirstSeen(t *testing.T) {
	layout := costquery.ResourceGrouping
	idPos, scPos := layout.Index(costquery.ResourceID), layout.Index(costquery.MeterSubCategory)
	results := []SubscriptionRows{{
		Subscription: sub("s1", "Prod"),
		Rows: []costquery.Row{
			row(30, "/r/A", "Servers"),
			row(50, "/r/B", "Servers"),
			row(10, "/r/C", "Servers"),
			row(50, "/r/D", "Servers"),
		},
	}}

	top := TopResources(results, idPos, scPos, 2, now)

	require.Len(t, top.Resources, 2)
	assert.Equal(t, "B", top.Resources[0].ResourceName)
	assert.Equal(t, "D", top.Resources[1].ResourceName)
	assert.Equal(t, 50.0, top.Resources[0].Cost)
}

func TestTopResourcesExplodesSubCategories(t *testing.T) {
	layout := costquery.ResourceGrouping
	idPos, scPos := layout.Index(costquery.ResourceID), layout.Index(costquery.MeterSubCategory)
	results := []SubscriptionRows{
		{Subscription: sub("s1", "Prod"), Rows: []costquery.Row{
			row(4, "/r/vm1", "Servers"),
			row(1, "/r/vm1", ""),
			row(2, "/r/vm1", "Servers"),
			row(1, "/r/small", "Servers"),
		}},
		{Subscription: sub("s2", "Dev"), Rows: []costquery.Row{
			row(5, "/r/kv", "Key Vault Usage"),
		}},
	}

	top := TopResources(results, idPos, scPos, 2, now)

	assert.Equal(t, []ResourceCost{
		{ResourceName: "vm1", SubscriptionName: "Prod", Cost: 7},
		{ResourceName: "kv", SubscriptionName: "Dev", Cost: 5},
	}, top.Resources)
	assert.Equal(t, []ResourceSubCategoryCost{
		{ResourceName: "vm1", SubscriptionName: "Prod", MeterSubCategory: "Servers", Cost: 6},
		{ResourceName: "vm1", SubscriptionName: "Prod", MeterSubCategory: OtherCategory, Cost: 1},
		{ResourceName: "kv", SubscriptionName: "Dev", MeterSubCategory: "Key Vault Usage", Cost: 5},
	}, top.Breakdown)

	all := TopResources(results, idPos, scPos, 0, now)
	assert.Len(t, all.Resources, 3)
}

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		name string
		rec  azure.PricingRecord
		want string
	}{
		{"free not covered", azure.PricingRecord{Name: "Dns", PricingTier: "Free"}, "Off"},
		{"empty tier defaults to free", azure.PricingRecord{Name: "Dns"}, "Off"},
		{"free covered", azure.PricingRecord{Name: "Dns", PricingTier: "Free", ResourcesCoverageStatus: "FullyCovered"}, "Free"},
		{"vm p1", azure.PricingRecord{Name: "VirtualMachines", PricingTier: "Standard", SubPlan: "P1"}, "Plan 1"},
		{"vm p2", azure.PricingRecord{Name: "VirtualMachines", PricingTier: "Standard", SubPlan: "P2"}, "Plan 2"},
		{"vm mde enabled", azure.PricingRecord{
			Name: "VirtualMachines", PricingTier: "Standard",
			Extensions: []azure.Extension{{Name: "MdeIntegration", IsEnabled: "True"}},
		}, "Plan 2"},
		{"vm mde disabled", azure.PricingRecord{
			Name: "VirtualMachines", PricingTier: "Standard",
			Extensions: []azure.Extension{{Name: "MdeIntegration", IsEnabled: "False"}},
		}, "Plan 1"},
		{"standard with sub-plan", azure.PricingRecord{Name: "StorageAccounts", PricingTier: "Standard", SubPlan: "DefenderForStorageV2"}, "Standard (DefenderForStorageV2)"},
		{"standard", azure.PricingRecord{Name: "Arm", PricingTier: "Standard"}, "Standard"},
		{"deprecated", azure.PricingRecord{Name: "Dns", PricingTier: "Standard", Deprecated: "true", ReplacedBy: "Arm"}, "Standard (Deprecated)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTier(tt.rec).Tier)
		})
	}
}

func TestClassifyTierDetails(t *testing.T) {
	d := ClassifyTier(azure.PricingRecord{Name: "Dns", PricingTier: "Standard", Deprecated: "true", ReplacedBy: "Arm"})
	assert.Equal(t, "Yes", d.Deprecated)
	assert.Equal(t, "Arm", d.ReplacedBy)
	assert.Equal(t, "N/A", d.SubPlan)
	assert.Equal(t, "NotCovered", d.ResourcesCoverageStatus)

	d = ClassifyTier(azure.PricingRecord{Name: "Dns", PricingTier: "Standard", ReplacedBy: "Arm"})
	assert.Equal(t, "No", d.Deprecated)
	assert.Equal(t, "N/A", d.ReplacedBy)
}

func TestTiersMatrix(t *testing.T) {
	subs := []azure.Subscription{sub("s1", "Zulu"), sub("s2", "Alpha")}
	records := []azure.PricingRecord{
		{SubscriptionID: "s1", Name: "VirtualMachines", PricingTier: "Standard", SubPlan: "P2"},
		{SubscriptionID: "s1", Name: "Arm", PricingTier: "Free"},
		{SubscriptionID: "s2", Name: "VirtualMachines", PricingTier: "Free", ResourcesCoverageStatus: "FullyCovered"},
		{SubscriptionID: "s9", Name: "Dns", PricingTier: "Standard"},
	}

	m := Tiers(records, subs, now)

	assert.Equal(t, []string{"Arm", "Dns", "VirtualMachines"}, m.Plans)
	require.Len(t, m.TierMatrix, 3)
	assert.Equal(t, "Alpha", m.TierMatrix[0].SubscriptionName)
	assert.Equal(t, map[string]string{"Arm": "N/A", "Dns": "N/A", "VirtualMachines": "Free"}, m.TierMatrix[0].Tiers)
	assert.Equal(t, "Zulu", m.TierMatrix[1].SubscriptionName)
	assert.Equal(t, map[string]string{"Arm": "Off", "Dns": "N/A", "VirtualMachines": "Plan 2"}, m.TierMatrix[1].Tiers)
	assert.Equal(t, "s9", m.TierMatrix[2].SubscriptionName)
	assert.Len(t, m.Details, 4)
	assert.Equal(t, "2025-04-29", m.LastUpdated)
}

func TestTiersEmpty(t *testing.T) {
	m := Tiers(nil, nil, now)
	assert.NotNil(t, m.Plans)
	assert.NotNil(t, m.TierMatrix)
}

func TestSecurityComponent(t *testing.T) {
	tests := []struct {
		category, subCategory, want string
	}{
		{"Microsoft Defender for Cloud", "Microsoft Defender CSPM", "Microsoft Defender"},
		{"Virtual Network", "DDoS Protection", "DDoS Protection"},
		{"Key Vault", "Operations", "Key Vault"},
		{"Application Gateway", "WAF", "Web Application Firewall"},
		{"Azure Front Door", "Web Application Firewall Policy", "Web Application Firewall"},
		{"Azure Firewall", "Standard", "Azure Firewall"},
		{"Sentinel", "Analysis", "Microsoft Sentinel"},
		{"Virtual Machines", "D2s v3", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SecurityComponent(tt.category, tt.subCategory), tt.subCategory)
	}
}

func TestTotalsAndOverview(t *testing.T) {
	results := []SubscriptionRows{
		{Subscription: sub("s1", "Prod"), Rows: []costquery.Row{
			row(100, "Virtual Machines", "D2s v3"),
			row(20, "Microsoft Defender for Cloud", "Microsoft Defender CSPM"),
			row(5, "Key Vault", "Operations"),
		}},
		{Subscription: sub("s2", "Dev"), Rows: []costquery.Row{
			row(3.333, "Sentinel", "Analysis"),
		}},
		{Subscription: sub("s3", "Broken"), Err: errors.New("timeout")},
	}

	tot := Totals(results, catPos, subCatPos, now)

	assert.Equal(t, 128.33, tot.TotalCost)
	assert.Equal(t, 28.33, tot.TotalSecurityCost)
	assert.Len(t, tot.SecurityComponents, 6)
	assert.Equal(t, 20.0, tot.SecurityComponents["Microsoft Defender"])
	assert.Equal(t, 5.0, tot.SecurityComponents["Key Vault"])
	assert.Equal(t, 3.33, tot.SecurityComponents["Microsoft Sentinel"])
	assert.Zero(t, tot.SecurityComponents["Azure Firewall"])
	assert.Equal(t, []SubscriptionCost{
		{SubscriptionID: "s1", SubscriptionName: "Prod", Cost: 125},
		{SubscriptionID: "s2", SubscriptionName: "Dev", Cost: 3.33},
		{SubscriptionID: "s3", SubscriptionName: "Broken", Cost: 0},
	}, tot.Subscriptions)

	ov := NewOverview(tot, 7, TopResourceList{})
	assert.Equal(t, 7, ov.ResourceGroupCount)
	assert.NotNil(t, ov.TopDefenderResources)

	b, err := json.Marshal(ov)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(b, &flat))
	assert.Contains(t, flat, "totalCost")
	assert.Contains(t, flat, "resourceGroupCount")
	assert.Contains(t, flat, "topDefenderResources")
}

func TestHistoricalAttributesEverythingToStartMonth(t *testing.T) {
	results := []SubscriptionRows{
		{Subscription: sub("s1", "Prod"), Rows: []costquery.Row{row(10), row(5.5)}},
		{Subscription: sub("s2", "Dev"), Rows: []costquery.Row{row(4.5)}},
	}
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 29, 23, 59, 59, 0, time.UTC)

	h := Historical(results, from, to)

	assert.Equal(t, []string{"Jan", "Feb", "Mar", "Apr"}, h.Labels)
	assert.Equal(t, []float64{20, 0, 0, 0}, h.Values)
}

func TestHistoricalSingleMonth(t *testing.T) {
	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	h := Historical(nil, from, from.Add(-time.Hour))
	assert.Equal(t, []string{"Apr"}, h.Labels)
	assert.Equal(t, []float64{0}, h.Values)
}

func TestPlans(t *testing.T) {
	results := []SubscriptionPricings{
		{Subscription: sub("s1", "Prod"), Pricings: []azure.Pricing{
			{Name: "VirtualMachines", Properties: azure.PricingProperties{PricingTier: "Standard"}},
			{Name: "Dns"},
		}},
		{Subscription: sub("s2", "Dev"), Err: errors.New("forbidden")},
	}

	assert.Equal(t, []PlanEntry{
		{SubscriptionID: "s1", SubscriptionName: "Prod", PlanName: "VirtualMachines", PricingTier: "Standard"},
	}, Plans(results))
	assert.NotNil(t, Plans(nil))
}

func TestResourceGroups(t *testing.T) {
	results := []SubscriptionGroups{
		{Subscription: sub("s1", "Prod"), Groups: []azure.ResourceGroup{{ID: "/subscriptions/s1/resourceGroups/rg1", Name: "rg1", Location: "westeurope"}}},
		{Subscription: sub("s2", "Dev"), Err: errors.New("forbidden")},
	}

	got := ResourceGroups(results)
	require.Len(t, got, 1)
	assert.Equal(t, "rg1", got[0].Name)
	assert.Equal(t, "Prod", got[0].SubscriptionName)
}

func TestRawRows(t *testing.T) {
	subs := []azure.Subscription{sub("s1", "Prod")}
	results := []SubscriptionRows{{
		Subscription: subs[0],
		Rows: []costquery.Row{
			row(1.234, "Storage", "Tables", "s1", "rg-a"),
			row(2, "Storage", "Files", "s1", ""),
		},
	}}

	out := RawRows(results, costquery.DefaultGrouping, subs)

	require.Len(t, out.Properties.Rows, 2)
	assert.Equal(t, []any{1.234, "Storage", "Tables", "s1", "rg-a", "Prod"}, out.Properties.Rows[0])
	assert.Equal(t, "Unknown", out.Properties.Rows[1][4])
	require.Len(t, out.Properties.Columns, 6)
	assert.Equal(t, "SubscriptionName", out.Properties.Columns[5].Name)
	assert.Equal(t, subs, out.Subscriptions)
}
