package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alecgard/costscope/internal/azure"
)

// OtherService is the fallback service for unmapped meter sub-categories.
const OtherService = "Other"

// DefenderCatalog lists the Defender for Cloud plans reported as matrix rows.
var DefenderCatalog = []string{
	"AI",
	"Api",
	"AppServices",
	"Arm",
	"CloudPosture",
	"ContainerRegistry",
	"Containers",
	"CosmosDbs",
	"Dns",
	"KeyVaults",
	"KubernetesService",
	"OpenSourceRelationalDatabases",
	"SqlServerVirtualMachines",
	"SqlServers",
	"StorageAccounts",
	"VirtualMachines",
}

// serviceTable maps meter sub-category labels to Defender plan names.
var serviceTable = map[string]string{
	"Microsoft Defender CSPM":              "CloudPosture",
	"Workload Protection for App Services": "AppServices",
	"Azure ARM service layers":             "Arm",
	"General Block Blob":                   "StorageAccounts",
	"Tables":                               "StorageAccounts",
	"Files":                                "StorageAccounts",
	"Free Plan":                            "VirtualMachines",
	"Free Plan - Linux":                    "VirtualMachines",
	"Workload Protection for Containers":   "Containers",
	"Cosmos DB":                            "CosmosDbs",
	"DNS Services":                         "Dns",
	"Key Vault Usage":                      "KeyVaults",
	"Kubernetes Services":                  "KubernetesService",
	"Open Source DB":                       "OpenSourceRelationalDatabases",
	"SQL Server VM":                        "SqlServerVirtualMachines",
	"SQL Server":                           "SqlServers",
	"Container Registry":                   "ContainerRegistry",
}

// ClassifyService returns the Defender plan a meter sub-category bills
// against, or OtherService.
func ClassifyService(subCategory string) string {
	if s, ok := serviceTable[subCategory]; ok {
		return s
	}
	return OtherService
}

// MatrixRow is one service's cost across subscriptions. CostPerSubscription
// is keyed by subscription id.
type MatrixRow struct {
	Service             string             `json:"service"`
	CostPerSubscription map[string]float64 `json:"costPerSubscription"`
	Total               float64            `json:"total"`
}

// SubscriptionTotal is one matrix column header.
type SubscriptionTotal struct {
	SubscriptionID   string  `json:"subscriptionId"`
	SubscriptionName string  `json:"subscriptionName"`
	Total            float64 `json:"total"`
}

// CostMatrix is a service by subscription grid.
type CostMatrix struct {
	Rows          []MatrixRow         `json:"rows"`
	TotalRow      MatrixRow           `json:"totalRow"`
	Subscriptions []SubscriptionTotal `json:"subscriptions"`
	Services      []string            `json:"services"`
	OtherCost     float64             `json:"otherCost"`
	LastUpdated   string              `json:"lastUpdated"`
}

// TotalService labels the synthetic row summing every catalog service.
const TotalService = "Total"

// ServiceMatrix builds the grid of catalog services against subs. Cost rows
// are classified by the sub-category at subCategoryPos; rows that classify
// outside the catalog are summed into OtherCost and excluded from the grid.
// Every subscription in subs gets a column, even with no cost.
func ServiceMatrix(results []SubscriptionRows, subs []azure.Subscription, catalog []string, subCategoryPos int, now time.Time) CostMatrix {
	inCatalog := make(map[string]bool, len(catalog))
	for _, s := range catalog {
		inCatalog[s] = true
	}

	type cell struct{ service, sub string }
	cells := make(map[cell]decimal.Decimal)
	var other decimal.Decimal

	for _, res := range results {
		subID := res.Subscription.SubscriptionID
		for _, r := range res.usable() {
			sub := r.Dim(subCategoryPos)
			if sub == "" {
				sub = OtherCategory
			}
			svc := ClassifyService(sub)
			if !inCatalog[svc] {
				other = other.Add(amount(r.Cost))
				continue
			}
			k := cell{svc, subID}
			cells[k] = cells[k].Add(amount(r.Cost))
		}
	}

	m := CostMatrix{
		Rows:          make([]MatrixRow, 0, len(catalog)),
		Subscriptions: make([]SubscriptionTotal, 0, len(subs)),
		Services:      append([]string(nil), catalog...),
		OtherCost:     money(other),
		LastUpdated:   dateStamp(now),
	}

	subTotals := make(map[string]decimal.Decimal, len(subs))
	var grand decimal.Decimal
	for _, svc := range catalog {
		row := MatrixRow{Service: svc, CostPerSubscription: make(map[string]float64, len(subs))}
		var rowTotal decimal.Decimal
		for _, s := range subs {
			c := cells[cell{svc, s.SubscriptionID}]
			row.CostPerSubscription[s.SubscriptionID] = money(c)
			rowTotal = rowTotal.Add(c)
			subTotals[s.SubscriptionID] = subTotals[s.SubscriptionID].Add(c)
		}
		row.Total = money(rowTotal)
		grand = grand.Add(rowTotal)
		m.Rows = append(m.Rows, row)
	}

	m.TotalRow = MatrixRow{
		Service:             TotalService,
		CostPerSubscription: make(map[string]float64, len(subs)),
		Total:               money(grand),
	}
	for _, s := range subs {
		t := subTotals[s.SubscriptionID]
		m.TotalRow.CostPerSubscription[s.SubscriptionID] = money(t)
		m.Subscriptions = append(m.Subscriptions, SubscriptionTotal{
			SubscriptionID:   s.SubscriptionID,
			SubscriptionName: s.Name(),
			Total:            money(t),
		})
	}
	return m
}
