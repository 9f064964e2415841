package dashboard

import (
	"context"

	"github.com/alecgard/costscope/internal/azure"
	"github.com/alecgard/costscope/internal/batch"
	"github.com/alecgard/costscope/internal/costquery"
	"github.com/alecgard/costscope/internal/report"
)

// Product is a security product reported as a category breakdown. Its cost
// rows are selected by meter category and split by meter sub-category.
type Product struct {
	Name       string
	Categories []string
}

var (
	DDoSProtection = Product{Name: "DDoS Protection", Categories: []string{"DDoS Protection"}}
	KeyVault       = Product{Name: "Key Vault", Categories: []string{"Key Vault"}}
	Firewall       = Product{Name: "Azure Firewall", Categories: []string{"Azure Firewall"}}
	WAF            = Product{Name: "Web Application Firewall", Categories: []string{"Web Application Firewall"}}
	Sentinel       = Product{Name: "Microsoft Sentinel", Categories: []string{"Sentinel"}}
)

var (
	defaultLayout  = costquery.DefaultGrouping
	resourceLayout = costquery.ResourceGrouping
)

// Costs returns every cost row of every subscription in r.
func (s *Service) Costs(ctx context.Context, token string, r Range) (report.CostRows, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.CostRows{}, err
	}
	results := s.queryCosts(ctx, token, subs, r, costQuery{operation: "costs", layout: defaultLayout})
	return report.RawRows(results, defaultLayout, subs), nil
}

// TotalCost returns tenant-wide spend with the security share split out.
func (s *Service) TotalCost(ctx context.Context, token string, r Range) (report.TotalCost, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.TotalCost{}, err
	}
	results := s.queryCosts(ctx, token, subs, r, costQuery{operation: "total_cost", layout: defaultLayout})
	return s.totals(results), nil
}

func (s *Service) totals(results []report.SubscriptionRows) report.TotalCost {
	return report.Totals(results,
		defaultLayout.Index(costquery.MeterCategory),
		defaultLayout.Index(costquery.MeterSubCategory),
		s.now())
}

// Overview returns the totals plus the resource group count and the most
// expensive Defender resources.
func (s *Service) Overview(ctx context.Context, token string, r Range) (report.Overview, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.Overview{}, err
	}

	groups := report.ResourceGroups(s.listGroups(ctx, token, subs))
	top := s.topResources(ctx, token, subs, r, "overview_top_resources", []string{DefenderCategory}, s.opts.DefenderTopN)
	results := s.queryCosts(ctx, token, subs, r, costQuery{operation: "overview", layout: defaultLayout})

	return report.NewOverview(s.totals(results), len(groups), top), nil
}

// HistoricalCost returns the month-labelled cost series for r.
func (s *Service) HistoricalCost(ctx context.Context, token string, r Range) (report.HistoricalCost, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.HistoricalCost{}, err
	}
	results := s.queryCosts(ctx, token, subs, r, costQuery{operation: "historical_cost", layout: defaultLayout})
	return report.Historical(results, r.From, r.To), nil
}

// ProductCost returns the category breakdown for one security product.
func (s *Service) ProductCost(ctx context.Context, token string, p Product, r Range) (report.CostBreakdown, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.CostBreakdown{}, err
	}
	results := s.queryCosts(ctx, token, subs, r, costQuery{
		operation:  "product_cost",
		layout:     defaultLayout,
		categories: p.Categories,
	})
	return report.Breakdown(report.UsableRows(results), defaultLayout.Index(costquery.MeterSubCategory), s.now()), nil
}

// DefenderCost returns the Defender plan by subscription matrix. Cost queries
// that are rate limited are retried with backoff.
func (s *Service) DefenderCost(ctx context.Context, token string, r Range) (report.CostMatrix, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.CostMatrix{}, err
	}
	results := s.queryCosts(ctx, token, subs, r, costQuery{
		operation:  "defender_cost",
		layout:     defaultLayout,
		categories: []string{DefenderCategory},
		retry:      true,
	})
	return report.ServiceMatrix(results, subs, report.DefenderCatalog, defaultLayout.Index(costquery.MeterSubCategory), s.now()), nil
}

// DefenderTopResources returns the most expensive Defender-protected resources.
func (s *Service) DefenderTopResources(ctx context.Context, token string, r Range) (report.TopResourceList, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.TopResourceList{}, err
	}
	return s.topResources(ctx, token, subs, r, "defender_top_resources", []string{DefenderCategory}, s.opts.DefenderTopN), nil
}

// TopResources returns the most expensive resources across all categories.
func (s *Service) TopResources(ctx context.Context, token string, r Range) (report.TopResourceList, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.TopResourceList{}, err
	}
	return s.topResources(ctx, token, subs, r, "top_resources", nil, s.opts.TopN), nil
}

func (s *Service) topResources(ctx context.Context, token string, subs []azure.Subscription, r Range, operation string, categories []string, n int) report.TopResourceList {
	results := s.queryCosts(ctx, token, subs, r, costQuery{
		operation:  operation,
		layout:     resourceLayout,
		categories: categories,
	})
	return report.TopResources(results,
		resourceLayout.Index(costquery.ResourceID),
		resourceLayout.Index(costquery.MeterSubCategory),
		n, s.now())
}

// ResourceGroups lists the resource groups of every subscription.
func (s *Service) ResourceGroups(ctx context.Context, token string) ([]report.ResourceGroupEntry, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return nil, err
	}
	return report.ResourceGroups(s.listGroups(ctx, token, subs)), nil
}

func (s *Service) listGroups(ctx context.Context, token string, subs []azure.Subscription) []report.SubscriptionGroups {
	const operation = "resource_groups"
	outcomes := batch.Run(ctx, subs, func(ctx context.Context, sub azure.Subscription) ([]azure.ResourceGroup, error) {
		return s.cloud.ListResourceGroups(ctx, token, sub.SubscriptionID)
	}, s.batchOptions(operation)...)

	results := make([]report.SubscriptionGroups, len(subs))
	for i, o := range outcomes {
		results[i] = report.SubscriptionGroups{Subscription: subs[i], Groups: o.Value, Err: o.Err}
		if o.Err != nil {
			s.itemFailed(ctx, operation, subs[i], o.Err)
		}
	}
	return results
}

// Plans lists the Defender plan tiers reported by the pricings API.
func (s *Service) Plans(ctx context.Context, token string) ([]report.PlanEntry, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return nil, err
	}

	const operation = "plans"
	outcomes := batch.Run(ctx, subs, func(ctx context.Context, sub azure.Subscription) ([]azure.Pricing, error) {
		return s.cloud.ListPricings(ctx, token, sub.SubscriptionID)
	}, s.batchOptions(operation)...)

	results := make([]report.SubscriptionPricings, len(subs))
	for i, o := range outcomes {
		results[i] = report.SubscriptionPricings{Subscription: subs[i], Pricings: o.Value, Err: o.Err}
		if o.Err != nil {
			s.itemFailed(ctx, operation, subs[i], o.Err)
		}
	}
	return report.Plans(results), nil
}

// DefenderPlan returns the Defender plan tier matrix. Subscriptions are
// queried through the resource graph in chunks of the batch size, one chunk
// at a time. A failed chunk contributes no records.
func (s *Service) DefenderPlan(ctx context.Context, token string) (report.TierMatrix, error) {
	subs, err := s.Subscriptions(ctx, token)
	if err != nil {
		return report.TierMatrix{}, err
	}

	const operation = "defender_plan"
	chunks := batch.Chunk(subs, s.opts.BatchSize)
	outcomes := batch.Run(ctx, chunks, func(ctx context.Context, chunk []azure.Subscription) ([]azure.PricingRecord, error) {
		ids := make([]string, len(chunk))
		for i, sub := range chunk {
			ids[i] = sub.SubscriptionID
		}
		raw, err := s.cloud.QueryResources(ctx, token, azure.PricingsQuery, ids)
		if err != nil {
			return nil, err
		}
		return azure.DecodePricingRecords(raw), nil
	}, append(s.batchOptions(operation), batch.WithSize(1))...)

	var records []azure.PricingRecord
	for i, o := range outcomes {
		if o.Err != nil {
			for _, sub := range chunks[i] {
				s.itemFailed(ctx, operation, sub, o.Err)
			}
			continue
		}
		records = append(records, o.Value...)
	}
	return report.Tiers(records, subs, s.now()), nil
}
