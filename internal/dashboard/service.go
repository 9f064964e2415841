// Package dashboard assembles reports: it discovers the caller's
// subscriptions, fans the per-subscription calls out in batches and hands the
// outcomes to the report aggregators.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/costscope/internal/azure"
	"github.com/alecgard/costscope/internal/batch"
	"github.com/alecgard/costscope/internal/costquery"
	"github.com/alecgard/costscope/internal/report"
)

// ErrSubscriptions is returned when the subscription list cannot be obtained.
// No report can be built without it.
var ErrSubscriptions = errors.New("failed to list subscriptions")

// DefenderCategory is the meter category Defender for Cloud bills under.
const DefenderCategory = "Microsoft Defender for Cloud"

// Cloud is the subset of the Azure client the service needs.
type Cloud interface {
	ListSubscriptions(ctx context.Context, token string) ([]azure.Subscription, error)
	ListResourceGroups(ctx context.Context, token, subscriptionID string) ([]azure.ResourceGroup, error)
	ListPricings(ctx context.Context, token, subscriptionID string) ([]azure.Pricing, error)
	QueryCost(ctx context.Context, token string, req costquery.Request) (costquery.Result, error)
	QueryResources(ctx context.Context, token, query string, subscriptionIDs []string) ([]json.RawMessage, error)
}

// Recorder counts fan-out activity.
type Recorder interface {
	IncBatch(operation string)
	IncItemFailure(operation string)
	IncRetry(operation string)
}

// Options tunes the service. Zero values take the defaults.
type Options struct {
	BatchSize         int
	RetryMax          int
	RetryInitialDelay time.Duration
	DefenderTopN      int
	TopN              int

	Metrics Recorder
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

// Service builds reports for one caller at a time. It holds no per-caller
// state and is safe for concurrent use.
type Service struct {
	cloud Cloud
	opts  Options
}

// NewService returns a Service backed by cloud.
func NewService(cloud Cloud, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = batch.DefaultSize
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryInitialDelay <= 0 {
		opts.RetryInitialDelay = time.Second
	}
	if opts.DefenderTopN <= 0 {
		opts.DefenderTopN = 5
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{cloud: cloud, opts: opts}
}

// Subscriptions lists the caller's subscriptions.
func (s *Service) Subscriptions(ctx context.Context, token string) ([]azure.Subscription, error) {
	subs, err := s.cloud.ListSubscriptions(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscriptions, err)
	}
	if subs == nil {
		subs = []azure.Subscription{}
	}
	return subs, nil
}

// costQuery describes the per-subscription cost query a report issues.
type costQuery struct {
	operation  string
	layout     costquery.Layout
	categories []string
	retry      bool
}

// queryCosts runs q for every subscription and returns one outcome per
// subscription, in order. Failures are logged and counted, never returned.
func (s *Service) queryCosts(ctx context.Context, token string, subs []azure.Subscription, r Range, q costQuery) []report.SubscriptionRows {
	op := func(ctx context.Context, sub azure.Subscription) ([]costquery.Row, error) {
		req := costquery.Request{
			SubscriptionID: sub.SubscriptionID,
			From:           r.From,
			To:             r.To,
			GroupBy:        q.layout,
			Categories:     q.categories,
		}
		query := func(ctx context.Context) (costquery.Result, error) {
			return s.cloud.QueryCost(ctx, token, req)
		}
		var (
			res costquery.Result
			err error
		)
		if q.retry {
			res, err = batch.Retry(ctx, s.retryPolicy(q.operation, sub), query)
		} else {
			res, err = query(ctx)
		}
		if err != nil {
			return nil, err
		}
		return res.Rows(q.layout), nil
	}

	outcomes := batch.Run(ctx, subs, op, s.batchOptions(q.operation)...)
	results := make([]report.SubscriptionRows, len(subs))
	for i, o := range outcomes {
		results[i] = report.SubscriptionRows{Subscription: subs[i], Rows: o.Value, Err: o.Err}
		if o.Err != nil {
			s.itemFailed(ctx, q.operation, subs[i], o.Err)
		}
	}
	return results
}

func (s *Service) retryPolicy(operation string, sub azure.Subscription) batch.Policy {
	return batch.Policy{
		MaxRetries: s.opts.RetryMax,
		Initial:    s.opts.RetryInitialDelay,
		Retryable:  azure.IsRateLimited,
		Sleep:      s.opts.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			slog.Warn("rate limited, retrying",
				"operation", operation,
				"subscription_id", sub.SubscriptionID,
				"attempt", attempt,
				"delay", delay,
			)
			if s.opts.Metrics != nil {
				s.opts.Metrics.IncRetry(operation)
			}
		},
	}
}

func (s *Service) batchOptions(operation string) []batch.Option {
	return []batch.Option{
		batch.WithSize(s.opts.BatchSize),
		batch.WithObserver(func(index, size int) {
			if s.opts.Metrics != nil {
				s.opts.Metrics.IncBatch(operation)
			}
		}),
	}
}

func (s *Service) itemFailed(ctx context.Context, operation string, sub azure.Subscription, err error) {
	slog.ErrorContext(ctx, "subscription call failed",
		"operation", operation,
		"subscription_id", sub.SubscriptionID,
		"subscription_name", sub.Name(),
		"error", err,
	)
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncItemFailure(operation)
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}
