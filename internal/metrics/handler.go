package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	HTTP      httpSummary     `json:"http"`
	Upstream  upstreamSummary `json:"upstream"`
	Fanout    fanoutSummary   `json:"fanout"`
	Auth      authInfo        `json:"auth"`
	RateLimit rateLimitInfo   `json:"rateLimit"`
	Server    serverInfo      `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type upstreamSummary struct {
	TotalCalls  float64 `json:"totalCalls"`
	RateLimited float64 `json:"rateLimited"`
	ErrorRate   float64 `json:"errorRate"`
	P50Latency  float64 `json:"p50Latency"`
	P95Latency  float64 `json:"p95Latency"`
}

type fanoutSummary struct {
	Batches      float64 `json:"batches"`
	ItemFailures float64 `json:"itemFailures"`
	Retries      float64 `json:"retries"`
}

type authInfo struct {
	Failures         float64 `json:"failures"`
	Successes        float64 `json:"successes"`
	KeyRefreshes     float64 `json:"keyRefreshes"`
	KeyRefreshErrors float64 `json:"keyRefreshErrors"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize(time.Now())
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize(now time.Time) (Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Summary{}, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	start := gaugeValue(fam["costscope_server_start_time_seconds"])
	upstream := fam["costscope_upstream_calls_total"]
	return Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["costscope_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["costscope_http_requests_total"], "status_code", isHTTPError),
			P50Latency:    histogramPercentile(fam["costscope_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["costscope_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["costscope_http_request_duration_seconds"], 0.99),
		},
		Upstream: upstreamSummary{
			TotalCalls:  sumCounter(upstream),
			RateLimited: sumCounterWithLabel(upstream, "outcome", "429"),
			ErrorRate:   computeErrorRate(upstream, "outcome", func(v string) bool { return v != "ok" }),
			P50Latency:  histogramPercentile(fam["costscope_upstream_call_duration_seconds"], 0.50),
			P95Latency:  histogramPercentile(fam["costscope_upstream_call_duration_seconds"], 0.95),
		},
		Fanout: fanoutSummary{
			Batches:      sumCounter(fam["costscope_batches_total"]),
			ItemFailures: sumCounter(fam["costscope_batch_item_failures_total"]),
			Retries:      sumCounter(fam["costscope_retries_total"]),
		},
		Auth: authInfo{
			Failures:         sumCounter(fam["costscope_auth_failures_total"]),
			Successes:        sumCounter(fam["costscope_auth_successes_total"]),
			KeyRefreshes:     sumCounter(fam["costscope_signing_key_refreshes_total"]),
			KeyRefreshErrors: sumCounterWithLabel(fam["costscope_signing_key_refreshes_total"], "status", "error"),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["costscope_ratelimit_rejections_total"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(now.Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

func isHTTPError(code string) bool {
	return len(code) > 0 && code[0] >= '4'
}

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// computeErrorRate returns the share of counter samples whose label
// labelName satisfies isError.
func computeErrorRate(f *dto.MetricFamily, labelName string, isError func(string) bool) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && isError(lp.GetValue()) {
				errors += v
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	// Aggregate all histogram metrics in the family.
	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			// Linear interpolation within this bucket.
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Past the last finite bucket: report its upper bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
