package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/costscope/internal/auth"
	"github.com/alecgard/costscope/internal/dashboard"
	"github.com/alecgard/costscope/internal/report"
)

var (
	errMissingRange = errors.New("startDate and endDate are required")
	errInvalidBody  = errors.New("invalid request body")
)

// rangeMode says how a report obtains its time range.
type rangeMode int

const (
	noRange       rangeMode = iota
	currentMonth            // optional, defaults to the current calendar month
	yearToDate              // optional, defaults to January 1 through now
	requiredRange           // 400 when missing
)

// rangeRequest is the JSON body form of a time range.
type rangeRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type reportsHandler struct {
	svc *dashboard.Service
	now func() time.Time
}

func newReportsHandler(svc *dashboard.Service, now func() time.Time) *reportsHandler {
	if now == nil {
		now = time.Now
	}
	return &reportsHandler{svc: svc, now: now}
}

// reportFunc builds one report for the caller's token.
type reportFunc[T any] func(ctx context.Context, token string, r dashboard.Range) (T, error)

// serveReport adapts a report builder to an HTTP handler: it resolves the
// range, runs the report with the caller's token and writes the result.
// failure is the message returned with a 500.
func serveReport[T any](h *reportsHandler, name string, mode rangeMode, failure string, build reportFunc[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := h.resolveRange(r, mode)
		if err != nil {
			switch {
			case errors.Is(err, errMissingRange):
				writeError(w, http.StatusBadRequest, "Missing required parameters", err.Error())
			case errors.Is(err, errInvalidBody):
				writeError(w, http.StatusBadRequest, "Invalid request body", "")
			default:
				writeError(w, http.StatusBadRequest, "Invalid date range", err.Error())
			}
			return
		}

		var token string
		if p := auth.PrincipalFromContext(r.Context()); p != nil {
			token = p.Token
		}

		out, err := build(r.Context(), token, rng)
		if err != nil {
			slog.ErrorContext(r.Context(), "report failed", "report", name, "error", err)
			writeError(w, http.StatusInternalServerError, failure, err.Error())
			return
		}

		if mode == noRange {
			auditLog(r, name)
		} else {
			auditLog(r, name, "from", rng.From, "to", rng.To)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// resolveRange reads startDate and endDate from the query string, falling
// back to a JSON body.
func (h *reportsHandler) resolveRange(r *http.Request, mode rangeMode) (dashboard.Range, error) {
	if mode == noRange {
		return dashboard.Range{}, nil
	}

	req := rangeRequest{
		StartDate: r.URL.Query().Get("startDate"),
		EndDate:   r.URL.Query().Get("endDate"),
	}
	if (req.StartDate == "" || req.EndDate == "") && r.Body != nil && r.ContentLength != 0 {
		var body rangeRequest
		if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			return dashboard.Range{}, errInvalidBody
		}
		if body.StartDate != "" && body.EndDate != "" {
			req = body
		}
	}

	if req.StartDate == "" || req.EndDate == "" {
		switch mode {
		case requiredRange:
			return dashboard.Range{}, errMissingRange
		case yearToDate:
			return dashboard.YearToDate(h.now()), nil
		default:
			return dashboard.CurrentMonth(h.now()), nil
		}
	}
	return dashboard.ParseRange(req.StartDate, req.EndDate)
}

func (h *reportsHandler) product(p dashboard.Product) reportFunc[report.CostBreakdown] {
	return func(ctx context.Context, token string, r dashboard.Range) (report.CostBreakdown, error) {
		return h.svc.ProductCost(ctx, token, p, r)
	}
}

func withoutRange[T any](fn func(ctx context.Context, token string) (T, error)) reportFunc[T] {
	return func(ctx context.Context, token string, _ dashboard.Range) (T, error) {
		return fn(ctx, token)
	}
}

// mount registers every report route on r.
func (h *reportsHandler) mount(r chi.Router) {
	svc := h.svc

	r.Get("/subscriptions", serveReport(h, "subscriptions", noRange, "Failed to fetch subscriptions", withoutRange(svc.Subscriptions)))
	r.Get("/resourceGroups", serveReport(h, "resource_groups", noRange, "Failed to fetch resource groups", withoutRange(svc.ResourceGroups)))

	costs := serveReport(h, "costs", requiredRange, "Failed to fetch cost data", svc.Costs)
	r.Get("/costs", costs)
	r.Post("/costs", costs)

	r.Get("/totalCost", serveReport(h, "total_cost", currentMonth, "Failed to fetch total cost data", svc.TotalCost))
	r.Get("/overview", serveReport(h, "overview", currentMonth, "Failed to fetch overview data", svc.Overview))
	r.Get("/historicalCost", serveReport(h, "historical_cost", yearToDate, "Failed to fetch historical cost data", svc.HistoricalCost))

	r.Get("/ddosProtectionCost", serveReport(h, "ddos_protection_cost", currentMonth, "Failed to fetch DDoS Protection cost data", h.product(dashboard.DDoSProtection)))
	r.Get("/keyVaultCost", serveReport(h, "key_vault_cost", currentMonth, "Failed to fetch Key Vault cost data", h.product(dashboard.KeyVault)))
	r.Get("/firewallCost", serveReport(h, "firewall_cost", currentMonth, "Failed to fetch firewall cost data", h.product(dashboard.Firewall)))
	r.Get("/wafCost", serveReport(h, "waf_cost", currentMonth, "Failed to fetch WAF cost data", h.product(dashboard.WAF)))
	r.Get("/sentinelCost", serveReport(h, "sentinel_cost", currentMonth, "Failed to fetch Sentinel cost data", h.product(dashboard.Sentinel)))

	r.Get("/defenderCost", serveReport(h, "defender_cost", requiredRange, "Failed to fetch Defender cost data", svc.DefenderCost))
	r.Get("/defenderTopResources", serveReport(h, "defender_top_resources", currentMonth, "Failed to fetch Defender top resources", svc.DefenderTopResources))

	for _, path := range []string{"/topResources", "/top-resources"} {
		r.Get(path, serveReport(h, "top_resources", currentMonth, "Failed to fetch top resources", svc.TopResources))
		r.Post(path, serveReport(h, "top_resources", requiredRange, "Failed to fetch top resources", svc.TopResources))
	}

	r.Get("/defenderPlan", serveReport(h, "defender_plan", noRange, "Failed to fetch Defender plan data", withoutRange(svc.DefenderPlan)))
	r.Get("/plans", serveReport(h, "plans", noRange, "Failed to fetch Defender plans", withoutRange(svc.Plans)))
}
