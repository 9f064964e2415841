// Package azure calls the Azure Resource Manager REST APIs on behalf of an
// authenticated caller, forwarding the caller's own bearer token.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alecgard/costscope/internal/costquery"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://management.azure.com"
	defaultTimeout = 60 * time.Second

	subscriptionsAPIVersion  = "2020-01-01"
	resourceGroupsAPIVersion = "2021-04-01"
	pricingsAPIVersion       = "2023-01-01"
	resourceGraphAPIVersion  = "2021-03-01"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 32 << 20
	// maxPages bounds nextLink/skipToken pagination.
	maxPages = 100
)

// MetricsRecorder receives one observation per remote call.
type MetricsRecorder interface {
	ObserveUpstreamCall(operation, outcome string, seconds float64)
}

// Client talks to the management endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    MetricsRecorder
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the management endpoint (for tests and sovereign clouds).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client. Its timeout bounds every call.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit paces outgoing calls to rps requests per second. A
// non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records call outcomes.
func WithMetrics(m MetricsRecorder) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a management API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSubscriptions returns every subscription the token can see, following
// nextLink pagination.
func (c *Client) ListSubscriptions(ctx context.Context, token string) ([]Subscription, error) {
	type page struct {
		Value []struct {
			SubscriptionID string `json:"subscriptionId"`
			DisplayName    string `json:"displayName"`
			State          string `json:"state"`
		} `json:"value"`
		NextLink string `json:"nextLink"`
	}

	next := c.endpoint("/subscriptions", subscriptionsAPIVersion)
	var subs []Subscription
	for pages := 0; next != "" && pages < maxPages; pages++ {
		var p page
		if err := c.do(ctx, token, "ListSubscriptions", http.MethodGet, next, nil, &p); err != nil {
			return nil, err
		}
		for _, v := range p.Value {
			status := v.State
			if status == "" {
				status = "Active"
			}
			subs = append(subs, Subscription{
				SubscriptionID: v.SubscriptionID,
				DisplayName:    v.DisplayName,
				Status:         status,
			})
		}
		link, err := c.followLink(p.NextLink)
		if err != nil {
			return nil, &UpstreamError{Operation: "ListSubscriptions", Message: err.Error(), Err: err}
		}
		next = link
	}
	return subs, nil
}

// ListResourceGroups returns the resource groups of one subscription.
func (c *Client) ListResourceGroups(ctx context.Context, token, subscriptionID string) ([]ResourceGroup, error) {
	var p struct {
		Value []ResourceGroup `json:"value"`
	}
	u := c.endpoint("/subscriptions/"+url.PathEscape(subscriptionID)+"/resourcegroups", resourceGroupsAPIVersion)
	if err := c.do(ctx, token, "ListResourceGroups", http.MethodGet, u, nil, &p); err != nil {
		return nil, err
	}
	return p.Value, nil
}

// ListPricings returns the Defender plan settings of one subscription.
func (c *Client) ListPricings(ctx context.Context, token, subscriptionID string) ([]Pricing, error) {
	var p struct {
		Value []Pricing `json:"value"`
	}
	u := c.endpoint("/subscriptions/"+url.PathEscape(subscriptionID)+"/providers/Microsoft.Security/pricings", pricingsAPIVersion)
	if err := c.do(ctx, token, "ListPricings", http.MethodGet, u, nil, &p); err != nil {
		return nil, err
	}
	return p.Value, nil
}

// QueryCost runs a usage query against one subscription.
func (c *Client) QueryCost(ctx context.Context, token string, req costquery.Request) (costquery.Result, error) {
	if err := req.Validate(); err != nil {
		return costquery.Result{}, err
	}
	u := c.endpoint("/subscriptions/"+url.PathEscape(req.SubscriptionID)+"/providers/Microsoft.CostManagement/query", costquery.APIVersion)

	var raw json.RawMessage
	if err := c.do(ctx, token, "QueryCost", http.MethodPost, u, costquery.Build(req), &raw); err != nil {
		return costquery.Result{}, err
	}
	res, err := costquery.Decode(raw)
	if err != nil {
		return costquery.Result{}, &UpstreamError{Operation: "QueryCost", Message: err.Error(), Err: err}
	}
	return res, nil
}

// QueryResources runs a resource graph query scoped to subscriptionIDs and
// returns the result objects, following $skipToken pagination.
func (c *Client) QueryResources(ctx context.Context, token, query string, subscriptionIDs []string) ([]json.RawMessage, error) {
	type options struct {
		ResultFormat string `json:"resultFormat"`
		SkipToken    string `json:"$skipToken,omitempty"`
	}
	type request struct {
		Subscriptions []string `json:"subscriptions"`
		Query         string   `json:"query"`
		Options       options  `json:"options"`
	}
	type response struct {
		Data      []json.RawMessage `json:"data"`
		SkipToken string            `json:"$skipToken"`
	}

	u := c.endpoint("/providers/Microsoft.ResourceGraph/resources", resourceGraphAPIVersion)
	body := request{
		Subscriptions: subscriptionIDs,
		Query:         query,
		Options:       options{ResultFormat: "objectArray"},
	}

	var out []json.RawMessage
	for pages := 0; pages < maxPages; pages++ {
		var resp response
		if err := c.do(ctx, token, "QueryResources", http.MethodPost, u, body, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		if resp.SkipToken == "" {
			break
		}
		body.Options.SkipToken = resp.SkipToken
	}
	return out, nil
}

func (c *Client) endpoint(path, apiVersion string) string {
	return c.baseURL + path + "?api-version=" + url.QueryEscape(apiVersion)
}

// followLink validates a pagination link. The caller's token is only ever
// sent to the configured management host.
func (c *Client) followLink(link string) (string, error) {
	if link == "" {
		return "", nil
	}
	next, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid nextLink: %w", err)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if next.Scheme != base.Scheme || next.Host != base.Host {
		return "", fmt.Errorf("nextLink host %q does not match %q", next.Host, base.Host)
	}
	return next.String(), nil
}

func (c *Client) do(ctx context.Context, token, op, method, u string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveUpstreamCall(op, outcome(err), time.Since(start).Seconds())
		}
	}()

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return newTransportError(op, werr)
		}
	}

	var body io.Reader
	if in != nil {
		buf, merr := json.Marshal(in)
		if merr != nil {
			return fmt.Errorf("azure %s: encoding request: %w", op, merr)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("azure %s: building request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newTransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return newTransportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &UpstreamError{Operation: op, StatusCode: 0, Message: "decoding response: " + err.Error(), Err: err}
	}
	return nil
}
