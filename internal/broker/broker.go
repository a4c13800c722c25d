package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"updownbot/internal/market"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

const DefaultTimeout = 10 * time.Second

// OrderPath is the venue path orders are posted to.
const OrderPath = "/order"

// Response is the venue's reply, passed through untouched.
type Response struct {
	StatusCode int
	Body       []byte
}

type Client struct {
	client       *fasthttp.Client
	marketsURL   string
	marketsQuery string
	ordersURL    string
	timeout      time.Duration
}

type Options struct {
	MarketsURL   string
	MarketsQuery string
	ClobURL      string
	Timeout      time.Duration
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client:       &fasthttp.Client{Name: "updownbot"},
		marketsURL:   strings.TrimSuffix(opts.MarketsURL, "/") + "/markets",
		marketsQuery: strings.TrimPrefix(opts.MarketsQuery, "?"),
		ordersURL:    strings.TrimSuffix(opts.ClobURL, "/") + OrderPath,
		timeout:      timeout,
	}
}

func (c *Client) ListActiveMarkets(ctx context.Context) ([]market.Market, error) {
	uri := c.marketsURL
	if c.marketsQuery != "" {
		uri += "?" + c.marketsQuery
	}
	resp, err := c.do(ctx, fasthttp.MethodGet, uri, nil, nil)
	if err != nil {
		slog.Error("list markets failed", "error", err)
		return nil, err
	}
	if resp.StatusCode != fasthttp.StatusOK {
		slog.Error("list markets failed", "status", resp.StatusCode)
		return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode, truncate(resp.Body))
	}

	markets, err := parseMarkets(resp.Body)
	if err != nil {
		return nil, err
	}
	slog.Info("markets fetched", "count", len(markets))
	return markets, nil
}

func parseMarkets(body []byte) ([]market.Market, error) {
	doc := gjson.ParseBytes(body)
	if doc.IsObject() {
		doc = doc.Get("data")
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("unexpected markets response format")
	}

	items := doc.Array()
	markets := make([]market.Market, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		markets = append(markets, market.Market{
			ID:       firstString(item, "id", "conditionId", "condition_id"),
			Question: item.Get("question").String(),
			Slug:     item.Get("slug").String(),
			Raw:      []byte(item.Raw),
		})
	}
	return markets, nil
}

func firstString(item gjson.Result, fields ...string) string {
	for _, field := range fields {
		if v := item.Get(field); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// SubmitOrder posts an already signed order body. Non-2xx replies are
// returned as errors carrying the venue's body.
func (c *Client) SubmitOrder(ctx context.Context, body []byte, headers map[string]string) (Response, error) {
	resp, err := c.do(ctx, fasthttp.MethodPost, c.ordersURL, body, headers)
	if err != nil {
		slog.Error("place order failed", "error", err)
		return Response{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("place order failed", "status", resp.StatusCode, "body", truncate(resp.Body))
		return resp, fmt.Errorf("submit order: status %d: %s", resp.StatusCode, truncate(resp.Body))
	}
	slog.Info("place order success", "status", resp.StatusCode)
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, uri string, body []byte, headers map[string]string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, uri, err)
	}

	return Response{
		StatusCode: resp.StatusCode(),
		Body:       append([]byte(nil), resp.Body()...),
	}, nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
