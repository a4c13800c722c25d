package order

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"updownbot/internal/broker"
	"updownbot/internal/market"
	"updownbot/internal/strategy"

	"github.com/shopspring/decimal"
)

const (
	OutcomeYes = "Yes"
	OutcomeNo  = "No"
	SideBuy    = "buy"

	// Lifetime is how long a submitted order stays valid.
	Lifetime = 60 * time.Second
)

// LimitPrice is applied to both outcomes. On a binary venue a price of 1 is
// the ceiling, so the order behaves like a market buy.
var LimitPrice = decimal.NewFromInt(1)

type Payload struct {
	MarketID   string          `json:"marketId"`
	Outcome    string          `json:"outcome"`
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Expiration int64           `json:"expiration"`
	Slippage   decimal.Decimal `json:"slippage"`
}

// Canonical is the byte form that gets signed and sent.
func (p Payload) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

func Build(m market.Market, signal strategy.Signal, size decimal.Decimal, cycleStart time.Time, slippage decimal.Decimal) Payload {
	outcome := OutcomeNo
	if signal == strategy.Up {
		outcome = OutcomeYes
	}
	return Payload{
		MarketID:   m.ID,
		Outcome:    outcome,
		Side:       SideBuy,
		Size:       size,
		Price:      LimitPrice,
		Expiration: cycleStart.Add(Lifetime).Unix(),
		Slippage:   slippage,
	}
}

// ConfigError means live trading was requested without what it needs. It is
// never transient.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("live trading misconfigured: missing %s", strings.Join(e.Missing, ", "))
}

type Signer interface {
	Address() string
	Sign(ctx context.Context, message []byte) (string, error)
}

type Submitter interface {
	SubmitOrder(ctx context.Context, body []byte, headers map[string]string) (broker.Response, error)
}

type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

type Result struct {
	DryRun     bool            `json:"dry_run"`
	Payload    Payload         `json:"payload"`
	StatusCode int             `json:"status_code,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
}

type Pipeline struct {
	live      bool
	creds     Credentials
	signer    Signer
	submitter Submitter
	now       func() time.Time
}

// NewPipeline builds a submit pipeline. signer and submitter may be nil in
// dry-run mode.
func NewPipeline(live bool, creds Credentials, signer Signer, submitter Submitter) *Pipeline {
	return &Pipeline{
		live:      live,
		creds:     creds,
		signer:    signer,
		submitter: submitter,
		now:       time.Now,
	}
}

func (p *Pipeline) Live() bool {
	return p.live
}

func (p *Pipeline) Submit(ctx context.Context, payload Payload) (Result, error) {
	if !p.live {
		slog.Info("dry run order", "market_id", payload.MarketID, "outcome", payload.Outcome, "size", payload.Size.String(), "price", payload.Price.String())
		return Result{DryRun: true, Payload: payload}, nil
	}

	if err := p.checkCredentials(); err != nil {
		return Result{Payload: payload}, err
	}

	body, err := payload.Canonical()
	if err != nil {
		return Result{Payload: payload}, fmt.Errorf("encode order: %w", err)
	}
	signature, err := p.signer.Sign(ctx, body)
	if err != nil {
		return Result{Payload: payload}, fmt.Errorf("sign order: %w", err)
	}

	timestamp := strconv.FormatInt(p.now().Unix(), 10)
	headers := map[string]string{
		"POLY_ADDRESS":    p.signer.Address(),
		"POLY_SIGNATURE":  signature,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    p.creds.APIKey,
		"POLY_PASSPHRASE": p.creds.Passphrase,
		"POLY_HMAC":       requestHMAC(p.creds.APISecret, timestamp, "POST", broker.OrderPath, body),
	}

	resp, err := p.submitter.SubmitOrder(ctx, body, headers)
	result := Result{Payload: payload, StatusCode: resp.StatusCode}
	if len(resp.Body) > 0 {
		if json.Valid(resp.Body) {
			result.Response = json.RawMessage(resp.Body)
		} else {
			quoted, _ := json.Marshal(string(resp.Body))
			result.Response = quoted
		}
	}
	if err != nil {
		return result, fmt.Errorf("submit order: %w", err)
	}

	slog.Info("order submitted", "market_id", payload.MarketID, "outcome", payload.Outcome, "size", payload.Size.String(), "status", resp.StatusCode)
	return result, nil
}

func (p *Pipeline) checkCredentials() error {
	var missing []string
	if p.creds.APIKey == "" {
		missing = append(missing, "POLY_API_KEY")
	}
	if p.creds.APISecret == "" {
		missing = append(missing, "POLY_API_SECRET")
	}
	if p.creds.Passphrase == "" {
		missing = append(missing, "POLY_API_PASSPHRASE")
	}
	if p.signer == nil {
		missing = append(missing, "PRIVATE_KEY")
	}
	if p.submitter == nil {
		missing = append(missing, "venue client")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// requestHMAC authenticates a request with the API secret: base64url
// HMAC-SHA256 over timestamp, method, path and body. The secret is
// base64url encoded; a secret that does not decode is used as raw bytes.
func requestHMAC(secret, timestamp, method, path string, body []byte) string {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key = []byte(secret)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
