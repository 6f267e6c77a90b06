package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ipx/internal/catalog"
	id "ipx/pkg/domain"
	"ipx/pkg/platform/circuit"
)

const maxLedgerResponse = 64 << 10

// Client is the HTTP ledger client. Calls are guarded by a circuit breaker:
// while it is open, Mint and IsRegistered fail fast with ErrUnavailable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.New("ledger", circuit.WithCooldown(30*time.Second)),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type mintResponse struct {
	InstrumentID string    `json:"instrument_id"`
	MintedAt     time.Time `json:"minted_at"`
}

type registeredResponse struct {
	Registered bool `json:"registered"`
}

func (c *Client) Mint(ctx context.Context, req MintRequest) (*Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode mint request: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/instruments", body, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		var resp mintResponse
		if err := json.Unmarshal(respBody, &resp); err != nil || resp.InstrumentID == "" {
			return nil, fmt.Errorf("%w: malformed mint response", ErrUnavailable)
		}
		return &Receipt{InstrumentID: id.InstrumentID(resp.InstrumentID), MintedAt: resp.MintedAt}, nil
	case status == http.StatusConflict:
		return nil, ErrAlreadyMinted
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, status)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
}

func (c *Client) IsRegistered(ctx context.Context, routingKey catalog.RoutingKey, reference string) (bool, error) {
	q := url.Values{}
	q.Set("routing_key", string(routingKey))
	q.Set("reference", reference)

	status, respBody, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/registrations?"+q.Encode(), nil, "")
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	var resp registeredResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return false, fmt.Errorf("%w: malformed registration response", ErrUnavailable)
	}
	return resp.Registered, nil
}

// Health calls GET {baseURL}/healthz without touching the breaker.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// do performs one breaker-guarded call. Transport errors and 5xx responses
// count as failures; any other response proves the ledger is healthy.
func (c *Client) do(ctx context.Context, method, target string, body []byte, idemKey string) (int, []byte, error) {
	if !c.breaker.Allow(time.Now()) {
		return 0, nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build ledger request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(ctx, err)
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrUnavailable, context.DeadlineExceeded)
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLedgerResponse))
	if err != nil {
		c.recordFailure(ctx, err)
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		c.recordFailure(ctx, fmt.Errorf("status %d", resp.StatusCode))
	} else if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "ledger circuit closed", "breaker", c.breaker.Name())
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "ledger circuit opened",
			"breaker", c.breaker.Name(),
			"error", err,
		)
	}
}
