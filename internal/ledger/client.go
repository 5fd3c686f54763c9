package ledger

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// SubmitRequest is one call to the oracle's reading-ingestion entry point.
type SubmitRequest struct {
	MeterID     string
	AmountMilli int64
	Kind        domain.ReadingKind
	Signature   []byte
	ObservedAt  int64
}

// IdempotencyKey identifies the reading so the oracle can drop replays.
func (r SubmitRequest) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:%d", r.MeterID, r.ObservedAt, r.AmountMilli)
}

// Oracle is the ledger-side collaborator. Implementations return a
// *domain.SubmissionError for every classified failure.
type Oracle interface {
	SubmitReading(ctx context.Context, req SubmitRequest) (txID string, err error)
}

type Config struct {
	BaseURL   string
	Contract  string
	APIKey    string
	APISecret string
	ProjectID string
	Timeout   time.Duration
}

// Client talks to the oracle contract through the chain provider's REST API.
type Client struct {
	endpoint  string
	apiKey    string
	apiSecret string
	projectID string
	http      *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ledger: base url is required")
	}
	if cfg.Contract == "" {
		return nil, errors.New("ledger: oracle contract is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/smart-contract/" + url.PathEscape(cfg.Contract) + "/call",
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		projectID: cfg.ProjectID,
		http:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type callParams struct {
	MeterID      string `json:"meter_id"`
	ReadingValue int64  `json:"reading_value"`
	ReadingType  string `json:"reading_type"`
	Signature    string `json:"signature"`
	ObservedAt   int64  `json:"observed_at"`
}

type callRequest struct {
	Method string     `json:"method"`
	Params callParams `json:"params"`
}

type callResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) SubmitReading(ctx context.Context, req SubmitRequest) (string, error) {
	fail := func(kind domain.SubmissionKind, code string, cause error) (string, error) {
		return "", &domain.SubmissionError{Kind: kind, MeterID: req.MeterID, Code: code, Cause: cause}
	}
	if c == nil {
		return fail(domain.Fatal, "", domain.ErrOracleNotInitialized)
	}

	body, err := json.Marshal(callRequest{
		Method: "submitReading",
		Params: callParams{
			MeterID:      req.MeterID,
			ReadingValue: req.AmountMilli,
			ReadingType:  string(req.Kind),
			Signature:    base64.StdEncoding.EncodeToString(req.Signature),
			ObservedAt:   req.ObservedAt,
		},
	})
	if err != nil {
		return fail(domain.Rejected, "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(domain.Fatal, "", err)
	}
	c.setHeaders(httpReq, req)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(domain.Transient, "", err)
	}
	defer resp.Body.Close()

	var out callResponse
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		log.Warn().Err(readErr).Str("meter_id", req.MeterID).Int("status", resp.StatusCode).
			Msg("oracle response body read failed")
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			log.Debug().Err(err).Str("meter_id", req.MeterID).Int("status", resp.StatusCode).
				Msg("oracle response is not json")
		}
	}

	code, msg := "", strings.TrimSpace(string(raw))
	if out.Error != nil {
		code, msg = out.Error.Code, out.Error.Message
	}
	statusErr := fmt.Errorf("oracle returned %s: %s", resp.Status, msg)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// a cut-off body cannot confirm the call; the idempotency key makes a retry safe
		if readErr != nil {
			return fail(domain.Transient, "", fmt.Errorf("read oracle response: %w", readErr))
		}
		if out.TransactionID == "" {
			return fail(domain.Transient, "", errors.New("oracle accepted call without a transaction id"))
		}
		return out.TransactionID, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fail(domain.Fatal, code, statusErr)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fail(domain.Transient, code, statusErr)
	default:
		return fail(domain.Rejected, code, statusErr)
	}
}

func (c *Client) setHeaders(r *http.Request, req SubmitRequest) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("X-API-Secret", c.apiSecret)
	r.Header.Set("X-Project-ID", c.projectID)
	r.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	r.Header.Set("X-Nonce", nonce())
	r.Header.Set("Idempotency-Key", req.IdempotencyKey())
}

func nonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var _ Oracle = (*Client)(nil)
