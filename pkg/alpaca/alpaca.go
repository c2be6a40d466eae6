// Package alpaca implements clients for the ASCOM Alpaca REST API.
// Reference: https://ascom-standards.org/Developer/Alpaca.htm
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/skycapture/pkg/config"
	"github.com/unklstewy/skycapture/pkg/retry"
)

// Alpaca error numbers used by the clients.
const (
	ErrNumNotImplemented  = 0x400
	ErrNumInvalidValue    = 0x401
	ErrNumValueNotSet     = 0x402
	ErrNumNotConnected    = 0x407
	ErrNumParked          = 0x408
	ErrNumInvalidOperation = 0x40B
)

// ErrNotConnected is returned when the device reports it is not connected.
var ErrNotConnected = errors.New("alpaca: device not connected")

// DeviceError is an error reported by the device in the response envelope.
type DeviceError struct {
	Number  int
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("alpaca error 0x%X: %s", e.Number, e.Message)
}

// Is lets errors.Is match ErrNotConnected.
func (e *DeviceError) Is(target error) bool {
	return target == ErrNotConnected && e.Number == ErrNumNotConnected
}

// IsNotImplemented reports whether err is an Alpaca "not implemented" error.
func IsNotImplemented(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Number == ErrNumNotImplemented
}

// Transport carries requests for every device client on one Alpaca server.
// It is safe for concurrent use.
type Transport struct {
	baseURL string

	// clientID identifies this session to the Alpaca server
	clientID uint32

	txn atomic.Uint32

	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.RetryConfig
}

// NewTransport creates a transport from Alpaca configuration.
func NewTransport(cfg config.AlpacaConfig) *Transport {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	rc := retry.DefaultRetryConfig()
	rc.MaxRetries = cfg.MaxRetries
	rc.InitialDelay = 250 * time.Millisecond
	rc.MaxDelay = 5 * time.Second

	return &Transport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   rand.Uint32()%65535 + 1,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		retry:      rc,
	}
}

// nextTransactionID returns the next ClientTransactionID, a uint32 in the
// Alpaca API.
func (t *Transport) nextTransactionID() uint32 {
	return t.txn.Add(1)
}

func (t *Transport) deviceURL(deviceType string, number int, endpoint string) string {
	return fmt.Sprintf("%s/api/v1/%s/%d/%s", t.baseURL, deviceType, number, endpoint)
}

func (t *Transport) identify(params url.Values) url.Values {
	if params == nil {
		params = url.Values{}
	}
	params.Set("ClientID", strconv.FormatUint(uint64(t.clientID), 10))
	params.Set("ClientTransactionID", strconv.FormatUint(uint64(t.nextTransactionID()), 10))
	return params
}

// get performs a GET request against a device endpoint.
func (t *Transport) get(ctx context.Context, deviceType string, number int, endpoint string, params url.Values) (*alpacaResponse, error) {
	return retry.RetryWithBackoffResult(ctx, t.retry, func() (*alpacaResponse, error) {
		q := t.identify(params)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			t.deviceURL(deviceType, number, endpoint)+"?"+q.Encode(), nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		return t.do(req)
	})
}

// put performs a PUT request with a form-encoded body.
func (t *Transport) put(ctx context.Context, deviceType string, number int, endpoint string, params url.Values) (*alpacaResponse, error) {
	return retry.RetryWithBackoffResult(ctx, t.retry, func() (*alpacaResponse, error) {
		form := t.identify(cloneValues(params))
		req, err := http.NewRequestWithContext(ctx, http.MethodPut,
			t.deviceURL(deviceType, number, endpoint), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return t.do(req)
	})
}

// do sends req and decodes the envelope. Transport failures and 5xx
// responses are retryable; device errors are not.
func (t *Transport) do(req *http.Request) (*alpacaResponse, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("alpaca server returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, retry.Permanent(fmt.Errorf("alpaca request rejected: %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var ar alpacaResponse
	if err := parseAlpacaResponse(resp.Body, &ar); err != nil {
		return nil, retry.Permanent(err)
	}
	if err := ar.Error(); err != nil {
		return nil, retry.Permanent(err)
	}
	return &ar, nil
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// alpacaResponse represents the standard Alpaca API response format.
type alpacaResponse struct {
	// Value contains the response data (type varies by endpoint)
	Value json.RawMessage `json:"Value"`

	// ClientTransactionID echoes back the client's transaction ID
	ClientTransactionID uint32 `json:"ClientTransactionID"`

	// ServerTransactionID is the server's transaction ID
	ServerTransactionID uint32 `json:"ServerTransactionID"`

	// ErrorNumber is non-zero if an error occurred
	ErrorNumber int `json:"ErrorNumber"`

	// ErrorMessage describes the error if ErrorNumber is non-zero
	ErrorMessage string `json:"ErrorMessage"`
}

// Error returns an error if the Alpaca response indicates failure.
func (r *alpacaResponse) Error() error {
	if r.ErrorNumber != 0 {
		return &DeviceError{Number: r.ErrorNumber, Message: r.ErrorMessage}
	}
	return nil
}

func (r *alpacaResponse) decode(v any) error {
	if len(r.Value) == 0 {
		return fmt.Errorf("response has no value")
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("unexpected response type: %w", err)
	}
	return nil
}

// parseAlpacaResponse parses an Alpaca JSON response from an io.Reader.
func parseAlpacaResponse(body io.Reader, resp *alpacaResponse) error {
	if err := json.NewDecoder(body).Decode(resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
