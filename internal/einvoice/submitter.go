package einvoice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// HTTPConfig configures the IRN gateway client.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPSubmitter posts invoices to the IRN gateway.
type HTTPSubmitter struct {
	httpClient *resty.Client
}

// NewHTTPSubmitter builds a resty-backed submitter.
func NewHTTPSubmitter(cfg HTTPConfig) *HTTPSubmitter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPSubmitter{httpClient: client}
}

type gatewayError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit implements Submitter. Transport failures and responses >= 400 are
// returned as ErrExternalSubmission.
func (s *HTTPSubmitter) Submit(ctx context.Context, p Payload) (Result, error) {
	result := new(Result)
	apiErr := new(gatewayError)

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", p.RequestID).
		SetBody(p).
		SetResult(result).
		SetError(apiErr).
		Post("/invoices")
	if err != nil {
		return Result{}, fmt.Errorf("%w: post invoice: %w", shared.ErrExternalSubmission, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		code := apiErr.Error.Code
		if code == "" {
			code = fmt.Sprint(resp.StatusCode())
		}
		return Result{}, fmt.Errorf("%w: gateway error: code=%s, message=%s",
			shared.ErrExternalSubmission, code, apiErr.Error.Message)
	}
	if result.IRN == "" {
		return Result{}, fmt.Errorf("%w: %w", shared.ErrExternalSubmission, ErrEmptyAcknowledgement)
	}
	return *result, nil
}
