package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/domain/model"
	"github.com/mythcraft/api/internal/infra/metrics"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultBatchConcurrency = 4
	maxResponseBytes        = 1 << 20
)

var (
	ErrEmptyInput     = errors.New("classification input is empty")
	ErrNotConfigured  = errors.New("classifier is not configured")
	ErrEmptyResponse  = errors.New("classifier returned no results")
	errRetryableClass = errors.New("retryable classifier status")
)

type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	MaxRetries       int
	BatchConcurrency int

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client classifies text through an OpenAI-compatible moderations endpoint.
// It never reports failure to callers: every error becomes
// model.FailSafeResult so unclassified text is never treated as clean.
type Client struct {
	httpClient *http.Client
	cfg        Config
	endpoint   string
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

type moderationRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("classifier responded %d: %s", e.code, e.body)
}

func NewClient(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("classifier breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/moderations",
		breaker:    breaker,
		logger:     logger,
	}
}

// Classify returns the classification of text, or the fail-safe result when
// the service cannot be reached within the configured timeout.
func (c *Client) Classify(ctx context.Context, text string) model.ClassificationResult {
	start := time.Now()
	result, err := c.classify(ctx, text)
	metrics.ClassifierLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ClassifierRequests.WithLabelValues("error").Inc()
		c.logger.Warn("classification failed, using fail-safe result", zap.Error(err))
		return model.FailSafeResult()
	}

	metrics.ClassifierRequests.WithLabelValues("ok").Inc()
	return result
}

// ClassifyBatch classifies each text independently and concurrently. The
// output has one entry per input, in input order; failures are fail-safe
// per item.
func (c *Client) ClassifyBatch(ctx context.Context, texts []string) []model.ClassificationResult {
	results := make([]model.ClassificationResult, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BatchConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			results[i] = c.Classify(gctx, text)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Client) classify(ctx context.Context, text string) (model.ClassificationResult, error) {
	if strings.TrimSpace(text) == "" {
		return model.ClassificationResult{}, ErrEmptyInput
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" || c.endpoint == "/moderations" {
		return model.ClassificationResult{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(moderationRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("encode classifier request: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		var res moderationResult
		op := func() error {
			var callErr error
			res, callErr = c.call(ctx, payload)
			return callErr
		}

		policy := backoff.WithContext(
			backoff.WithMaxRetries(newBackOff(), uint64(c.cfg.MaxRetries)),
			ctx,
		)
		if err := backoff.Retry(op, policy); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return model.ClassificationResult{}, err
	}

	return normalize(out.(moderationResult)), nil
}

func (c *Client) call(ctx context.Context, payload []byte) (moderationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return moderationResult{}, backoff.Permanent(fmt.Errorf("build classifier request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return moderationResult{}, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return moderationResult{}, fmt.Errorf("read classifier response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &statusError{code: resp.StatusCode, body: truncate(string(body), 256)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return moderationResult{}, fmt.Errorf("%w: %w", errRetryableClass, statusErr)
		}
		return moderationResult{}, backoff.Permanent(statusErr)
	}

	var decoded moderationResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return moderationResult{}, backoff.Permanent(fmt.Errorf("decode classifier response: %w", err))
	}
	if len(decoded.Results) == 0 {
		return moderationResult{}, backoff.Permanent(ErrEmptyResponse)
	}

	return decoded.Results[0], nil
}

// normalize maps a provider result onto the fixed category set. Unknown
// categories are dropped, missing ones default to false/0, scores are
// clamped to [0,1].
func normalize(res moderationResult) model.ClassificationResult {
	known := enums.Categories()
	out := model.ClassificationResult{
		Flagged:        res.Flagged,
		Categories:     make(map[string]bool, len(known)),
		CategoryScores: make(map[string]float64, len(known)),
	}
	for _, name := range known {
		out.Categories[name] = res.Categories[name]
		out.CategoryScores[name] = clamp(res.CategoryScores[name])
	}
	return out
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
