package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"docloader/internal/domain"
	"docloader/internal/etl"
)

// ── HTTP Resolver ───────────────────────────────────────────
// Fetches a container document from an HTTP endpoint. Transient
// failures (connection errors, 5xx, 429) are retried with backoff.

// HTTPConfig configures the HTTP resolver.
type HTTPConfig struct {
	Timeout  time.Duration     `yaml:"timeout"`
	RetryMax int               `yaml:"retry_max"`
	Headers  map[string]string `yaml:"headers"`
}

type httpResolver struct {
	client  *retryablehttp.Client
	headers map[string]string
}

// NewHTTPResolver returns a resolver for http:// and https:// references.
func NewHTTPResolver(cfg HTTPConfig, logger *zap.Logger) etl.Resolver {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = zapLeveled{logger.Named("http")}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.HTTPClient.Timeout = timeout
	return &httpResolver{client: client, headers: cfg.Headers}
}

func (s *httpResolver) Spec() etl.ResolverSpec {
	return etl.ResolverSpec{Schemes: []string{"http", "https"}, Label: "HTTP"}
}

func (s *httpResolver) Resolve(ctx context.Context, ref string) (*domain.Container, error) {
	url, dataPath := splitFragment(ref)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return decodeContainer(resp.Body, dataPath)
}

// zapLeveled adapts zap to retryablehttp.LeveledLogger.
type zapLeveled struct{ l *zap.Logger }

func (z zapLeveled) Error(msg string, kv ...interface{}) { z.l.Sugar().Errorw(msg, kv...) }
func (z zapLeveled) Info(msg string, kv ...interface{})  { z.l.Sugar().Infow(msg, kv...) }
func (z zapLeveled) Debug(msg string, kv ...interface{}) { z.l.Sugar().Debugw(msg, kv...) }
func (z zapLeveled) Warn(msg string, kv ...interface{})  { z.l.Sugar().Warnw(msg, kv...) }
