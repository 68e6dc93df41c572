// Package eventgate posts score events to an EventGate endpoint over TLS.
package eventgate

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/okian/revscore/internal/domain/model"
	"github.com/okian/revscore/pkg/logger"
	"github.com/okian/revscore/pkg/metrics"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "WMF ML revscore"
	maxErrorBody     = 512
)

// Emitter builds and posts score events for one model.
type Emitter struct {
	url          string
	stream       string
	modelName    string
	modelVersion string
	userAgent    string
	timeout      time.Duration
	tlsBundle    string
	client       *http.Client
	now          func() time.Time
	logger       logger.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithStream sets the stream name. Defaults to
// "mediawiki.revision-score-<model>".
func WithStream(s string) Option {
	return func(e *Emitter) {
		if s != "" {
			e.stream = s
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(e *Emitter) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

// WithTimeout bounds each post.
func WithTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTLSBundle trusts the CA certificates in the PEM file at path instead
// of the system roots.
func WithTLSBundle(path string) Option {
	return func(e *Emitter) {
		e.tlsBundle = path
	}
}

// WithClock sets the clock used for meta.dt.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Emitter posting to url on behalf of the named model.
func New(url, modelName, modelVersion string, opts ...Option) (*Emitter, error) {
	if url == "" {
		return nil, errors.New("eventgate: url is required")
	}
	e := &Emitter{
		url:          url,
		stream:       "mediawiki.revision-score-" + modelName,
		modelName:    modelName,
		modelVersion: modelVersion,
		userAgent:    defaultUserAgent,
		timeout:      defaultTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("eventgate")
	}
	client, err := buildHTTPClient(e.tlsBundle, e.timeout)
	if err != nil {
		return nil, err
	}
	e.client = client
	return e, nil
}

func buildHTTPClient(bundle string, timeout time.Duration) (*http.Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if bundle != "" {
		caPEM, err := os.ReadFile(bundle)
		if err != nil {
			return nil, fmt.Errorf("eventgate: read tls bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("eventgate: no valid certs found in %q", bundle)
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
		Timeout:   timeout,
	}, nil
}

// Stream returns the stream events are posted to.
func (e *Emitter) Stream() string { return e.stream }

// Emit posts the score event for revID derived from trigger and pred as a
// one-element batch. A transport failure or non-2xx answer is logged and
// returned wrapped in ErrDelivery.
func (e *Emitter) Emit(ctx context.Context, revID int64, trigger map[string]any, pred model.PredictionResult) error {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.RecordEventEmitted(outcome, float64(time.Since(start).Milliseconds()))
	}()

	ev := NewScoreEvent(e.stream, e.modelName, e.modelVersion, revID, trigger, pred, e.now())
	body, err := json.Marshal([]ScoreEvent{ev})
	if err != nil {
		return fmt.Errorf("eventgate: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("eventgate: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Error(ctx, "score event post failed",
			logger.String("stream", e.stream),
			logger.Int64("rev_id", ev.RevID),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(b))
		e.logger.Error(ctx, "score event rejected",
			logger.String("stream", e.stream),
			logger.Int64("rev_id", ev.RevID),
			logger.Int("status", resp.StatusCode),
			logger.String("body", msg),
		)
		outcome = "rejected"
		return fmt.Errorf("%w: HTTP %d: %s", ErrDelivery, resp.StatusCode, msg)
	}
	outcome = "ok"
	e.logger.Debug(ctx, "score event posted",
		logger.String("stream", e.stream),
		logger.String("event_id", ev.Meta.ID),
	)
	return nil
}
