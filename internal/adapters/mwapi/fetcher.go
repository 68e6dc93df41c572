// Package mwapi fetches revision and user documents from the MediaWiki
// Action API and loads them into a features.Cache.
package mwapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/domain/features"
	"github.com/okian/revscore/internal/retry"
	"github.com/okian/revscore/pkg/logger"
	"github.com/okian/revscore/pkg/metrics"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "WMF ML revscore"
	maxErrorBody     = 512
	maxResponseBody  = 32 << 20

	revisionProps = "ids|user|userid|timestamp|comment|size|content|contentmodel|flags"
	userProps     = "groups|editcount|registration"
)

// Upstream call names, used in logs and metrics.
const (
	callRevision = "revision"
	callParent   = "parent_revision"
	callUser     = "user"
)

// Fetcher builds the extraction cache of a request.
type Fetcher struct {
	endpoint   *url.URL
	hostHeader string
	userAgent  string
	timeout    time.Duration
	conns      *ConnPool
	policy     *retry.Policy
	logger     logger.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHostHeader sets the Host header sent upstream. "{lang}" is replaced
// by the request language. Defaults to "{lang}.wikipedia.org".
func WithHostHeader(h string) Option {
	return func(f *Fetcher) {
		if h != "" {
			f.hostHeader = h
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithConnPool shares a connection pool. The caller owns its lifecycle.
func WithConnPool(p *ConnPool) Option {
	return func(f *Fetcher) {
		if p != nil {
			f.conns = p
		}
	}
}

// WithRetryPolicy sets the policy wrapped around each call.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(f *Fetcher) {
		if p != nil {
			f.policy = p
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Fetcher for the Action API at baseURL. A base URL without
// a path is completed with /w/api.php.
func New(baseURL string, opts ...Option) (*Fetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mwapi: invalid base url %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "api.php") {
		u = u.JoinPath("w", "api.php")
	}
	f := &Fetcher{
		endpoint:   u,
		hostHeader: "{lang}.wikipedia.org",
		userAgent:  defaultUserAgent,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logger.Get().Named("mwapi")
	}
	if f.conns == nil {
		f.conns = NewConnPool(f.timeout)
	}
	if f.policy == nil {
		f.policy = retry.New(retry.WithLogger(f.logger), retry.WithRetryHook(metrics.RecordUpstreamRetry))
	}
	return f, nil
}

// Fetch loads revID and, with extra, its parent revision and its editor's
// user document. The parent and user calls run concurrently and both must
// succeed. Page creations have no parent call and anonymous edits no user
// call.
//
// An unknown revision id fails with errkind.ErrInvalidInput. Every other
// failure is an errkind.ErrInference.
func (f *Fetcher) Fetch(ctx context.Context, revID int64, lang string, extra bool) (*features.Cache, error) {
	const op = "fetch documents"

	rev, err := f.fetchRevision(ctx, lang, callRevision, revID)
	if err != nil {
		return nil, f.classify(ctx, op, revID, err)
	}
	cache := features.NewCache()
	cache.PutRevision(rev)
	if !extra {
		return cache, nil
	}

	var (
		parent    features.Revision
		editor    features.User
		hasParent = rev.ParentID != 0
		hasUser   = !rev.Anon && rev.User != ""
	)
	g, gctx := errgroup.WithContext(ctx)
	if hasParent {
		g.Go(func() error {
			var err error
			parent, err = f.fetchRevision(gctx, lang, callParent, rev.ParentID)
			return err
		})
	}
	if hasUser {
		g.Go(func() error {
			var err error
			editor, err = f.fetchUser(gctx, lang, rev.User)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		// A parent that no longer resolves is an upstream inconsistency,
		// not a bad request.
		if errors.Is(err, ErrBadRevision) {
			err = fmt.Errorf("%w: parent %w", ErrMalformedDocument, err)
		}
		return nil, f.classify(ctx, op, revID, err)
	}
	if hasParent {
		cache.PutRevision(parent)
	}
	if hasUser {
		cache.PutUser(editor)
	}
	return cache, nil
}

// Close releases the connection pool.
func (f *Fetcher) Close() error {
	return f.conns.Close()
}

func (f *Fetcher) fetchRevision(ctx context.Context, lang, call string, revID int64) (features.Revision, error) {
	params := url.Values{
		"prop":    {"revisions"},
		"revids":  {strconv.FormatInt(revID, 10)},
		"rvprop":  {revisionProps},
		"rvslots": {"main"},
	}
	return retry.Do(ctx, f.policy, call, func(ctx context.Context) (features.Revision, error) {
		body, err := f.get(ctx, lang, call, params)
		if err != nil {
			return features.Revision{}, err
		}
		r, err := decode(body)
		if err != nil {
			return features.Revision{}, err
		}
		return revisionDocument(r, revID)
	})
}

func (f *Fetcher) fetchUser(ctx context.Context, lang, name string) (features.User, error) {
	params := url.Values{
		"list":    {"users"},
		"ususers": {name},
		"usprop":  {userProps},
	}
	return retry.Do(ctx, f.policy, callUser, func(ctx context.Context) (features.User, error) {
		body, err := f.get(ctx, lang, callUser, params)
		if err != nil {
			return features.User{}, err
		}
		r, err := decode(body)
		if err != nil {
			return features.User{}, err
		}
		return userDocument(r, name)
	})
}

// get performs one Action API query. Non-2xx responses are returned as
// *retry.StatusError so the policy can classify them.
func (f *Fetcher) get(ctx context.Context, lang, call string, params url.Values) ([]byte, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.RecordUpstreamCall(call, outcome, float64(time.Since(start).Milliseconds()))
	}()

	client, err := f.conns.Client(f.endpoint.Host)
	if err != nil {
		return nil, err
	}

	q := url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	for k, v := range params {
		q[k] = v
	}
	u := *f.endpoint
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("mwapi %s: new request: %w", call, err)
	}
	req.Host = f.host(lang)
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if connectionClosed(err) {
			f.conns.MarkClosed(f.endpoint.Host)
		}
		return nil, fmt.Errorf("mwapi %s: %w", call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		outcome = strconv.Itoa(resp.StatusCode)
		return nil, &retry.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("mwapi %s: read body: %w", call, err)
	}
	outcome = "ok"
	return body, nil
}

func (f *Fetcher) host(lang string) string {
	return strings.ReplaceAll(f.hostHeader, "{lang}", lang)
}

// classify logs err with its full cause and converts it to an errkind.
func (f *Fetcher) classify(ctx context.Context, op string, revID int64, err error) error {
	fields := []logger.Field{logger.Int64("rev_id", revID), logger.Error(err)}
	var se *retry.StatusError
	switch {
	case errors.Is(err, ErrBadRevision):
		f.logger.Info(ctx, "revision not found upstream", fields...)
		return errkind.WrapKindMsg(op, errkind.ErrInvalidInput,
			fmt.Sprintf("revision %d does not exist", revID), err)
	case errors.Is(err, ErrMalformedDocument):
		f.logger.Error(ctx, "unexpected upstream document", fields...)
		return errkind.WrapKindMsg(op, errkind.ErrInference,
			"the document API returned an unexpected response", err)
	case errors.As(err, &se):
		f.logger.Error(ctx, "upstream call failed", append(fields, logger.Int("status", se.StatusCode))...)
		return errkind.WrapKindMsg(op, errkind.ErrInference,
			fmt.Sprintf("the document API answered HTTP %d", se.StatusCode), err)
	default:
		f.logger.Error(ctx, "upstream unreachable", fields...)
		return errkind.WrapKindMsg(op, errkind.ErrInference,
			"the document API could not be reached", err)
	}
}
