package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// FetcherConfig tunes the HTTP side of the oracle.
type FetcherConfig struct {
	Timeout           time.Duration
	MaxResponseBytes  int64
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// Fetcher performs the HTTP GET behind an oracle request and maps every
// failure onto a response code.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	maxBytes  int64
	userAgent string
	logger    *slog.Logger
}

// NewFetcher builds a Fetcher. Zero values fall back to conservative defaults.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 0xffff
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "predictx-oracle/1.0"
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxBytes:  cfg.MaxResponseBytes,
		userAgent: cfg.UserAgent,
		logger:    logger.With(slog.String("component", "oracle_fetcher")),
	}
}

// Fetch downloads rawURL, applies filter and returns the response code and
// result bytes. The result is empty for every code but Success.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, filter string) (Code, []byte) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ProtocolNotSupported, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return Timeout, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Error, nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Timeout, nil
		}
		f.logger.DebugContext(ctx, "oracle fetch failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		return Error, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NotFound, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return Forbidden, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Error, nil
	}

	if !acceptableContentType(resp.Header.Get("Content-Type")) {
		return ContentTypeNotSupported, nil
	}
	if resp.ContentLength > f.maxBytes {
		return ResponseTooLarge, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return Timeout, nil
		}
		return Error, nil
	}
	if int64(len(body)) > f.maxBytes {
		return ResponseTooLarge, nil
	}

	result, err := ApplyFilter(body, filter)
	if err != nil {
		f.logger.DebugContext(ctx, "oracle filter failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		return Error, nil
	}
	if int64(len(result)) > f.maxBytes {
		return ResponseTooLarge, nil
	}
	return Success, result
}

func acceptableContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json") || strings.HasPrefix(mt, "text/")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
