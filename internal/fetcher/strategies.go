package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mixforge/mixforge/internal/models"
)

// ErrNoDirectLink is returned when every candidate strategy has been tried
// without producing a usable download link. Callers fall back to recording
// a placeholder item; this never aborts a batch.
var ErrNoDirectLink = errors.New("no direct link available")

// Session carries the authenticated state for a multi-step flow: the cookie
// jar holds the session cookie, CSRFToken is sent with each candidate
// request.
type Session struct {
	BaseURL   string
	CSRFToken string
}

// linkKeys are the response fields checked, in order, for a download link
var linkKeys = []string{"direct_link", "download_url", "url", "link", "data.direct_link", "data.url"}

// ResolveDirectLink tries each candidate endpoint/payload combination in
// order and returns the first usable direct link. All candidates failing is
// a normal outcome reported as ErrNoDirectLink, not a batch-fatal error.
func (f *Fetcher) ResolveDirectLink(ctx context.Context, session *Session, strategies []models.LinkStrategy) (string, error) {
	if len(strategies) == 0 {
		return "", ErrNoDirectLink
	}

	for i, strategy := range strategies {
		link, err := f.tryStrategy(ctx, session, strategy)
		if err != nil {
			f.logger.Debug().
				Err(err).
				Int("strategy", i).
				Str("endpoint", strategy.Endpoint).
				Msg("Link strategy failed")
			continue
		}
		if link != "" {
			f.logger.Debug().
				Int("strategy", i).
				Str("endpoint", strategy.Endpoint).
				Msg("Direct link resolved")
			return link, nil
		}
	}
	return "", ErrNoDirectLink
}

func (f *Fetcher) tryStrategy(ctx context.Context, session *Session, strategy models.LinkStrategy) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	method := strategy.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(strategy.Payload) > 0 {
		form := url.Values{}
		for k, v := range strategy.Payload {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, strategy.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("invalid strategy endpoint: %w", err)
	}
	f.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if session != nil && session.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", session.CSRFToken)
	}
	for k, v := range strategy.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("strategy returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return extractLink(raw), nil
}

// extractLink pulls a usable http(s) URL out of a strategy response
func extractLink(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	parsed := gjson.ParseBytes(raw)
	for _, key := range linkKeys {
		value := parsed.Get(key).String()
		if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
			return value
		}
	}
	return ""
}
