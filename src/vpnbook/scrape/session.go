package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "fr,fr-FR;q=0.9,en-US;q=0.8,en;q=0.7"

	maxBodySize = 8 << 20
)

type SessionConfig struct {
	UserAgent      string
	AcceptLanguage string
	// RequestsPerSecond paces requests, zero means unlimited.
	RequestsPerSecond float64
}

// Session is the persistent HTTP client shared by every resolution. Cookies
// survive between requests. Requests are serialized: a Session never has
// two requests in flight.
type Session struct {
	mu      sync.Mutex
	client  *http.Client
	header  http.Header
	limiter *rate.Limiter
}

type Response struct {
	URL         *url.URL
	StatusCode  int
	ContentType string
	Body        []byte
}

func NewSession(cfg SessionConfig) *Session {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	lang := cfg.AcceptLanguage
	if lang == "" {
		lang = DefaultAcceptLanguage
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	header := http.Header{}
	header.Set("User-Agent", ua)
	header.Set("Accept", DefaultAccept)
	header.Set("Accept-Language", lang)

	return &Session{
		client:  &http.Client{Jar: jar},
		header:  header,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Get fetches rawURL within timeout. Non 2xx answers are errors.
func (s *Session) Get(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range s.header {
		req.Header[k] = v
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", rawURL, resp.Status)
	}

	return &Response{
		URL:         resp.Request.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
