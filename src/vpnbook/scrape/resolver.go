package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"time"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/PuerkitoBio/goquery"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	DefaultPageURL      = "https://www.vpnbook.com/freevpn"
	DefaultPageTimeout  = 12 * time.Second
	DefaultImageTimeout = 8 * time.Second
)

// ErrNotFound means no strategy found the credential on the page.
var ErrNotFound = errors.New("credential not found on page")

// ExhaustedError is returned when every image candidate failed.
type ExhaustedError struct {
	Tried int
	Last  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d image candidates failed, last error: %v", e.Tried, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type Config struct {
	PageURL          string
	PageTimeout      time.Duration
	ImageTimeout     time.Duration
	DefaultImagePath string
}

// Image is a decodable credential image.
type Image struct {
	URL    string
	Format string
	Width  int
	Height int
	Data   []byte
}

type Resolver struct {
	cfg        Config
	session    *Session
	strategies []TextStrategy
}

// NewResolver uses DefaultStrategies when strategies is empty.
func NewResolver(session *Session, cfg Config, strategies ...TextStrategy) *Resolver {
	if cfg.PageURL == "" {
		cfg.PageURL = DefaultPageURL
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = DefaultImageTimeout
	}
	if cfg.DefaultImagePath == "" {
		cfg.DefaultImagePath = DefaultImagePath
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{cfg: cfg, session: session, strategies: strategies}
}

// Resolve returns the credential text published on the page.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	doc, _, err := r.fetchPage(ctx)
	if err != nil {
		return "", err
	}
	return ResolveDocument(doc, r.strategies...)
}

// ResolveDocument runs strategies in order on an already parsed page.
func ResolveDocument(doc *goquery.Document, strategies ...TextStrategy) (string, error) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	for _, s := range strategies {
		if text, ok := s.Extract(doc); ok {
			logs.Debug("credential found by %s", s.Name())
			return text, nil
		}
		logs.Debug("strategy %s found nothing", s.Name())
	}
	return "", ErrNotFound
}

// ResolveImage tries every candidate URL in order and returns the first
// response that decodes as an image.
func (r *Resolver) ResolveImage(ctx context.Context) (*Image, error) {
	doc, page, err := r.fetchPage(ctx)
	if err != nil {
		return nil, err
	}

	candidates := Candidates(findImageSource(doc, page), r.cfg.DefaultImagePath, timeNow())
	logs.Debug("%d image candidates", len(candidates))

	var last error
	tried := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			last = ctx.Err()
			break
		}
		tried++

		resp, err := r.session.Get(ctx, candidate, r.cfg.ImageTimeout)
		if err != nil {
			logs.Debug("image candidate %s fail: %v", candidate, err)
			last = err
			continue
		}

		cfg, format, err := image.DecodeConfig(bytes.NewReader(resp.Body))
		if err == nil {
			_, _, err = image.Decode(bytes.NewReader(resp.Body))
		}
		if err != nil {
			logs.Debug("image candidate %s is not an image: %v", candidate, err)
			last = fmt.Errorf("%s: %w", candidate, err)
			continue
		}

		logs.Info("credential image found at %s", candidate)
		return &Image{
			URL:    candidate,
			Format: format,
			Width:  cfg.Width,
			Height: cfg.Height,
			Data:   resp.Body,
		}, nil
	}

	return nil, &ExhaustedError{Tried: tried, Last: last}
}

func (r *Resolver) fetchPage(ctx context.Context) (*goquery.Document, *url.URL, error) {
	resp, err := r.session.Get(ctx, r.cfg.PageURL, r.cfg.PageTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", r.cfg.PageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", r.cfg.PageURL, err)
	}
	return doc, resp.URL, nil
}
