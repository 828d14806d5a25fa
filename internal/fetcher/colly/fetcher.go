// Package collyfetcher implements the listing fetcher using gocolly, with an
// optional headless fallback for JS-shell responses.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/repost-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Renderer re-renders a page with JavaScript enabled.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Detector decides whether a fetched body needs the headless path.
type Detector interface {
	NeedsJS(body []byte) bool
}

// Fetcher implements crawler.Fetcher against the re:Post question listings.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	detector      Detector
	renderer      Renderer
	clock         crawler.Clock
	logger        *zap.Logger
}

// New builds a Fetcher. detector and renderer are optional; without them the
// static HTML is parsed as-is.
func New(cfg Config, detector Detector, renderer Renderer, clock crawler.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   true,
	})
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		detector:      detector,
		renderer:      renderer,
		clock:         clock,
		logger:        logger,
	}
}

// ListingURL returns the localized question listing URL for a language.
func (f *Fetcher) ListingURL(lang crawler.Language) string {
	if lang == crawler.LanguageEnglish {
		return f.cfg.BaseURL + "/questions?view=all&sort=recent"
	}
	return fmt.Sprintf("%s/%s/questions?view=all&sort=recent", f.cfg.BaseURL, lang)
}

// FetchQuestions retrieves and extracts the question cards for one language.
func (f *Fetcher) FetchQuestions(ctx context.Context, lang crawler.Language) ([]crawler.RawQuestion, error) {
	url := f.ListingURL(lang)
	body, err := f.fetchHTML(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	if f.detector != nil && f.renderer != nil && f.detector.NeedsJS(body) {
		f.logger.Info("static page looks unrendered, escalating to headless", zap.String("url", url))
		rendered, rerr := f.renderer.Render(ctx, url)
		if rerr != nil {
			f.logger.Warn("headless render failed, using static body", zap.String("url", url), zap.Error(rerr))
		} else {
			body = rendered
		}
	}

	raws, err := ParseQuestions(body, lang, f.cfg.BaseURL, f.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	f.logger.Debug("listing parsed", zap.String("url", url), zap.Int("cards", len(raws)))
	return raws, nil
}

func (f *Fetcher) fetchHTML(ctx context.Context, url string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	if err := collector.Visit(url); err != nil {
		return nil, err
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}
	return body, nil
}
