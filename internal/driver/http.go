package driver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// maxSnapshotBytes caps the body copy kept from the first page for
// technology fingerprinting.
const maxSnapshotBytes = 512 << 10

// pageState holds everything captured during one navigation. Each Navigate
// call gets its own instance so an abandoned fetch (context cancelled while
// colly is still working) can never scribble over the current page.
type pageState struct {
	title    string
	anchors  []string
	status   int
	finalURL string
	header   http.Header
	body     []byte
	err      error
}

// HTTP is a PageDriver that fetches pages over plain HTTP with colly and
// reads them with goquery. It keeps the state of the last completed
// navigation for Title and Anchors, and a snapshot of the first successful
// page for technology fingerprinting.
//
// Non-2xx statuses are reported as completed navigations, not errors;
// colly's robots.txt handling is disabled because robots enforcement
// belongs to the crawl policy, not the transport.
type HTTP struct {
	config  *Config
	colly   *colly.Collector
	limiter *rate.Limiter
	page    *pageState
	first   *pageState
}

// NewHTTP creates an HTTP page driver.
// If config is nil, default configuration is used.
func NewHTTP(config *Config) *HTTP {
	if config == nil {
		config = DefaultConfig()
	}

	c := colly.NewCollector(
		colly.UserAgent(config.UserAgent),
		colly.MaxDepth(1),
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)

	baseTransport := &http.Transport{
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	var transport http.RoundTripper = baseTransport
	if config.WrapTransport != nil {
		transport = config.WrapTransport(baseTransport)
	}

	c.SetClient(&http.Client{
		Transport: transport,
	})

	// Add browser-like headers to avoid blocking. Accept-Encoding is left to
	// the transport so gzip bodies are decoded before parsing.
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &HTTP{
		config:  config,
		colly:   c,
		limiter: limiter,
	}
}

// Navigate fetches targetURL and captures the page state. The wait strategy
// has no effect on a plain HTTP fetch beyond the timeout already supplied;
// it is logged so retry escalation stays visible in traces.
func (h *HTTP) Navigate(ctx context.Context, targetURL string, wait WaitStrategy, timeout time.Duration) (*Navigation, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	state := &pageState{}
	start := time.Now()

	collyClone := h.colly.Clone()
	collyClone.SetRequestTimeout(timeout)

	collyClone.OnHTML("html", func(e *colly.HTMLElement) {
		state.title = strings.TrimSpace(e.DOM.Find("title").First().Text())
		e.DOM.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href := strings.TrimSpace(s.AttrOr("href", ""))
			if href == "" || href == "#" {
				return
			}
			state.anchors = append(state.anchors, href)
		})
	})

	collyClone.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.finalURL = r.Request.URL.String()
		state.header = r.Headers.Clone()
		body := r.Body
		if len(body) > maxSnapshotBytes {
			body = body[:maxSnapshotBytes]
		}
		state.body = append([]byte(nil), body...)
	})

	collyClone.OnError(func(r *colly.Response, err error) {
		state.err = err
		if r != nil {
			if r.StatusCode != 0 {
				state.status = r.StatusCode
			}
			if r.Request != nil && r.Request.URL != nil {
				state.finalURL = r.Request.URL.String()
			}
		}
	})

	log.Debug().
		Str("url", targetURL).
		Str("wait_strategy", string(wait)).
		Dur("timeout", timeout).
		Msg("Navigating to page")

	// Visit in a goroutine so the caller's context can interrupt the wait
	done := make(chan error, 1)
	go func() {
		if visitErr := collyClone.Visit(targetURL); visitErr != nil {
			done <- visitErr
			return
		}
		collyClone.Wait()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("navigate %s: %w", targetURL, err)
		}
	case <-ctx.Done():
		log.Debug().
			Str("url", targetURL).
			Err(ctx.Err()).
			Msg("Navigation abandoned, context done")
		return nil, ctx.Err()
	}

	if state.err != nil {
		return nil, fmt.Errorf("navigate %s: %w", targetURL, state.err)
	}
	if state.status == 0 {
		return nil, fmt.Errorf("navigate %s: no response received", targetURL)
	}

	h.page = state
	if h.first == nil && state.status >= 200 && state.status < 300 {
		h.first = state
	}

	log.Debug().
		Str("url", targetURL).
		Int("status", state.status).
		Str("final_url", state.finalURL).
		Int("anchors", len(state.anchors)).
		Dur("duration", time.Since(start)).
		Msg("Navigation complete")

	return &Navigation{
		StatusCode: state.status,
		FinalURL:   state.finalURL,
	}, nil
}

// Title returns the <title> text of the last completed navigation.
func (h *HTTP) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if h.page == nil {
		return "", ErrNoPage
	}
	return h.page.title, nil
}

// Anchors returns the raw href attribute values of every anchor element on
// the last completed navigation, in document order.
func (h *HTTP) Anchors(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.page == nil {
		return nil, ErrNoPage
	}
	return h.page.anchors, nil
}

// FirstPage returns the response headers and a capped body copy of the first
// successful navigation, for technology fingerprinting. ok is false until a
// 2xx page has been fetched.
func (h *HTTP) FirstPage() (header http.Header, body []byte, ok bool) {
	if h.first == nil {
		return nil, nil, false
	}
	return h.first.header, h.first.body, true
}
