package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/huntsman/internal/driver"
)

// seedFoundOn marks the starting URL's provenance in crawl results.
const seedFoundOn = "start"

// Crawler walks a site breadth-first from a starting URL, one page at a time.
// It is not safe for concurrent use; run one crawl per instance.
type Crawler struct {
	opts     *CrawlOptions
	driver   driver.PageDriver
	policy   *policy
	frontier *frontier
	robots   *robotsPolicy

	baseURL *url.URL
	seed    string
	delay   time.Duration
	runID   string

	results []CrawlResult
	errors  []ErrorRecord
}

// New creates a Crawler for the given options and page driver.
// If opts is nil, default options are used. The base URL must parse with a
// scheme and host, and must survive normalisation.
func New(opts *CrawlOptions, d driver.PageDriver) (*Crawler, error) {
	if d == nil {
		return nil, fmt.Errorf("crawler: page driver is required")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("crawler: base URL is required")
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("crawler: invalid base URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("crawler: base URL %q must include scheme and host", opts.BaseURL)
	}

	seed := normaliseURL(opts.BaseURL, base)
	if seed == "" {
		return nil, fmt.Errorf("crawler: base URL %q is not crawlable", opts.BaseURL)
	}

	opts = opts.withDefaults(base.Hostname())

	return &Crawler{
		opts:     opts,
		driver:   d,
		policy:   newPolicy(opts),
		frontier: newFrontier(),
		baseURL:  base,
		seed:     seed,
		delay:    opts.DelayBetweenRequests,
		runID:    uuid.New().String(),
	}, nil
}

// CrawlSite runs the crawl to completion and returns the pages that answered
// 200. The full record set, including failures and non-200 responses, stays
// available through Results.
func (c *Crawler) CrawlSite(ctx context.Context) ([]CrawlResult, error) {
	span := sentry.StartSpan(ctx, "crawler.crawl_site")
	defer span.Finish()
	span.SetTag("run_id", c.runID)
	span.SetTag("base_url", c.seed)

	if c.opts.RespectRobots {
		robots, err := fetchRobotsPolicy(ctx, c.baseURL, c.opts.UserAgent)
		if err != nil {
			log.Warn().
				Err(err).
				Str("base_url", c.seed).
				Msg("Could not load robots.txt, crawling unrestricted")
		} else {
			c.robots = robots
			if robots.crawlDelay > c.delay {
				log.Debug().
					Dur("crawl_delay", robots.crawlDelay).
					Msg("Adopting Crawl-delay from robots.txt")
				c.delay = robots.crawlDelay
			}
		}
	}

	log.Info().
		Str("run_id", c.runID).
		Str("base_url", c.seed).
		Int("max_pages", c.opts.MaxPages).
		Int("max_depth", c.opts.MaxDepth).
		Msg("Starting crawl")

	c.frontier.push(FrontierEntry{URL: c.seed, Depth: 0, FoundOn: seedFoundOn})

	for c.frontier.len() > 0 && len(c.results) < c.opts.MaxPages {
		if err := ctx.Err(); err != nil {
			c.finalise()
			return c.AccessiblePages(), err
		}

		entry, ok := c.frontier.pop()
		if !ok {
			break
		}

		if c.frontier.isVisited(entry.URL) || entry.Depth > c.opts.MaxDepth {
			continue
		}
		if !c.policy.allows(entry.URL) {
			log.Debug().
				Str("url", entry.URL).
				Msg("Skipping URL outside crawl policy")
			continue
		}
		if !c.robots.allows(entry.URL) {
			log.Debug().
				Str("url", entry.URL).
				Msg("Skipping URL disallowed by robots.txt")
			continue
		}

		if err := c.crawlPage(ctx, entry); err != nil {
			span.SetTag("error", "true")
			span.SetData("error.message", err.Error())
			c.finalise()
			return c.AccessiblePages(), err
		}

		if c.delay > 0 {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				c.finalise()
				return c.AccessiblePages(), ctx.Err()
			}
		}
	}

	c.finalise()

	log.Info().
		Str("run_id", c.runID).
		Int("pages_crawled", len(c.results)).
		Int("errors", len(c.errors)).
		Msg("Crawl complete")

	return c.AccessiblePages(), nil
}

// crawlPage fetches one frontier entry, records the outcome and queues any
// newly discovered links. Only context cancellation is returned as an error;
// per-page failures are recorded and the crawl moves on.
func (c *Crawler) crawlPage(ctx context.Context, entry FrontierEntry) error {
	span := sentry.StartSpan(ctx, "crawler.fetch_page")
	span.Description = entry.URL
	defer span.Finish()

	res, finalURL, err := c.fetchWithRetry(ctx, entry)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		span.SetTag("error", "true")
		span.SetData("error.message", err.Error())

		c.results = append(c.results, CrawlResult{
			URL:        entry.URL,
			StatusCode: 0,
			Error:      err.Error(),
			Depth:      entry.Depth,
			FoundOn:    entry.FoundOn,
			RetryCount: c.opts.MaxRetries,
		})
		c.frontier.markVisited(entry.URL)
		return nil
	}

	c.results = append(c.results, *res)
	c.frontier.markVisited(entry.URL)

	log.Debug().
		Str("url", entry.URL).
		Int("status", res.StatusCode).
		Int("depth", entry.Depth).
		Int64("load_time_ms", res.LoadTime).
		Msg("Crawled page")

	if res.StatusCode != http.StatusOK || entry.Depth >= c.opts.MaxDepth {
		return nil
	}

	// Links resolve against the URL the page settled on, so relative hrefs
	// behind a redirect point at the right host.
	base, parseErr := url.Parse(finalURL)
	if finalURL == "" || parseErr != nil || base.Host == "" {
		base = nil
		if parsed, fallbackErr := url.Parse(entry.URL); fallbackErr == nil {
			base = parsed
		}
	}
	if base == nil {
		return nil
	}

	for _, link := range c.extractLinks(ctx, base) {
		c.frontier.push(FrontierEntry{URL: link, Depth: entry.Depth + 1, FoundOn: entry.URL})
	}

	return nil
}

// finalise orders the record set by depth then URL so output is stable
// regardless of fetch interleaving.
func (c *Crawler) finalise() {
	sort.Slice(c.results, func(i, j int) bool {
		if c.results[i].Depth != c.results[j].Depth {
			return c.results[i].Depth < c.results[j].Depth
		}
		return c.results[i].URL < c.results[j].URL
	})
}

// RunID returns the identifier assigned to this crawl run.
func (c *Crawler) RunID() string {
	return c.runID
}

// UserAgent returns the user agent string this crawl announces.
func (c *Crawler) UserAgent() string {
	return c.opts.UserAgent
}
