package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// robotsFetchTimeout bounds the single robots.txt request made at crawl start.
const robotsFetchTimeout = 10 * time.Second

// robotsPolicy holds the site's robots.txt rules. A nil policy allows
// everything, so a failed fetch degrades to an unrestricted crawl.
type robotsPolicy struct {
	data       *robotstxt.RobotsData
	userAgent  string
	crawlDelay time.Duration
}

// fetchRobotsPolicy retrieves and parses robots.txt from the base URL's host.
// A 4xx response yields an allow-everything policy and a 5xx a block-everything
// one, per Google's robots.txt spec. Transport failures return an error and
// the caller decides how to degrade.
func fetchRobotsPolicy(ctx context.Context, base *url.URL, userAgent string) (*robotsPolicy, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", base.Scheme, base.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{
		Timeout: robotsFetchTimeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
	}

	rules := &robotsPolicy{data: robots, userAgent: userAgent}
	if group := robots.FindGroup(userAgent); group != nil {
		rules.crawlDelay = group.CrawlDelay
	}

	log.Debug().
		Str("robots_url", robotsURL).
		Int("status", resp.StatusCode).
		Dur("crawl_delay", rules.crawlDelay).
		Msg("Loaded robots.txt rules")

	return rules, nil
}

// allows reports whether robots.txt permits fetching rawURL. Disallowed URLs
// are dropped the same way crawl policy rejections are.
func (r *robotsPolicy) allows(rawURL string) bool {
	if r == nil || r.data == nil {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}

	return r.data.TestAgent(path, r.userAgent)
}
