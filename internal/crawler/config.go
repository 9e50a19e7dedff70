package crawler

import (
	"regexp"
	"strings"
	"time"

	"github.com/Harvey-AU/huntsman/internal/driver"
)

// CrawlOptions defines configuration options for a crawl operation.
// Immutable for the lifetime of one crawl.
type CrawlOptions struct {
	BaseURL              string           // Seed URL the crawl starts from
	MaxPages             int              // Page-count ceiling
	MaxDepth             int              // Depth ceiling, in link hops from the seed (0 crawls the seed only)
	AllowedDomains       []string         // Hostnames (and their subdomains) eligible for crawling
	ExcludePatterns      []*regexp.Regexp // URLs matching any of these are never enqueued
	IncludePatterns      []*regexp.Regexp // When non-empty, URLs must match at least one
	DelayBetweenRequests time.Duration    // Politeness delay between page fetches (0 skips the pause)
	MaxRetries           int              // Retry attempts after the first failure (0 means one try)
	RetryDelay           time.Duration    // Fixed pause between retry attempts
	Timeout              time.Duration    // Base navigation timeout, scaled up per retry attempt
	UserAgent            string           // Identity presented to robots.txt
	RespectRobots        bool             // Honour robots.txt disallow rules and crawl-delay
}

// DefaultOptions returns CrawlOptions with default values. BaseURL must still
// be set by the caller.
func DefaultOptions() *CrawlOptions {
	return &CrawlOptions{
		MaxPages:             50,
		MaxDepth:             3,
		DelayBetweenRequests: 500 * time.Millisecond,
		MaxRetries:           2,
		RetryDelay:           time.Second,
		Timeout:              30 * time.Second,
		UserAgent:            driver.DefaultUserAgent,
	}
}

// withDefaults returns a copy with nonsense values replaced by defaults.
// Meaningful zeroes survive: MaxDepth 0 crawls only the seed, MaxRetries 0
// disables retries, a zero delay skips the politeness pause.
func (o *CrawlOptions) withDefaults(baseHostname string) *CrawlOptions {
	opts := *o

	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 3
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = time.Second
	}
	if opts.DelayBetweenRequests < 0 {
		opts.DelayBetweenRequests = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = driver.DefaultUserAgent
	}

	domains := make([]string, 0, len(opts.AllowedDomains))
	for _, d := range opts.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		domains = []string{strings.ToLower(baseHostname)}
	}
	opts.AllowedDomains = domains

	return &opts
}
