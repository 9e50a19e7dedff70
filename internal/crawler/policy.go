package crawler

import (
	"net/url"
	"regexp"
	"strings"
)

// policy decides whether a normalised URL is eligible for the crawl. Rules
// apply in order and the first failing rule wins: domain allow-list, exclude
// patterns, include patterns. A URL that fails policy is silently dropped;
// it is never visited and never recorded as an error.
type policy struct {
	allowedDomains  []string
	excludePatterns []*regexp.Regexp
	includePatterns []*regexp.Regexp
}

func newPolicy(opts *CrawlOptions) *policy {
	return &policy{
		allowedDomains:  opts.AllowedDomains,
		excludePatterns: opts.ExcludePatterns,
		includePatterns: opts.IncludePatterns,
	}
}

// isSameOrSubDomain reports whether hostname equals target or sits under it.
func isSameOrSubDomain(hostname, target string) bool {
	return hostname == target || strings.HasSuffix(hostname, "."+target)
}

// allows applies the eligibility rules to a normalised URL. Patterns match
// anywhere in the full URL string.
func (p *policy) allows(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	hostname := strings.ToLower(parsed.Hostname())

	allowed := false
	for _, domain := range p.allowedDomains {
		if isSameOrSubDomain(hostname, domain) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	for _, pattern := range p.excludePatterns {
		if pattern.MatchString(rawURL) {
			return false
		}
	}

	if len(p.includePatterns) > 0 {
		for _, pattern := range p.includePatterns {
			if pattern.MatchString(rawURL) {
				return true
			}
		}
		return false
	}

	return true
}
