package crawler

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// trackingParams are advertising identifiers stripped during normalisation so
// otherwise identical URLs collapse into one frontier entry.
var trackingParams = []string{
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
	"fbclid",
	"gclid",
}

// skippedSchemes are href prefixes that can never lead to a crawlable page.
var skippedSchemes = []string{"mailto:", "tel:", "javascript:"}

// normaliseURL resolves href against the page it was found on and
// canonicalises it: fragment cleared, tracking parameters stripped, host
// lowercased, empty path written as "/". Protocol-relative hrefs inherit the
// base page's scheme. Returns "" when the href is rejected (non-http(s)
// scheme or unparseable). The normalised string is the crawl's sole
// deduplication key.
func normaliseURL(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		log.Debug().Str("href", href).Err(err).Msg("Discarding unparseable href")
		return ""
	}

	resolved := base.ResolveReference(ref)

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if resolved.Host == "" {
		return ""
	}

	resolved.Fragment = ""
	resolved.RawFragment = ""
	resolved.Host = strings.ToLower(resolved.Host)
	if resolved.Path == "" {
		resolved.Path = "/"
	}

	if resolved.RawQuery != "" {
		query := resolved.Query()
		for _, param := range trackingParams {
			query.Del(param)
		}
		resolved.RawQuery = query.Encode()
	}

	return resolved.String()
}
