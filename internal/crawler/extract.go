package crawler

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// linkExtractionTimeout bounds the anchor query on a rendered page,
// independent of the page's own navigation timeout.
const linkExtractionTimeout = 10 * time.Second

// extractLinks asks the driver for the current page's anchors and normalises
// them into policy-eligible frontier candidates, deduplicated within the
// page. Extraction failure is non-fatal: the page keeps its result, a warning
// is logged and the crawl moves on with zero links.
func (c *Crawler) extractLinks(ctx context.Context, pageURL *url.URL) []string {
	extractCtx, cancel := context.WithTimeout(ctx, linkExtractionTimeout)
	defer cancel()

	hrefs, err := c.driver.Anchors(extractCtx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("url", pageURL.String()).
			Msg("Link extraction failed, continuing with no links")
		return nil
	}

	seen := make(map[string]struct{}, len(hrefs))
	var candidates []string
	for _, href := range hrefs {
		normalised := normaliseURL(href, pageURL)
		if normalised == "" {
			continue
		}
		if !c.policy.allows(normalised) {
			continue
		}
		if _, ok := seen[normalised]; ok {
			continue
		}
		seen[normalised] = struct{}{}
		candidates = append(candidates, normalised)
	}

	log.Debug().
		Str("url", pageURL.String()).
		Int("anchors", len(hrefs)).
		Int("candidates", len(candidates)).
		Msg("Extracted links from page")

	return candidates
}
