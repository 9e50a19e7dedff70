package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/huntsman/internal/driver"
	"github.com/Harvey-AU/huntsman/internal/util"
)

// waitStrategies is the escalation ladder: the first attempt settles for a
// parsed DOM, the next waits for the full load event, the third holds out for
// network idle. Attempts beyond the ladder fall back to the first rung rather
// than holding the last.
var waitStrategies = [...]driver.WaitStrategy{
	driver.WaitDOMContentLoaded,
	driver.WaitLoad,
	driver.WaitNetworkIdle,
}

// waitForAttempt returns the navigation wait strategy for an attempt index.
func waitForAttempt(attempt int) driver.WaitStrategy {
	if attempt >= 0 && attempt < len(waitStrategies) {
		return waitStrategies[attempt]
	}
	return driver.WaitDOMContentLoaded
}

// timeoutForAttempt grows the base navigation timeout by 30% per attempt,
// capped at 2.5x the base. Rounded to the millisecond to absorb float dust.
func timeoutForAttempt(base time.Duration, attempt int) time.Duration {
	scale := 1 + 0.3*float64(attempt)
	if scale > 2.5 {
		scale = 2.5
	}
	return time.Duration(float64(base) * scale).Round(time.Millisecond)
}

// fetchWithRetry navigates to the entry's URL with escalating tolerance.
// Attempts are numbered 0..MaxRetries inclusive; each retry gets a longer
// timeout and a more patient wait strategy, while the pause between attempts
// stays fixed. A navigation that completes with a non-2xx status is still a
// successful fetch; only navigation-level failures (timeouts, DNS errors,
// aborted connections) retry. When the final attempt fails the error is
// appended to the error log and returned. finalURL reports where the
// navigation settled after redirects, for link resolution.
func (c *Crawler) fetchWithRetry(ctx context.Context, entry FrontierEntry) (res *CrawlResult, finalURL string, err error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		timeout := timeoutForAttempt(c.opts.Timeout, attempt)
		wait := waitForAttempt(attempt)

		start := time.Now()
		nav, navErr := c.driver.Navigate(ctx, entry.URL, wait, timeout)
		if navErr == nil {
			loadTime := time.Since(start).Milliseconds()

			title, titleErr := c.driver.Title(ctx)
			if titleErr != nil {
				log.Warn().Err(titleErr).Str("url", entry.URL).Msg("Failed to read page title")
			}

			if util.IsSignificantRedirect(entry.URL, nav.FinalURL) {
				log.Debug().
					Str("url", entry.URL).
					Str("final_url", nav.FinalURL).
					Msg("Page redirected")
			}

			return &CrawlResult{
				URL:        entry.URL,
				Title:      title,
				StatusCode: nav.StatusCode,
				Depth:      entry.Depth,
				FoundOn:    entry.FoundOn,
				RetryCount: attempt,
				LoadTime:   loadTime,
			}, nav.FinalURL, nil
		}

		// Cancellation of the crawl's own context is fatal, not a page failure
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		lastErr = navErr
		if attempt < c.opts.MaxRetries {
			log.Warn().
				Err(navErr).
				Str("url", entry.URL).
				Int("attempt", attempt).
				Dur("timeout", timeout).
				Str("wait_strategy", string(wait)).
				Msg("Navigation failed, retrying")

			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
		}
	}

	log.Error().
		Err(lastErr).
		Str("url", entry.URL).
		Int("attempts", c.opts.MaxRetries+1).
		Msg("Navigation failed permanently")
	sentry.CaptureException(fmt.Errorf("crawl of %s failed after %d attempts: %w", entry.URL, c.opts.MaxRetries+1, lastErr))

	c.errors = append(c.errors, ErrorRecord{
		URL:        entry.URL,
		Error:      lastErr.Error(),
		RetryCount: c.opts.MaxRetries,
	})

	return nil, "", lastErr
}
