package crawler

import "net/http"

// Results returns every crawl record, including failures and non-200
// responses, in final sorted order.
func (c *Crawler) Results() []CrawlResult {
	out := make([]CrawlResult, len(c.results))
	copy(out, c.results)
	return out
}

// AccessiblePages returns the crawl records for pages that answered 200.
func (c *Crawler) AccessiblePages() []CrawlResult {
	pages := make([]CrawlResult, 0, len(c.results))
	for _, res := range c.results {
		if res.StatusCode == http.StatusOK {
			pages = append(pages, res)
		}
	}
	return pages
}

// Errors returns the record of URLs that exhausted their retries.
func (c *Crawler) Errors() []ErrorRecord {
	out := make([]ErrorRecord, len(c.errors))
	copy(out, c.errors)
	return out
}

// Summary aggregates the crawl into counts and performance figures.
func (c *Crawler) Summary() Summary {
	summary := Summary{
		Total:   len(c.results),
		Errors:  len(c.errors),
		ByDepth: make(map[int]int),
	}

	var loadTimeTotal int64
	var loadTimeSamples int

	for _, res := range c.results {
		summary.ByDepth[res.Depth]++
		summary.Performance.TotalRetries += res.RetryCount

		if res.StatusCode == http.StatusOK {
			summary.Successful++
		}

		// Load time is only meaningful for fetches that got a response.
		if res.StatusCode > 0 {
			loadTimeTotal += res.LoadTime
			loadTimeSamples++
		}
	}

	if loadTimeSamples > 0 {
		summary.Performance.AverageLoadTime = float64(loadTimeTotal) / float64(loadTimeSamples)
	}

	if summary.Total == 0 {
		summary.Performance.SuccessRate = 100
	} else {
		summary.Performance.SuccessRate = float64(summary.Successful) / float64(summary.Total) * 100
	}

	return summary
}
