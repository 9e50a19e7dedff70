package crawler

// CrawlResult records the outcome of one dequeued URL. Created once per URL
// and immutable after creation. Failed URLs keep StatusCode 0 with Error set.
type CrawlResult struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
	Depth      int    `json:"depth"`
	FoundOn    string `json:"found_on"`
	RetryCount int    `json:"retry_count"`
	LoadTime   int64  `json:"load_time_ms,omitempty"`
}

// FrontierEntry is one discovered-but-not-yet-processed URL awaiting
// traversal. FoundOn is the page the link was found on, or "start" for the
// seed. Entries are consumed on dequeue and never mutated.
type FrontierEntry struct {
	URL     string `json:"url"`
	Depth   int    `json:"depth"`
	FoundOn string `json:"found_on"`
}

// ErrorRecord is appended to the error log when every retry attempt for a
// URL has been exhausted.
type ErrorRecord struct {
	URL        string `json:"url"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}

// Summary aggregates one finished crawl, computed in a single pass over the
// result set.
type Summary struct {
	Total       int         `json:"total"`
	Successful  int         `json:"successful"`
	Errors      int         `json:"errors"`
	ByDepth     map[int]int `json:"by_depth"`
	Performance Performance `json:"performance"`
}

// Performance holds the timing and retry aggregates of a crawl. AverageLoadTime
// is in milliseconds; SuccessRate is a percentage and reads 100 for an empty
// crawl.
type Performance struct {
	AverageLoadTime float64 `json:"average_load_time_ms"`
	TotalRetries    int     `json:"total_retries"`
	SuccessRate     float64 `json:"success_rate"`
}
