package crawler

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/huntsman/internal/driver"
)

// fakePage is one routable page served by fakeDriver. failures is the number
// of navigation attempts that fail before the page loads.
type fakePage struct {
	status   int
	title    string
	anchors  []string
	failures int
	finalURL string
}

type fakeCall struct {
	url     string
	wait    driver.WaitStrategy
	timeout time.Duration
}

// fakeDriver is an in-memory PageDriver backed by a URL routing table. URLs
// without a route fail every navigation attempt.
type fakeDriver struct {
	pages      map[string]*fakePage
	calls      []fakeCall
	current    *fakePage
	anchorsErr error
	onNavigate func(url string)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{pages: make(map[string]*fakePage)}
}

func (d *fakeDriver) Navigate(ctx context.Context, rawURL string, wait driver.WaitStrategy, timeout time.Duration) (*driver.Navigation, error) {
	d.calls = append(d.calls, fakeCall{url: rawURL, wait: wait, timeout: timeout})
	if d.onNavigate != nil {
		d.onNavigate(rawURL)
	}

	page, ok := d.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("no route to %s", rawURL)
	}
	if page.failures > 0 {
		page.failures--
		return nil, fmt.Errorf("navigation timed out loading %s", rawURL)
	}

	d.current = page
	finalURL := page.finalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	return &driver.Navigation{StatusCode: page.status, FinalURL: finalURL}, nil
}

func (d *fakeDriver) Title(ctx context.Context) (string, error) {
	if d.current == nil {
		return "", driver.ErrNoPage
	}
	return d.current.title, nil
}

func (d *fakeDriver) Anchors(ctx context.Context) ([]string, error) {
	if d.anchorsErr != nil {
		return nil, d.anchorsErr
	}
	if d.current == nil {
		return nil, driver.ErrNoPage
	}
	return d.current.anchors, nil
}

func (d *fakeDriver) visitedURLs() []string {
	urls := make([]string, 0, len(d.calls))
	for _, call := range d.calls {
		urls = append(urls, call.url)
	}
	return urls
}

func crawlTestOptions(baseURL string) *CrawlOptions {
	return &CrawlOptions{
		BaseURL:    baseURL,
		MaxPages:   50,
		MaxDepth:   3,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

func TestNew(t *testing.T) {
	fake := newFakeDriver()

	t.Run("nil driver", func(t *testing.T) {
		_, err := New(crawlTestOptions("https://example.com"), nil)
		assert.Error(t, err)
	})

	t.Run("nil options", func(t *testing.T) {
		_, err := New(nil, fake)
		assert.ErrorContains(t, err, "base URL")
	})

	t.Run("missing base URL", func(t *testing.T) {
		_, err := New(&CrawlOptions{}, fake)
		assert.ErrorContains(t, err, "base URL")
	})

	t.Run("base URL without scheme", func(t *testing.T) {
		_, err := New(crawlTestOptions("example.com/page"), fake)
		assert.ErrorContains(t, err, "scheme")
	})

	t.Run("base URL without host", func(t *testing.T) {
		_, err := New(crawlTestOptions("https://"), fake)
		assert.Error(t, err)
	})

	t.Run("valid base URL", func(t *testing.T) {
		c, err := New(&CrawlOptions{BaseURL: "https://example.com"}, fake)
		require.NoError(t, err)

		assert.Equal(t, "https://example.com/", c.seed)
		assert.Equal(t, 50, c.opts.MaxPages)
		assert.Equal(t, 3, c.opts.MaxDepth)
		assert.Equal(t, 2, c.opts.MaxRetries)
		assert.Equal(t, []string{"example.com"}, c.opts.AllowedDomains)
		assert.Equal(t, driver.DefaultUserAgent, c.opts.UserAgent)
		assert.NotEmpty(t, c.RunID())
	})

	t.Run("seed is normalised", func(t *testing.T) {
		c, err := New(&CrawlOptions{BaseURL: "https://Example.com/?utm_source=ad#hero"}, fake)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/", c.seed)
	})
}

func TestCrawlSiteBreadthFirst(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, title: "Home", anchors: []string{"/a", "/b"}}
	fake.pages["https://example.com/a"] = &fakePage{status: 200, title: "A", anchors: []string{"/c"}}
	fake.pages["https://example.com/b"] = &fakePage{status: 200, title: "B"}
	fake.pages["https://example.com/c"] = &fakePage{status: 200, title: "C"}

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 4)

	// A full depth level is visited before the next one starts.
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, fake.visitedURLs())

	results := c.Results()
	require.Len(t, results, 4)

	assert.Equal(t, "https://example.com/", results[0].URL)
	assert.Equal(t, 0, results[0].Depth)
	assert.Equal(t, "start", results[0].FoundOn)
	assert.Equal(t, "Home", results[0].Title)

	assert.Equal(t, "https://example.com/a", results[1].URL)
	assert.Equal(t, 1, results[1].Depth)
	assert.Equal(t, "https://example.com/", results[1].FoundOn)

	assert.Equal(t, "https://example.com/b", results[2].URL)
	assert.Equal(t, 1, results[2].Depth)

	assert.Equal(t, "https://example.com/c", results[3].URL)
	assert.Equal(t, 2, results[3].Depth)
	assert.Equal(t, "https://example.com/a", results[3].FoundOn)
}

func TestCrawlSitePolicyFiltering(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{
		"/a",
		"/b.pdf",
		"https://other.com/x",
		"mailto:sales@example.com",
	}}
	fake.pages["https://example.com/a"] = &fakePage{status: 200}

	opts := crawlTestOptions("https://example.com")
	opts.ExcludePatterns = []*regexp.Regexp{regexp.MustCompile(`\.pdf$`)}

	c, err := New(opts, fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.Len(t, pages, 2)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/a"}, fake.visitedURLs(),
		"filtered URLs are never navigated")
}

func TestCrawlSiteMaxPages(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/p1", "/p2", "/p3"}}
	fake.pages["https://example.com/p1"] = &fakePage{status: 200}
	fake.pages["https://example.com/p2"] = &fakePage{status: 200}
	fake.pages["https://example.com/p3"] = &fakePage{status: 200}

	opts := crawlTestOptions("https://example.com")
	opts.MaxPages = 2

	c, err := New(opts, fake)
	require.NoError(t, err)

	_, err = c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.Len(t, fake.calls, 2)
	assert.Equal(t, 2, c.Summary().Total)
}

func TestCrawlSiteMaxPagesCountsFailures(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/broken", "/c"}}
	fake.pages["https://example.com/c"] = &fakePage{status: 200}

	opts := crawlTestOptions("https://example.com")
	opts.MaxPages = 2
	opts.MaxRetries = 0

	c, err := New(opts, fake)
	require.NoError(t, err)

	_, err = c.CrawlSite(context.Background())
	require.NoError(t, err)

	// The failed URL fills the second result slot, so /c is never reached.
	assert.Equal(t, 2, c.Summary().Total)
	assert.NotContains(t, fake.visitedURLs(), "https://example.com/c")
}

func TestCrawlSiteMaxDepthZero(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/a"}}

	opts := crawlTestOptions("https://example.com")
	opts.MaxDepth = 0

	c, err := New(opts, fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.Len(t, pages, 1)
	assert.Len(t, fake.calls, 1, "seed only, links never followed")
}

func TestCrawlSiteMaxDepthOne(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/a"}}
	fake.pages["https://example.com/a"] = &fakePage{status: 200, anchors: []string{"/b"}}
	fake.pages["https://example.com/b"] = &fakePage{status: 200}

	opts := crawlTestOptions("https://example.com")
	opts.MaxDepth = 1

	c, err := New(opts, fake)
	require.NoError(t, err)

	_, err = c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/", "https://example.com/a"}, fake.visitedURLs())
}

func TestCrawlSiteCollapsesTrackingVariants(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{
		"/page?utm_source=a",
		"/page?utm_source=b",
		"/page#features",
		"/page",
	}}
	fake.pages["https://example.com/page"] = &fakePage{status: 200}

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.Len(t, pages, 2)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/page"}, fake.visitedURLs(),
		"tracking variants collapse into one fetch")
}

func TestCrawlSiteHandlesLinkCycles(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/a"}}
	fake.pages["https://example.com/a"] = &fakePage{status: 200, anchors: []string{"/", "/a"}}

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	_, err = c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.Len(t, fake.calls, 2, "mutual links terminate")
}

func TestCrawlSiteRecordsFailures(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/broken"}}

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err, "a page failure does not fail the crawl")

	assert.Len(t, pages, 1, "only the accessible page is returned")

	results := c.Results()
	require.Len(t, results, 2)

	broken := results[1]
	assert.Equal(t, "https://example.com/broken", broken.URL)
	assert.Equal(t, 0, broken.StatusCode)
	assert.Contains(t, broken.Error, "no route")
	assert.Equal(t, 1, broken.RetryCount)
	assert.Equal(t, 1, broken.Depth)
	assert.Equal(t, "https://example.com/", broken.FoundOn)

	require.Len(t, c.Errors(), 1)
	assert.Equal(t, "https://example.com/broken", c.Errors()[0].URL)

	summary := c.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Errors)
	assert.InDelta(t, 50.0, summary.Performance.SuccessRate, 0.001)
}

func TestCrawlSiteSkipsLinksOnErrorPages(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/gone"}}
	fake.pages["https://example.com/gone"] = &fakePage{status: 404, anchors: []string{"/treasure"}}

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.Len(t, pages, 1, "404 page is excluded from accessible pages")
	assert.Len(t, c.Results(), 2, "404 page is still recorded")
	assert.NotContains(t, fake.visitedURLs(), "https://example.com/treasure",
		"links on error pages are not followed")
}

func TestCrawlSiteLinkExtractionFailureIsNonFatal(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, title: "Home", anchors: []string{"/a"}}
	fake.anchorsErr = assert.AnError

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err)

	require.Len(t, pages, 1)
	assert.Equal(t, "Home", pages[0].Title)
	assert.Len(t, fake.calls, 1, "crawl continues with no links")
}

func TestCrawlSiteRedirectedSeedResolvesLinks(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{
		status:   200,
		finalURL: "https://example.com/home/",
		anchors:  []string{"about"},
	}
	fake.pages["https://example.com/home/about"] = &fakePage{status: 200}

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 2)

	// Relative links resolve against where the redirect settled, while the
	// result keeps the URL that was queued.
	assert.Equal(t, "https://example.com/", pages[0].URL)
	assert.Equal(t, "https://example.com/home/about", pages[1].URL)
	assert.Equal(t, "https://example.com/", pages[1].FoundOn)
}

func TestCrawlSiteContextCancelledBeforeStart(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200}

	c, err := New(crawlTestOptions("https://example.com"), fake)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pages, err := c.CrawlSite(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pages)
	assert.Empty(t, fake.calls)
}

func TestCrawlSiteCancelledMidCrawl(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/a"}}
	fake.pages["https://example.com/a"] = &fakePage{status: 200}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.onNavigate = func(string) { cancel() }

	opts := crawlTestOptions("https://example.com")
	opts.DelayBetweenRequests = 20 * time.Millisecond

	c, err := New(opts, fake)
	require.NoError(t, err)

	pages, err := c.CrawlSite(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, pages, 1, "pages crawled before cancellation are kept")
	assert.Equal(t, "https://example.com/", pages[0].URL)
	assert.Len(t, fake.calls, 1)
}

func TestCrawlSiteAppliesPolitenessDelay(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, anchors: []string{"/a"}}
	fake.pages["https://example.com/a"] = &fakePage{status: 200}

	opts := crawlTestOptions("https://example.com")
	opts.DelayBetweenRequests = 25 * time.Millisecond

	c, err := New(opts, fake)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.CrawlSite(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "one pause per crawled page")
}
