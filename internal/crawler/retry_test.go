package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/huntsman/internal/driver"
	"github.com/Harvey-AU/huntsman/internal/mocks"
)

func TestTimeoutForAttempt(t *testing.T) {
	base := 10 * time.Second

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 10 * time.Second},
		{1, 13 * time.Second},
		{2, 16 * time.Second},
		{3, 19 * time.Second},
		{4, 22 * time.Second},
		{5, 25 * time.Second},
		{6, 25 * time.Second},
		{50, 25 * time.Second},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, timeoutForAttempt(base, tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestWaitForAttempt(t *testing.T) {
	tests := []struct {
		attempt  int
		expected driver.WaitStrategy
	}{
		{0, driver.WaitDOMContentLoaded},
		{1, driver.WaitLoad},
		{2, driver.WaitNetworkIdle},
		{3, driver.WaitDOMContentLoaded},
		{7, driver.WaitDOMContentLoaded},
		{-1, driver.WaitDOMContentLoaded},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, waitForAttempt(tc.attempt), "attempt %d", tc.attempt)
	}
}

func retryTestOptions() *CrawlOptions {
	return &CrawlOptions{
		MaxRetries: 2,
		Timeout:    10 * time.Second,
		RetryDelay: time.Millisecond,
	}
}

func TestFetchWithRetryFirstAttemptSucceeds(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/"] = &fakePage{status: 200, title: "Home"}

	c := &Crawler{opts: retryTestOptions(), driver: fake}

	res, finalURL, err := c.fetchWithRetry(context.Background(), FrontierEntry{
		URL:     "https://example.com/",
		Depth:   0,
		FoundOn: seedFoundOn,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/", res.URL)
	assert.Equal(t, "Home", res.Title)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, 0, res.RetryCount)
	assert.Equal(t, seedFoundOn, res.FoundOn)
	assert.GreaterOrEqual(t, res.LoadTime, int64(0))
	assert.Equal(t, "https://example.com/", finalURL)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, driver.WaitDOMContentLoaded, fake.calls[0].wait)
	assert.Equal(t, 10*time.Second, fake.calls[0].timeout)
	assert.Empty(t, c.errors)
}

func TestFetchWithRetryEscalation(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/flaky"] = &fakePage{status: 200, title: "Flaky", failures: 2}

	c := &Crawler{opts: retryTestOptions(), driver: fake}

	res, _, err := c.fetchWithRetry(context.Background(), FrontierEntry{URL: "https://example.com/flaky", Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RetryCount)

	// Each retry waits for more of the page and allows more time.
	require.Len(t, fake.calls, 3)
	assert.Equal(t, driver.WaitDOMContentLoaded, fake.calls[0].wait)
	assert.Equal(t, driver.WaitLoad, fake.calls[1].wait)
	assert.Equal(t, driver.WaitNetworkIdle, fake.calls[2].wait)
	assert.Equal(t, 10*time.Second, fake.calls[0].timeout)
	assert.Equal(t, 13*time.Second, fake.calls[1].timeout)
	assert.Equal(t, 16*time.Second, fake.calls[2].timeout)

	assert.Empty(t, c.errors)
}

func TestFetchWithRetryWaitStrategyWrapsAround(t *testing.T) {
	fake := newFakeDriver()
	fake.pages["https://example.com/slow"] = &fakePage{status: 200, failures: 3}

	opts := retryTestOptions()
	opts.MaxRetries = 4

	c := &Crawler{opts: opts, driver: fake}

	res, _, err := c.fetchWithRetry(context.Background(), FrontierEntry{URL: "https://example.com/slow", Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RetryCount)

	require.Len(t, fake.calls, 4)
	assert.Equal(t, driver.WaitDOMContentLoaded, fake.calls[3].wait)
}

func TestFetchWithRetryExhaustion(t *testing.T) {
	fake := newFakeDriver()
	// No route for this URL, so every attempt fails.

	c := &Crawler{opts: retryTestOptions(), driver: fake}

	res, finalURL, err := c.fetchWithRetry(context.Background(), FrontierEntry{URL: "https://example.com/dead", Depth: 1})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, finalURL)

	assert.Len(t, fake.calls, 3, "initial attempt plus two retries")

	require.Len(t, c.errors, 1)
	assert.Equal(t, "https://example.com/dead", c.errors[0].URL)
	assert.Equal(t, 2, c.errors[0].RetryCount)
	assert.Contains(t, c.errors[0].Error, "no route")
}

func TestFetchWithRetryNoRetryOnErrorStatus(t *testing.T) {
	d := new(mocks.MockPageDriver)
	d.On("Navigate", mock.Anything, "https://example.com/missing", driver.WaitDOMContentLoaded, 10*time.Second).
		Return(&driver.Navigation{StatusCode: 404, FinalURL: "https://example.com/missing"}, nil).Once()
	d.On("Title", mock.Anything).Return("Not Found", nil).Once()

	c := &Crawler{opts: retryTestOptions(), driver: d}

	res, finalURL, err := c.fetchWithRetry(context.Background(), FrontierEntry{URL: "https://example.com/missing", Depth: 1})
	require.NoError(t, err, "an error status is still a completed fetch")

	assert.Equal(t, 404, res.StatusCode)
	assert.Equal(t, 0, res.RetryCount)
	assert.Equal(t, "https://example.com/missing", finalURL)
	assert.Empty(t, c.errors)
	d.AssertExpectations(t)
}

func TestFetchWithRetryTitleFailureIsNonFatal(t *testing.T) {
	d := new(mocks.MockPageDriver)
	d.On("Navigate", mock.Anything, "https://example.com/", driver.WaitDOMContentLoaded, 10*time.Second).
		Return(&driver.Navigation{StatusCode: 200, FinalURL: "https://example.com/"}, nil).Once()
	d.On("Title", mock.Anything).Return("", assert.AnError).Once()

	c := &Crawler{opts: retryTestOptions(), driver: d}

	res, _, err := c.fetchWithRetry(context.Background(), FrontierEntry{URL: "https://example.com/", Depth: 0})
	require.NoError(t, err)
	assert.Empty(t, res.Title)
	assert.Equal(t, 200, res.StatusCode)
	d.AssertExpectations(t)
}

func TestFetchWithRetryContextCancellation(t *testing.T) {
	fake := newFakeDriver()
	// No route, so the fetch keeps failing while the context runs out.

	opts := retryTestOptions()
	opts.RetryDelay = 10 * time.Second

	c := &Crawler{opts: opts, driver: fake}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, _, err := c.fetchWithRetry(ctx, FrontierEntry{URL: "https://example.com/dead", Depth: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation interrupts the retry pause")

	// Cancellation is not a page failure, so nothing lands in the error log.
	assert.Empty(t, c.errors)
}
