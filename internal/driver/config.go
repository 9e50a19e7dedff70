package driver

import (
	"net/http"
)

// DefaultUserAgent identifies huntsman to the sites it crawls and to their
// robots.txt files.
const DefaultUserAgent = "Huntsman/1.0 (+https://github.com/Harvey-AU/huntsman)"

// Config holds the configuration for an HTTP driver instance
type Config struct {
	UserAgent     string                                    // User agent string for requests
	RateLimit     int                                       // Navigation rate floor, requests per second (0 disables)
	WrapTransport func(http.RoundTripper) http.RoundTripper // Optional transport wrapper for instrumentation
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		UserAgent: DefaultUserAgent,
		RateLimit: 5, // Maximum no. of navigations per second (minimum spacing 1/RateLimit)
	}
}
