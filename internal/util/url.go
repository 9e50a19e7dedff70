package util

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// NormaliseDomain reduces a domain or URL string to its bare host: scheme,
// www. prefix and any path are removed.
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	if slash := strings.Index(domain, "/"); slash >= 0 {
		domain = domain[:slash]
	}

	return domain
}

// ValidateDomain checks if a domain string is a valid crawl target.
// Returns an error describing why the domain is invalid, or nil if valid.
// IP addresses are accepted as-is so local and staging targets work.
func ValidateDomain(domain string) error {
	domain = NormaliseDomain(domain)

	if domain == "" {
		return fmt.Errorf("domain cannot be empty")
	}

	// Strip a port if present, then allow bare IPs
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return nil
	}

	// Must contain at least one dot (for TLD)
	if !strings.Contains(host, ".") {
		return fmt.Errorf("domain must contain a TLD (e.g., .com, .com.au)")
	}

	parts := strings.Split(host, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("domain contains empty segment")
		}

		for _, c := range part {
			isLower := c >= 'a' && c <= 'z'
			isUpper := c >= 'A' && c <= 'Z'
			isDigit := c >= '0' && c <= '9'
			isHyphen := c == '-'
			if !isLower && !isUpper && !isDigit && !isHyphen {
				return fmt.Errorf("domain contains invalid character: %c", c)
			}
		}

		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return fmt.Errorf("domain segment cannot start or end with hyphen")
		}
	}

	tld := parts[len(parts)-1]
	if len(tld) < 2 {
		return fmt.Errorf("TLD must be at least 2 characters")
	}

	return nil
}

// NormaliseURL ensures a target URL has a scheme and validates its format.
// Bare domains get https://; an explicit http:// is preserved so plain-HTTP
// sites remain crawlable.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)

	if rawURL == "" {
		return ""
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Debug().Str("url", rawURL).Err(err).Msg("Invalid URL format")
		return ""
	}

	return rawURL
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// IsSignificantRedirect checks if a redirect URL is meaningfully different from
// the original. Only the host and path are compared; query parameters and
// fragments are ignored. HTTP to HTTPS, www to non-www, trailing-slash and
// default-port differences are not significant; a different domain or path is.
func IsSignificantRedirect(originalURL, redirectURL string) bool {
	if redirectURL == "" {
		return false
	}

	origParsed, origErr := url.Parse(originalURL)
	redirParsed, redirErr := url.Parse(redirectURL)

	if origErr != nil || redirErr != nil {
		// If we can't parse, assume it's significant
		return true
	}

	origHost := normaliseHostPort(origParsed.Host, origParsed.Scheme)
	origHost = strings.ToLower(strings.TrimPrefix(origHost, "www."))
	redirHost := normaliseHostPort(redirParsed.Host, redirParsed.Scheme)
	redirHost = strings.ToLower(strings.TrimPrefix(redirHost, "www."))

	if origHost != redirHost {
		return true
	}

	origPath := origParsed.Path
	redirPath := redirParsed.Path

	if origPath == "" {
		origPath = "/"
	}
	if redirPath == "" {
		redirPath = "/"
	}

	// Remove trailing slashes for comparison (but "/" stays as "/")
	if len(origPath) > 1 {
		origPath = strings.TrimSuffix(origPath, "/")
	}
	if len(redirPath) > 1 {
		redirPath = strings.TrimSuffix(redirPath, "/")
	}

	return origPath != redirPath
}
