package util

import (
	"fmt"
	"net/url"
	"strings"
)

// HostAllowed checks that rawURL is http(s) and its hostname, without a
// leading "www.", is in the allowlist or a subdomain of an entry.
func HostAllowed(rawURL string, allowed []string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL %s: %w", rawURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q: only http and https allowed", parsedURL.Scheme)
	}

	hostname := strings.TrimPrefix(parsedURL.Hostname(), "www.")
	for _, domain := range allowed {
		domain = strings.TrimPrefix(domain, "www.")
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return nil
		}
	}
	return fmt.Errorf("security violation: URL hostname %s is not in allowlist", hostname)
}

// PathSegments splits the path of a possibly relative URL into its
// non-empty segments. Query and fragment are ignored.
func PathSegments(rawURL string) ([]string, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	var segments []string
	for _, part := range strings.Split(parsedURL.Path, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments, nil
}

// Hostname returns the lowercase hostname of rawURL, or "" for relative URLs.
func Hostname(rawURL string) string {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsedURL.Hostname())
}

// JoinURL resolves ref against base.
func JoinURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
