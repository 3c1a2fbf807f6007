package scan

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain lowercases a domain and strips a leading "www.".
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

// Whitelisted reports whether a URL's host matches one of the owner's
// known-legitimate publishing domains, either exactly or as a subdomain.
func Whitelisted(rawURL string, domains []string) bool {
	if rawURL == "" || len(domains) == 0 {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := NormalizeDomain(parsed.Hostname())
	if host == "" {
		return false
	}
	for _, entry := range domains {
		entry = NormalizeDomain(entry)
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// SiteName derives a display name for a match URL: the registrable domain
// when it can be determined, otherwise the bare host.
func SiteName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := NormalizeDomain(parsed.Hostname())
	if host == "" {
		return rawURL
	}
	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	return host
}

// SplitDomains parses a comma-separated whitelist into normalized entries.
func SplitDomains(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = NormalizeDomain(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
