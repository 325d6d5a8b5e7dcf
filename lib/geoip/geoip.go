// Package geoip defines the country lookup boundary used by geo-blocking
// policy.
package geoip

// Resolver maps an IP address to an ISO country code.
type Resolver interface {
	// CountryCode returns the upper-case two-letter code for ip, or ""
	// when the address cannot be resolved.
	CountryCode(ip string) string
}

// NoopResolver resolves nothing. Geo policy treats every lookup as unknown.
type NoopResolver struct{}

// CountryCode implements Resolver.
func (NoopResolver) CountryCode(string) string { return "" }

// Fixed resolves every address to the same code. Testing only.
type Fixed string

// CountryCode implements Resolver.
func (f Fixed) CountryCode(string) string { return string(f) }
