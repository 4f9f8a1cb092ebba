package cache

import "strings"

// Key families used across the engine. Keeping them in one place makes
// the redis keyspace auditable.
const (
	prefixVerify      = "verify:"
	prefixMX          = "dns:mx:"
	prefixMinute      = "smtp:"
	prefixBlocked     = "smtp:blocked:"
	keyIPIndex        = "smtp:ip_index"
	prefixUsage       = "usage:"
	prefixHourSuccess = "smtp:success:"
	prefixHourFailure = "smtp:failure:"
)

// VerifyKey is the cached verification result for an address.
func VerifyKey(email string) string { return prefixVerify + strings.ToLower(email) }

// MXKey is the cached MX answer for a domain.
func MXKey(domain string) string { return prefixMX + strings.ToLower(domain) }

// MinuteKey is the per-domain minute counter.
func MinuteKey(domain string) string { return prefixMinute + strings.ToLower(domain) + ":minute" }

// HourKey is the per-domain hour counter.
func HourKey(domain string) string { return prefixMinute + strings.ToLower(domain) + ":hour" }

// BlockedKey flags a domain as blocked for outbound probes.
func BlockedKey(domain string) string { return prefixBlocked + strings.ToLower(domain) }

// IPIndexKey is the round-robin position in the outbound IP pool.
func IPIndexKey() string { return keyIPIndex }

// UsageKey is the per-owner usage snapshot.
func UsageKey(owner string) string { return prefixUsage + owner }

// SuccessKey is the hourly per-domain success counter.
func SuccessKey(domain string) string { return prefixHourSuccess + strings.ToLower(domain) }

// FailureKey is the hourly per-domain failure counter.
func FailureKey(domain string) string { return prefixHourFailure + strings.ToLower(domain) }
