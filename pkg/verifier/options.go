package verifier

import "time"

// Options control which checks a verification runs. The zero value is
// not useful; start from DefaultOptions.
type Options struct {
	UseCache         bool
	CheckSyntax      bool
	CheckMX          bool
	CheckDisposable  bool
	CheckTypos       bool
	CheckCatchAll    bool
	CheckSMTP        bool
	CheckSpamTrap    bool
	CheckRoleAccount bool
	CacheResults     bool

	// AltDNS enables the secondary nameserver retry
	AltDNS bool

	// BlockedCountsValid keeps the historical policy of treating a
	// policy-blocked SMTP check as a positive signal
	BlockedCountsValid bool

	// Advanced raises the deadline to 30s and collects SPF/DKIM/DMARC
	// presence
	Advanced bool

	TimeoutMs int
}

// DefaultOptions returns the defaults: every check on, cache on, 10s
// deadline.
func DefaultOptions() Options {
	return Options{
		UseCache:           true,
		CheckSyntax:        true,
		CheckMX:            true,
		CheckDisposable:    true,
		CheckTypos:         true,
		CheckCatchAll:      true,
		CheckSMTP:          true,
		CheckSpamTrap:      true,
		CheckRoleAccount:   true,
		CacheResults:       true,
		AltDNS:             false,
		BlockedCountsValid: true,
		Advanced:           false,
		TimeoutMs:          10000,
	}
}

// AdvancedOptions returns the defaults with the advanced checks enabled
// and the 30s deadline.
func AdvancedOptions() Options {
	o := DefaultOptions()
	o.Advanced = true
	o.TimeoutMs = 30000
	return o
}

// deadline returns the per-call budget.
func (o Options) deadline() time.Duration {
	if o.TimeoutMs > 0 {
		return time.Duration(o.TimeoutMs) * time.Millisecond
	}
	if o.Advanced {
		return 30 * time.Second
	}
	return 10 * time.Second
}
