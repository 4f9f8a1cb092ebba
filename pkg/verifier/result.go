package verifier

import (
	"time"
)

// Error tags appended to Result.Errors. The set is closed so callers
// and tests can assert exact membership.
const (
	TagInvalidFormat  = "Invalid email format"
	TagNoMX           = "No MX records found for domain"
	TagDomainNotFound = "Domain not found"
	TagDisposable     = "Disposable email address"
	TagSpamTrap       = "Possible spam trap"
	TagDNSError       = "DNS lookup failed"
	TagRateLimited    = "Rate limited"
	TagTimeout        = "timeout"
)

// MXRecord is one mail exchange in Result.Details, ascending priority.
type MXRecord struct {
	Exchange string `json:"exchange"`
	Priority uint16 `json:"priority"`
}

// Details carries the secondary evidence behind a verdict.
type Details struct {
	MXRecords    []MXRecord `json:"mx_records,omitempty"`
	DNSValid     bool       `json:"dns_valid"`
	HasSPF       bool       `json:"has_spf"`
	HasDKIM      bool       `json:"has_dkim"`
	HasDMARC     bool       `json:"has_dmarc"`
	MailboxCheck string     `json:"mailbox_check,omitempty"`
	Reputation   int        `json:"reputation"`
}

// Name is a guessed person name derived from the local part.
type Name struct {
	Full  string `json:"full"`
	First string `json:"first"`
	Last  string `json:"last,omitempty"`
}

// Enrichment is the optional intelligence block attached by Enrich.
type Enrichment struct {
	PossibleName    *Name  `json:"possible_name,omitempty"`
	PossibleCompany string `json:"possible_company,omitempty"`
	IsFreeProvider  bool   `json:"is_free_provider"`
	DomainCategory  string `json:"domain_category"`
}

// Result is the engine's primary output. Immutable once returned.
type Result struct {
	Email        string    `json:"email"`
	Domain       string    `json:"domain"`
	Timestamp    time.Time `json:"timestamp"`
	ProcessingMs int64     `json:"processing_ms"`

	FormatValid         bool `json:"format_valid"`
	HasMX               bool `json:"has_mx"`
	IsDisposable        bool `json:"is_disposable"`
	IsCatchAll          bool `json:"is_catch_all"`
	IsRoleAccount       bool `json:"is_role_account"`
	IsSpamTrap          bool `json:"is_spam_trap"`
	SMTPOk              bool `json:"smtp_ok"`
	SMTPBlockedByPolicy bool `json:"smtp_blocked_by_policy"`

	Suggestion string   `json:"suggestion,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	FromCache  bool     `json:"from_cache,omitempty"`

	Details    Details     `json:"details"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`

	IsValid bool `json:"is_valid"`
	IsLive  bool `json:"is_live"`
}

// addError appends a tag once; repeated step failures collapse.
func (r *Result) addError(tag string) {
	for _, e := range r.Errors {
		if e == tag {
			return
		}
	}
	r.Errors = append(r.Errors, tag)
}

// finalize derives the verdicts and the reputation score.
//
//	is_valid = format ∧ mx ∧ ¬disposable ∧ (smtp_ok ∨ blocked_by_policy) ∧ ¬spam_trap
//	is_live  = is_valid ∧ smtp_ok ∧ ¬catch_all ∧ ¬role_account
func (r *Result) finalize() {
	r.IsValid = r.FormatValid &&
		r.HasMX &&
		!r.IsDisposable &&
		(r.SMTPOk || r.SMTPBlockedByPolicy) &&
		!r.IsSpamTrap
	r.IsLive = r.IsValid && r.SMTPOk && !r.IsCatchAll && !r.IsRoleAccount
	r.Details.Reputation = r.reputation()
}

// reputation scores the address 0-10 from the gathered signals.
func (r *Result) reputation() int {
	score := 5
	if r.SMTPOk {
		score += 2
	}
	if r.Details.HasSPF {
		score++
	}
	if r.Details.HasDMARC {
		score++
	}
	if r.IsCatchAll {
		score -= 2
	}
	if r.IsRoleAccount {
		score--
	}
	if r.IsDisposable {
		score -= 3
	}
	if r.IsSpamTrap {
		score -= 3
	}
	if !r.HasMX {
		score -= 4
	}
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score
}
