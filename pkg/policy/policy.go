// Package policy holds the pure, in-memory domain intelligence: disposable
// and free-provider membership, typo suggestions, domain categories and
// role-account detection. It performs no I/O.
package policy

import "strings"

// Policy answers membership and classification questions about domains
// and local parts. The zero value is not usable; call New.
type Policy struct {
	typoThreshold int
}

// New returns a Policy with the default typo threshold of 2 edits.
func New() *Policy {
	return &Policy{typoThreshold: 2}
}

// IsDisposable reports whether the domain belongs to a disposable
// address provider. Case-insensitive exact match.
func (p *Policy) IsDisposable(domain string) bool {
	_, ok := disposableSet[strings.ToLower(domain)]
	return ok
}

// IsFreeProvider reports whether the domain is a consumer mailbox
// provider.
func (p *Policy) IsFreeProvider(domain string) bool {
	_, ok := freeProviderSet[strings.ToLower(domain)]
	return ok
}

// typoCorrections maps frequently mistyped domains straight to their
// intended provider, ahead of the edit-distance scan.
var typoCorrections = map[string]string{
	"gmal.com":     "gmail.com",
	"gmai.com":     "gmail.com",
	"gamil.com":    "gmail.com",
	"gmial.com":    "gmail.com",
	"gmaill.com":   "gmail.com",
	"gmail.co":     "gmail.com",
	"gmail.cm":     "gmail.com",
	"yaho.com":     "yahoo.com",
	"yahooo.com":   "yahoo.com",
	"yhoo.com":     "yahoo.com",
	"hotmial.com":  "hotmail.com",
	"hotmal.com":   "hotmail.com",
	"hotmai.com":   "hotmail.com",
	"outlok.com":   "outlook.com",
	"outloook.com": "outlook.com",
	"iclould.com":  "icloud.com",
	"icloud.co":    "icloud.com",
}

// wellKnownDomains is the canonical table scanned by the edit-distance
// suggestion. Order matters for deterministic nearest-match ties.
var wellKnownDomains = []string{
	"gmail.com", "googlemail.com",
	"yahoo.com", "yahoo.co.uk",
	"outlook.com", "hotmail.com", "live.com", "msn.com",
	"icloud.com", "me.com",
	"aol.com",
	"protonmail.com", "proton.me",
	"zoho.com",
	"gmx.com", "gmx.net",
	"mail.com",
	"yandex.com",
	"fastmail.com",
	"comcast.net", "verizon.net", "att.net",
}

// Suggest returns a corrected address when the domain looks like a typo
// of a well-known provider, or "" when no correction applies. The hard
// correction map wins over the edit-distance scan; distance must be in
// (0, 2] to suggest.
func (p *Policy) Suggest(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return ""
	}
	local, domain := email[:at], strings.ToLower(email[at+1:])

	if corrected, ok := typoCorrections[domain]; ok {
		return local + "@" + corrected
	}

	best := ""
	bestDist := p.typoThreshold + 1
	for _, known := range wellKnownDomains {
		d := levenshtein(domain, known)
		if d == 0 {
			return ""
		}
		if d < bestDist {
			bestDist = d
			best = known
		}
	}
	if best == "" {
		return ""
	}
	return local + "@" + best
}

// Category classifies a domain for enrichment purposes.
type Category string

const (
	CategoryLegacy        Category = "legacy"
	CategoryEstablished   Category = "established"
	CategoryInstitutional Category = "institutional"
	CategoryOrganization  Category = "organization"
	CategoryStandard      Category = "standard"
)

var legacyDomains = map[string]bool{
	"aol.com":        true,
	"compuserve.com": true,
	"prodigy.net":    true,
	"earthlink.net":  true,
	"juno.com":       true,
	"netscape.net":   true,
}

var establishedDomains = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"hotmail.com": true,
	"outlook.com": true,
	"icloud.com":  true,
	"msn.com":     true,
	"live.com":    true,
}

// DomainCategory returns the enrichment category of a domain.
func (p *Policy) DomainCategory(domain string) Category {
	domain = strings.ToLower(domain)

	if legacyDomains[domain] {
		return CategoryLegacy
	}
	if establishedDomains[domain] {
		return CategoryEstablished
	}

	switch {
	case strings.HasSuffix(domain, ".edu"), strings.HasSuffix(domain, ".gov"), strings.HasSuffix(domain, ".mil"):
		return CategoryInstitutional
	case strings.HasSuffix(domain, ".org"), strings.HasSuffix(domain, ".net"):
		return CategoryOrganization
	}
	return CategoryStandard
}

// roleAccounts are local parts aimed at a function rather than a person.
var roleAccounts = map[string]bool{
	"admin":         true,
	"administrator": true,
	"webmaster":     true,
	"hostmaster":    true,
	"postmaster":    true,
	"abuse":         true,
	"security":      true,
	"support":       true,
	"info":          true,
	"contact":       true,
	"sales":         true,
	"marketing":     true,
	"help":          true,
	"noreply":       true,
	"no-reply":      true,
}

// IsRoleAccount reports whether the local part names a function mailbox.
func (p *Policy) IsRoleAccount(local string) bool {
	return roleAccounts[strings.ToLower(local)]
}

// RolePrefixes returns the role-account set for callers that strip role
// prefixes (the enricher's name guesser).
func RolePrefixes() map[string]bool {
	return roleAccounts
}
