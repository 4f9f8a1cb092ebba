package verifier

import (
	"strings"

	"golang.org/x/net/idna"
)

// parsedEmail is the normalised form the pipeline works on.
type parsedEmail struct {
	email  string // normalised address (local@asciiDomain)
	local  string
	domain string // lowercase, ASCII-compatible encoding
	ok     bool
}

// parseEmail splits on the last @ and converts internationalised
// domains to their ASCII form. ok=false means there is nothing to
// verify.
func parseEmail(raw string) parsedEmail {
	raw = strings.TrimSpace(raw)
	at := strings.LastIndex(raw, "@")
	if at < 1 || at == len(raw)-1 {
		return parsedEmail{email: raw}
	}

	local := raw[:at]
	domain := strings.ToLower(raw[at+1:])

	for _, r := range domain {
		if r > 127 {
			ascii, err := idna.Lookup.ToASCII(domain)
			if err != nil {
				return parsedEmail{email: raw}
			}
			domain = ascii
			break
		}
	}

	return parsedEmail{
		email:  local + "@" + domain,
		local:  local,
		domain: domain,
		ok:     true,
	}
}

// syntaxValid applies the RFC-lite rules: local part at most 64 bytes
// with no doubled dots, domain labels that neither start nor end with a
// hyphen, and a TLD of at least two characters.
func syntaxValid(p parsedEmail) bool {
	if !p.ok {
		return false
	}
	if len(p.local) == 0 || len(p.local) > 64 {
		return false
	}
	if strings.Contains(p.local, "..") {
		return false
	}
	if strings.HasPrefix(p.local, ".") || strings.HasSuffix(p.local, ".") {
		return false
	}

	labels := strings.Split(p.domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	if len(labels[len(labels)-1]) < 2 {
		return false
	}
	return true
}
