package verifier

import (
	"context"
	"strings"
	"unicode"

	"github.com/verimail/engine/pkg/policy"
)

// Enrich verifies the address and, when it is valid, attaches the
// intelligence block: guessed person name, guessed company, provider
// class and domain category. Invalid addresses come back without an
// enrichment.
func (e *Engine) Enrich(ctx context.Context, email string, opts Options) Result {
	r := e.Verify(ctx, email, opts)
	if !r.IsValid {
		return r
	}

	p := parseEmail(r.Email)
	free := e.policy.IsFreeProvider(p.domain)

	en := &Enrichment{
		IsFreeProvider: free,
		DomainCategory: string(e.policy.DomainCategory(p.domain)),
	}
	en.PossibleName = guessName(p.local, policy.RolePrefixes())
	if !free {
		en.PossibleCompany = guessCompany(p.domain)
	}

	r.Enrichment = en
	return r
}

// guessName derives a person name from the local part: leading role
// prefixes and trailing digits are stripped, separators become spaces,
// each word is capitalised. Nothing left means no guess.
func guessName(local string, rolePrefixes map[string]bool) *Name {
	s := strings.ToLower(local)

	if rolePrefixes[s] {
		return nil
	}
	for role := range rolePrefixes {
		if strings.HasPrefix(s, role) && len(s) > len(role) &&
			strings.ContainsRune("._-", rune(s[len(role)])) {
			s = s[len(role)+1:]
			break
		}
	}

	s = strings.TrimRightFunc(s, unicode.IsDigit)
	s = strings.Map(func(r rune) rune {
		if r == '.' || r == '_' || r == '-' {
			return ' '
		}
		return r
	}, s)

	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		words[i] = capitalize(w)
	}

	n := &Name{Full: strings.Join(words, " "), First: words[0]}
	if len(words) > 1 {
		n.Last = strings.Join(words[1:], " ")
	}
	return n
}

// countryCompound lists second-level registries whose organisation
// label sits one level deeper.
var countryCompound = map[string]struct{}{
	"co.uk":  {},
	"com.au": {},
	"co.nz":  {},
	"co.jp":  {},
	"co.za":  {},
	"com.br": {},
}

// guessCompany derives a company name from the registrable label of the
// domain: "acme-inc.com" becomes "Acme Inc".
func guessCompany(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ""
	}

	org := labels[len(labels)-2]
	if len(labels) >= 3 {
		suffix := labels[len(labels)-2] + "." + labels[len(labels)-1]
		if _, ok := countryCompound[suffix]; ok {
			org = labels[len(labels)-3]
		}
	}

	org = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return ' '
		}
		return r
	}, org)

	words := strings.Fields(org)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}
