package dnsx

import (
	"context"
	"strings"
)

// HasSPF reports whether the domain publishes an SPF policy.
func (r *Resolver) HasSPF(ctx context.Context, domain string) bool {
	records, err := r.TXT(ctx, domain)
	if err != nil {
		return false
	}
	for _, set := range records {
		if strings.HasPrefix(strings.Join(set, ""), "v=spf1") {
			return true
		}
	}
	return false
}

// HasDMARC reports whether the domain publishes a DMARC policy at
// _dmarc.{domain}.
func (r *Resolver) HasDMARC(ctx context.Context, domain string) bool {
	records, err := r.TXT(ctx, "_dmarc."+domain)
	if err != nil {
		return false
	}
	for _, set := range records {
		if strings.HasPrefix(strings.Join(set, ""), "v=DMARC1") {
			return true
		}
	}
	return false
}

// HasDKIM reports whether the domain publishes a DKIM key under the
// default selector. Providers using other selectors will read as false;
// the flag is advisory.
func (r *Resolver) HasDKIM(ctx context.Context, domain string) bool {
	records, err := r.TXT(ctx, "default._domainkey."+domain)
	if err != nil {
		return false
	}
	for _, set := range records {
		if strings.Contains(strings.Join(set, ""), "v=DKIM1") {
			return true
		}
	}
	return false
}
