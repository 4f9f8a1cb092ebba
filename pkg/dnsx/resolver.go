// Package dnsx resolves the DNS records the verification pipeline needs:
// MX, TXT, NS and SOA. Queries go to the system resolvers first; on
// timeout or SERVFAIL a configured secondary set is tried once. MX
// answers are cached in the shared cache store.
package dnsx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/verimail/engine/pkg/cache"
	"github.com/verimail/engine/pkg/config"
)

// MX is one mail exchange record.
type MX struct {
	Exchange string `json:"exchange"`
	Priority uint16 `json:"priority"`
}

// SOA is the start-of-authority record of a zone.
type SOA struct {
	PrimaryNS  string `json:"primary_ns"`
	Mailbox    string `json:"mailbox"`
	Serial     uint32 `json:"serial"`
	Refresh    uint32 `json:"refresh"`
	Retry      uint32 `json:"retry"`
	Expire     uint32 `json:"expire"`
	MinimumTTL uint32 `json:"minimum_ttl"`
}

var (
	// ErrDomainNotFound means the authority answered NXDOMAIN. Never retried.
	ErrDomainNotFound = errors.New("dnsx: domain not found")

	// ErrNoRecords means the query succeeded but the answer was empty.
	ErrNoRecords = errors.New("dnsx: no records")

	// ErrTimeout means no resolver answered in time.
	ErrTimeout = errors.New("dnsx: query timed out")

	// ErrTransient covers SERVFAIL and other retryable resolver failures.
	ErrTransient = errors.New("dnsx: transient resolver failure")
)

// Resolver performs DNS lookups with primary and secondary nameserver
// sets. Safe for concurrent use.
type Resolver struct {
	client     *dns.Client
	altClient  *dns.Client
	primary    []string
	alt        []string
	altEnabled bool
	store      cache.Store
	mxTTL      time.Duration
	log        *zap.Logger
}

// resolvConf is the system resolver configuration file.
const resolvConf = "/etc/resolv.conf"

// New builds a Resolver from configuration. The primary server set comes
// from /etc/resolv.conf; when that is unreadable the secondary set doubles
// as primary.
func New(cfg config.DNSConfig, mxTTL time.Duration, store cache.Store, log *zap.Logger) *Resolver {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	altTimeout := time.Duration(cfg.AltTimeoutMs) * time.Millisecond
	if altTimeout <= 0 {
		altTimeout = 5 * time.Second
	}

	var primary []string
	if cc, err := dns.ClientConfigFromFile(resolvConf); err == nil {
		for _, s := range cc.Servers {
			primary = append(primary, fmt.Sprintf("%s:%s", s, cc.Port))
		}
	}
	if len(primary) == 0 {
		log.Warn("no system resolvers found, using secondary nameservers as primary")
		primary = cfg.AltNameservers
	}

	return &Resolver{
		client:    &dns.Client{Timeout: timeout},
		altClient: &dns.Client{Timeout: altTimeout},
		primary:   primary,
		alt:       cfg.AltNameservers,
		store:     store,
		mxTTL:     mxTTL,
		log:       log,
	}
}

// NewWithServers builds a Resolver pointed at explicit server addresses.
// Used by tests.
func NewWithServers(primary, alt []string, timeout time.Duration, store cache.Store, log *zap.Logger) *Resolver {
	return &Resolver{
		client:    &dns.Client{Timeout: timeout},
		altClient: &dns.Client{Timeout: timeout},
		primary:   primary,
		alt:       alt,
		store:     store,
		mxTTL:     24 * time.Hour,
		log:       log,
	}
}

// WithAlt returns a view of the resolver with the secondary nameserver
// retry enabled or disabled. The underlying clients and cache are shared.
func (r *Resolver) WithAlt(enabled bool) *Resolver {
	if r.altEnabled == enabled {
		return r
	}
	clone := *r
	clone.altEnabled = enabled
	return &clone
}

// MX returns the mail exchanges of a domain, stable-sorted ascending by
// priority. Answers are cached for the configured TTL keyed by lowercase
// domain.
func (r *Resolver) MX(ctx context.Context, domain string) ([]MX, error) {
	domain = strings.ToLower(domain)
	key := cache.MXKey(domain)

	if raw, ok := r.store.Get(ctx, key); ok {
		var records []MX
		if err := json.Unmarshal([]byte(raw), &records); err == nil {
			return records, nil
		}
		// Unreadable cache entry: treat as miss and re-resolve
	}

	msg, err := r.query(ctx, domain, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	var records []MX
	for _, rr := range msg.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			records = append(records, MX{
				Exchange: strings.TrimSuffix(mx.Mx, "."),
				Priority: mx.Preference,
			})
		}
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	// Stable: ties keep answer order
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	if raw, err := json.Marshal(records); err == nil {
		r.store.Set(ctx, key, string(raw), r.mxTTL)
	}
	return records, nil
}

// TXT returns the TXT record sets of a name. Each answer may carry
// multiple character strings; they are returned unjoined.
func (r *Resolver) TXT(ctx context.Context, name string) ([][]string, error) {
	msg, err := r.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}

	var records [][]string
	for _, rr := range msg.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			records = append(records, txt.Txt)
		}
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// NS returns the nameservers of a domain.
func (r *Resolver) NS(ctx context.Context, domain string) ([]string, error) {
	msg, err := r.query(ctx, domain, dns.TypeNS)
	if err != nil {
		return nil, err
	}

	var servers []string
	for _, rr := range msg.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			servers = append(servers, strings.TrimSuffix(ns.Ns, "."))
		}
	}
	if len(servers) == 0 {
		return nil, ErrNoRecords
	}
	return servers, nil
}

// SOA returns the start-of-authority record of a domain.
func (r *Resolver) SOA(ctx context.Context, domain string) (*SOA, error) {
	msg, err := r.query(ctx, domain, dns.TypeSOA)
	if err != nil {
		return nil, err
	}

	for _, rr := range msg.Answer {
		if soa, ok := rr.(*dns.SOA); ok {
			return &SOA{
				PrimaryNS:  strings.TrimSuffix(soa.Ns, "."),
				Mailbox:    strings.TrimSuffix(soa.Mbox, "."),
				Serial:     soa.Serial,
				Refresh:    soa.Refresh,
				Retry:      soa.Retry,
				Expire:     soa.Expire,
				MinimumTTL: soa.Minttl,
			}, nil
		}
	}
	return nil, ErrNoRecords
}

// query runs one lookup against the primary servers, then once against
// the secondary set if enabled and the failure was retryable. NXDOMAIN
// is never retried.
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg, err := r.exchange(ctx, r.client, r.primary, name, qtype)
	if err == nil || errors.Is(err, ErrDomainNotFound) || errors.Is(err, ErrNoRecords) {
		return msg, err
	}

	if !r.altEnabled || len(r.alt) == 0 {
		return nil, err
	}

	r.log.Debug("primary resolvers failed, trying secondary set",
		zap.String("name", name),
		zap.Uint16("qtype", qtype),
		zap.Error(err))
	return r.exchange(ctx, r.altClient, r.alt, name, qtype)
}

func (r *Resolver) exchange(ctx context.Context, client *dns.Client, servers []string, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error = ErrTimeout
	for _, server := range servers {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}

		resp, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTimeout, err)
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp, nil
		case dns.RcodeNameError:
			return nil, ErrDomainNotFound
		case dns.RcodeServerFailure:
			lastErr = fmt.Errorf("%w: SERVFAIL from %s", ErrTransient, server)
		default:
			lastErr = fmt.Errorf("%w: rcode %s from %s", ErrTransient, dns.RcodeToString[resp.Rcode], server)
		}
	}
	return nil, lastErr
}
