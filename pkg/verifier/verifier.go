// Package verifier orchestrates the verification pipeline: syntax,
// DNS, domain policy, rate governance, SMTP probing, catch-all and
// spam-trap heuristics, aggregated into one immutable Result.
package verifier

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verimail/engine/pkg/cache"
	"github.com/verimail/engine/pkg/config"
	"github.com/verimail/engine/pkg/dnsx"
	"github.com/verimail/engine/pkg/govern"
	"github.com/verimail/engine/pkg/metrics"
	"github.com/verimail/engine/pkg/policy"
	"github.com/verimail/engine/pkg/smtpprobe"
)

// Resolver is the slice of dnsx the pipeline consumes. *dnsx.Resolver
// implements it.
type Resolver interface {
	MX(ctx context.Context, domain string) ([]dnsx.MX, error)
	TXT(ctx context.Context, name string) ([][]string, error)
	HasSPF(ctx context.Context, domain string) bool
	HasDKIM(ctx context.Context, domain string) bool
	HasDMARC(ctx context.Context, domain string) bool
}

// Deps wires the engine's collaborators. Everything is passed in at
// construction; the engine owns no process-wide state.
type Deps struct {
	Store    cache.Store
	Resolver Resolver
	// AltResolver handles calls with Options.AltDNS set; nil falls back
	// to Resolver
	AltResolver Resolver
	Policy      *policy.Policy
	Governor    *govern.Governor
	Prober      smtpprobe.Prober
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// Clock defaults to time.Now
	Clock func() time.Time
	// TTLs for cached verification results
	Cache config.CacheConfig
}

// Engine is the verification pipeline.
type Engine struct {
	store       cache.Store
	resolver    Resolver
	altResolver Resolver
	policy      *policy.Policy
	governor    *govern.Governor
	prober      smtpprobe.Prober
	metrics     *metrics.Metrics
	log         *zap.Logger
	clock       func() time.Time

	positiveTTL time.Duration
	negativeTTL time.Duration
}

// New builds the engine from its dependencies.
func New(deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	alt := deps.AltResolver
	if alt == nil {
		alt = deps.Resolver
	}
	positive := time.Duration(deps.Cache.PositiveTTLSec) * time.Second
	if positive <= 0 {
		positive = 24 * time.Hour
	}
	negative := time.Duration(deps.Cache.NegativeTTLSec) * time.Second
	if negative <= 0 {
		negative = 12 * time.Hour
	}
	return &Engine{
		store:       deps.Store,
		resolver:    deps.Resolver,
		altResolver: alt,
		policy:      deps.Policy,
		governor:    deps.Governor,
		prober:      deps.Prober,
		metrics:     deps.Metrics,
		log:         log,
		clock:       clock,
		positiveTTL: positive,
		negativeTTL: negative,
	}
}

// Verify runs the pipeline for one address. It is total: every input
// yields a Result, never an error. A timed-out call returns whatever
// was gathered plus the timeout tag.
func (e *Engine) Verify(ctx context.Context, email string, opts Options) Result {
	start := e.clock()
	ctx, cancel := context.WithTimeout(ctx, opts.deadline())
	defer cancel()

	r := Result{Email: strings.TrimSpace(email), Timestamp: start.UTC()}

	p := parseEmail(email)
	if !p.ok {
		r.addError(TagInvalidFormat)
		return e.done(r, start, opts)
	}
	r.Email = p.email
	r.Domain = p.domain

	if opts.CheckSyntax && !syntaxValid(p) {
		r.addError(TagInvalidFormat)
		r = e.done(r, start, opts)
		e.cacheResult(ctx, r, opts)
		return r
	}
	r.FormatValid = true

	if opts.UseCache {
		if cached, ok := e.cachedResult(ctx, p.email); ok {
			e.metrics.ObserveCache(true)
			cached.FromCache = true
			return cached
		}
		e.metrics.ObserveCache(false)
	}

	res := e.resolver
	if opts.AltDNS {
		res = e.altResolver
	}

	// Parallel block: disposable, MX, role account and typo suggestion
	// run concurrently under the call deadline.
	var (
		mxRecords []dnsx.MX
		mxErr     error
	)
	g, gctx := errgroup.WithContext(ctx)
	if opts.CheckDisposable {
		g.Go(func() error {
			r.IsDisposable = e.policy.IsDisposable(p.domain)
			return nil
		})
	}
	if opts.CheckMX {
		g.Go(func() error {
			mxRecords, mxErr = res.MX(gctx, p.domain)
			return nil
		})
	}
	if opts.CheckRoleAccount {
		g.Go(func() error {
			r.IsRoleAccount = e.policy.IsRoleAccount(p.local)
			return nil
		})
	}
	if opts.CheckTypos {
		g.Go(func() error {
			r.Suggestion = e.policy.Suggest(p.email)
			return nil
		})
	}
	if opts.Advanced {
		g.Go(func() error {
			r.Details.HasSPF = res.HasSPF(gctx, p.domain)
			r.Details.HasDKIM = res.HasDKIM(gctx, p.domain)
			r.Details.HasDMARC = res.HasDMARC(gctx, p.domain)
			return nil
		})
	}
	_ = g.Wait()

	if opts.CheckMX {
		switch {
		case mxErr == nil && len(mxRecords) > 0:
			r.HasMX = true
			r.Details.DNSValid = true
			for _, mx := range mxRecords {
				r.Details.MXRecords = append(r.Details.MXRecords, MXRecord{
					Exchange: mx.Exchange,
					Priority: mx.Priority,
				})
			}
		case errors.Is(mxErr, dnsx.ErrDomainNotFound):
			r.addError(TagDomainNotFound)
			r.addError(TagNoMX)
		case errors.Is(mxErr, dnsx.ErrNoRecords):
			r.addError(TagNoMX)
		case errors.Is(mxErr, dnsx.ErrTimeout) || errors.Is(mxErr, dnsx.ErrTransient):
			r.addError(TagDNSError)
		default:
			r.addError(TagNoMX)
		}
	}

	if opts.CheckSMTP && r.HasMX && ctx.Err() == nil {
		e.runSMTP(ctx, &r, p, opts)
	}

	// Like the SMTP steps, trap detection is meaningless without MX
	if opts.CheckSpamTrap && r.HasMX {
		r.IsSpamTrap = e.spamTrap(ctx, res, p)
		if r.IsSpamTrap {
			r.addError(TagSpamTrap)
		}
	}

	if r.IsDisposable {
		r.addError(TagDisposable)
	}
	if ctx.Err() != nil {
		r.addError(TagTimeout)
	}

	r = e.done(r, start, opts)
	e.cacheResult(ctx, r, opts)
	return r
}

// runSMTP applies the blocklist and rate gates, then probes the lowest
// priority exchange.
func (e *Engine) runSMTP(ctx context.Context, r *Result, p parsedEmail, opts Options) {
	if e.governor.IsBlocked(ctx, p.domain) {
		r.SMTPBlockedByPolicy = true
		return
	}

	ip, err := e.governor.Acquire(ctx, p.domain)
	if err != nil {
		// Rate-limited probes are a policy denial, handled like a block
		// so hot domains do not read as invalid
		r.addError(TagRateLimited)
		r.SMTPBlockedByPolicy = true
		return
	}

	if delay := e.governor.Delay(ctx, p.domain); delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	// Lowest priority wins; ties keep answer order
	mxHost := r.Details.MXRecords[0].Exchange

	verdict := e.prober.Probe(ctx, mxHost, p.email, ip)
	switch verdict.Outcome {
	case smtpprobe.Accept:
		r.SMTPOk = true
		r.Details.MailboxCheck = "deliverable"
		e.governor.ReportSuccess(ctx, p.domain)
		e.metrics.ObserveProbe("accept")
	case smtpprobe.Reject:
		r.addError(verdict.Tag)
		r.Details.MailboxCheck = "undeliverable"
		e.governor.ReportFailure(ctx, p.domain, verdict.Tag)
		e.metrics.ObserveProbe("reject")
	default:
		r.addError(verdict.Tag)
		r.Details.MailboxCheck = verdict.Tag
		e.governor.ReportFailure(ctx, p.domain, verdict.Tag)
		e.metrics.ObserveProbe("inconclusive")
		if verdict.Tag == smtpprobe.TagBlockedByServer {
			e.governor.MarkBlocked(ctx, p.domain, time.Hour)
		}
	}

	if r.SMTPOk && !r.IsDisposable && opts.CheckCatchAll && ctx.Err() == nil {
		e.runCatchAll(ctx, r, p, mxHost)
	}
}

// runCatchAll probes a pseudo-random local part against the same
// exchange; acceptance means the domain takes anything.
func (e *Engine) runCatchAll(ctx context.Context, r *Result, p parsedEmail, mxHost string) {
	probeLocal := randomLocal()
	e.log.Debug("catch-all probe",
		zap.String("domain", p.domain),
		zap.String("local_part", probeLocal))

	verdict := e.prober.Probe(ctx, mxHost, probeLocal+"@"+p.domain, "")
	if verdict.Outcome == smtpprobe.Accept {
		r.IsCatchAll = true
	}
}

// spamTrapLocal matches all-consonant alphanumeric locals of 8+ chars.
var (
	spamTrapLocal = regexp.MustCompile(`^[a-z0-9]{8,}$`)
	vowels        = "aeiou"
	spamTrapTXT   = regexp.MustCompile(`(?i)spam|trap|honeypot`)
)

// spamTrap applies the heuristic: an unpronounceable machine-generated
// local part, or trap markers in the domain's TXT records. TXT failures
// are ignored.
func (e *Engine) spamTrap(ctx context.Context, res Resolver, p parsedEmail) bool {
	local := strings.ToLower(p.local)
	if spamTrapLocal.MatchString(local) && !strings.ContainsAny(local, vowels) {
		return true
	}

	if ctx.Err() != nil {
		return false
	}
	records, err := res.TXT(ctx, p.domain)
	if err != nil {
		return false
	}
	for _, set := range records {
		if spamTrapTXT.MatchString(strings.Join(set, " ")) {
			return true
		}
	}
	return false
}

// done stamps the timing, derives the verdicts and records metrics.
func (e *Engine) done(r Result, start time.Time, opts Options) Result {
	elapsed := e.clock().Sub(start)
	r.ProcessingMs = elapsed.Milliseconds()

	if !opts.BlockedCountsValid {
		// The block still shows in the result; it just stops counting
		// towards validity
		blocked := r.SMTPBlockedByPolicy
		r.SMTPBlockedByPolicy = false
		r.finalize()
		r.SMTPBlockedByPolicy = blocked
	} else {
		r.finalize()
	}

	e.metrics.ObserveVerification(r.IsValid, elapsed.Seconds())
	return r
}

// cachedResult loads a previously stored Result for the address.
func (e *Engine) cachedResult(ctx context.Context, email string) (Result, bool) {
	raw, ok := e.store.Get(ctx, cache.VerifyKey(email))
	if !ok {
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Result{}, false
	}
	return r, true
}

// cacheResult stores the result with the positive or negative TTL.
func (e *Engine) cacheResult(ctx context.Context, r Result, opts Options) {
	if !opts.CacheResults {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	ttl := e.negativeTTL
	if r.IsValid {
		ttl = e.positiveTTL
	}
	e.store.Set(ctx, cache.VerifyKey(r.Email), string(raw), ttl)
}

// localAlphabet feeds the catch-all probe's random local part.
const localAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomLocal returns a 14-character local part seeded from crypto/rand.
func randomLocal() string {
	buf := make([]byte, 14)
	if _, err := rand.Read(buf); err != nil {
		// Degenerate but still unlikely as a real mailbox
		return "zxqvywkjhgfdsn"
	}
	for i, b := range buf {
		buf[i] = localAlphabet[int(b)%len(localAlphabet)]
	}
	return string(buf)
}
