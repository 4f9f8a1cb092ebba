package verifier

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verimail/engine/pkg/cache"
	"github.com/verimail/engine/pkg/config"
	"github.com/verimail/engine/pkg/dnsx"
	"github.com/verimail/engine/pkg/govern"
	"github.com/verimail/engine/pkg/policy"
	"github.com/verimail/engine/pkg/smtpprobe"
)

// fakeResolver serves canned DNS answers to the pipeline.
type fakeResolver struct {
	mx      map[string][]dnsx.MX
	mxErr   map[string]error
	txt     map[string][][]string
	spf     map[string]bool
	mxCalls int

	// block makes MX wait for the context to expire
	block bool
}

func (f *fakeResolver) MX(ctx context.Context, domain string) ([]dnsx.MX, error) {
	f.mxCalls++
	if f.block {
		<-ctx.Done()
		return nil, dnsx.ErrTimeout
	}
	if err, ok := f.mxErr[domain]; ok {
		return nil, err
	}
	if recs, ok := f.mx[domain]; ok {
		return recs, nil
	}
	return nil, dnsx.ErrDomainNotFound
}

func (f *fakeResolver) TXT(ctx context.Context, name string) ([][]string, error) {
	if recs, ok := f.txt[name]; ok {
		return recs, nil
	}
	return nil, dnsx.ErrNoRecords
}

func (f *fakeResolver) HasSPF(ctx context.Context, domain string) bool  { return f.spf[domain] }
func (f *fakeResolver) HasDKIM(ctx context.Context, domain string) bool { return false }
func (f *fakeResolver) HasDMARC(ctx context.Context, domain string) bool {
	return f.spf[domain]
}

// fakeProber accepts the addresses in accept, rejects everything else.
// acceptAll turns the exchange into a catch-all.
type fakeProber struct {
	accept    map[string]bool
	acceptAll bool
	calls     []string
}

func (f *fakeProber) Probe(ctx context.Context, mxHost, email, localIP string) smtpprobe.Verdict {
	f.calls = append(f.calls, email)
	if f.acceptAll || f.accept[email] {
		return smtpprobe.Verdict{Outcome: smtpprobe.Accept, Code: 250, Port: 25}
	}
	return smtpprobe.Verdict{
		Outcome: smtpprobe.Reject,
		Code:    550,
		Tag:     smtpprobe.TagAddressRejected,
		Port:    25,
	}
}

type fixture struct {
	engine   *Engine
	resolver *fakeResolver
	prober   *fakeProber
	store    cache.Store
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T, limits config.RateLimitsConfig) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisClient(client, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	res := &fakeResolver{
		mx: map[string][]dnsx.MX{
			"example.com":    {{Exchange: "mx1.example.com.", Priority: 10}},
			"acme-inc.com":   {{Exchange: "mx.acme-inc.com.", Priority: 5}},
			"gmail.com":      {{Exchange: "gmail-smtp-in.l.google.com.", Priority: 5}},
			"mailinator.com": {{Exchange: "mail.mailinator.com.", Priority: 10}},
			"empty.test":     nil,
		},
		mxErr: map[string]error{"empty.test": dnsx.ErrNoRecords},
		txt:   map[string][][]string{},
		spf:   map[string]bool{},
	}
	prober := &fakeProber{accept: map[string]bool{}}

	if limits.Default.PerMinute == 0 {
		limits = config.RateLimitsConfig{Default: config.DomainLimit{PerMinute: 100, PerHour: 2000}}
	}
	gov := govern.New(store, limits, []string{"0.0.0.0"}, zap.NewNop())

	engine := New(Deps{
		Store:    store,
		Resolver: res,
		Policy:   policy.New(),
		Governor: gov,
		Prober:   prober,
		Logger:   zap.NewNop(),
		Cache:    config.Default().Cache,
	})
	return &fixture{engine: engine, resolver: res, prober: prober, store: store, mr: mr}
}

func TestVerifyDeliverable(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["john@example.com"] = true

	r := f.engine.Verify(context.Background(), "john@example.com", DefaultOptions())

	assert.True(t, r.FormatValid)
	assert.True(t, r.HasMX)
	assert.True(t, r.SMTPOk)
	assert.False(t, r.IsCatchAll)
	assert.False(t, r.IsDisposable)
	assert.True(t, r.IsValid)
	assert.True(t, r.IsLive)
	assert.Empty(t, r.Errors)
	assert.Equal(t, "deliverable", r.Details.MailboxCheck)
	assert.Equal(t, "example.com", r.Domain)

	// Second probe call is the catch-all check with a random local part
	require.Len(t, f.prober.calls, 2)
	assert.Equal(t, "john@example.com", f.prober.calls[0])
	assert.True(t, strings.HasSuffix(f.prober.calls[1], "@example.com"))
	assert.NotEqual(t, "john@example.com", f.prober.calls[1])
}

func TestVerifyInvalidFormat(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})

	r := f.engine.Verify(context.Background(), "not-an-email", DefaultOptions())

	assert.False(t, r.FormatValid)
	assert.False(t, r.IsValid)
	assert.False(t, r.IsLive)
	assert.Equal(t, []string{TagInvalidFormat}, r.Errors)
	assert.Empty(t, f.prober.calls)
	assert.Zero(t, f.resolver.mxCalls)
}

func TestVerifyBadSyntax(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})

	for _, email := range []string{
		"a..b@example.com",
		".a@example.com",
		"a@-bad-.com",
		"a@example.c",
		"a@localhost",
	} {
		r := f.engine.Verify(context.Background(), email, DefaultOptions())
		assert.False(t, r.FormatValid, email)
		assert.Contains(t, r.Errors, TagInvalidFormat, email)
	}
}

func TestVerifyDomainNotFound(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})

	r := f.engine.Verify(context.Background(), "a@gmal.com", DefaultOptions())

	assert.False(t, r.HasMX)
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors, TagDomainNotFound)
	assert.Contains(t, r.Errors, TagNoMX)
	assert.Equal(t, "a@gmail.com", r.Suggestion)
	assert.Empty(t, f.prober.calls)
}

func TestVerifyNoMXRecords(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})

	r := f.engine.Verify(context.Background(), "a@empty.test", DefaultOptions())

	assert.False(t, r.HasMX)
	assert.Contains(t, r.Errors, TagNoMX)
	assert.NotContains(t, r.Errors, TagDomainNotFound)
}

func TestVerifyDisposable(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.acceptAll = true

	r := f.engine.Verify(context.Background(), "temp@mailinator.com", DefaultOptions())

	assert.True(t, r.IsDisposable)
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors, TagDisposable)
	// Catch-all probe is skipped for disposable domains
	assert.Len(t, f.prober.calls, 1)
}

func TestVerifyCatchAll(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.acceptAll = true

	r := f.engine.Verify(context.Background(), "anything@example.com", DefaultOptions())

	assert.True(t, r.SMTPOk)
	assert.True(t, r.IsCatchAll)
	assert.True(t, r.IsValid)
	assert.False(t, r.IsLive)
}

func TestVerifyRoleAccount(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["support@example.com"] = true

	r := f.engine.Verify(context.Background(), "support@example.com", DefaultOptions())

	assert.True(t, r.IsRoleAccount)
	assert.True(t, r.IsValid)
	assert.False(t, r.IsLive)
}

func TestVerifySpamTrapLocal(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.acceptAll = true

	r := f.engine.Verify(context.Background(), "xjqwkrtz@example.com", DefaultOptions())

	assert.True(t, r.IsSpamTrap)
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors, TagSpamTrap)
}

func TestVerifySpamTrapSkippedWithoutMX(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})

	r := f.engine.Verify(context.Background(), "xjqwkrtz@no-such-domain.test", DefaultOptions())

	assert.False(t, r.HasMX)
	assert.False(t, r.IsSpamTrap)
	assert.NotContains(t, r.Errors, TagSpamTrap)
	assert.Contains(t, r.Errors, TagDomainNotFound)
}

func TestVerifySpamTrapTXT(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["alice@example.com"] = true
	f.resolver.txt["example.com"] = [][]string{{"this domain is a spamtrap honeypot"}}

	r := f.engine.Verify(context.Background(), "alice@example.com", DefaultOptions())

	assert.True(t, r.IsSpamTrap)
	assert.False(t, r.IsValid)
}

func TestVerifyRateLimited(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{
		Default: config.DomainLimit{PerMinute: 100, PerHour: 2000},
		Domains: map[string]config.DomainLimit{
			"example.com": {PerMinute: 1, PerHour: 10},
		},
	})
	f.prober.acceptAll = true

	opts := DefaultOptions()
	opts.UseCache = false
	opts.CacheResults = false

	first := f.engine.Verify(context.Background(), "a@example.com", opts)
	require.True(t, first.SMTPOk)

	second := f.engine.Verify(context.Background(), "b@example.com", opts)
	assert.False(t, second.SMTPOk)
	assert.True(t, second.SMTPBlockedByPolicy)
	assert.Contains(t, second.Errors, TagRateLimited)
	// Blocked counts as valid under the default policy
	assert.True(t, second.IsValid)
	assert.False(t, second.IsLive)
}

func TestVerifyBlockedCountsValidOff(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{
		Default: config.DomainLimit{PerMinute: 100, PerHour: 2000},
		Domains: map[string]config.DomainLimit{
			"example.com": {PerMinute: 1, PerHour: 10},
		},
	})
	f.prober.acceptAll = true

	opts := DefaultOptions()
	opts.UseCache = false
	opts.CacheResults = false
	opts.BlockedCountsValid = false

	_ = f.engine.Verify(context.Background(), "a@example.com", opts)
	r := f.engine.Verify(context.Background(), "b@example.com", opts)

	assert.True(t, r.SMTPBlockedByPolicy)
	assert.False(t, r.IsValid)
}

func TestVerifyBlockedDomainSkipsProbe(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	require.NoError(t, f.mr.Set("smtp:blocked:example.com", "1"))

	r := f.engine.Verify(context.Background(), "a@example.com", DefaultOptions())

	assert.True(t, r.SMTPBlockedByPolicy)
	assert.False(t, r.SMTPOk)
	assert.True(t, r.IsValid)
	assert.Empty(t, f.prober.calls)
}

func TestVerifyCacheRoundTrip(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["john@example.com"] = true

	first := f.engine.Verify(context.Background(), "john@example.com", DefaultOptions())
	require.True(t, first.IsValid)
	require.False(t, first.FromCache)
	callsAfterFirst := f.resolver.mxCalls

	second := f.engine.Verify(context.Background(), "john@example.com", DefaultOptions())
	assert.True(t, second.FromCache)
	assert.True(t, second.IsValid)
	assert.Equal(t, first.Details.MXRecords, second.Details.MXRecords)
	assert.Equal(t, callsAfterFirst, f.resolver.mxCalls)
}

func TestVerifyCacheDisabled(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["john@example.com"] = true

	opts := DefaultOptions()
	opts.UseCache = false

	_ = f.engine.Verify(context.Background(), "john@example.com", opts)
	r := f.engine.Verify(context.Background(), "john@example.com", opts)

	assert.False(t, r.FromCache)
	assert.Equal(t, 2, f.resolver.mxCalls)
}

func TestVerifyTimeout(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.resolver.block = true

	opts := DefaultOptions()
	opts.UseCache = false
	opts.TimeoutMs = 50

	r := f.engine.Verify(context.Background(), "a@example.com", opts)

	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors, TagTimeout)
	assert.True(t, r.FormatValid)
}

func TestVerifyAdvancedAuthFlags(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["a@example.com"] = true
	f.resolver.spf["example.com"] = true

	r := f.engine.Verify(context.Background(), "a@example.com", AdvancedOptions())

	assert.True(t, r.Details.HasSPF)
	assert.True(t, r.Details.HasDMARC)
	assert.False(t, r.Details.HasDKIM)
}

func TestVerifyInternationalizedDomain(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.resolver.mx["xn--bcher-kva.example"] = []dnsx.MX{{Exchange: "mx.example.", Priority: 10}}
	f.prober.acceptAll = true

	opts := DefaultOptions()
	opts.CheckSpamTrap = false

	r := f.engine.Verify(context.Background(), "hans@bücher.example", opts)

	assert.Equal(t, "xn--bcher-kva.example", r.Domain)
	assert.True(t, r.HasMX)
}

func TestReputationScore(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["john@example.com"] = true

	r := f.engine.Verify(context.Background(), "john@example.com", DefaultOptions())
	// base 5 + 2 for SMTP
	assert.Equal(t, 7, r.Details.Reputation)

	bad := f.engine.Verify(context.Background(), "x@gmal.com", DefaultOptions())
	assert.LessOrEqual(t, bad.Details.Reputation, 1)
}

func TestEnrichPersonName(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["john.doe@example.com"] = true

	r := f.engine.Enrich(context.Background(), "john.doe@example.com", DefaultOptions())

	require.True(t, r.IsValid)
	require.NotNil(t, r.Enrichment)
	require.NotNil(t, r.Enrichment.PossibleName)
	assert.Equal(t, "John", r.Enrichment.PossibleName.First)
	assert.Equal(t, "Doe", r.Enrichment.PossibleName.Last)
	assert.Equal(t, "John Doe", r.Enrichment.PossibleName.Full)
	assert.Equal(t, "Example", r.Enrichment.PossibleCompany)
	assert.False(t, r.Enrichment.IsFreeProvider)
	assert.Equal(t, "standard", r.Enrichment.DomainCategory)
}

func TestEnrichCompanyFromHyphenatedDomain(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["contact@acme-inc.com"] = true

	r := f.engine.Enrich(context.Background(), "contact@acme-inc.com", DefaultOptions())

	require.True(t, r.IsValid)
	require.NotNil(t, r.Enrichment)
	assert.Equal(t, "Acme Inc", r.Enrichment.PossibleCompany)
	// "contact" is a role account, so no name guess
	assert.Nil(t, r.Enrichment.PossibleName)
}

func TestEnrichFreeProvider(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	f.prober.accept["jane.smith42@gmail.com"] = true

	r := f.engine.Enrich(context.Background(), "jane.smith42@gmail.com", DefaultOptions())

	require.True(t, r.IsValid)
	require.NotNil(t, r.Enrichment)
	assert.True(t, r.Enrichment.IsFreeProvider)
	assert.Empty(t, r.Enrichment.PossibleCompany)
	assert.Equal(t, "established", r.Enrichment.DomainCategory)
	require.NotNil(t, r.Enrichment.PossibleName)
	assert.Equal(t, "Jane", r.Enrichment.PossibleName.First)
	assert.Equal(t, "Smith", r.Enrichment.PossibleName.Last)
}

func TestEnrichInvalidAddress(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})

	r := f.engine.Enrich(context.Background(), "not-an-email", DefaultOptions())

	assert.False(t, r.IsValid)
	assert.Nil(t, r.Enrichment)
}

func TestGuessName(t *testing.T) {
	roles := policy.RolePrefixes()
	tests := []struct {
		local string
		want  *Name
	}{
		{"john.doe", &Name{Full: "John Doe", First: "John", Last: "Doe"}},
		{"jane_smith", &Name{Full: "Jane Smith", First: "Jane", Last: "Smith"}},
		{"bob", &Name{Full: "Bob", First: "Bob"}},
		{"alice99", &Name{Full: "Alice", First: "Alice"}},
		{"support.maria", &Name{Full: "Maria", First: "Maria"}},
		{"info", nil},
		{"12345", nil},
	}
	for _, tt := range tests {
		got := guessName(tt.local, roles)
		assert.Equal(t, tt.want, got, tt.local)
	}
}

func TestGuessCompany(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{"example.com", "Example"},
		{"acme-inc.com", "Acme Inc"},
		{"widgets.co.uk", "Widgets"},
		{"big_corp.com.au", "Big Corp"},
		{"sub.example.org", "Example"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, guessCompany(tt.domain), tt.domain)
	}
}

func TestRandomLocal(t *testing.T) {
	a, b := randomLocal(), randomLocal()
	assert.Len(t, a, 14)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.Contains(t, localAlphabet, string(r))
	}
}

func TestVerifyTimestampAndTiming(t *testing.T) {
	f := newFixture(t, config.RateLimitsConfig{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.clock = func() time.Time { return now }

	r := f.engine.Verify(context.Background(), "not-an-email", DefaultOptions())
	assert.Equal(t, now, r.Timestamp)
	assert.Zero(t, r.ProcessingMs)
}
