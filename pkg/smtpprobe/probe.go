// Package smtpprobe drives enough of an SMTP dialogue against a mail
// exchange to classify a recipient address: HELO, MAIL FROM, RCPT TO,
// then QUIT. It never sends message data.
package smtpprobe

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Outcome is the terminal classification of one probe.
type Outcome int

const (
	// Inconclusive means the dialogue did not produce a usable decision:
	// timeout, connection failure, unexpected reply or oversized response.
	Inconclusive Outcome = iota

	// Accept means the exchange accepted RCPT TO for the address.
	Accept

	// Reject means the exchange refused the address with 550 or 553.
	Reject
)

// Error tags attached to verdicts. These form a closed set so callers
// can assert exact membership.
const (
	TagAddressRejected    = "address rejected"
	TagConnectionFailed   = "connection failed"
	TagTimeout            = "timeout"
	TagUnexpectedClose    = "unexpected close"
	TagResponseTooLarge   = "response too large"
	TagUnexpectedResponse = "unexpected response"
	TagGreylisted         = "greylisted"
	TagMailboxFull        = "mailbox full"
	TagBlockedByServer    = "blocked by server"
)

// Verdict is the result of one probe.
type Verdict struct {
	Outcome Outcome
	Code    int    // last SMTP reply code, 0 if none received
	Message string // last SMTP reply text
	Tag     string // error tag, empty on Accept
	Port    int    // port the decision was made on
}

// Prober is the interface the verification pipeline consumes.
type Prober interface {
	Probe(ctx context.Context, mxHost, email, localIP string) Verdict
}

// DialFunc opens the transport to one mx:port. Injectable for tests.
type DialFunc func(ctx context.Context, network, addr, localIP string) (net.Conn, error)

// Config parameterises the probe.
type Config struct {
	HeloDomain   string
	MailFrom     string
	Ports        []int // tried in order; 465 uses implicit TLS
	OpTimeout    time.Duration
	TotalTimeout time.Duration
	Dial         DialFunc // nil for the default TCP dialer
}

// maxResponseBytes caps one server response. Anything larger is treated
// as a misbehaving server.
const maxResponseBytes = 1024

// Probe is the production Prober.
type Probe struct {
	cfg Config
	log *zap.Logger
}

// New builds a Probe, applying defaults for unset timeouts and ports.
func New(cfg Config, log *zap.Logger) *Probe {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 15 * time.Second
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = []int{25}
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	return &Probe{cfg: cfg, log: log}
}

// defaultDial opens a plain TCP connection, optionally bound to a local
// source address from the outbound pool.
func defaultDial(ctx context.Context, network, addr, localIP string) (net.Conn, error) {
	d := net.Dialer{}
	if localIP != "" && localIP != "0.0.0.0" {
		if ip := net.ParseIP(localIP); ip != nil {
			d.LocalAddr = &net.TCPAddr{IP: ip}
		}
	}
	return d.DialContext(ctx, network, addr)
}

// Probe runs the dialogue against mxHost, trying each configured port
// until one yields a decision. The 15s global ceiling holds across
// ports; each read or write gets its own per-operation deadline.
func (p *Probe) Probe(ctx context.Context, mxHost, email, localIP string) Verdict {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()

	last := Verdict{Outcome: Inconclusive, Tag: TagConnectionFailed}
	for _, port := range p.cfg.Ports {
		if ctx.Err() != nil {
			return Verdict{Outcome: Inconclusive, Tag: TagTimeout, Port: last.Port}
		}

		v := p.probePort(ctx, mxHost, port, email, localIP)
		v.Port = port
		if v.Outcome != Inconclusive {
			return v
		}
		last = v
		// Only transport-level failures justify trying the next port;
		// a server that answered has given us its answer.
		if v.Tag != TagConnectionFailed {
			return v
		}
	}
	return last
}

func (p *Probe) probePort(ctx context.Context, mxHost string, port int, email, localIP string) Verdict {
	addr := fmt.Sprintf("%s:%d", mxHost, port)
	conn, err := p.cfg.Dial(ctx, "tcp", addr, localIP)
	if err != nil {
		return Verdict{Outcome: Inconclusive, Tag: TagConnectionFailed, Message: err.Error()}
	}
	defer conn.Close()

	if port == 465 {
		// Implicit TLS; peer verification off by policy, probes are not
		// a trust decision
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         mxHost,
			InsecureSkipVerify: true,
		})
		if err := p.handshake(ctx, tlsConn); err != nil {
			return Verdict{Outcome: Inconclusive, Tag: TagConnectionFailed, Message: err.Error()}
		}
		conn = tlsConn
	}

	deadline, _ := ctx.Deadline()
	reader := bufio.NewReaderSize(conn, maxResponseBytes)
	m := newMachine(p.cfg.HeloDomain, p.cfg.MailFrom, email)

	for {
		resp, err := p.readResponse(reader, conn, deadline)
		if err != nil {
			return Verdict{Outcome: Inconclusive, Tag: classifyReadError(err)}
		}

		cmd, done := m.step(resp)
		if done {
			if m.verdict.Outcome == Accept || m.verdict.Outcome == Reject {
				p.quit(conn, deadline)
			}
			return m.verdict
		}

		if err := p.writeLine(conn, deadline, cmd); err != nil {
			return Verdict{Outcome: Inconclusive, Tag: classifyReadError(err)}
		}
	}
}

// handshake runs the TLS handshake under the per-op deadline.
func (p *Probe) handshake(ctx context.Context, conn *tls.Conn) error {
	hsCtx, cancel := context.WithTimeout(ctx, p.cfg.OpTimeout)
	defer cancel()
	return conn.HandshakeContext(hsCtx)
}

// readResponse collects one complete (possibly multiline) reply,
// enforcing the per-op deadline, the global ceiling and the size cap.
func (p *Probe) readResponse(reader *bufio.Reader, conn net.Conn, global time.Time) (response, error) {
	if err := conn.SetDeadline(opDeadline(global, p.cfg.OpTimeout)); err != nil {
		return response{}, err
	}

	total := 0
	for {
		line, err := reader.ReadString('\n')
		total += len(line)
		if err != nil {
			return response{}, err
		}
		if total > maxResponseBytes {
			return response{}, errResponseTooLarge
		}
		// "250-..." marks a continuation; the final line is "250 ..."
		if len(line) >= 4 && line[3] == '-' {
			continue
		}
		return parseResponse(line)
	}
}

func (p *Probe) writeLine(conn net.Conn, global time.Time, cmd string) error {
	if err := conn.SetDeadline(opDeadline(global, p.cfg.OpTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(conn, cmd+"\r\n")
	return err
}

// quit says goodbye without caring about the answer.
func (p *Probe) quit(conn net.Conn, global time.Time) {
	if err := p.writeLine(conn, global, "QUIT"); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	_, _ = conn.Read(buf)
}

// opDeadline returns the sooner of now+op and the global ceiling.
func opDeadline(global time.Time, op time.Duration) time.Time {
	d := time.Now().Add(op)
	if !global.IsZero() && global.Before(d) {
		return global
	}
	return d
}

var errResponseTooLarge = fmt.Errorf("smtpprobe: %s", TagResponseTooLarge)

// classifyReadError maps transport errors onto the tag set.
func classifyReadError(err error) string {
	switch {
	case err == errResponseTooLarge:
		return TagResponseTooLarge
	case err == io.EOF || strings.Contains(err.Error(), "closed"):
		return TagUnexpectedClose
	default:
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return TagTimeout
		}
		return TagConnectionFailed
	}
}
