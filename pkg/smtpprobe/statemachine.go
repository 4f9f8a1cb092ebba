package smtpprobe

import (
	"fmt"
	"strconv"
	"strings"
)

// The dialogue is modelled as an explicit machine: each step consumes one
// complete server response and yields the next command, so the transition
// table can be unit-tested without sockets.
//
//	connect -> banner(220) -> helo(250) -> mailFrom(250) -> rcpt -> done
type dialogueState int

const (
	stateBanner dialogueState = iota
	stateHelo
	stateMailFrom
	stateRcpt
	stateDone
)

// machine drives one HELO/MAIL/RCPT dialogue.
type machine struct {
	state    dialogueState
	helo     string
	mailFrom string
	rcptTo   string
	verdict  Verdict
}

func newMachine(helo, mailFrom, rcptTo string) *machine {
	return &machine{state: stateBanner, helo: helo, mailFrom: mailFrom, rcptTo: rcptTo}
}

// response is one parsed server reply.
type response struct {
	code int
	text string
}

// parseResponse validates and splits a complete reply line.
func parseResponse(line string) (response, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 3 {
		return response{}, fmt.Errorf("short response %q", line)
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return response{}, fmt.Errorf("malformed response code in %q", line)
	}
	text := ""
	if len(line) > 4 {
		text = line[4:]
	}
	return response{code: code, text: text}, nil
}

// step consumes one server response and returns the command to send next.
// An empty command with done=true means the dialogue reached a terminal
// decision; the verdict is in m.verdict.
func (m *machine) step(resp response) (cmd string, done bool) {
	switch m.state {
	case stateBanner:
		if resp.code != 220 {
			m.fail(classifyRefusal(resp))
			return "", true
		}
		m.state = stateHelo
		return "HELO " + m.helo, false

	case stateHelo:
		if resp.code != 250 {
			m.fail(classifyRefusal(resp))
			return "", true
		}
		m.state = stateMailFrom
		return "MAIL FROM:<" + m.mailFrom + ">", false

	case stateMailFrom:
		if resp.code != 250 {
			m.fail(classifyRefusal(resp))
			return "", true
		}
		m.state = stateRcpt
		return "RCPT TO:<" + m.rcptTo + ">", false

	case stateRcpt:
		m.state = stateDone
		switch {
		case resp.code == 250:
			m.verdict = Verdict{Outcome: Accept, Code: resp.code, Message: resp.text}
		case resp.code == 550 || resp.code == 553:
			m.verdict = Verdict{
				Outcome: Reject,
				Code:    resp.code,
				Message: resp.text,
				Tag:     TagAddressRejected,
			}
		default:
			m.verdict = Verdict{
				Outcome: Inconclusive,
				Code:    resp.code,
				Message: resp.text,
				Tag:     classifyTempText(resp),
			}
		}
		return "", true
	}
	return "", true
}

// fail records an inconclusive verdict for a refusal before RCPT.
func (m *machine) fail(tag string) {
	m.state = stateDone
	m.verdict = Verdict{Outcome: Inconclusive, Tag: tag}
}

// classifyRefusal tags a non-expected reply seen before the RCPT stage.
func classifyRefusal(resp response) string {
	lower := strings.ToLower(resp.text)
	switch {
	case strings.Contains(lower, "block") || strings.Contains(lower, "denied") ||
		strings.Contains(lower, "spamhaus") || strings.Contains(lower, "blacklist"):
		return TagBlockedByServer
	case resp.code >= 400 && resp.code < 500:
		return TagGreylisted
	default:
		return TagUnexpectedResponse
	}
}

// classifyTempText inspects a 4xx RCPT reply for the common soft-failure
// patterns; mailbox state heuristics feed the mailbox-check detail.
func classifyTempText(resp response) string {
	lower := strings.ToLower(resp.text)
	switch {
	case strings.Contains(lower, "mailbox full") || strings.Contains(lower, "quota"):
		return TagMailboxFull
	case strings.Contains(lower, "grey") || strings.Contains(lower, "gray") ||
		strings.Contains(lower, "try again") || strings.Contains(lower, "later"):
		return TagGreylisted
	default:
		return TagUnexpectedResponse
	}
}
