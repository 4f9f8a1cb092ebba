package smtpprobe

import "testing"

// run feeds canned responses through the machine and returns the final
// verdict plus the commands that would have been sent.
func run(t *testing.T, responses ...string) (Verdict, []string) {
	t.Helper()
	m := newMachine("probe.test", "verify@probe.test", "user@example.com")

	var cmds []string
	for _, raw := range responses {
		resp, err := parseResponse(raw)
		if err != nil {
			t.Fatalf("parseResponse(%q): %v", raw, err)
		}
		cmd, done := m.step(resp)
		if done {
			return m.verdict, cmds
		}
		cmds = append(cmds, cmd)
	}
	t.Fatal("dialogue did not terminate")
	return Verdict{}, nil
}

func TestDialogueAccept(t *testing.T) {
	v, cmds := run(t,
		"220 mx.example.com ESMTP",
		"250 Hello",
		"250 Sender OK",
		"250 Recipient OK",
	)

	if v.Outcome != Accept {
		t.Errorf("outcome = %v, want Accept", v.Outcome)
	}
	want := []string{
		"HELO probe.test",
		"MAIL FROM:<verify@probe.test>",
		"RCPT TO:<user@example.com>",
	}
	if len(cmds) != len(want) {
		t.Fatalf("cmds = %v, want %v", cmds, want)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("cmds[%d] = %q, want %q", i, cmds[i], want[i])
		}
	}
}

func TestDialogueReject550(t *testing.T) {
	v, _ := run(t,
		"220 mx.example.com ESMTP",
		"250 Hello",
		"250 Sender OK",
		"550 No such user",
	)

	if v.Outcome != Reject {
		t.Errorf("outcome = %v, want Reject", v.Outcome)
	}
	if v.Tag != TagAddressRejected {
		t.Errorf("tag = %q, want %q", v.Tag, TagAddressRejected)
	}
	if v.Code != 550 {
		t.Errorf("code = %d, want 550", v.Code)
	}
}

func TestDialogueReject553(t *testing.T) {
	v, _ := run(t,
		"220 banner",
		"250 ok",
		"250 ok",
		"553 Mailbox name invalid",
	)
	if v.Outcome != Reject || v.Code != 553 {
		t.Errorf("verdict = %+v, want Reject/553", v)
	}
}

func TestDialogueGreylisted(t *testing.T) {
	v, _ := run(t,
		"220 banner",
		"250 ok",
		"250 ok",
		"451 Greylisted, try again later",
	)
	if v.Outcome != Inconclusive {
		t.Errorf("outcome = %v, want Inconclusive", v.Outcome)
	}
	if v.Tag != TagGreylisted {
		t.Errorf("tag = %q, want %q", v.Tag, TagGreylisted)
	}
}

func TestDialogueMailboxFull(t *testing.T) {
	v, _ := run(t,
		"220 banner",
		"250 ok",
		"250 ok",
		"452 Mailbox full",
	)
	if v.Tag != TagMailboxFull {
		t.Errorf("tag = %q, want %q", v.Tag, TagMailboxFull)
	}
}

func TestDialogueBadBanner(t *testing.T) {
	v, _ := run(t, "554 Service unavailable; blocked by policy")
	if v.Outcome != Inconclusive {
		t.Errorf("outcome = %v, want Inconclusive", v.Outcome)
	}
	if v.Tag != TagBlockedByServer {
		t.Errorf("tag = %q, want %q", v.Tag, TagBlockedByServer)
	}
}

func TestDialogueHeloRefused(t *testing.T) {
	v, _ := run(t,
		"220 banner",
		"421 Too many connections, closing",
	)
	if v.Outcome != Inconclusive || v.Tag != TagGreylisted {
		t.Errorf("verdict = %+v, want Inconclusive/greylisted", v)
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		line    string
		code    int
		text    string
		wantErr bool
	}{
		{"250 OK\r\n", 250, "OK", false},
		{"550 No such user", 550, "No such user", false},
		{"220\r\n", 220, "", false},
		{"xx garbage", 0, "", true},
		{"2", 0, "", true},
	}
	for _, tc := range cases {
		resp, err := parseResponse(tc.line)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseResponse(%q): expected error", tc.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseResponse(%q): %v", tc.line, err)
			continue
		}
		if resp.code != tc.code || resp.text != tc.text {
			t.Errorf("parseResponse(%q) = %d %q, want %d %q", tc.line, resp.code, resp.text, tc.code, tc.text)
		}
	}
}
