package email

import (
	"strings"
	"testing"

	"github.com/mymeta/agent/internal/config"
	"github.com/mymeta/agent/internal/tools"
)

func TestComposeMessageStructure(t *testing.T) {
	msg, err := ComposeMessage(ComposeOptions{
		From:    "Agent <agent@example.com>",
		To:      []string{"alice@example.com"},
		Cc:      []string{"bob@example.com"},
		Subject: "Weekly update",
		Body:    "# Summary\n\nAll **done**.",
	})
	if err != nil {
		t.Fatalf("ComposeMessage() = %v", err)
	}

	s := string(msg)
	for _, want := range []string{
		"agent@example.com",
		"alice@example.com",
		"bob@example.com",
		"Subject: Weekly update",
		"multipart/alternative",
		"text/plain",
		"text/html",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q", want)
		}
	}

	if !strings.Contains(strings.ToLower(s), "message-id") {
		t.Error("message missing Message-ID header")
	}

	// HTML part renders markdown; plain part strips it.
	if !strings.Contains(s, "<h1>Summary</h1>") {
		t.Error("html part missing rendered heading")
	}
	if !strings.Contains(s, "<strong>done</strong>") {
		t.Error("html part missing rendered bold")
	}
}

func TestComposeMessageRejectsBadAddress(t *testing.T) {
	_, err := ComposeMessage(ComposeOptions{
		From:    "not-an-address",
		To:      []string{"alice@example.com"},
		Subject: "x",
		Body:    "y",
	})
	if err == nil {
		t.Fatal("ComposeMessage() with bad From succeeded, want error")
	}
}

func TestMarkdownToPlain(t *testing.T) {
	got := markdownToPlain("# Title\n\nSee [docs](https://example.com) and `code`.\n\n- **bold** item")
	for _, want := range []string{"Title", "docs (https://example.com)", "code", "- bold item"} {
		if !strings.Contains(got, want) {
			t.Errorf("plain text missing %q:\n%s", want, got)
		}
	}
	for _, banned := range []string{"#", "**", "`", "]("} {
		if strings.Contains(got, banned) {
			t.Errorf("plain text leaked %q:\n%s", banned, got)
		}
	}
}

func TestRecipientsDeduplicates(t *testing.T) {
	got := Recipients(
		[]string{"Alice <alice@example.com>", "bob@example.com"},
		[]string{"alice@example.com", "carol@example.com"},
	)
	want := []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	if len(got) != len(want) {
		t.Fatalf("Recipients() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Recipients()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestManagerToolsFollowConfiguration(t *testing.T) {
	m := NewManager(config.EmailConfig{}, nil)
	if got := m.Tools(); len(got) != 0 {
		t.Errorf("unconfigured manager exposes %d tools, want 0", len(got))
	}

	m = NewManager(config.EmailConfig{
		SMTP: config.SMTPConfig{Host: "smtp.example.com", From: "a@example.com"},
	}, nil)
	got := m.Tools()
	if len(got) != 1 || got[0].Name != "send_mail" {
		t.Errorf("SMTP-only manager tools = %v", toolNames(got))
	}

	m = NewManager(config.EmailConfig{
		SMTP: config.SMTPConfig{Host: "smtp.example.com", From: "a@example.com"},
		IMAP: config.IMAPConfig{Host: "imap.example.com"},
	}, nil)
	if got := m.Tools(); len(got) != 2 {
		t.Errorf("full manager tools = %v", toolNames(got))
	}
}

func toolNames(ts []tools.Tool) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return names
}
