package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "reach me at someone@example.org or +1 415 555 0100 thanks"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if !strings.Contains(got, "[REDACTED_EMAIL]") {
		t.Fatalf("email not redacted: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_PHONE]") {
		t.Fatalf("phone not redacted: %q", got)
	}
}

func TestRedactLongDigitRuns(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	got := Text("my card is 4111 1111 1111 1111 ok")
	if !strings.Contains(got, "[REDACTED_NUMBER]") {
		t.Fatalf("digit run not redacted: %q", got)
	}
}
