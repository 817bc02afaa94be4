package postman

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatSubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello", "Re: Hello"},
		{"Re: Hello", "Re: Hello"},
		{"RE: Hello", "RE: Hello"},
		{"re: hello", "re: hello"},
		{"Re:Hello", "Re: Re:Hello"},
		{"", "Re: "},
	}
	for _, tt := range tests {
		if got := FormatSubject(tt.in); got != tt.want {
			t.Errorf("FormatSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBody(t *testing.T) {
	t.Run("quotes every line", func(t *testing.T) {
		got := FormatBody("alice", "Hi\r\n\r\nthere\n")
		want := "\n\nalice wrote:\n> Hi\n> \n> there\n"
		if got != want {
			t.Errorf("FormatBody() = %q, want %q", got, want)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if got := FormatBody("bob", ""); got != "\n\nbob wrote:\n\n" {
			t.Errorf("FormatBody() = %q", got)
		}
	})

	t.Run("wraps long lines", func(t *testing.T) {
		body := strings.TrimSpace(strings.Repeat("lorem ipsum ", 20))
		got := FormatBody("alice", body)
		lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")[3:]
		if len(lines) < 2 {
			t.Fatalf("expected wrapped lines, got %q", lines)
		}
		var words []string
		for _, l := range lines {
			if !strings.HasPrefix(l, QuoteIndent) {
				t.Errorf("line %q lacks the quote indent", l)
			}
			if n := utf8.RuneCountInString(l); n > WrapWidth {
				t.Errorf("line %q has %d runes", l, n)
			}
			words = append(words, strings.Fields(strings.TrimPrefix(l, QuoteIndent))...)
		}
		if strings.Join(words, " ") != body {
			t.Error("wrapping must keep every word in order")
		}
	})

	t.Run("splits long words", func(t *testing.T) {
		got := wrapLine(strings.Repeat("x", 60), QuoteIndent, WrapWidth)
		want := []string{QuoteIndent + strings.Repeat("x", 53), QuoteIndent + strings.Repeat("x", 7)}
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("wrapLine() = %q, want %q", got, want)
		}
	})
}

func TestObfuscateEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"visitor@example.com", "v***@example.com"},
		{"élise@example.fr", "é***@example.fr"},
		{"@example.com", "@example.com"},
		{"nobody", "nobody"},
	}
	for _, tt := range tests {
		if got := obfuscateEmail(tt.in); got != tt.want {
			t.Errorf("obfuscateEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteReply(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	bob := svc.Client("2")

	m := mustCompose(t, svc.Client("1"), "Hi", "Hello bob", "bob").Messages[0]

	q, err := bob.QuoteReply(ctx, m.ID)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if q.Subject != "Re: Hi" {
		t.Errorf("unexpected subject %q", q.Subject)
	}
	if q.Body != FormatBody("alice", "Hello bob") {
		t.Errorf("unexpected body %q", q.Body)
	}

	v, err := svc.ComposeAsVisitor(ctx, "visitor@example.com", ComposeRequest{
		Subject:    "Question",
		Body:       "Open on Sunday?",
		Recipients: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("visitor compose failed: %v", err)
	}
	q, err = bob.QuoteReply(ctx, v.Messages[0].ID)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !strings.Contains(q.Body, "v***@example.com wrote:") {
		t.Errorf("visitor address should be hidden: %q", q.Body)
	}

	if _, err := svc.Client("3").QuoteReply(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
