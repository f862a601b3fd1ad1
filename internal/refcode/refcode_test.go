package refcode

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateShape(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	code, err := Generate("sp", "TXN-20250314-0001", now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != Length {
		t.Fatalf("expected %d chars, got %d (%s)", Length, len(code), code)
	}
	if !strings.HasPrefix(code, "SP") {
		t.Fatalf("expected SP prefix, got %s", code)
	}
	if code != strings.ToUpper(code) {
		t.Fatalf("expected uppercase code, got %s", code)
	}
}

func TestGenerateRejectsBadPrefix(t *testing.T) {
	now := time.Now().UTC()
	for _, prefix := range []string{"", "S", "SPX", "1A", "s-"} {
		if _, err := Generate(prefix, "TXN-1", now); err == nil {
			t.Fatalf("expected error for prefix %q", prefix)
		}
	}
}

func TestGenerateStablePerTransaction(t *testing.T) {
	now := time.Now().UTC()
	a, err := Generate("SP", "TXN-A", now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := Generate("SP", "TXN-A", now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a != b {
		t.Fatalf("same input produced different codes: %s vs %s", a, b)
	}
	c, err := Generate("SP", "TXN-B", now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == c {
		t.Fatalf("different transactions produced identical codes: %s", a)
	}
}

func TestExtractRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	code, err := Generate("SP", "TXN-42", now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	surroundings := []string{
		code,
		"TT " + code + " other text",
		"chuyen khoan" + code,
		code + "GD 12345",
		"ma don: " + strings.ToLower(code) + ".",
	}
	for _, text := range surroundings {
		got, ok := Extract("SP", text)
		if !ok {
			t.Fatalf("expected match in %q", text)
		}
		if got != code {
			t.Fatalf("expected %s, got %s from %q", code, got, text)
		}
	}
}

func TestExtractNoMatch(t *testing.T) {
	cases := []string{
		"",
		"no code here",
		"SP12345",                 // truncated below full length
		"SP12345ZABCD1234 filler", // letter inside digit block
		"XXSP",                    // prefix at tail, nothing after
	}
	for _, text := range cases {
		if got, ok := Extract("SP", text); ok {
			t.Fatalf("expected no match in %q, got %s", text, got)
		}
	}
}

func TestExtractSkipsFalsePrefix(t *testing.T) {
	now := time.Now().UTC()
	code, err := Generate("SP", "TXN-77", now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// A bare "SP" earlier in the memo must not shadow the real code.
	text := "SPEED TRANSFER " + code
	got, ok := Extract("SP", text)
	if !ok || got != code {
		t.Fatalf("expected %s, got %s (ok=%v)", code, got, ok)
	}
}

func TestExtractExampleScenario(t *testing.T) {
	got, ok := Extract("SP", "TT SP123456ABCD1234 other text")
	if !ok {
		t.Fatalf("expected match")
	}
	if got != "SP123456ABCD1234" {
		t.Fatalf("expected SP123456ABCD1234, got %s", got)
	}
}
