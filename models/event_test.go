package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize_TruncatesToLimit(t *testing.T) {
	in := PageViewInput{
		SessionID: "s1",
		Path:      "/" + strings.Repeat("x", 600),
		UserAgent: strings.Repeat("a", 700),
	}
	in.Sanitize()

	if len(in.Path) != MaxPathLen {
		t.Fatalf("expected path cut to %d bytes, got %d", MaxPathLen, len(in.Path))
	}
	if len(in.UserAgent) != MaxUserAgentLen {
		t.Fatalf("expected user agent cut to %d bytes, got %d", MaxUserAgentLen, len(in.UserAgent))
	}
}

func TestSanitize_KeepsShortFields(t *testing.T) {
	in := PageViewInput{SessionID: "s1", Path: "/about-us", Referrer: "https://search.example"}
	in.Sanitize()

	if in.Path != "/about-us" || in.Referrer != "https://search.example" {
		t.Fatalf("short fields must pass through unchanged: %+v", in)
	}
}

func TestSanitize_CutNeverSplitsARune(t *testing.T) {
	// 499 ASCII bytes followed by a two-byte rune puts the byte limit in the
	// middle of the sequence.
	in := PageViewInput{
		SessionID: "s1",
		Path:      "/",
		UserAgent: strings.Repeat("a", MaxUserAgentLen-1) + "é",
		Referrer:  strings.Repeat("r", MaxReferrerLen-1) + "é",
	}
	in.Sanitize()

	if !utf8.ValidString(in.UserAgent) {
		t.Fatalf("user agent is invalid UTF-8 after truncation (len=%d)", len(in.UserAgent))
	}
	if !utf8.ValidString(in.Referrer) {
		t.Fatalf("referrer is invalid UTF-8 after truncation (len=%d)", len(in.Referrer))
	}
	if len(in.UserAgent) != MaxUserAgentLen-1 {
		t.Fatalf("expected cut to back off to the rune boundary, got len=%d", len(in.UserAgent))
	}
}

func TestSanitize_MultiByteHeavyField(t *testing.T) {
	in := SystemMetricInput{
		Path:   "/api",
		Method: "GET",
		Error:  strings.Repeat("é", 400), // 800 bytes
	}
	in.Sanitize()

	if !utf8.ValidString(in.Error) {
		t.Fatalf("error field is invalid UTF-8 after truncation")
	}
	if len(in.Error) > MaxUserAgentLen {
		t.Fatalf("error field exceeds limit: %d bytes", len(in.Error))
	}
}
