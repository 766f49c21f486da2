package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestParseUserID(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{raw: "bob", ok: true},
		{raw: "alice_01", ok: true},
		{raw: "desk-top_A9", ok: true},
		{raw: strings.Repeat("a", 50), ok: true},
		{raw: "", ok: false},
		{raw: "ab", ok: false},
		{raw: strings.Repeat("a", 51), ok: false},
		{raw: "has space", ok: false},
		{raw: "dot.ted", ok: false},
		{raw: "ünïcode", ok: false},
		{raw: "semi;colon", ok: false},
	}
	for _, tt := range tests {
		got, err := ParseUserID(tt.raw)
		if tt.ok {
			if err != nil {
				t.Fatalf("ParseUserID(%q) err=%v, want nil", tt.raw, err)
			}
			if got.String() != tt.raw {
				t.Fatalf("ParseUserID(%q)=%q, want %q", tt.raw, got, tt.raw)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidIdentity) {
			t.Fatalf("ParseUserID(%q) err=%v, want ErrInvalidIdentity", tt.raw, err)
		}
	}
}

func TestParseConnectionID(t *testing.T) {
	if _, err := ParseConnectionID("short"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("short id err=%v, want ErrInvalidIdentity", err)
	}
	if _, err := ParseConnectionID("          "); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("blank id err=%v, want ErrInvalidIdentity", err)
	}
	got, err := ParseConnectionID("conn-000001")
	if err != nil {
		t.Fatalf("ParseConnectionID: %v", err)
	}
	if got != ConnectionID("conn-000001") {
		t.Fatalf("got %q", got)
	}
}

func TestNewConnectionIDIsValid(t *testing.T) {
	a := NewConnectionID()
	b := NewConnectionID()
	if a == b {
		t.Fatalf("NewConnectionID returned duplicate %q", a)
	}
	if _, err := ParseConnectionID(a.String()); err != nil {
		t.Fatalf("generated id %q does not parse: %v", a, err)
	}
}

func TestViewerPlaceholder(t *testing.T) {
	if !UserID("viewer_123").IsViewerPlaceholder() {
		t.Fatalf("viewer_123 should be a placeholder")
	}
	if UserID("alice").IsViewerPlaceholder() {
		t.Fatalf("alice should not be a placeholder")
	}
}

func TestSynthesizeUserID(t *testing.T) {
	tests := []struct {
		client, group string
		want          string
	}{
		{client: "pc01", group: "lab", want: "lab_pc01"},
		{client: "pc01", group: "", want: "pc01"},
		{client: "host.example.com", group: "ops team", want: "ops_team_host_example_com"},
		{client: strings.Repeat("x", 60), group: "g", want: "g_" + strings.Repeat("x", 48)},
	}
	for _, tt := range tests {
		got, err := SynthesizeUserID(tt.client, tt.group)
		if err != nil {
			t.Fatalf("SynthesizeUserID(%q, %q): %v", tt.client, tt.group, err)
		}
		if got.String() != tt.want {
			t.Fatalf("SynthesizeUserID(%q, %q)=%q, want %q", tt.client, tt.group, got, tt.want)
		}
	}

	if _, err := SynthesizeUserID("...", ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("err=%v, want ErrInvalidIdentity", err)
	}
	if _, err := SynthesizeUserID("a", ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("too short err=%v, want ErrInvalidIdentity", err)
	}
}
