package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/specialjp/lighter-ts-sub000/internal/config"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

func TestParseSide(t *testing.T) {
	tests := map[string]core.Side{"buy": core.Bid, "LONG": core.Bid, "sell": core.Ask, " ask ": core.Ask}
	for in, want := range tests {
		got, err := parseSide(in)
		if err != nil || got != want {
			t.Fatalf("parseSide(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := parseSide("up"); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("parseSide(up) error = %v, want invalid", err)
	}
}

func TestParseTimeInForceSharesWireValue(t *testing.T) {
	fok, err := parseTimeInForce("fok")
	if err != nil {
		t.Fatalf("parseTimeInForce(fok) error = %v", err)
	}
	postOnly, err := parseTimeInForce("post-only")
	if err != nil {
		t.Fatalf("parseTimeInForce(post-only) error = %v", err)
	}
	if fok != 2 || postOnly != 2 {
		t.Fatalf("fok/post-only = %d/%d, want 2/2", fok, postOnly)
	}
}

func TestParseCancelAllTIFAndMargin(t *testing.T) {
	if got, err := parseCancelAllTIF("scheduled"); err != nil || got != core.CancelAllScheduled {
		t.Fatalf("parseCancelAllTIF(scheduled) = %v, %v", got, err)
	}
	if _, err := parseCancelAllTIF("later"); err == nil {
		t.Fatalf("parseCancelAllTIF(later) error = nil, want error")
	}
	if got, err := parseMarginMode("isolated"); err != nil || got != core.MarginIsolated {
		t.Fatalf("parseMarginMode(isolated) = %v, %v", got, err)
	}
}

func TestMarketRange(t *testing.T) {
	if _, err := market(256); err == nil {
		t.Fatalf("market(256) error = nil, want error")
	}
	if got, err := market(255); err != nil || got != 255 {
		t.Fatalf("market(255) = %d, %v", got, err)
	}
}

func TestNonceOption(t *testing.T) {
	if nonceOption(-1).IsPresent() {
		t.Fatalf("nonceOption(-1) present, want none")
	}
	if v, ok := nonceOption(0).Get(); !ok || v != 0 {
		t.Fatalf("nonceOption(0) = %d, %v, want 0, true", v, ok)
	}
}

func TestPrinterWithoutColour(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	p.pass("order", "tx=create_order nonce=7")
	p.fail("transfer", &core.SignerCapabilityError{Op: "transfer", Backend: "local"})

	out := buf.String()
	if !strings.Contains(out, "[PASS] order - tx=create_order nonce=7") {
		t.Fatalf("output = %q, want plain PASS line", out)
	}
	if !strings.Contains(out, "[FAIL] transfer (unsupported)") {
		t.Fatalf("output = %q, want FAIL line with kind", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("output = %q, want no escape codes", out)
	}
}

func TestJournalPathPerKey(t *testing.T) {
	cfg := config.Config{State: config.StateConfig{Dir: "state/"}, Signer: config.SignerConfig{AccountIndex: 42, APIKeyIndex: 3}}
	if got := journalPath(cfg); got != "state/journal-42-3.db" {
		t.Fatalf("journalPath() = %q", got)
	}
}

func TestEveryCommandHasHelp(t *testing.T) {
	for _, name := range commandNames() {
		if commands[name].help == "" || commands[name].run == nil {
			t.Fatalf("command %q is incomplete", name)
		}
	}
}

func TestBuildAlertManagerDisabled(t *testing.T) {
	if m := buildAlertManager(config.Config{}, nil); m != nil {
		t.Fatalf("buildAlertManager(disabled) = %v, want nil", m)
	}
}
