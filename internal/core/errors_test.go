package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKind(t *testing.T) {
	dial := errors.New("connection refused")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unsupported", &SignerCapabilityError{Op: "Withdraw", Backend: "local"}, "unsupported"},
		{"timeout", &TimeoutError{Hash: "0x1", Waited: time.Second}, "timed out"},
		{"tx failed", &TransactionError{Record: TxRecord{Hash: "0x1"}}, "rejected"},
		{"rejected", &RejectedError{Code: 21120, Msg: "invalid nonce"}, "rejected"},
		{"config", &ConfigError{Field: "signer", Err: errors.New("missing")}, "config"},
		{"invalid", Invalid("base_amount", "must be > 0"), "invalid"},
		{"nonce", &NonceError{AccountIndex: 1, Err: dial}, "nonce"},
		{"network", &NetworkError{Op: "dial", Err: dial}, "network"},
		{"api", &APIError{Status: 500}, "network"},
		{"wrapped", fmt.Errorf("send: %w", &RejectedError{Code: 1}), "rejected"},
		{"other", errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Fatalf("%s: Kind() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      error
		retriable bool
	}{
		{400, ErrBadRequest, false},
		{401, ErrUnauthorized, false},
		{404, ErrNotFound, false},
		{429, ErrRateLimited, true},
		{502, ErrServiceUnavailable, true},
		{500, ErrNetwork, true},
	}
	for _, tt := range tests {
		err := &APIError{Status: tt.status, Msg: "x"}
		if !errors.Is(err, tt.kind) || !errors.Is(err, ErrNetwork) {
			t.Fatalf("APIError{%d} does not match %v", tt.status, tt.kind)
		}
		if got := IsRetriable(err); got != tt.retriable {
			t.Fatalf("IsRetriable(APIError{%d}) = %v, want %v", tt.status, got, tt.retriable)
		}
	}
}

func TestNonceErrorKeepsCauseRetriability(t *testing.T) {
	err := &NonceError{AccountIndex: 1, APIKeyIndex: 2, Err: &NetworkError{Op: "get", Err: errors.New("reset")}}
	if !IsRetriable(err) {
		t.Fatalf("IsRetriable(NonceError{network}) = false, want true")
	}
	err = &NonceError{Err: &APIError{Status: 400}}
	if IsRetriable(err) {
		t.Fatalf("IsRetriable(NonceError{400}) = true, want false")
	}
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("NonceError does not unwrap to its cause")
	}
}

func TestRejectionsAreNotRetriable(t *testing.T) {
	if IsRetriable(&RejectedError{Code: 1}) {
		t.Fatalf("IsRetriable(RejectedError) = true, want false")
	}
	if IsRetriable(&SignerCapabilityError{Op: "x"}) {
		t.Fatalf("IsRetriable(SignerCapabilityError) = true, want false")
	}
}
