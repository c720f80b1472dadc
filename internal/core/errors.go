package core

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrConfig marks a client that cannot be constructed from its config.
	ErrConfig = errors.New("config")
	// ErrInvalid marks caller input or client state that failed validation.
	ErrInvalid = errors.New("invalid")
	// ErrNonce marks a nonce that could not be obtained.
	ErrNonce = errors.New("nonce")
	// ErrUnsupported marks an operation the active signer backend lacks.
	ErrUnsupported = errors.New("unsupported")
	// ErrNotInitialized marks a signer backend used before Initialize.
	ErrNotInitialized = errors.New("signer not initialized")
	// ErrTransactionFailed marks a transaction the ledger reported as failed.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrRejected marks a submission the venue answered with an error code.
	ErrRejected = errors.New("rejected")
	// ErrTimeout marks a confirmation wait that ran out of time.
	ErrTimeout = errors.New("timed out")
	// ErrNetwork marks transport failures (dial, read, non-2xx).
	ErrNetwork = errors.New("network")
	// ErrOutcomeUnknown marks a submission that reached the venue without an
	// answer. It may still land, so it must not be resent.
	ErrOutcomeUnknown = errors.New("outcome unknown")
)

// Transport kinds derived from HTTP status codes.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
)

type RetriableError interface {
	error
	IsRetriable() bool
}

func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfig, e.Err} }

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "invalid: " + e.Field + " " + e.Msg
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

type NonceError struct {
	AccountIndex int64
	APIKeyIndex  uint8
	Err          error
}

func (e *NonceError) Error() string {
	return fmt.Sprintf("nonce: account=%d api_key=%d: %v", e.AccountIndex, e.APIKeyIndex, e.Err)
}

func (e *NonceError) Unwrap() []error { return []error{ErrNonce, e.Err} }

func (e *NonceError) IsRetriable() bool { return IsRetriable(e.Err) }

type SignerCapabilityError struct {
	Op      string
	Backend string
}

func (e *SignerCapabilityError) Error() string {
	return "unsupported: " + e.Op + " is not supported with this signer (" + e.Backend + ")"
}

func (e *SignerCapabilityError) Unwrap() error { return ErrUnsupported }

// TransactionError carries the record of a transaction the ledger failed.
type TransactionError struct {
	Record TxRecord
}

func (e *TransactionError) Error() string {
	return "rejected: transaction " + e.Record.Hash + " failed at height " + strconv.FormatInt(e.Record.BlockHeight, 10)
}

func (e *TransactionError) Unwrap() error { return ErrTransactionFailed }

type TimeoutError struct {
	Hash   string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return "timed out: transaction " + e.Hash + " not final after " + e.Waited.String()
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// APIError is a non-2xx answer from the venue or the remote signer.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return "network: api error status=" + strconv.Itoa(e.Status) + " code=" + strconv.Itoa(e.Code) + ": " + e.Msg
}

func (e *APIError) Unwrap() []error {
	kinds := []error{ErrNetwork}
	if kind := StatusKind(e.Status); kind != nil {
		kinds = append(kinds, kind)
	}
	return kinds
}

func (e *APIError) IsRetriable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

func StatusKind(status int) error {
	switch {
	case status == http.StatusBadRequest:
		return ErrBadRequest
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return ErrServiceUnavailable
	}
	return nil
}

// RejectedError is a venue answer carrying a non-success code in its body.
type RejectedError struct {
	Code int
	Msg  string
}

func (e *RejectedError) Error() string {
	return "rejected: code=" + strconv.Itoa(e.Code) + ": " + e.Msg
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// NetworkError wraps dial/read/write failures below the HTTP status layer.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "network: " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

func (e *NetworkError) IsRetriable() bool { return !errors.Is(e.Err, ErrOutcomeUnknown) }

// Kind names the class of err for callers that branch on it.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrTimeout):
		return "timed out"
	case errors.Is(err, ErrTransactionFailed), errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrNonce):
		return "nonce"
	case errors.Is(err, ErrNetwork):
		return "network"
	}
	return "unknown"
}
