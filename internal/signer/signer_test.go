package signer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/samber/mo"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testAcct = tx.Account{AccountIndex: 11, APIKeyIndex: 4}

func writeBundle(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signer.yaml")
	if err := os.WriteFile(path, []byte("chain_id: 304\nversion: v1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func newLocal(t *testing.T) *LocalSigner {
	t.Helper()
	s := NewLocalSigner(writeBundle(t), testKeyHex, nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return s
}

func TestLocalSignerNotInitialized(t *testing.T) {
	s := NewLocalSigner(writeBundle(t), testKeyHex, nil)
	order := tx.CancelOrder{Account: testAcct, MarketIndex: 1, OrderIndex: 5, Nonce: 1}
	if _, err := s.SignCancelOrder(context.Background(), order); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("SignCancelOrder() before Initialize error = %v, want ErrNotInitialized", err)
	}
	if s.Ready() {
		t.Fatalf("Ready() = true before Initialize")
	}
}

func TestLocalSignerInitializeIsIdempotent(t *testing.T) {
	s := newLocal(t)
	for i := 0; i < 3; i++ {
		if err := s.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize() #%d error = %v", i, err)
		}
	}
	if !s.Ready() {
		t.Fatalf("Ready() = false after Initialize")
	}
}

func TestLocalSignerBadBundleIsConfigError(t *testing.T) {
	s := NewLocalSigner(filepath.Join(t.TempDir(), "missing.yaml"), testKeyHex, nil)
	if err := s.Initialize(context.Background()); !errors.Is(err, core.ErrConfig) {
		t.Fatalf("Initialize(missing bundle) error = %v, want ErrConfig", err)
	}
}

func TestLocalSignerSignatureRecovers(t *testing.T) {
	s := newLocal(t)
	order := tx.CancelOrder{Account: testAcct, MarketIndex: 1, OrderIndex: 5, Nonce: 9}
	signed, err := Sign(context.Background(), s, order)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	var payload struct {
		Sig string
	}
	if err := json.Unmarshal([]byte(signed), &payload); err != nil {
		t.Fatalf("signed payload not json: %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(payload.Sig)
	if err != nil {
		t.Fatalf("Sig not base64: %v", err)
	}
	canonical, _ := tx.Canonical(order)
	pub, err := crypto.SigToPub(Digest(304, core.TxTypeCancelOrder, canonical), sig)
	if err != nil {
		t.Fatalf("SigToPub() error = %v", err)
	}
	key, _ := ParsePrivateKey(testKeyHex)
	if crypto.PubkeyToAddress(*pub) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("recovered signer does not match key")
	}
}

func TestLocalSignerCapabilities(t *testing.T) {
	s := newLocal(t)
	for _, txType := range []core.TxType{core.TxTypeCreateOrder, core.TxTypeCancelOrder, core.TxTypeCancelAllOrders, core.TxTypeTransfer, core.TxTypeUpdateLeverage} {
		if err := Require(s, txType); err != nil {
			t.Fatalf("Require(%s) error = %v, want nil", txType, err)
		}
	}
	for _, txType := range []core.TxType{core.TxTypeWithdraw, core.TxTypeCreateSubAccount, core.TxTypeModifyOrder, core.TxTypeChangePubKey} {
		err := Require(s, txType)
		var capErr *core.SignerCapabilityError
		if !errors.As(err, &capErr) {
			t.Fatalf("Require(%s) error = %v, want SignerCapabilityError", txType, err)
		}
		if !strings.HasPrefix(err.Error(), "unsupported: ") {
			t.Fatalf("Require(%s) message = %q, want unsupported prefix", txType, err.Error())
		}
	}
	if _, err := Sign(context.Background(), s, tx.Withdraw{Account: testAcct, Amount: 1}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("Sign(withdraw) error = %v, want ErrUnsupported", err)
	}
}

func TestLocalSignerAuthToken(t *testing.T) {
	s := newLocal(t)
	deadline := time.Unix(1700000600, 0)
	token, err := CreateAuthToken(context.Background(), s, testAcct, deadline)
	if err != nil {
		t.Fatalf("CreateAuthToken() error = %v", err)
	}
	parts := strings.Split(token, ":")
	if len(parts) != 4 || parts[0] != "1700000600" || parts[1] != "11" || parts[2] != "4" {
		t.Fatalf("CreateAuthToken() = %q, want deadline:account:key:sig", token)
	}
	if _, err := hex.DecodeString(parts[3]); err != nil {
		t.Fatalf("token signature not hex: %v", err)
	}
}

func TestLocalSignerGenerateAPIKeyDeterministic(t *testing.T) {
	s := NewLocalSigner("", "", nil)
	a, err := s.GenerateAPIKey(context.Background(), mo.Some("seed-1"))
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	b, _ := s.GenerateAPIKey(context.Background(), mo.Some("seed-1"))
	if a != b {
		t.Fatalf("GenerateAPIKey(same seed) = %+v and %+v, want equal", a, b)
	}
	c, _ := s.GenerateAPIKey(context.Background(), mo.None[string]())
	if c == a {
		t.Fatalf("GenerateAPIKey(no seed) returned the seeded key")
	}
	if !strings.HasPrefix(a.PublicKey, "0x") || len(a.PublicKey) != 2+66 {
		t.Fatalf("PublicKey = %q, want 0x + 33 byte compressed key", a.PublicKey)
	}
}

func TestParsePrivateKeyFormats(t *testing.T) {
	key, err := ParsePrivateKey(testKeyHex)
	if err != nil {
		t.Fatalf("ParsePrivateKey(hex) error = %v", err)
	}
	b64 := base64.StdEncoding.EncodeToString(crypto.FromECDSA(key))
	if _, err := ParsePrivateKey(b64); err != nil {
		t.Fatalf("ParsePrivateKey(base64) error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte(testKeyHex[2:]+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadPrivateKey(path); err != nil {
		t.Fatalf("LoadPrivateKey() error = %v", err)
	}
	if _, err := ParsePrivateKey("not-a-key"); err == nil {
		t.Fatalf("ParsePrivateKey(invalid) error = nil, want non-nil")
	}
}

func TestRemoteSigner(t *testing.T) {
	var signCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/health":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/sign/15":
			signCalls.Add(1)
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("sign body not json: %v", err)
			}
			_ = json.NewEncoder(w).Encode(SignResponse{TxInfo: `{"signed":true}`})
		case r.URL.Path == "/v1/sign/13":
			w.WriteHeader(http.StatusNotImplemented)
		case r.URL.Path == "/v1/sign/12":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "overloaded"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewRemoteSigner(RemoteOptions{BaseURL: srv.URL + "/"})
	ctx := context.Background()
	cancel := tx.CancelOrder{Account: testAcct, MarketIndex: 1, OrderIndex: 5, Nonce: 1}
	if _, err := s.SignCancelOrder(ctx, cancel); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("SignCancelOrder() before Initialize error = %v, want ErrNotInitialized", err)
	}
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	got, err := Sign(ctx, s, cancel)
	if err != nil {
		t.Fatalf("Sign(cancel) error = %v", err)
	}
	if got != `{"signed":true}` || signCalls.Load() != 1 {
		t.Fatalf("Sign(cancel) = %q (calls %d), want remote tx_info", got, signCalls.Load())
	}

	_, err = Sign(ctx, s, tx.Withdraw{Account: testAcct, Amount: 5, Nonce: 2})
	var capErr *core.SignerCapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Sign(withdraw) error = %v, want SignerCapabilityError", err)
	}

	_, err = Sign(ctx, s, tx.Transfer{Account: testAcct, ToAccountIndex: 1, Amount: 5, Nonce: 3})
	if !errors.Is(err, core.ErrServiceUnavailable) || !core.IsRetriable(err) {
		t.Fatalf("Sign(transfer) error = %v, want retriable service unavailable", err)
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("Sign(transfer) error = %v, want server message", err)
	}
}
