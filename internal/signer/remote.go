package signer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/mo"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

const RemoteBackendName = "remote"

// Wire shapes shared with the signing service.
type (
	SignResponse struct {
		TxInfo string `json:"tx_info"`
	}
	AuthTokenRequest struct {
		AccountIndex int64 `json:"account_index"`
		APIKeyIndex  uint8 `json:"api_key_index"`
		Deadline     int64 `json:"deadline"`
	}
	AuthTokenResponse struct {
		Token string `json:"token"`
	}
	APIKeyRequest struct {
		Seed *string `json:"seed,omitempty"`
	}
	ErrorResponse struct {
		Error string `json:"error"`
	}
)

type RemoteOptions struct {
	BaseURL        string
	// AuthToken is sent as a bearer token when the service requires one.
	AuthToken      string
	HTTPTimeoutSec int64
	Logger         *slog.Logger
}

// RemoteSigner delegates to a signing service holding the key. It exposes
// every capability; operations the service lacks come back as 501 and are
// reported as capability errors.
type RemoteSigner struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	ready bool
}

func NewRemoteSigner(opts RemoteOptions) *RemoteSigner {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteSigner{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		authToken:  opts.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (s *RemoteSigner) Name() string { return RemoteBackendName }

func (s *RemoteSigner) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.do(ctx, http.MethodGet, "/v1/health", "health", nil, nil); err != nil {
		return err
	}
	s.ready = true
	s.logger.Info("remote signer ready", "event", "signer_ready", "backend", RemoteBackendName, "url", s.baseURL)
	return nil
}

func (s *RemoteSigner) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *RemoteSigner) SignCreateOrder(ctx context.Context, t tx.CreateOrder) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignCancelOrder(ctx context.Context, t tx.CancelOrder) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignCancelAllOrders(ctx context.Context, t tx.CancelAllOrders) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignTransfer(ctx context.Context, t tx.Transfer) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignWithdraw(ctx context.Context, t tx.Withdraw) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignCreateSubAccount(ctx context.Context, t tx.CreateSubAccount) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignModifyOrder(ctx context.Context, t tx.ModifyOrder) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignChangePubKey(ctx context.Context, t tx.ChangePubKey) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) SignUpdateLeverage(ctx context.Context, t tx.UpdateLeverage) (string, error) {
	return s.sign(ctx, t)
}

func (s *RemoteSigner) CreateAuthToken(ctx context.Context, acct tx.Account, deadline time.Time) (string, error) {
	if !s.Ready() {
		return "", core.ErrNotInitialized
	}
	req := AuthTokenRequest{AccountIndex: acct.AccountIndex, APIKeyIndex: acct.APIKeyIndex, Deadline: deadline.Unix()}
	var resp AuthTokenResponse
	if err := s.do(ctx, http.MethodPost, "/v1/auth_token", "create_auth_token", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (s *RemoteSigner) GenerateAPIKey(ctx context.Context, seed mo.Option[string]) (core.APIKey, error) {
	if !s.Ready() {
		return core.APIKey{}, core.ErrNotInitialized
	}
	var req APIKeyRequest
	if v, ok := seed.Get(); ok {
		req.Seed = &v
	}
	var key core.APIKey
	if err := s.do(ctx, http.MethodPost, "/v1/api_key", "generate_api_key", req, &key); err != nil {
		return core.APIKey{}, err
	}
	return key, nil
}

func (s *RemoteSigner) sign(ctx context.Context, t tx.Tx) (string, error) {
	if !s.Ready() {
		return "", core.ErrNotInitialized
	}
	canonical, err := tx.Canonical(t)
	if err != nil {
		return "", err
	}
	var resp SignResponse
	path := "/v1/sign/" + strconv.Itoa(int(t.Type()))
	if err := s.do(ctx, http.MethodPost, path, t.Type().String(), json.RawMessage(canonical), &resp); err != nil {
		return "", err
	}
	if resp.TxInfo == "" {
		return "", fmt.Errorf("%w: remote signer returned empty tx_info", core.ErrNetwork)
	}
	return resp.TxInfo, nil
}

func (s *RemoteSigner) do(ctx context.Context, method, path, op string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &core.NetworkError{Op: "remote signer " + op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.NetworkError{Op: "remote signer " + op, Err: err}
	}
	if resp.StatusCode == http.StatusNotImplemented {
		return &core.SignerCapabilityError{Op: op, Backend: RemoteBackendName}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &core.APIError{Status: resp.StatusCode, Msg: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
