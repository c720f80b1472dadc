// Package signerd serves a signer backend over HTTP for RemoteSigner clients.
package signerd

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/samber/mo"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

const maxBodyBytes = 64 << 10

type Options struct {
	// AuthToken, when set, must be presented as a bearer token.
	AuthToken string
	Logger    *slog.Logger
}

type Server struct {
	backend   signer.Backend
	authToken string
	logger    *slog.Logger
}

func New(backend signer.Backend, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, authToken: opts.AuthToken, logger: logger}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/health", s.health).Methods(http.MethodGet)
	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/sign/{tx_type:[0-9]+}", s.sign).Methods(http.MethodPost)
	api.HandleFunc("/auth_token", s.createAuthToken).Methods(http.MethodPost)
	api.HandleFunc("/api_key", s.generateAPIKey).Methods(http.MethodPost)
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("missing or invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if !s.backend.Ready() {
		writeError(w, http.StatusServiceUnavailable, core.ErrNotInitialized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": s.backend.Name()})
}

func (s *Server) sign(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(mux.Vars(r)["tx_type"])
	if err != nil || code > 255 {
		writeError(w, http.StatusBadRequest, core.Invalid("tx_type", "is not a tx type code"))
		return
	}
	txType := core.TxType(code)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := tx.Decode(txType, body)
	if err != nil {
		s.fail(w, "sign", err)
		return
	}
	signed, err := signer.Sign(r.Context(), s.backend, t)
	if err != nil {
		s.fail(w, "sign", err)
		return
	}
	s.logger.Info("tx signed", "event", "tx_signed", "tx_type", txType.String(), "account", t.Owner().AccountIndex, "nonce", t.NonceValue())
	writeJSON(w, http.StatusOK, signer.SignResponse{TxInfo: signed})
}

func (s *Server) createAuthToken(w http.ResponseWriter, r *http.Request) {
	var req signer.AuthTokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Deadline <= time.Now().Unix() {
		writeError(w, http.StatusBadRequest, core.Invalid("deadline", "must be in the future"))
		return
	}
	acct := tx.Account{AccountIndex: req.AccountIndex, APIKeyIndex: req.APIKeyIndex}
	token, err := signer.CreateAuthToken(r.Context(), s.backend, acct, time.Unix(req.Deadline, 0))
	if err != nil {
		s.fail(w, "create_auth_token", err)
		return
	}
	writeJSON(w, http.StatusOK, signer.AuthTokenResponse{Token: token})
}

func (s *Server) generateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req signer.APIKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seed := mo.None[string]()
	if req.Seed != nil {
		seed = mo.Some(*req.Seed)
	}
	key, err := signer.GenerateAPIKey(r.Context(), s.backend, seed)
	if err != nil {
		s.fail(w, "generate_api_key", err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("signer request failed", "event", "signer_request_failed", "op", op, "err", err)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, core.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, signer.ErrorResponse{Error: err.Error()})
}
