package client

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
)

// SignerConfig is everything a Client needs to know about who it signs for.
// Exactly one of RemoteSignerURL and LocalBundlePath selects the backend.
type SignerConfig struct {
	URL          string
	PrivateKey   string
	AccountIndex int64
	APIKeyIndex  int

	RemoteSignerURL   string
	RemoteSignerToken string
	LocalBundlePath   string
	HTTPTimeoutSec    int64
}

// CheckClient validates the config without touching the network. It
// returns the first violation found.
func (c SignerConfig) CheckClient() error {
	if strings.TrimSpace(c.PrivateKey) == "" {
		return core.Invalid("private_key", "is required")
	}
	if c.AccountIndex < 0 {
		return core.Invalid("account_index", "must be >= 0")
	}
	if c.APIKeyIndex < 0 || c.APIKeyIndex > 255 {
		return core.Invalid("api_key_index", "must be between 0 and 255")
	}
	return nil
}

func (c SignerConfig) backendKind() (string, error) {
	remote := strings.TrimSpace(c.RemoteSignerURL) != ""
	local := strings.TrimSpace(c.LocalBundlePath) != ""
	switch {
	case remote && local:
		return "", &core.ConfigError{Field: "signer", Err: errors.New("remote_signer_url and local_bundle_path are mutually exclusive")}
	case remote:
		return signer.RemoteBackendName, nil
	case local:
		return signer.LocalBackendName, nil
	}
	return "", &core.ConfigError{Field: "signer", Err: errors.New("one of remote_signer_url or local_bundle_path is required")}
}

// NewBackend resolves cfg to exactly one signer backend. The backend is not
// initialized yet.
func NewBackend(cfg SignerConfig, logger *slog.Logger) (signer.Backend, error) {
	kind, err := cfg.backendKind()
	if err != nil {
		return nil, err
	}
	if kind == signer.RemoteBackendName {
		return signer.NewRemoteSigner(signer.RemoteOptions{
			BaseURL:        cfg.RemoteSignerURL,
			AuthToken:      cfg.RemoteSignerToken,
			HTTPTimeoutSec: cfg.HTTPTimeoutSec,
			Logger:         logger,
		}), nil
	}
	return signer.NewLocalSigner(cfg.LocalBundlePath, cfg.PrivateKey, logger), nil
}
