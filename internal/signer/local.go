package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/mo"
	"gopkg.in/yaml.v3"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

const LocalBackendName = "local"

// Bundle describes the signing module a LocalSigner loads on Initialize.
type Bundle struct {
	ChainID uint64 `yaml:"chain_id"`
	Version string `yaml:"version"`
}

func LoadBundle(path string) (Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return Bundle{}, err
	}
	defer f.Close()
	var b Bundle
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("decode signer bundle: %w", err)
	}
	if b.ChainID == 0 {
		return Bundle{}, errors.New("signer bundle: chain_id is required")
	}
	return b, nil
}

type initState int

const (
	stateUninitialized initState = iota
	stateReady
)

// LocalSigner signs in-process with a secp256k1 key. It covers order flow,
// transfers, leverage, auth tokens and key generation; withdrawals,
// sub-accounts, order modification and key rotation need the remote signer.
type LocalSigner struct {
	bundlePath  string
	keyMaterial string
	logger      *slog.Logger

	mu      sync.Mutex
	state   initState
	key     *ecdsa.PrivateKey
	chainID uint64
}

func NewLocalSigner(bundlePath, keyMaterial string, logger *slog.Logger) *LocalSigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSigner{bundlePath: bundlePath, keyMaterial: keyMaterial, logger: logger}
}

func (s *LocalSigner) Name() string { return LocalBackendName }

func (s *LocalSigner) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateReady {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bundle, err := LoadBundle(s.bundlePath)
	if err != nil {
		return &core.ConfigError{Field: "local_signer_bundle", Err: err}
	}
	key, err := ParsePrivateKey(s.keyMaterial)
	if err != nil {
		return &core.ConfigError{Field: "private_key", Err: err}
	}
	s.key = key
	s.chainID = bundle.ChainID
	s.state = stateReady
	s.logger.Info("local signer ready", "event", "signer_ready", "backend", LocalBackendName, "chain_id", bundle.ChainID, "version", bundle.Version)
	return nil
}

func (s *LocalSigner) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady
}

func (s *LocalSigner) SignCreateOrder(_ context.Context, t tx.CreateOrder) (string, error) {
	return s.sign(t)
}

func (s *LocalSigner) SignCancelOrder(_ context.Context, t tx.CancelOrder) (string, error) {
	return s.sign(t)
}

func (s *LocalSigner) SignCancelAllOrders(_ context.Context, t tx.CancelAllOrders) (string, error) {
	return s.sign(t)
}

func (s *LocalSigner) SignTransfer(_ context.Context, t tx.Transfer) (string, error) {
	return s.sign(t)
}

func (s *LocalSigner) SignUpdateLeverage(_ context.Context, t tx.UpdateLeverage) (string, error) {
	return s.sign(t)
}

func (s *LocalSigner) CreateAuthToken(_ context.Context, acct tx.Account, deadline time.Time) (string, error) {
	key, chainID, err := s.ready()
	if err != nil {
		return "", err
	}
	msg := AuthMessage(acct, deadline)
	sig, err := crypto.Sign(authDigest(chainID, msg), key)
	if err != nil {
		return "", err
	}
	return msg + ":" + hex.EncodeToString(sig), nil
}

// GenerateAPIKey derives the key from keccak256(seed) when a seed is given.
// It does not need Initialize.
func (s *LocalSigner) GenerateAPIKey(_ context.Context, seed mo.Option[string]) (core.APIKey, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if v, ok := seed.Get(); ok {
		if v == "" {
			return core.APIKey{}, core.Invalid("seed", "is empty")
		}
		key, err = crypto.ToECDSA(crypto.Keccak256([]byte(v)))
	} else {
		key, err = crypto.GenerateKey()
	}
	if err != nil {
		return core.APIKey{}, err
	}
	priv, pub := EncodeAPIKey(key)
	return core.APIKey{PrivateKey: priv, PublicKey: pub}, nil
}

func (s *LocalSigner) sign(t tx.Tx) (string, error) {
	key, chainID, err := s.ready()
	if err != nil {
		return "", err
	}
	canonical, err := tx.Canonical(t)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(Digest(chainID, t.Type(), canonical), key)
	if err != nil {
		return "", err
	}
	return tx.Encode(t, sig)
}

func (s *LocalSigner) ready() (*ecdsa.PrivateKey, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return nil, 0, core.ErrNotInitialized
	}
	return s.key, s.chainID, nil
}

// Digest is the 32-byte message a transaction signature covers.
func Digest(chainID uint64, txType core.TxType, canonical []byte) []byte {
	var buf bytes.Buffer
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	buf.Write(chain[:])
	buf.WriteByte(byte(txType))
	buf.Write(canonical)
	return crypto.Keccak256(buf.Bytes())
}

// AuthMessage is the signed part of an auth token.
func AuthMessage(acct tx.Account, deadline time.Time) string {
	return strconv.FormatInt(deadline.Unix(), 10) + ":" +
		strconv.FormatInt(acct.AccountIndex, 10) + ":" +
		strconv.Itoa(int(acct.APIKeyIndex))
}

func authDigest(chainID uint64, msg string) []byte {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	return crypto.Keccak256(chain[:], []byte(msg))
}
