package signer

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const privateKeySize = 32

// ParsePrivateKey accepts a secp256k1 key as hex (with or without 0x) or
// standard base64.
func ParsePrivateKey(material string) (*ecdsa.PrivateKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, errors.New("empty private key")
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(material, "0x"), "0X")
	if raw, err := hex.DecodeString(trimmed); err == nil && len(raw) == privateKeySize {
		return crypto.ToECDSA(raw)
	}
	if raw, err := base64.StdEncoding.DecodeString(material); err == nil && len(raw) == privateKeySize {
		return crypto.ToECDSA(raw)
	}
	return nil, errors.New("unsupported private key format")
}

// LoadPrivateKey reads key material from path.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("private key path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty private key file")
	}
	return ParsePrivateKey(string(data))
}

// EncodeAPIKey renders a key pair the way the venue registers it: the private
// key as 0x-hex and the public key as compressed 0x-hex.
func EncodeAPIKey(key *ecdsa.PrivateKey) (privateHex, publicHex string) {
	privateHex = "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	publicHex = "0x" + hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey))
	return privateHex, publicHex
}
