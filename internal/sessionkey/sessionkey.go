// Package sessionkey holds the ephemeral key that signs routine protocol
// traffic. It is generated once per profile and reused across sessions, so a
// compromised coordinator transcript never exposes the wallet key.
package sessionkey

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const keyFile = "session_key.hex"

type Key struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// Load reuses the session key under dir, generating it on first use. The
// session key is always distinct from the wallet key; they are never derived
// from each other.
func Load(dir string) (*Key, error) {
	if dir == "" {
		return nil, fmt.Errorf("missing session key dir")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, keyFile)
	if _, err := os.Stat(path); err == nil {
		key, err := crypto.LoadECDSA(path)
		if err != nil {
			return nil, fmt.Errorf("load session key: %w", err)
		}
		return fromKey(key), nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		return nil, err
	}
	return fromKey(key), nil
}

// Generate returns a throwaway in-memory key for tests.
func Generate() (*Key, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return fromKey(key), nil
}

func fromKey(key *ecdsa.PrivateKey) *Key {
	return &Key{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (k *Key) Address() common.Address {
	return k.addr
}

func (k *Key) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, k.key)
}
