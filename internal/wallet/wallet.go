package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const keyFile = "wallet_key.hex"

// Signer is the identity adapter the protocol client consumes. The real
// wallet lives here; tests and embedding applications substitute their own.
type Signer interface {
	Address() common.Address
	SignDigest(digest []byte) ([]byte, error)
}

// Wallet is a secp256k1 identity persisted under the profile directory. It
// signs only the auth challenge; routine traffic uses the session key.
type Wallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// Load reuses the key under dir, generating it on first use.
func Load(dir string) (*Wallet, error) {
	if dir == "" {
		return nil, fmt.Errorf("missing wallet dir")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, keyFile)
	if _, err := os.Stat(path); err == nil {
		key, err := crypto.LoadECDSA(path)
		if err != nil {
			return nil, fmt.Errorf("load wallet key: %w", err)
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

// FromKey wraps an in-memory key; used by tests that need throwaway wallets.
func FromKey(key *ecdsa.PrivateKey) *Wallet {
	return fromKey(key)
}

func fromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (w *Wallet) Address() common.Address {
	return w.addr
}

// SignDigest produces the 65-byte recoverable signature over a 32-byte
// digest.
func (w *Wallet) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, w.key)
}

// Recover returns the address that produced sig over digest.
func Recover(digest, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
