// Package identity manages the local Curve25519 keypair and the
// asymmetric encrypt/decrypt capability the relay transport uses to
// seal signaling messages for a counterparty public key.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// ErrEncryptionUnavailable is returned by Seal/Open when the identity
// has no private key (verification-only identity). Sending or receiving
// signaling without the encryption capability is a hard failure.
var ErrEncryptionUnavailable = errors.New("identity: encryption capability unavailable")

var errBadPeerKey = errors.New("identity: malformed peer public key")

// Provider is the capability surface the transport consumes. Tests
// substitute a fake; production code uses *Identity.
type Provider interface {
	PublicKeyHex() string
	Seal(recipientHex string, plaintext []byte) ([]byte, error)
	Open(senderHex string, ciphertext []byte) ([]byte, error)
}

// Identity holds the local keypair. The zero value has no capability.
type Identity struct {
	pub  [32]byte
	priv *[32]byte
}

// LoadOrCreate loads a persistent identity key from disk, or generates
// a new Curve25519 key and saves it on first run.
func LoadOrCreate(keyFile string) (*Identity, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		id, err := fromPrivateKey(data)
		if err == nil {
			return id, false, nil
		}
		log.Printf("WARNING: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, false, err
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, priv[:], 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return &Identity{pub: *pub, priv: priv}, true, nil
}

// fromPrivateKey rebuilds an identity from a raw 32-byte private key.
func fromPrivateKey(raw []byte) (*Identity, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("want 32 key bytes, have %d", len(raw))
	}
	priv := new([32]byte)
	copy(priv[:], raw)

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	id := &Identity{priv: priv}
	copy(id.pub[:], pubSlice)
	return id, nil
}

// PublicKeyHex returns the local public key as lowercase hex. This is
// the identity string used for addressing on the relay network.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.pub[:])
}

// Seal encrypts plaintext for the recipient's public key. The random
// 24-byte nonce is prepended to the ciphertext.
func (id *Identity) Seal(recipientHex string, plaintext []byte) ([]byte, error) {
	if id == nil || id.priv == nil {
		return nil, ErrEncryptionUnavailable
	}
	peer, err := decodePeerKey(recipientHex)
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := box.Seal(nonce[:], plaintext, &nonce, peer, id.priv)
	return out, nil
}

// Open decrypts a sealed payload authored by senderHex. Returns an error
// for any tampered, truncated, or misaddressed ciphertext; callers treat
// that as channel noise, not a failure.
func (id *Identity) Open(senderHex string, ciphertext []byte) ([]byte, error) {
	if id == nil || id.priv == nil {
		return nil, ErrEncryptionUnavailable
	}
	peer, err := decodePeerKey(senderHex)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < 24 {
		return nil, errBadPeerKey
	}

	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plain, ok := box.Open(nil, ciphertext[24:], &nonce, peer, id.priv)
	if !ok {
		return nil, errors.New("identity: decrypt failed")
	}
	return plain, nil
}

// ValidatePublicKey reports whether s is a plausible identity string
// (64 hex chars). Used to reject malformed call targets before any
// network action.
func ValidatePublicKey(s string) error {
	if _, err := decodePeerKey(s); err != nil {
		return err
	}
	return nil
}

func decodePeerKey(hexKey string) (*[32]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, errBadPeerKey
	}
	key := new([32]byte)
	copy(key[:], raw)
	return key, nil
}
