package backend

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// keySalt is fixed so the same passphrase always yields the same key across
// restarts; the passphrase itself is the secret.
var keySalt = []byte("resellkit/session-tokens/v1")

var errSealedSession = errors.New("sealed session is malformed")

// DeriveKey derives a 32-byte AES-256 key from a passphrase with Argon2id.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is empty")
	}
	return argon2.IDKey([]byte(passphrase), keySalt, 1, 64*1024, 4, 32), nil
}

func sessionAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// sealSession encodes session as nonce + AES-GCM ciphertext, base64 encoded.
// The owner's user ID is authenticated with it, so the blob only opens for
// the sessions row it was written to.
func sealSession(session *Session, key []byte) (string, error) {
	aead, err := sessionAEAD(key)
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	buf := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	buf = aead.Seal(buf, buf, plain, []byte(session.User.ID))
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// openSession reverses sealSession for the session owned by userID.
func openSession(sealed, userID string, key []byte) (*Session, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSealedSession, err)
	}
	aead, err := sessionAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, errSealedSession
	}

	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(plain, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// randomToken returns n random bytes, hex encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
