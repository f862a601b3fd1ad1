package registry

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/smallbiznis/checkout/internal/gateway/domain"
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// DeriveKey turns the configured secret into an AES-256 key. An empty secret
// yields a nil key, which makes every decrypt fail closed.
func DeriveKey(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt seals a credential bundle into the versioned AES-GCM envelope stored
// in payment_gateway_configs.credentials.
func Encrypt(key []byte, credentials map[string]any) ([]byte, error) {
	if len(key) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}
	plain, err := json.Marshal(credentials)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plain, nil)
	return json.Marshal(encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
}

// Decrypt opens the envelope and returns the credential bundle.
func Decrypt(key []byte, encrypted []byte) (map[string]any, error) {
	if len(key) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}
	if len(encrypted) == 0 {
		return nil, domain.ErrInvalidConfig
	}

	var payload encryptedPayload
	if err := json.Unmarshal(encrypted, &payload); err != nil {
		return nil, domain.ErrInvalidConfig
	}
	if payload.Version != 1 {
		return nil, domain.ErrInvalidConfig
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, domain.ErrInvalidConfig
	}
	if len(out) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	return out, nil
}
