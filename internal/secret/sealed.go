// Package secret seals small secrets, such as the bot token, with a
// password so they can be kept on disk instead of in plain configuration.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// ErrNoSource is returned by Resolve when neither a value nor a sealed file
// is configured.
var ErrNoSource = errors.New("secret: no value or sealed file configured")

// sealedJSON is the on-disk format of a sealed secret.
type sealedJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Source says where a secret comes from. Value wins over SealedPath.
type Source struct {
	Value      string
	SealedPath string
	Password   string
}

// Seal encrypts plaintext with PBKDF2-HMAC-SHA256 key derivation and
// AES-256-GCM, returning a JSON document suitable for writing to disk.
func Seal(plaintext, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("secret: password must not be empty")
	}
	if strings.TrimSpace(plaintext) == "" {
		return nil, errors.New("secret: nothing to seal")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secret: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secret: generating nonce: %w", err)
	}

	out := sealedJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(plaintext), nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Open decrypts a document produced by Seal.
func Open(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("secret: password must not be empty")
	}

	var stored sealedJSON
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return "", fmt.Errorf("secret: parsing sealed document: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("secret: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("secret: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("secret: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("secret: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("secret: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secret: decryption failed (wrong password?): %w", err)
	}
	return string(plaintext), nil
}

// Resolve returns src.Value when set, otherwise reads and opens the sealed
// file.
func Resolve(src Source) (string, error) {
	if src.Value != "" {
		return src.Value, nil
	}
	if src.SealedPath == "" {
		return "", ErrNoSource
	}
	data, err := os.ReadFile(src.SealedPath)
	if err != nil {
		return "", fmt.Errorf("secret: reading sealed file: %w", err)
	}
	return Open(data, src.Password)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: creating GCM: %w", err)
	}
	return gcm, nil
}
