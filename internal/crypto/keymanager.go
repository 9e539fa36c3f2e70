// Package crypto provides encrypted storage for the API role keys that gate
// ledgerd's privileged endpoints.
package crypto

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

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 1
)

// RoleKeys holds the API keys for each privileged role. Empty fields disable
// that role's endpoints.
type RoleKeys struct {
	Admin     string `json:"admin,omitempty"`
	Governor  string `json:"governor,omitempty"`
	Reporter  string `json:"reporter,omitempty"`
	Validator string `json:"validator,omitempty"`
}

// encryptedKeysJSON is the on-disk format for an encrypted role-key file.
type encryptedKeysJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// EncryptRoleKeys encrypts the role keys with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption. It returns the JSON blob suitable for writing to disk.
func EncryptRoleKeys(keys RoleKeys, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	plaintext, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal role keys: %w", err)
	}

	// Generate random salt and derive AES key.
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	// AES-256-GCM encrypt.
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := encryptedKeysJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// DecryptRoleKeys decrypts a JSON blob produced by EncryptRoleKeys.
func DecryptRoleKeys(encryptedJSON []byte, password string) (RoleKeys, error) {
	if password == "" {
		return RoleKeys{}, errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeysJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return RoleKeys{}, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	var keys RoleKeys
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: parsing role keys: %w", err)
	}
	return keys, nil
}

// LoadRoleKeys reads and decrypts the role-key file at path.
func LoadRoleKeys(path, password string) (RoleKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RoleKeys{}, fmt.Errorf("crypto: reading encrypted key file: %w", err)
	}
	return DecryptRoleKeys(data, password)
}
