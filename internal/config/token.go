package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenFileVersion = 1
	tokenKDFIter     = 100_000
	tokenSaltLen     = 16
)

// ErrTokenUndecryptable is returned when the stored token cannot be opened
// with the current device secret.
var ErrTokenUndecryptable = errors.New("config: stored api token cannot be decrypted")

type tokenFile struct {
	Version int    `json:"version"`
	Salt    string `json:"salt"`
	Nonce   string `json:"nonce"`
	Box     string `json:"box"`
}

var tokenMu sync.Mutex

func tokenKey(deviceSecret string, salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], pbkdf2.Key([]byte(deviceSecret), salt, tokenKDFIter, len(key), sha256.New))
	return &key
}

// SaveTokenTo encrypts token with a key derived from deviceSecret and writes
// it with owner-only permissions.
func SaveTokenTo(path, token, deviceSecret string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("config: empty api token")
	}
	if deviceSecret == "" {
		return fmt.Errorf("config: device secret required to store api token")
	}

	salt := make([]byte, tokenSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("config: token salt: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("config: token nonce: %w", err)
	}
	box := secretbox.Seal(nil, []byte(token), &nonce, tokenKey(deviceSecret, salt))

	data, err := json.MarshalIndent(tokenFile{
		Version: tokenFileVersion,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Nonce:   base64.StdEncoding.EncodeToString(nonce[:]),
		Box:     base64.StdEncoding.EncodeToString(box),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal token: %w", err)
	}

	tokenMu.Lock()
	defer tokenMu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create token dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("config: write token: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LoadTokenFrom returns the stored token, or "" when no token is stored.
func LoadTokenFrom(path, deviceSecret string) (string, error) {
	tokenMu.Lock()
	data, err := os.ReadFile(path)
	tokenMu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("config: read token: %w", err)
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenUndecryptable, err)
	}
	salt, err1 := base64.StdEncoding.DecodeString(f.Salt)
	nonceRaw, err2 := base64.StdEncoding.DecodeString(f.Nonce)
	box, err3 := base64.StdEncoding.DecodeString(f.Box)
	if err := errors.Join(err1, err2, err3); err != nil || len(nonceRaw) != 24 {
		return "", ErrTokenUndecryptable
	}
	var nonce [24]byte
	copy(nonce[:], nonceRaw)

	plain, ok := secretbox.Open(nil, box, &nonce, tokenKey(deviceSecret, salt))
	if !ok {
		return "", ErrTokenUndecryptable
	}
	return string(plain), nil
}

// MigratePlaintextToken re-encrypts a token file written in plain text by
// older clients. It reports whether a migration happened.
func MigratePlaintextToken(path, deviceSecret string) (bool, error) {
	tokenMu.Lock()
	data, err := os.ReadFile(path)
	tokenMu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read token: %w", err)
	}
	plain := strings.TrimSpace(string(data))
	if plain == "" || strings.HasPrefix(plain, "{") {
		return false, nil
	}
	if err := SaveTokenTo(path, plain, deviceSecret); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteTokenAt removes the stored token. A missing file is not an error.
func DeleteTokenAt(path string) error {
	tokenMu.Lock()
	defer tokenMu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: delete token: %w", err)
	}
	return nil
}
