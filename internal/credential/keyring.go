// Package credential reads and writes account secrets kept in the OS
// keyring, and parses the credential references stored on accounts.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	json "github.com/goccy/go-json"
)

const serviceName = "mailcore"

// ErrNotFound is returned when the keyring holds no item for a key.
var ErrNotFound = errors.New("credential not found")

// Ring wraps a keyring.
type Ring struct {
	ring keyring.Keyring
}

// Open opens the platform keyring, falling back to an encrypted file
// store under fileDir.
func Open(fileDir string) (*Ring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcore-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Ring{ring: ring}, nil
}

// New wraps an existing keyring.
func New(ring keyring.Keyring) *Ring { return &Ring{ring: ring} }

// Get returns the raw value stored under key.
func (r *Ring) Get(key string) (string, error) {
	item, err := r.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores value under key.
func (r *Ring) Set(key, value string) error {
	if err := r.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: serviceName + " " + key}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *Ring) Delete(key string) error {
	if err := r.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

type login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login returns the username and password stored under key. A value that
// is not a JSON object is taken as a bare password, and the username is
// left empty for the caller to default.
func (r *Ring) Login(key string) (username, password string, err error) {
	v, err := r.Get(key)
	if err != nil {
		return "", "", err
	}
	if strings.HasPrefix(strings.TrimSpace(v), "{") {
		var l login
		if err := json.Unmarshal([]byte(v), &l); err != nil {
			return "", "", fmt.Errorf("decoding credential %q: %w", key, err)
		}
		return l.Username, l.Password, nil
	}
	return "", v, nil
}

// SetLogin stores username and password under key.
func (r *Ring) SetLogin(key, username, password string) error {
	b, err := json.Marshal(login{Username: username, Password: password})
	if err != nil {
		return err
	}
	return r.Set(key, string(b))
}
