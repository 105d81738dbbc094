package secrets

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Keyring is a file-backed store of encrypted provider API keys. Values
// are sealed with the master cipher and kept base64-encoded in a single
// JSON file so the backend can run without a database.
type Keyring struct {
	mu     sync.Mutex
	path   string
	cipher *Cipher
	values map[string]string // name -> base64(ciphertext)
}

// OpenKeyring loads (or creates) the keyring file at path.
func OpenKeyring(path string, cipher *Cipher) (*Keyring, error) {
	k := &Keyring{path: path, cipher: cipher, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	if err := json.Unmarshal(data, &k.values); err != nil {
		return nil, fmt.Errorf("parse keyring: %w", err)
	}
	return k, nil
}

// Set encrypts and persists a secret.
func (k *Keyring) Set(name string, value []byte) error {
	encrypted, err := k.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.values[name] = base64.StdEncoding.EncodeToString(encrypted)
	return k.saveLocked()
}

// Get retrieves and decrypts a secret.
func (k *Keyring) Get(name string) ([]byte, error) {
	k.mu.Lock()
	encoded, ok := k.values[name]
	k.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("secret %q not found", name)
	}
	encrypted, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	plaintext, err := k.cipher.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return plaintext, nil
}

// Delete removes a secret.
func (k *Keyring) Delete(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.values, name)
	return k.saveLocked()
}

// List returns the stored secret names, sorted.
func (k *Keyring) List() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	names := make([]string, 0, len(k.values))
	for name := range k.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether a secret is stored.
func (k *Keyring) Exists(name string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.values[name]
	return ok
}

func (k *Keyring) saveLocked() error {
	data, err := json.MarshalIndent(k.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return err
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, k.path)
}
