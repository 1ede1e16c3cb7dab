package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters for the file vault KDF.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
	saltLen    = 16
)

// FileVault is an encrypted file-backed Store. Values are sealed with
// AES-256-GCM under a key derived from the passphrase via argon2id and a
// per-vault random salt. Writes rewrite the file atomically.
type FileVault struct {
	path string

	mu      sync.RWMutex
	key     []byte
	salt    []byte
	entries map[string][]byte // name -> nonce|ciphertext
}

type vaultFile struct {
	Salt    string            `json:"salt"`
	Entries map[string]string `json:"entries"`
}

// OpenFileVault loads (or initialises) the vault at path and derives the
// encryption key from passphrase. A missing file yields an empty vault that
// is created on the first Set.
func OpenFileVault(path, passphrase string) (*FileVault, error) {
	if passphrase == "" {
		return nil, errors.New("vault passphrase must not be empty")
	}

	v := &FileVault{path: path, entries: make(map[string][]byte)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		v.salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, v.salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read vault: %w", err)
	default:
		var vf vaultFile
		if err := json.Unmarshal(data, &vf); err != nil {
			return nil, fmt.Errorf("parse vault: %w", err)
		}
		if v.salt, err = base64.StdEncoding.DecodeString(vf.Salt); err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
		for name, enc := range vf.Entries {
			blob, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return nil, fmt.Errorf("decode entry %s: %w", name, err)
			}
			v.entries[name] = blob
		}
	}

	v.key = argon2.IDKey([]byte(passphrase), v.salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	return v, nil
}

func (v *FileVault) HasKey(name string, requireDecryptable bool) bool {
	v.mu.RLock()
	blob, ok := v.entries[name]
	v.mu.RUnlock()
	if !ok {
		return false
	}
	if !requireDecryptable {
		return true
	}
	_, err := v.open(blob)
	return err == nil
}

func (v *FileVault) DecryptedKey(name string) (string, error) {
	v.mu.RLock()
	blob, ok := v.entries[name]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("secret %s not found in vault", name)
	}
	plain, err := v.open(blob)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", name, err)
	}
	return string(plain), nil
}

// Set seals value under name and persists the vault.
func (v *FileVault) Set(name, value string) error {
	blob, err := v.seal([]byte(value))
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[name] = blob
	return v.saveLocked()
}

// Delete removes a secret and persists the vault.
func (v *FileVault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, name)
	return v.saveLocked()
}

// Names lists the stored secret names.
func (v *FileVault) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.entries))
	for name := range v.entries {
		names = append(names, name)
	}
	return names
}

func (v *FileVault) seal(plaintext []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *FileVault) open(blob []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, data := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

func (v *FileVault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// saveLocked writes the vault file atomically: temp file in the same
// directory, then rename. Caller holds v.mu.
func (v *FileVault) saveLocked() error {
	vf := vaultFile{
		Salt:    base64.StdEncoding.EncodeToString(v.salt),
		Entries: make(map[string]string, len(v.entries)),
	}
	for name, blob := range v.entries {
		vf.Entries[name] = base64.StdEncoding.EncodeToString(blob)
	}
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), v.path)
}
