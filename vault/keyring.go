package vault

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/inletapp/go-inbox/core"
)

const (
	envelopePrefix    = "inbox.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"

	// maxKeys bounds how many key versions a ring holds at once. Rotation
	// keeps the current key plus one previous; a third slot exists only
	// transiently during a rotation window.
	maxKeys = 3
)

var (
	ErrUnknownKeyVersion = errors.New("vault: unknown key version")
	ErrDecryptionFailed  = errors.New("vault: decryption failed")
)

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Key is one (version, material) pair in a ring.
type Key struct {
	Version  int
	ID       string
	Material []byte
}

// Keyring implements core.SecretProvider with AES-256-GCM and embedded key
// versions, so rotated ciphertexts stay readable while the previous key is
// still held.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[int][]byte
	keyIDs  map[int]string
	current int
}

type Option func(*Keyring)

// WithCurrentVersion pins the encrypting key version instead of the highest
// held one. Versions not present in the ring are ignored.
func WithCurrentVersion(version int) Option {
	return func(r *Keyring) {
		if _, ok := r.keys[version]; ok {
			r.current = version
		}
	}
}

// NewKeyring builds a ring from ordered keys; the highest version encrypts.
func NewKeyring(keys []Key, opts ...Option) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("vault: at least one key is required")
	}
	if len(keys) > maxKeys {
		return nil, fmt.Errorf("vault: at most %d keys may be held at once", maxKeys)
	}

	ring := &Keyring{
		keys:   make(map[int][]byte, len(keys)),
		keyIDs: make(map[int]string, len(keys)),
	}
	for _, key := range keys {
		material := bytes.TrimSpace(key.Material)
		if len(material) == 0 {
			return nil, fmt.Errorf("vault: key material is required for version %d", key.Version)
		}
		if key.Version <= 0 {
			return nil, fmt.Errorf("vault: key version must be positive")
		}
		if _, exists := ring.keys[key.Version]; exists {
			return nil, fmt.Errorf("vault: duplicate key version %d", key.Version)
		}
		ring.keys[key.Version] = normalizeKey(material)
		keyID := strings.TrimSpace(key.ID)
		if keyID == "" {
			keyID = fmt.Sprintf("inbox-key-v%d", key.Version)
		}
		ring.keyIDs[key.Version] = keyID
		if key.Version > ring.current {
			ring.current = key.Version
		}
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(ring)
	}
	return ring, nil
}

// NewKeyringFromString builds a single-key ring, version 1.
func NewKeyringFromString(key string) (*Keyring, error) {
	return NewKeyring([]Key{{Version: 1, Material: []byte(key)}})
}

func (r *Keyring) CurrentKeyVersion() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Versions returns the held key versions in ascending order.
func (r *Keyring) Versions() []int {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := make([]int, 0, len(r.keys))
	for version := range r.keys {
		versions = append(versions, version)
	}
	sort.Ints(versions)
	return versions
}

// Rotate adds a new current key and drops all but the newest previous key.
func (r *Keyring) Rotate(key Key) error {
	if r == nil {
		return fmt.Errorf("vault: keyring is nil")
	}
	material := bytes.TrimSpace(key.Material)
	if len(material) == 0 {
		return fmt.Errorf("vault: key material is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	version := key.Version
	if version <= 0 {
		version = r.current + 1
	}
	if version <= r.current {
		return fmt.Errorf("vault: rotation version %d must exceed current version %d", version, r.current)
	}

	keyID := strings.TrimSpace(key.ID)
	if keyID == "" {
		keyID = fmt.Sprintf("inbox-key-v%d", version)
	}

	r.keys[version] = normalizeKey(material)
	r.keyIDs[version] = keyID
	previous := r.current
	r.current = version

	for held := range r.keys {
		if held != version && held != previous {
			delete(r.keys, held)
			delete(r.keyIDs, held)
		}
	}
	return nil
}

func (r *Keyring) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("vault: keyring is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("vault: plaintext is required")
	}

	r.mu.RLock()
	version := r.current
	material := r.keys[version]
	keyID := r.keyIDs[version]
	r.mu.RUnlock()

	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	data, err := json.Marshal(envelope{
		KeyID:      keyID,
		Version:    version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: encode envelope: %w", err)
	}

	return append([]byte(envelopePrefix), data...), nil
}

func (r *Keyring) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("vault: keyring is nil")
	}
	parsed, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	material, held := r.keys[parsed.Version]
	r.mu.RUnlock()
	if !held {
		return nil, fmt.Errorf("vault: key version %d: %w", parsed.Version, ErrUnknownKeyVersion)
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("vault: decode nonce: %w", ErrDecryptionFailed)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decode ciphertext payload: %w", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("vault: nonce length %d: %w", len(nonce), ErrDecryptionFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: open payload: %w", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// ReencryptToCurrent migrates a ciphertext sealed under an older key to the
// current key. Already-current ciphertexts are returned unchanged.
func (r *Keyring) ReencryptToCurrent(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("vault: keyring is nil")
	}
	parsed, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if parsed.Version == r.CurrentKeyVersion() {
		out := make([]byte, len(ciphertext))
		copy(out, ciphertext)
		return out, nil
	}
	plaintext, err := r.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, err
	}
	return r.Encrypt(ctx, plaintext)
}

func parseEnvelope(ciphertext []byte) (envelope, error) {
	if len(ciphertext) == 0 {
		return envelope{}, fmt.Errorf("vault: ciphertext is required")
	}
	payload := string(ciphertext)
	if !strings.HasPrefix(payload, envelopePrefix) {
		return envelope{}, fmt.Errorf("vault: missing envelope prefix: %w", ErrDecryptionFailed)
	}
	payload = strings.TrimPrefix(payload, envelopePrefix)

	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return envelope{}, fmt.Errorf("vault: decode envelope: %w", ErrDecryptionFailed)
	}
	if parsed.Version <= 0 {
		return envelope{}, fmt.Errorf("vault: envelope is missing key version: %w", ErrDecryptionFailed)
	}
	if parsed.Algorithm != "" && parsed.Algorithm != envelopeAlgorithm {
		return envelope{}, fmt.Errorf("vault: unsupported algorithm %q: %w", parsed.Algorithm, ErrDecryptionFailed)
	}
	return parsed, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*Keyring)(nil)
