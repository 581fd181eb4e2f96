// Package crypto provides the Encryptor, KeyManager and ProofSystem the
// orchestrator depends on.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

// Algorithm names the key encapsulation scheme backing every KeyPair.
const Algorithm = "ML-KEM-768"

// #region types

// KeyPair is the public view of one key version.
type KeyPair struct {
	ID          string    `json:"id"`
	Version     uint32    `json:"version"`
	Algorithm   string    `json:"algorithm"`
	PublicKey   []byte    `json:"public_key"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// keyVersion keeps the private half sealed. The data key is recovered by
// decapsulating wrapped with the private key.
type keyVersion struct {
	pair    KeyPair
	private *memguard.Enclave
	wrapped []byte
}

type keyChain struct {
	versions []*keyVersion
}

func (c *keyChain) current() *keyVersion {
	return c.versions[len(c.versions)-1]
}

func (c *keyChain) version(v uint32) (*keyVersion, bool) {
	for _, kv := range c.versions {
		if kv.pair.Version == v {
			return kv, true
		}
	}
	return nil, false
}

// #endregion types

// #region manager

// KeyManager owns versioned ML-KEM-768 key pairs. Rotation keeps old versions
// so existing ciphertexts stay readable.
type KeyManager struct {
	mu        sync.RWMutex
	scheme    kem.Scheme
	chains    map[string]*keyChain
	defaultID string
	now       func() time.Time
}

// NewKeyManager returns an empty manager.
func NewKeyManager() *KeyManager {
	return &KeyManager{
		scheme: mlkem768.Scheme(),
		chains: make(map[string]*keyChain),
		now:    time.Now,
	}
}

// GenerateKeyPair creates version 1 of a key. An empty id gets a uuid. The
// first key generated becomes the default.
func (m *KeyManager) GenerateKeyPair(id string) (KeyPair, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chains[id]; exists {
		return KeyPair{}, errs.InvalidArgument("key %s already exists", id)
	}
	kv, err := m.newVersion(id, 1)
	if err != nil {
		return KeyPair{}, err
	}
	m.chains[id] = &keyChain{versions: []*keyVersion{kv}}
	if m.defaultID == "" {
		m.defaultID = id
	}
	return kv.pair, nil
}

// GetKey returns the current version of id.
func (m *KeyManager) GetKey(id string) (KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[id]
	if !ok {
		return KeyPair{}, fmt.Errorf("%w: %s", errs.ErrKeyNotFound, id)
	}
	return c.current().pair, nil
}

// GetDefaultKey returns the current version of the default key.
func (m *KeyManager) GetDefaultKey() (KeyPair, error) {
	m.mu.RLock()
	id := m.defaultID
	m.mu.RUnlock()
	if id == "" {
		return KeyPair{}, fmt.Errorf("%w: no default key", errs.ErrKeyNotFound)
	}
	return m.GetKey(id)
}

// RotateKey appends a new version to id and returns it.
func (m *KeyManager) RotateKey(id string) (KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[id]
	if !ok {
		return KeyPair{}, fmt.Errorf("%w: %s", errs.ErrKeyNotFound, id)
	}
	kv, err := m.newVersion(id, c.current().pair.Version+1)
	if err != nil {
		return KeyPair{}, err
	}
	c.versions = append(c.versions, kv)
	return kv.pair, nil
}

// Versions lists every version of id, oldest first.
func (m *KeyManager) Versions(id string) ([]KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrKeyNotFound, id)
	}
	out := make([]KeyPair, 0, len(c.versions))
	for _, kv := range c.versions {
		out = append(out, kv.pair)
	}
	return out, nil
}

// resolve maps an empty id to the default key.
func (m *KeyManager) resolve(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.defaultID == "" {
		return "", fmt.Errorf("%w: no default key", errs.ErrKeyNotFound)
	}
	return m.defaultID, nil
}

// withDataKey calls fn with the 32-byte data key of (id, version). version 0
// means current. The key is wiped when fn returns.
func (m *KeyManager) withDataKey(id string, version uint32, fn func(key []byte, version uint32) error) error {
	m.mu.RLock()
	c, ok := m.chains[id]
	var kv *keyVersion
	if ok {
		if version == 0 {
			kv = c.current()
		} else {
			kv, ok = c.version(version)
		}
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s v%d", errs.ErrKeyNotFound, id, version)
	}

	lb, err := kv.private.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer lb.Destroy()
	sk, err := m.scheme.UnmarshalBinaryPrivateKey(lb.Bytes())
	if err != nil {
		return fmt.Errorf("unmarshal private key: %w", err)
	}
	shared, err := m.scheme.Decapsulate(sk, kv.wrapped)
	if err != nil {
		return fmt.Errorf("decapsulate data key: %w", err)
	}
	defer memguard.WipeBytes(shared)

	key, err := deriveKey(shared, "qshield data key|"+id)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(key)
	return fn(key, kv.pair.Version)
}

func (m *KeyManager) newVersion(id string, version uint32) (*keyVersion, error) {
	pk, sk, err := m.scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate %s key pair: %w", Algorithm, err)
	}
	wrapped, shared, err := m.scheme.Encapsulate(pk)
	if err != nil {
		return nil, fmt.Errorf("encapsulate data key: %w", err)
	}
	memguard.WipeBytes(shared)

	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	sum := sha256.Sum256(pub)
	return &keyVersion{
		pair: KeyPair{
			ID:          id,
			Version:     version,
			Algorithm:   Algorithm,
			PublicKey:   pub,
			Fingerprint: hex.EncodeToString(sum[:8]),
			CreatedAt:   m.now().UTC(),
		},
		private: memguard.NewEnclave(priv),
		wrapped: wrapped,
	}, nil
}

// #endregion manager

// deriveKey expands secret into a 32-byte key bound to info.
func deriveKey(secret []byte, info string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
