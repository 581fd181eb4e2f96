package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

// #region layout

const (
	formatV1   byte = 0x01
	headerSize      = 1 + 4
	nonceSize       = chacha20poly1305.NonceSizeX
	minSealed       = headerSize + nonceSize + chacha20poly1305.Overhead
)

// #endregion layout

// Encryptor is the capability the orchestrator encrypts replicas with.
// Add and Multiply are pure functions of their inputs and the key material.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext []byte, keyID string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, keyID string) ([]byte, error)
	Add(ctx context.Context, a, b []byte, keyID string) ([]byte, error)
	Multiply(ctx context.Context, a, b []byte, keyID string) ([]byte, error)
}

// #region aead

// AEADEncryptor seals with XChaCha20-Poly1305 under data keys from a KeyManager.
// Ciphertext layout: format(1) | keyVersion(4, BE) | nonce(24) | sealed.
type AEADEncryptor struct {
	keys  *KeyManager
	ready atomic.Bool
}

// NewAEADEncryptor returns an encryptor that refuses work until Init succeeds.
func NewAEADEncryptor(keys *KeyManager) *AEADEncryptor {
	return &AEADEncryptor{keys: keys}
}

// Init ensures a default key exists.
func (e *AEADEncryptor) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := e.keys.GetDefaultKey(); err != nil {
		if _, err := e.keys.GenerateKeyPair("default"); err != nil {
			return fmt.Errorf("init encryptor: %w", err)
		}
	}
	e.ready.Store(true)
	return nil
}

// Ready reports whether Init completed.
func (e *AEADEncryptor) Ready() bool {
	return e.ready.Load()
}

func (e *AEADEncryptor) check(ctx context.Context) error {
	if !e.ready.Load() {
		return fmt.Errorf("encryptor: %w", errs.ErrNotInitialized)
	}
	return ctx.Err()
}

// Encrypt seals plaintext under the current version of keyID (default key when empty).
func (e *AEADEncryptor) Encrypt(ctx context.Context, plaintext []byte, keyID string) ([]byte, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return e.seal(plaintext, keyID, nonce)
}

// Decrypt opens a ciphertext produced by any version of keyID.
func (e *AEADEncryptor) Decrypt(ctx context.Context, ciphertext []byte, keyID string) ([]byte, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	return e.open(ciphertext, keyID)
}

// Add decrypts two decimal numbers and seals their sum.
func (e *AEADEncryptor) Add(ctx context.Context, a, b []byte, keyID string) ([]byte, error) {
	return e.combine(ctx, "add", a, b, keyID, func(x, y float64) float64 { return x + y })
}

// Multiply decrypts two decimal numbers and seals their product.
func (e *AEADEncryptor) Multiply(ctx context.Context, a, b []byte, keyID string) ([]byte, error) {
	return e.combine(ctx, "mul", a, b, keyID, func(x, y float64) float64 { return x * y })
}

func (e *AEADEncryptor) combine(ctx context.Context, op string, a, b []byte, keyID string, fn func(x, y float64) float64) ([]byte, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	x, err := e.openNumber(a, keyID)
	if err != nil {
		return nil, fmt.Errorf("%s lhs: %w", op, err)
	}
	y, err := e.openNumber(b, keyID)
	if err != nil {
		return nil, fmt.Errorf("%s rhs: %w", op, err)
	}
	result := []byte(strconv.FormatFloat(fn(x, y), 'g', -1, 64))

	id, err := e.keys.resolve(keyID)
	if err != nil {
		return nil, err
	}
	var nonce []byte
	err = e.keys.withDataKey(id, 0, func(key []byte, _ uint32) error {
		la, lb := sha256.Sum256(a), sha256.Sum256(b)
		info := op + "|" + string(la[:]) + string(lb[:])
		n, err := deriveKey(key, info)
		if err != nil {
			return err
		}
		nonce = n[:nonceSize]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.seal(result, keyID, nonce)
}

func (e *AEADEncryptor) openNumber(ct []byte, keyID string) (float64, error) {
	pt, err := e.open(ct, keyID)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(pt)), 64)
	if err != nil {
		return 0, errs.InvalidArgument("operand is not a decimal number")
	}
	return v, nil
}

func (e *AEADEncryptor) seal(plaintext []byte, keyID string, nonce []byte) ([]byte, error) {
	id, err := e.keys.resolve(keyID)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = e.keys.withDataKey(id, 0, func(key []byte, version uint32) error {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return fmt.Errorf("create cipher: %w", err)
		}
		header := make([]byte, headerSize, headerSize+nonceSize+len(plaintext)+aead.Overhead())
		header[0] = formatV1
		binary.BigEndian.PutUint32(header[1:], version)
		out = append(header, nonce...)
		out = aead.Seal(out, nonce, plaintext, header[:headerSize])
		return nil
	})
	return out, err
}

func (e *AEADEncryptor) open(ciphertext []byte, keyID string) ([]byte, error) {
	if len(ciphertext) < minSealed || ciphertext[0] != formatV1 {
		return nil, errs.InvalidArgument("malformed ciphertext")
	}
	id, err := e.keys.resolve(keyID)
	if err != nil {
		return nil, err
	}
	version := binary.BigEndian.Uint32(ciphertext[1:headerSize])
	nonce := ciphertext[headerSize : headerSize+nonceSize]
	var pt []byte
	err = e.keys.withDataKey(id, version, func(key []byte, _ uint32) error {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return fmt.Errorf("create cipher: %w", err)
		}
		pt, err = aead.Open(nil, nonce, ciphertext[headerSize+nonceSize:], ciphertext[:headerSize])
		if err != nil {
			return fmt.Errorf("%w: authentication failed", errs.ErrIntegrityViolation)
		}
		return nil
	})
	return pt, err
}

// Nonce returns a copy of the nonce embedded in ciphertext.
func Nonce(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < minSealed || ciphertext[0] != formatV1 {
		return nil, errs.InvalidArgument("malformed ciphertext")
	}
	out := make([]byte, nonceSize)
	copy(out, ciphertext[headerSize:headerSize+nonceSize])
	return out, nil
}

// #endregion aead

// #region mac

// MAC returns HMAC-SHA256 over ciphertext||nonce with a key derived from keyID
// for dataID.
func (e *AEADEncryptor) MAC(dataID string, ciphertext, nonce []byte, keyID string) ([]byte, error) {
	if !e.ready.Load() {
		return nil, fmt.Errorf("encryptor: %w", errs.ErrNotInitialized)
	}
	id, err := e.keys.resolve(keyID)
	if err != nil {
		return nil, err
	}
	var sum []byte
	err = e.keys.withDataKey(id, 0, func(key []byte, _ uint32) error {
		macKey, err := deriveKey(key, "qshield mac|"+dataID)
		if err != nil {
			return err
		}
		h := hmac.New(sha256.New, macKey)
		h.Write(ciphertext)
		h.Write(nonce)
		sum = h.Sum(nil)
		return nil
	})
	return sum, err
}

// VerifyMAC recomputes the MAC and compares in constant time.
func (e *AEADEncryptor) VerifyMAC(dataID string, ciphertext, nonce, mac []byte, keyID string) (bool, error) {
	want, err := e.MAC(dataID, ciphertext, nonce, keyID)
	if err != nil {
		return false, err
	}
	return hmac.Equal(want, mac), nil
}

// #endregion mac
