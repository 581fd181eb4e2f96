package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

func readyEncryptor(t *testing.T) (*AEADEncryptor, *KeyManager) {
	t.Helper()
	km := NewKeyManager()
	enc := NewAEADEncryptor(km)
	require.NoError(t, enc.Init(context.Background()))
	return enc, km
}

func TestKeyManager(t *testing.T) {
	km := NewKeyManager()
	_, err := km.GetDefaultKey()
	assert.ErrorIs(t, err, errs.ErrKeyNotFound)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	kp, err := km.GenerateKeyPair("alpha")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), kp.Version)
	assert.Equal(t, Algorithm, kp.Algorithm)
	assert.NotEmpty(t, kp.PublicKey)

	def, err := km.GetDefaultKey()
	require.NoError(t, err)
	assert.Equal(t, "alpha", def.ID)

	_, err = km.GenerateKeyPair("alpha")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	rotated, err := km.RotateKey("alpha")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rotated.Version)
	assert.NotEqual(t, kp.Fingerprint, rotated.Fingerprint)

	versions, err := km.Versions("alpha")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	_, err = km.GetKey("missing")
	assert.ErrorIs(t, err, errs.ErrKeyNotFound)
	_, err = km.RotateKey("missing")
	assert.ErrorIs(t, err, errs.ErrKeyNotFound)
}

func TestEncryptorRequiresInit(t *testing.T) {
	enc := NewAEADEncryptor(NewKeyManager())
	_, err := enc.Encrypt(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, errs.ErrNotInitialized)
	_, err = enc.Decrypt(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, errs.ErrNotInitialized)
	_, err = enc.MAC("d", nil, nil, "")
	assert.ErrorIs(t, err, errs.ErrNotInitialized)
}

func TestEncryptDecrypt(t *testing.T) {
	enc, _ := readyEncryptor(t)
	ctx := context.Background()

	a, err := enc.Encrypt(ctx, []byte(`{"balance":100}`), "")
	require.NoError(t, err)
	b, err := enc.Encrypt(ctx, []byte(`{"balance":100}`), "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per encryption")

	pt, err := enc.Decrypt(ctx, a, "")
	require.NoError(t, err)
	assert.Equal(t, `{"balance":100}`, string(pt))

	a[len(a)-1] ^= 0xff
	_, err = enc.Decrypt(ctx, a, "")
	assert.ErrorIs(t, err, errs.ErrIntegrityViolation)

	_, err = enc.Decrypt(ctx, []byte{1, 2, 3}, "")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestNonceIsEmbedded(t *testing.T) {
	enc, _ := readyEncryptor(t)
	ct, err := enc.Encrypt(context.Background(), []byte("x"), "")
	require.NoError(t, err)

	n, err := Nonce(ct)
	require.NoError(t, err)
	assert.Len(t, n, nonceSize)
	assert.Equal(t, ct[headerSize:headerSize+nonceSize], n)

	_, err = Nonce([]byte{formatV1})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestDecryptAfterRotation(t *testing.T) {
	enc, km := readyEncryptor(t)
	ctx := context.Background()

	old, err := enc.Encrypt(ctx, []byte("before"), "default")
	require.NoError(t, err)
	_, err = km.RotateKey("default")
	require.NoError(t, err)
	fresh, err := enc.Encrypt(ctx, []byte("after"), "default")
	require.NoError(t, err)

	pt, err := enc.Decrypt(ctx, old, "default")
	require.NoError(t, err)
	assert.Equal(t, "before", string(pt))
	pt, err = enc.Decrypt(ctx, fresh, "default")
	require.NoError(t, err)
	assert.Equal(t, "after", string(pt))
}

func TestHomomorphicOpsAreDeterministic(t *testing.T) {
	enc, _ := readyEncryptor(t)
	ctx := context.Background()

	x, err := enc.Encrypt(ctx, []byte("2.5"), "")
	require.NoError(t, err)
	y, err := enc.Encrypt(ctx, []byte("4"), "")
	require.NoError(t, err)

	sum1, err := enc.Add(ctx, x, y, "")
	require.NoError(t, err)
	sum2, err := enc.Add(ctx, x, y, "")
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)

	pt, err := enc.Decrypt(ctx, sum1, "")
	require.NoError(t, err)
	assert.Equal(t, "6.5", string(pt))

	prod, err := enc.Multiply(ctx, x, y, "")
	require.NoError(t, err)
	pt, err = enc.Decrypt(ctx, prod, "")
	require.NoError(t, err)
	assert.Equal(t, "10", string(pt))

	text, err := enc.Encrypt(ctx, []byte("abc"), "")
	require.NoError(t, err)
	_, err = enc.Add(ctx, x, text, "")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestMAC(t *testing.T) {
	enc, _ := readyEncryptor(t)
	ct, nonce := []byte("ciphertext"), []byte("nonce")

	mac, err := enc.MAC("item-1", ct, nonce, "")
	require.NoError(t, err)
	ok, err := enc.VerifyMAC("item-1", ct, nonce, mac, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = enc.VerifyMAC("item-2", ct, nonce, mac, "")
	assert.False(t, ok, "mac key is bound to the data id")
	ok, _ = enc.VerifyMAC("item-1", []byte("other"), nonce, mac, "")
	assert.False(t, ok)
}

func TestSchnorrProofs(t *testing.T) {
	ps := NewSchnorrProofSystem()
	ctx := context.Background()
	inputs := map[string]any{"hash": "abc", "states": 3}

	_, err := ps.GenerateProof(ctx, inputs, "integrity")
	assert.ErrorIs(t, err, errs.ErrNotInitialized)
	require.NoError(t, ps.Init(ctx))

	proof, err := ps.GenerateProof(ctx, inputs, "integrity")
	require.NoError(t, err)
	assert.Equal(t, "integrity", proof.CircuitID)
	require.Len(t, proof.PublicSignals, 2)

	ok, err := ps.VerifyProof(ctx, proof.Proof, proof.PublicSignals, proof.VerificationKey)
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := ps.GenerateProof(ctx, inputs, "integrity")
	require.NoError(t, err)
	assert.Equal(t, proof.VerificationKey, again.VerificationKey, "statement depends only on inputs")

	tampered := append([]string{}, proof.PublicSignals...)
	tampered[1] = "00"
	ok, err = ps.VerifyProof(ctx, proof.Proof, tampered, proof.VerificationKey)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := ps.GenerateProof(ctx, map[string]any{"hash": "zzz"}, "integrity")
	require.NoError(t, err)
	ok, err = ps.VerifyProof(ctx, proof.Proof, proof.PublicSignals, other.VerificationKey)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ps.VerifyProof(ctx, "!!", proof.PublicSignals, proof.VerificationKey)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
