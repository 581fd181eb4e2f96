package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

const pointSize = bn254.SizeOfG1AffineCompressed

// Proof is what GenerateProof hands back. PublicSignals are [circuitID, inputCommitment].
type Proof struct {
	Proof           string   `json:"proof"`
	PublicSignals   []string `json:"public_signals"`
	VerificationKey string   `json:"verification_key"`
	CircuitID       string   `json:"circuit_id"`
}

// ProofSystem produces and checks integrity proofs over protected inputs.
type ProofSystem interface {
	GenerateProof(ctx context.Context, inputs map[string]any, circuitID string) (Proof, error)
	VerifyProof(ctx context.Context, proof string, publicSignals []string, verificationKey string) (bool, error)
}

// #region schnorr

// SchnorrProofSystem proves knowledge of the witness x = H(circuitID, inputs)
// behind the statement P = x·G on BN254 G1, made non-interactive with
// Fiat-Shamir. The verification key is the compressed P.
type SchnorrProofSystem struct {
	g     bn254.G1Affine
	order *big.Int
	ready atomic.Bool
}

// NewSchnorrProofSystem returns a proof system that refuses work until Init.
func NewSchnorrProofSystem() *SchnorrProofSystem {
	_, _, g1, _ := bn254.Generators()
	return &SchnorrProofSystem{g: g1, order: fr.Modulus()}
}

// Init marks the system ready.
func (p *SchnorrProofSystem) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.ready.Store(true)
	return nil
}

// GenerateProof commits to inputs under circuitID.
func (p *SchnorrProofSystem) GenerateProof(ctx context.Context, inputs map[string]any, circuitID string) (Proof, error) {
	if !p.ready.Load() {
		return Proof{}, fmt.Errorf("proof system: %w", errs.ErrNotInitialized)
	}
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}
	if circuitID == "" {
		return Proof{}, errs.InvalidArgument("circuit id is empty")
	}
	canonical, err := json.Marshal(inputs)
	if err != nil {
		return Proof{}, errs.InvalidArgument("inputs are not serializable: %v", err)
	}
	commitment := sha256.Sum256(canonical)
	signals := []string{circuitID, hex.EncodeToString(commitment[:])}

	x := p.scalar([]byte("qshield witness"), []byte(circuitID), canonical)
	var statement bn254.G1Affine
	statement.ScalarMultiplication(&p.g, x)

	k, err := rand.Int(rand.Reader, p.order)
	if err != nil {
		return Proof{}, fmt.Errorf("proof nonce: %w", err)
	}
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	var r bn254.G1Affine
	r.ScalarMultiplication(&p.g, k)

	c := p.challenge(&r, &statement, signals)
	s := new(big.Int).Mul(c, x)
	s.Add(s, k)
	s.Mod(s, p.order)

	rb := r.Bytes()
	raw := make([]byte, 0, pointSize+32)
	raw = append(raw, rb[:]...)
	raw = append(raw, s.FillBytes(make([]byte, 32))...)

	pb := statement.Bytes()
	return Proof{
		Proof:           base64.StdEncoding.EncodeToString(raw),
		PublicSignals:   signals,
		VerificationKey: hex.EncodeToString(pb[:]),
		CircuitID:       circuitID,
	}, nil
}

// VerifyProof checks s·G == R + c·P. A malformed proof or key is reported as
// false with an InvalidArgument error.
func (p *SchnorrProofSystem) VerifyProof(ctx context.Context, proof string, publicSignals []string, verificationKey string) (bool, error) {
	if !p.ready.Load() {
		return false, fmt.Errorf("proof system: %w", errs.ErrNotInitialized)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := base64.StdEncoding.DecodeString(proof)
	if err != nil || len(raw) != pointSize+32 {
		return false, errs.InvalidArgument("malformed proof")
	}
	vk, err := hex.DecodeString(verificationKey)
	if err != nil || len(vk) != pointSize {
		return false, errs.InvalidArgument("malformed verification key")
	}

	var r, statement bn254.G1Affine
	if _, err := r.SetBytes(raw[:pointSize]); err != nil {
		return false, errs.InvalidArgument("proof point: %v", err)
	}
	if _, err := statement.SetBytes(vk); err != nil {
		return false, errs.InvalidArgument("verification key point: %v", err)
	}
	s := new(big.Int).SetBytes(raw[pointSize:])
	if s.Cmp(p.order) >= 0 {
		return false, nil
	}

	c := p.challenge(&r, &statement, publicSignals)
	var lhs, cp, rhs bn254.G1Affine
	lhs.ScalarMultiplication(&p.g, s)
	cp.ScalarMultiplication(&statement, c)
	rhs.Add(&r, &cp)
	return lhs.Equal(&rhs), nil
}

func (p *SchnorrProofSystem) challenge(r, statement *bn254.G1Affine, signals []string) *big.Int {
	rb, sb := r.Bytes(), statement.Bytes()
	parts := [][]byte{[]byte("qshield challenge"), rb[:], sb[:]}
	for _, sig := range signals {
		parts = append(parts, []byte(sig))
	}
	return p.scalar(parts...)
}

// scalar hashes length-prefixed parts to a non-zero element of the scalar field.
func (p *SchnorrProofSystem) scalar(parts ...[]byte) *big.Int {
	h := sha256.New()
	var n [8]byte
	for _, part := range parts {
		big.NewInt(int64(len(part))).FillBytes(n[:])
		h.Write(n[:])
		h.Write(part)
	}
	v := new(big.Int).SetBytes(h.Sum(nil))
	v.Mod(v, p.order)
	if v.Sign() == 0 {
		v.SetInt64(1)
	}
	return v
}

// #endregion schnorr
