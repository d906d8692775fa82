// Copyright 2025 Certen Protocol
//
// Package certificate implements the proof certificate authority: Ed25519
// signing over a canonical JSON encoding of a verification proof, with a
// revocation ledger and a self-describing export/import bundle format.
package certificate

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axiom-labs/ivcud/pkg/errtype"
	"github.com/axiom-labs/ivcud/pkg/verify"
)

// DomainCertificate is the domain-separation tag mixed into every signature
// so certificates can never be confused with signatures produced by other
// subsystems sharing the same key material.
const DomainCertificate = "IVCU_PROOF_CERTIFICATE_V1"

// tierWeight is the weighting used when a certificate's overall score is
// computed from its constituent tier proofs. It is separate from
// pkg/verify's own tier weights: dynamic counts most, then static, formal
// and syntax.
var tierWeight = map[string]float64{
	verify.TierSyntax:  0.1,
	verify.TierStatic:  0.3,
	verify.TierDynamic: 0.4,
	verify.TierFormal:  0.2,
}

// TierProof is the wire-stable record of one tier's contribution to a
// certificate.
type TierProof struct {
	Tier       string   `json:"tier"`
	Passed     bool     `json:"passed"`
	Confidence float64  `json:"confidence"`
	Messages   []string `json:"messages,omitempty"`
}

// Certificate is the signed, exportable proof that a candidate passed
// verification. Fields are ordered so json.Marshal's struct-field order
// doubles as the canonical field order used for signing.
type Certificate struct {
	CertificateID string      `json:"certificate_id"`
	CodeHash      string      `json:"code_hash"` // "sha256:" + hex
	Language      string      `json:"language"`
	TierProofs    []TierProof `json:"tier_proofs"`
	Confidence    float64     `json:"confidence"`
	IssuedAt      time.Time   `json:"issued_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
	PublicKeyHex  string      `json:"public_key_hex"`
	SignatureHex  string      `json:"signature_hex"`
}

// Bundle is the self-describing export format: a certificate plus the
// domain tag and format version needed to re-verify it independent of this
// package's internal defaults.
type Bundle struct {
	FormatVersion int         `json:"format_version"`
	Domain        string      `json:"domain"`
	Certificate   Certificate `json:"certificate"`
}

// Authority issues, verifies, and revokes proof certificates.
type Authority struct {
	mu sync.RWMutex

	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	validity time.Duration
	revoked  map[string]bool
}

// Option configures an Authority at construction time.
type Option func(*Authority)

// WithValidity overrides the default certificate lifetime.
func WithValidity(d time.Duration) Option {
	return func(a *Authority) { a.validity = d }
}

// New creates an Authority with a freshly generated Ed25519 key pair.
func New(opts ...Option) (*Authority, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, &errtype.CryptoError{Reason: "generating certificate authority key pair", Cause: err}
	}
	return newAuthority(priv, pub, opts...), nil
}

// LoadOrCreate loads an Ed25519 seed from path, or generates and persists a
// new one if the file does not exist. This is the standard boot path: the
// authority's identity survives process restarts.
func LoadOrCreate(path string, opts ...Option) (*Authority, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != ed25519.SeedSize {
			return nil, &errtype.CryptoError{Reason: fmt.Sprintf("key file %s has wrong size %d, expected %d", path, len(raw), ed25519.SeedSize)}
		}
		priv := ed25519.NewKeyFromSeed(raw)
		pub := priv.Public().(ed25519.PublicKey)
		return newAuthority(priv, pub, opts...), nil
	}
	if !os.IsNotExist(err) {
		return nil, &errtype.CryptoError{Reason: "reading certificate authority key", Cause: err}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, &errtype.CryptoError{Reason: "generating certificate authority key pair", Cause: err}
	}
	seed := priv.Seed()
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, &errtype.CryptoError{Reason: "persisting certificate authority key", Cause: err}
	}
	return newAuthority(priv, pub, opts...), nil
}

func newAuthority(priv ed25519.PrivateKey, pub ed25519.PublicKey, opts ...Option) *Authority {
	a := &Authority{
		privateKey: priv,
		publicKey:  pub,
		validity:   90 * 24 * time.Hour,
		revoked:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue computes the code hash, assembles tier proofs, signs the canonical
// certificate body, and returns the completed Certificate. Hashing runs
// before signing so the signature covers a fixed-size, order-independent
// digest of the candidate rather than the candidate source itself.
func (a *Authority) Issue(code, language string, outcomes []verify.Outcome) (Certificate, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sum := sha256.Sum256([]byte(code))
	cert := Certificate{
		CertificateID: uuid.NewString(),
		CodeHash:      "sha256:" + hex.EncodeToString(sum[:]),
		Language:      language,
		TierProofs:    toTierProofs(outcomes),
		Confidence:    weightedConfidence(outcomes),
		IssuedAt:      time.Now().UTC(),
		PublicKeyHex:  hex.EncodeToString(a.publicKey),
	}
	cert.ExpiresAt = cert.IssuedAt.Add(a.validity)

	signable, err := canonicalSigningBytes(cert)
	if err != nil {
		return Certificate{}, fmt.Errorf("certificate: building signing payload: %w", err)
	}

	signature := ed25519.Sign(a.privateKey, signable)
	cert.SignatureHex = hex.EncodeToString(signature)

	return cert, nil
}

func toTierProofs(outcomes []verify.Outcome) []TierProof {
	proofs := make([]TierProof, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Skipped {
			continue
		}
		proofs = append(proofs, TierProof{
			Tier:       o.Tier,
			Passed:     o.Passed,
			Confidence: o.Confidence,
			Messages:   o.Messages,
		})
	}
	return proofs
}

func weightedConfidence(outcomes []verify.Outcome) float64 {
	var sum, total float64
	for _, o := range outcomes {
		if o.Skipped {
			continue
		}
		w := tierWeight[o.Tier]
		if w == 0 {
			w = 0.25
		}
		sum += o.Confidence * w
		total += w
	}
	if total == 0 {
		return 0
	}
	confidence := sum / total
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// canonicalSigningBytes marshals everything except the signature itself, in
// struct-declaration field order, so Verify can reproduce the exact bytes
// that were signed.
func canonicalSigningBytes(cert Certificate) ([]byte, error) {
	unsigned := cert
	unsigned.SignatureHex = ""
	body, err := json.Marshal(unsigned)
	if err != nil {
		return nil, err
	}
	return append([]byte(DomainCertificate), body...), nil
}

// Verify checks a certificate's signature, expiry, and revocation status.
// Hash-then-signature order matters: a tampered code hash invalidates the
// signature before revocation is even consulted.
func (a *Authority) Verify(cert Certificate) (bool, error) {
	pub, err := hex.DecodeString(cert.PublicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, &errtype.CryptoError{Reason: "certificate has an invalid public key"}
	}
	sig, err := hex.DecodeString(cert.SignatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, &errtype.CryptoError{Reason: "certificate has an invalid signature"}
	}

	signable, err := canonicalSigningBytes(cert)
	if err != nil {
		return false, fmt.Errorf("certificate: rebuilding signing payload: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), signable, sig) {
		return false, nil
	}

	if time.Now().UTC().After(cert.ExpiresAt) {
		return false, &errtype.CryptoError{Reason: "certificate has expired"}
	}

	a.mu.RLock()
	revoked := a.revoked[cert.CertificateID]
	a.mu.RUnlock()
	if revoked {
		return false, &errtype.CryptoError{Reason: "certificate has been revoked"}
	}

	return true, nil
}

// Revoke marks a certificate id as no longer trustworthy. Revocation is
// additive and never undone by this authority.
func (a *Authority) Revoke(certificateID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[certificateID] = true
}

// IsRevoked reports whether certificateID has been revoked.
func (a *Authority) IsRevoked(certificateID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.revoked[certificateID]
}

// PublicKeyHex returns this authority's public key, for distributing to
// independent verifiers that don't hold the private key.
func (a *Authority) PublicKeyHex() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return hex.EncodeToString(a.publicKey)
}

// Export wraps cert in a self-describing Bundle.
func Export(cert Certificate) Bundle {
	return Bundle{FormatVersion: 1, Domain: DomainCertificate, Certificate: cert}
}

// Import validates a Bundle's domain and format version and returns its
// certificate.
func Import(b Bundle) (Certificate, error) {
	if b.Domain != DomainCertificate {
		return Certificate{}, &errtype.CryptoError{Reason: fmt.Sprintf("unexpected certificate domain %q", b.Domain)}
	}
	if b.FormatVersion != 1 {
		return Certificate{}, &errtype.CryptoError{Reason: fmt.Sprintf("unsupported certificate bundle version %d", b.FormatVersion)}
	}
	return b.Certificate, nil
}
