package policy

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/tlv"
)

// OIDs identifying the only algorithms this repository supports for
// manifest thumbprints and signatures, matching the ones crypto/x509 itself
// assigns these algorithms.
var (
	OIDSHA256       = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

const (
	tagManifestVersion          = 1
	tagManifestRules            = 2
	tagManifestThumbprintAlgOID = 3
	tagManifestThumbprint       = 4
	tagManifestSigAlgOID        = 5

	tagRuleObjPath   = 1
	tagRuleInterface = 2
	tagRuleMembers   = 3

	tagMemberName = 1
	tagMemberKind = 2
	tagMemberMask = 3
)

// Manifest is a signed set of permission-policy rules bound to one identity
// certificate, per §3's data model.
type Manifest struct {
	Version           uint32
	Rules             []Rule
	ThumbprintAlgOID  asn1.ObjectIdentifier
	Thumbprint        []byte
	SigAlgOID         asn1.ObjectIdentifier
	Signature         []byte
}

// CanonicalBytes serializes the manifest through this repository's TLV
// codec in the field order of §3's data model, omitting Signature — the
// exact bytes that are signed and verified. Little-endian throughout,
// matching pkg/tlv's fixed-width integer encoding.
func (m *Manifest) CanonicalBytes() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagManifestVersion), uint64(m.Version)); err != nil {
		return nil, err
	}
	if err := w.StartArray(tlv.ContextTag(tagManifestRules)); err != nil {
		return nil, err
	}
	for _, r := range m.Rules {
		if err := encodeRuleTLV(w, r); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}

	thumbAlg, err := asn1.Marshal(m.ThumbprintAlgOID)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal thumbprint alg OID: %w", err)
	}
	if err := w.PutBytes(tlv.ContextTag(tagManifestThumbprintAlgOID), thumbAlg); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagManifestThumbprint), m.Thumbprint); err != nil {
		return nil, err
	}
	var sigAlg []byte // left empty on a manifest that has not been signed
	if len(m.SigAlgOID) > 0 {
		sigAlg, err = asn1.Marshal(m.SigAlgOID)
		if err != nil {
			return nil, fmt.Errorf("policy: marshal signature alg OID: %w", err)
		}
	}
	if err := w.PutBytes(tlv.ContextTag(tagManifestSigAlgOID), sigAlg); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeRuleTLV(w *tlv.Writer, r Rule) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutString(tlv.ContextTag(tagRuleObjPath), r.ObjPath); err != nil {
		return err
	}
	if err := w.PutString(tlv.ContextTag(tagRuleInterface), r.Interface); err != nil {
		return err
	}
	if err := w.StartArray(tlv.ContextTag(tagRuleMembers)); err != nil {
		return err
	}
	for _, mem := range r.Members {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutString(tlv.ContextTag(tagMemberName), mem.Name); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagMemberKind), uint64(mem.Kind)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagMemberMask), uint64(mem.Mask)); err != nil {
			return err
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	if err := w.EndContainer(); err != nil {
		return err
	}
	return w.EndContainer()
}

// ComputeThumbprint returns the SHA-256 digest of leaf's raw DER encoding,
// the value manifest.Thumbprint must equal for Claim to accept an identity
// chain.
func ComputeThumbprint(leaf *x509.Certificate) []byte {
	sum := sha256.Sum256(leaf.Raw)
	return sum[:]
}

// Sign computes the manifest's signature over CanonicalBytes using the
// ECDSA P-256 signer pkg/keyexchange's ECDHE-ECDSA mechanism already relies
// on (pkg/crypto.P256Sign), and sets SigAlgOID/Signature.
func (m *Manifest) Sign(signer *crypto.P256KeyPair) error {
	m.SigAlgOID = OIDECDSAWithSHA256
	canonical, err := m.CanonicalBytes()
	if err != nil {
		return err
	}
	sig, err := crypto.P256Sign(signer, canonical)
	if err != nil {
		return fmt.Errorf("policy: sign manifest: %w", err)
	}
	m.Signature = sig
	return nil
}

// Verify checks the manifest's signature against leafPublicKey (the
// identity certificate's uncompressed P-256 public key, per §4.F's
// "verifies the signature with the leaf's subject public key"). An
// unsupported algorithm OID is reported as ErrInvalidCertificate (the
// manifest itself is malformed); a signature that fails to verify over the
// canonical bytes is reported as ErrDigestMismatch, since every byte of
// those canonical bytes — rules included — is covered by the signature, so
// tampering any one of them surfaces the same way a tampered thumbprint
// does in VerifyThumbprint.
func (m *Manifest) Verify(leafPublicKey []byte) error {
	if !m.SigAlgOID.Equal(OIDECDSAWithSHA256) {
		return errs.ErrInvalidCertificate
	}
	canonical, err := m.CanonicalBytes()
	if err != nil {
		return err
	}
	ok, err := crypto.P256Verify(leafPublicKey, canonical, m.Signature)
	if err != nil || !ok {
		return errs.ErrDigestMismatch
	}
	return nil
}

// VerifyThumbprint reports whether the manifest's recorded thumbprint
// matches leaf, per Claim's validation step (b).
func (m *Manifest) VerifyThumbprint(leaf *x509.Certificate) error {
	if !m.ThumbprintAlgOID.Equal(OIDSHA256) {
		return errs.ErrInvalidCertificate
	}
	if !bytes.Equal(m.Thumbprint, ComputeThumbprint(leaf)) {
		return errs.ErrDigestMismatch
	}
	return nil
}
