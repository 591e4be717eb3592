package policy

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"

	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/guid"
)

// CertType is the leaf certificate's role within a chain, identified by one
// of the extended-key-usage OIDs below — the standard library's
// crypto/x509 parses these into Certificate.UnknownExtKeyUsage, so no
// hand-rolled ASN.1 walking is needed beyond recognizing the three OIDs.
type CertType int

const (
	CertUnknown CertType = iota
	CertIdentity
	CertMembership
	CertUnrestricted // legacy type predating the Identity/Membership split
)

var (
	oidExtKeyUsageIdentity     = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 44924, 1, 2}
	oidExtKeyUsageMembership   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 44924, 1, 3}
	oidExtKeyUsageUnrestricted = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 44924, 1, 1}
)

// LeafType classifies cert by its extended key usage, defaulting to
// CertUnrestricted when no recognized usage OID is present (the legacy
// case §4.I calls out explicitly).
func LeafType(cert *x509.Certificate) CertType {
	for _, oid := range cert.UnknownExtKeyUsage {
		switch {
		case oid.Equal(oidExtKeyUsageIdentity):
			return CertIdentity
		case oid.Equal(oidExtKeyUsageMembership):
			return CertMembership
		case oid.Equal(oidExtKeyUsageUnrestricted):
			return CertUnrestricted
		}
	}
	return CertUnrestricted
}

// GuildKey indexes the per-peer guild map (§3: "mapping from
// (membership-serial, issuer-AKI) -> certificate chain").
type GuildKey struct {
	SerialNumber string // cert.SerialNumber.String()
	IssuerAKI    string // hex or raw bytes as a string; opaque comparison key
}

// ValidateChain checks a membership or identity certificate chain against
// §4.I's four rules. chain[0] is the leaf, chain[len-1] the root. It
// returns the leaf's type, or an error identifying which rule failed; the
// matching trust anchor is not returned.
func ValidateChain(chain []*x509.Certificate, anchors *TrustAnchors) (CertType, error) {
	if len(chain) == 0 {
		return CertUnknown, errs.ErrInvalidCertificate
	}

	for i, cert := range chain {
		if len(cert.AuthorityKeyId) == 0 {
			return CertUnknown, errs.ErrInvalidCertificate
		}
		if i == 0 {
			continue // the leaf is exempt from the IsCA / issues-next-lower rule
		}
		if !cert.IsCA || !cert.BasicConstraintsValid {
			return CertUnknown, errs.ErrInvalidCertificate
		}
		lower := chain[i-1]
		if cert.Subject.String() != lower.Issuer.String() {
			return CertUnknown, errs.ErrInvalidCertificate
		}
		if err := lower.CheckSignatureFrom(cert); err != nil {
			return CertUnknown, errs.ErrInvalidCertificate
		}
	}

	leafType := LeafType(chain[0])
	switch leafType {
	case CertIdentity, CertMembership, CertUnrestricted:
	default:
		return CertUnknown, errs.ErrInvalidCertificateUsage
	}

	if !anyLinkVerifiesAgainstAnchor(chain, leafType, anchors) {
		return CertUnknown, errs.ErrCertificateNotFound
	}
	return leafType, nil
}

func anyLinkVerifiesAgainstAnchor(chain []*x509.Certificate, leafType CertType, anchors *TrustAnchors) bool {
	for _, cert := range chain {
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			continue
		}
		key := uncompressedKey(pub)
		if anchors.MatchesCA(key) {
			return true
		}
		if leafType == CertMembership {
			sg, err := membershipSecurityGroup(chain[0])
			if err == nil && anchors.MatchesSGAuthority(key, sg) {
				return true
			}
		}
	}
	return false
}

// membershipSecurityGroup extracts the security-group ID a membership
// certificate's leaf was issued for from its subject's organizational-unit
// field, the conventional place AllJoyn-style membership certs carry it as
// a hex-encoded 128-bit value.
func membershipSecurityGroup(leaf *x509.Certificate) (guid.GUID128, error) {
	for _, ou := range leaf.Subject.OrganizationalUnit {
		if g, err := guid.ParseHex(ou); err == nil {
			return g, nil
		}
	}
	return guid.GUID128{}, errs.ErrInvalidCertificate
}
