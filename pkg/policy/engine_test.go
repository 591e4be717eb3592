package policy

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"
)

func TestEngineInstallEnforcesStrictlyMonotonicVersion(t *testing.T) {
	e := NewEngine()
	if err := e.Install(Policy{PolicyVersion: 1}); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	if err := e.Install(Policy{PolicyVersion: 1}); err == nil {
		t.Fatal("installing the same policy-version again should be rejected")
	}
	if err := e.Install(Policy{PolicyVersion: 0}); err == nil {
		t.Fatal("installing a lower policy-version should be rejected")
	}
	if err := e.Install(Policy{PolicyVersion: 2}); err != nil {
		t.Fatalf("installing a strictly higher policy-version should succeed: %v", err)
	}
}

func TestEngineInstallRepopulatesTrustAnchors(t *testing.T) {
	e := NewEngine()
	caKey := []byte("a-ca-public-key-stand-in.......")
	p := Policy{
		PolicyVersion: 1,
		ACLs:          []ACL{{Peers: []PeerSpec{{Kind: PeerFromCA, KeyInfo: caKey}}}},
	}
	if err := e.Install(p); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !e.TrustAnchors().MatchesCA(caKey) {
		t.Fatal("Install should repopulate the trust-anchor list from the new policy")
	}
}

func TestEngineResetClearsPolicyAnchorsAndGuilds(t *testing.T) {
	e := NewEngine()
	caKey := []byte("a-ca-public-key-stand-in.......")
	if err := e.Install(Policy{PolicyVersion: 1, ACLs: []ACL{{Peers: []PeerSpec{{Kind: PeerFromCA, KeyInfo: caKey}}}}}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	e.Reset()
	if e.Current().PolicyVersion != 0 {
		t.Fatal("Reset should clear the installed policy")
	}
	if e.TrustAnchors().MatchesCA(caKey) {
		t.Fatal("Reset should clear the trust-anchor list")
	}
}

func issueEngineTestChain(t *testing.T) ([]*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	notBefore := time.Unix(0, 0)
	notAfter := notBefore.Add(time.Hour)

	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "sg authority"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		SubjectKeyId:          []byte{5, 5, 5, 5},
		AuthorityKeyId:        []byte{5, 5, 5, 5},
	}
	root := issueCert(t, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)

	leafTemplate := &x509.Certificate{
		SerialNumber:       big.NewInt(7),
		Subject:            pkix.Name{CommonName: "member leaf"},
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		AuthorityKeyId:     []byte{5, 5, 5, 5},
		UnknownExtKeyUsage: []asn1.ObjectIdentifier{oidExtKeyUsageMembership},
	}
	leaf := issueCert(t, leafTemplate, root, &leafKey.PublicKey, rootKey)
	return []*x509.Certificate{leaf, root}, rootKey
}

func TestEngineInstallMembershipRejectsDuplicate(t *testing.T) {
	e := NewEngine()
	chain, rootKey := issueEngineTestChain(t)
	e.TrustAnchors().Replace([]TrustAnchor{{Use: TrustAnchorCA, KeyInfo: uncompressedKey(&rootKey.PublicKey)}})

	if err := e.InstallMembership(chain); err != nil {
		t.Fatalf("first InstallMembership: %v", err)
	}
	if err := e.InstallMembership(chain); err == nil {
		t.Fatal("installing the same chain twice should return ErrDuplicateCertificate")
	}
}

func TestEngineRemoveMembership(t *testing.T) {
	e := NewEngine()
	chain, rootKey := issueEngineTestChain(t)
	e.TrustAnchors().Replace([]TrustAnchor{{Use: TrustAnchorCA, KeyInfo: uncompressedKey(&rootKey.PublicKey)}})

	if err := e.InstallMembership(chain); err != nil {
		t.Fatalf("InstallMembership: %v", err)
	}
	key := GuildKey{SerialNumber: chain[0].SerialNumber.String(), IssuerAKI: string(chain[0].AuthorityKeyId)}
	if err := e.RemoveMembership(key.SerialNumber, key.IssuerAKI); err != nil {
		t.Fatalf("RemoveMembership: %v", err)
	}
	if err := e.RemoveMembership(key.SerialNumber, key.IssuerAKI); err == nil {
		t.Fatal("removing an already-removed membership should return ErrCertificateNotFound")
	}
}
