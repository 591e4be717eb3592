package bus

import (
	"crypto/ecdsa"
	"crypto/x509"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/keyexchange"
	"github.com/alljoyn-go/securepeer/pkg/policy"
)

// ecdsaSigner adapts a Runtime's identity key and the certificate chain
// pkg/permission last installed into a keyexchange.ECDSASigner, signing
// the ECDHE verifier string and presenting the chain DER-encoded, the
// wire encoding ECDHE_ECDSA expects (§4.F).
func ecdsaSigner(keys *crypto.P256KeyPair, identityChain func() []*x509.Certificate) keyexchange.ECDSASigner {
	return func(verifier []byte) (signature []byte, chain [][]byte, err error) {
		sig, err := crypto.P256Sign(keys, verifier)
		if err != nil {
			return nil, nil, err
		}
		for _, cert := range identityChain() {
			chain = append(chain, cert.Raw)
		}
		return sig, chain, nil
	}
}

// ecdsaVerifier adapts a Runtime's policy engine into a
// keyexchange.ECDSAVerifier: it parses the peer's presented chain,
// validates it against the engine's trust-anchor list, and checks the
// signature against the leaf's public key.
//
// manifestDigest is returned as the zero value: the wire-level ECDHE
// exchange in this package does not carry the peer's manifest bytes
// alongside its certificate chain, only the chain itself, so there is
// nothing to hash here. A full manifest-binding check happens later,
// when the peer's InstallIdentity/Claim call (if any) is processed by
// pkg/permission — this verifier only establishes the session key.
func ecdsaVerifier(engine *policy.Engine) keyexchange.ECDSAVerifier {
	return func(verifier, signature []byte, chainDER [][]byte) (leafPubKey []byte, manifestDigest [32]byte, issuerKeys [][]byte, notAfterUnix int64, err error) {
		if len(chainDER) == 0 {
			return nil, manifestDigest, nil, 0, errs.ErrInvalidCertificate
		}
		chain := make([]*x509.Certificate, 0, len(chainDER))
		for _, der := range chainDER {
			cert, parseErr := x509.ParseCertificate(der)
			if parseErr != nil {
				return nil, manifestDigest, nil, 0, errs.ErrInvalidCertificate
			}
			chain = append(chain, cert)
		}

		if _, err := policy.ValidateChain(chain, engine.TrustAnchors()); err != nil {
			return nil, manifestDigest, nil, 0, err
		}

		leaf := chain[0]
		pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, manifestDigest, nil, 0, errs.ErrInvalidCertificate
		}
		leafPubKey = uncompressedPoint(pub)

		ok, err = crypto.P256Verify(leafPubKey, verifier, signature)
		if err != nil {
			return nil, manifestDigest, nil, 0, err
		}
		if !ok {
			return nil, manifestDigest, nil, 0, errs.ErrAuthFail
		}

		for _, cert := range chain[1:] {
			if issuerPub, ok := cert.PublicKey.(*ecdsa.PublicKey); ok {
				issuerKeys = append(issuerKeys, uncompressedPoint(issuerPub))
			}
		}
		return leafPubKey, manifestDigest, issuerKeys, leaf.NotAfter.Unix(), nil
	}
}

func uncompressedPoint(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:65])
	return out
}
