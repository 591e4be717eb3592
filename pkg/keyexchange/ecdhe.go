package keyexchange

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/errs"
)

// PSKLookup resolves a PSK name to its value for ECDHE-PSK, returning
// ok=false if the name is unknown.
type PSKLookup func(name string) (value []byte, ok bool)

// ECDSASigner signs the verifier bytes with the local identity's private
// key, returning a (sig-info-variant, chain-encoding-byte, cert-chain)
// structure's signature component plus the DER-encoded chain to send.
type ECDSASigner func(verifier []byte) (signature []byte, chain [][]byte, err error)

// ECDSAVerifier validates an incoming (signature, chain) pair against the
// verifier bytes it was computed over, and authorizes the resulting chain
// through whatever policy/listener the caller has configured. On success it
// returns the leaf public key, manifest digest, and issuer key material to
// persist.
type ECDSAVerifier func(verifier, signature []byte, chain [][]byte) (leafPubKey []byte, manifestDigest [32]byte, issuerKeys [][]byte, notAfterUnix int64, err error)

// ECDHE implements the ECDHE-NULL, ECDHE-PSK, and ECDHE-ECDSA key-exchange
// mechanisms: all three run the same NIST P-256 key-agreement and TLS-PRF
// master-secret derivation (4.F), differing only in what (if anything) they
// authenticate the exchange with.
type ECDHE struct {
	mech Mechanism

	// PSK fields, used only when mech == EcdhePsk.
	pskName   string
	pskLookup PSKLookup

	// ECDSA fields, used only when mech == EcdheEcdsa.
	signer   ECDSASigner
	verifier ECDSAVerifier

	localKeys  *crypto.P256KeyPair
	responder  bool // set by RespondToKeyExchange; selects the verifier labels
	remotePub  []byte
	master     []byte
	authResult struct {
		leafPubKey     []byte
		manifestDigest [32]byte
		issuerKeys     [][]byte
		notAfterUnix   int64
	}
}

// NewECDHENull constructs an unauthenticated ECDHE exchanger (no identity
// verification beyond the key agreement itself).
func NewECDHENull() *ECDHE {
	return &ECDHE{mech: EcdheNull}
}

// NewECDHEPSK constructs a pre-shared-key-authenticated ECDHE exchanger.
func NewECDHEPSK(pskName string, lookup PSKLookup) *ECDHE {
	return &ECDHE{mech: EcdhePsk, pskName: pskName, pskLookup: lookup}
}

// NewECDHEECDSA constructs a certificate-authenticated ECDHE exchanger.
func NewECDHEECDSA(signer ECDSASigner, verifier ECDSAVerifier) *ECDHE {
	return &ECDHE{mech: EcdheEcdsa, signer: signer, verifier: verifier}
}

func (e *ECDHE) Mechanism() Mechanism { return e.mech }

func (e *ECDHE) MasterSecret() []byte { return e.master }

// ECDSAAuthResult returns the certificate material recovered during
// KeyAuthentication for the ECDHE-ECDSA mechanism. It is the zero value for
// the other ECDHE variants.
func (e *ECDHE) ECDSAAuthResult() (leafPubKey []byte, manifestDigest [32]byte, issuerKeys [][]byte, notAfterUnix int64) {
	return e.authResult.leafPubKey, e.authResult.manifestDigest, e.authResult.issuerKeys, e.authResult.notAfterUnix
}

// publicValueMessage is the wire-level {suite, public-key-bytes} pair fed
// to the conversation hash and sent over the transport.
type publicValueMessage struct {
	suite     SuiteMask
	publicKey []byte
}

func encodePublicValue(m publicValueMessage) []byte {
	out := make([]byte, 4+len(m.publicKey))
	binary.BigEndian.PutUint32(out[:4], uint32(m.suite))
	copy(out[4:], m.publicKey)
	return out
}

func decodePublicValue(raw []byte) (publicValueMessage, error) {
	if len(raw) < 4 {
		return publicValueMessage{}, errs.ErrAuthFail
	}
	return publicValueMessage{
		suite:     SuiteMask(binary.BigEndian.Uint32(raw[:4])),
		publicKey: raw[4:],
	}, nil
}

func (e *ECDHE) feedHash(ctx ExchangeContext, raw []byte) {
	if ctx.Hash == nil {
		return
	}
	ctx.Hash.UpdateBytes(raw, true)
}

// ExecKeyExchange is the initiator side: generate our P-256 key pair, send
// it with authMask, receive the peer's public value, and derive the master
// secret.
func (e *ECDHE) ExecKeyExchange(ctx ExchangeContext, authMask SuiteMask, send SendFunc) (SuiteMask, error) {
	keys, err := crypto.P256GenerateKeyPair()
	if err != nil {
		return 0, err
	}
	e.localKeys = keys

	outMsg := encodePublicValue(publicValueMessage{suite: e.mech.Mask(), publicKey: keys.P256PublicKey()})
	e.feedHash(ctx, outMsg)

	replyRaw, err := send(outMsg)
	if err != nil {
		return 0, err
	}
	e.feedHash(ctx, replyRaw)

	reply, err := decodePublicValue(replyRaw)
	if err != nil {
		return 0, err
	}

	if err := crypto.P256ValidatePublicKey(reply.publicKey); err != nil {
		return 0, errs.ErrAuthFail
	}
	e.remotePub = reply.publicKey

	if err := e.deriveMasterSecret(); err != nil {
		return 0, err
	}
	return reply.suite, nil
}

// RespondToKeyExchange is the responder side: validate the remote mask
// intersects our supported suite, reply with our public value, and derive
// the master secret.
func (e *ECDHE) RespondToKeyExchange(ctx ExchangeContext, incoming []byte, remoteMask, localMask SuiteMask) ([]byte, error) {
	if !localMask.Intersects(remoteMask) {
		return nil, errs.ErrNoAuthenticationMechanism
	}
	e.responder = true
	e.feedHash(ctx, incoming)

	in, err := decodePublicValue(incoming)
	if err != nil {
		return nil, err
	}
	if err := crypto.P256ValidatePublicKey(in.publicKey); err != nil {
		return nil, errs.ErrAuthFail
	}
	e.remotePub = in.publicKey

	keys, err := crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	e.localKeys = keys

	outMsg := encodePublicValue(publicValueMessage{suite: e.mech.Mask(), publicKey: keys.P256PublicKey()})
	e.feedHash(ctx, outMsg)

	if err := e.deriveMasterSecret(); err != nil {
		return nil, err
	}
	return outMsg, nil
}

// deriveMasterSecret hashes the ECDH shared secret to form the pre-master
// secret, then runs it through the TLS PRF with label "master secret" and
// an empty seed to derive the 48-byte master secret.
func (e *ECDHE) deriveMasterSecret() error {
	shared, err := crypto.P256ECDH(e.localKeys, e.remotePub)
	if err != nil {
		return errs.ErrAuthFail
	}
	preMaster := sha256.Sum256(shared)
	e.master = crypto.PRF(preMaster[:], "master secret", nil, masterSecretLen)
	return nil
}

// KeyAuthentication exchanges verifier payloads. For ECDHE-PSK, the PSK
// name/value are appended to the PRF seed outside the hashed transcript so
// a mismatch fails authentication cleanly rather than desynchronizing the
// conversation hash. For ECDHE-ECDSA, the verifier is additionally signed
// and the signature/chain validated via the configured callbacks. The
// initiator sends the "client finished" verifier and expects "server
// finished" back; the responder does the reverse.
func (e *ECDHE) KeyAuthentication(ctx ExchangeContext, peerName string, send SendFunc) (bool, error) {
	digest := ctx.Hash.GetDigest(true)

	var pskName, pskValue []byte
	if e.mech == EcdhePsk && ctx.NegotiatedAuthVersion >= 4 {
		value, ok := e.pskLookup(e.pskName)
		if !ok {
			return false, errs.ErrAuthFail
		}
		pskName = []byte(e.pskName)
		pskValue = value
	}

	ourLabel, peerLabel := clientFinishedLabel, serverFinishedLabel
	if e.responder {
		ourLabel, peerLabel = serverFinishedLabel, clientFinishedLabel
	}
	ourVerifier := computeVerifier(e.master, ourLabel, digest, pskName, pskValue)

	var outgoing []byte
	if e.mech == EcdheEcdsa {
		sig, chain, err := e.signer(ourVerifier)
		if err != nil {
			return false, err
		}
		outgoing = encodeECDSAAuth(ourVerifier, sig, chain)
	} else {
		outgoing = ourVerifier
	}

	replyRaw, err := send(outgoing)
	if err != nil {
		return false, err
	}

	expectedPeerVerifier := computeVerifier(e.master, peerLabel, digest, pskName, pskValue)

	if e.mech == EcdheEcdsa {
		verifier, sig, chain, err := decodeECDSAAuth(replyRaw)
		if err != nil {
			return false, err
		}
		if !verifyEquals(verifier, expectedPeerVerifier) {
			return false, nil
		}
		leafKey, digest32, issuers, notAfter, err := e.verifier(verifier, sig, chain)
		if err != nil {
			return false, nil
		}
		e.authResult.leafPubKey = leafKey
		e.authResult.manifestDigest = digest32
		e.authResult.issuerKeys = issuers
		e.authResult.notAfterUnix = notAfter
		return true, nil
	}

	return verifyEquals(replyRaw, expectedPeerVerifier), nil
}

func encodeECDSAAuth(verifier, sig []byte, chain [][]byte) []byte {
	out := make([]byte, 0, len(verifier)+len(sig)+64)
	out = append(out, byte(len(verifier)))
	out = append(out, verifier...)
	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(sig)))
	out = append(out, sigLen[:]...)
	out = append(out, sig...)
	out = append(out, byte(len(chain)))
	for _, cert := range chain {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(cert)))
		out = append(out, l[:]...)
		out = append(out, cert...)
	}
	return out
}

func decodeECDSAAuth(raw []byte) (verifier, sig []byte, chain [][]byte, err error) {
	if len(raw) < 1 {
		return nil, nil, nil, errs.ErrAuthFail
	}
	vLen := int(raw[0])
	raw = raw[1:]
	if len(raw) < vLen+2 {
		return nil, nil, nil, errs.ErrAuthFail
	}
	verifier, raw = raw[:vLen], raw[vLen:]

	sigLen := int(binary.BigEndian.Uint16(raw[:2]))
	raw = raw[2:]
	if len(raw) < sigLen+1 {
		return nil, nil, nil, errs.ErrAuthFail
	}
	sig, raw = raw[:sigLen], raw[sigLen:]

	nCerts := int(raw[0])
	raw = raw[1:]
	for i := 0; i < nCerts; i++ {
		if len(raw) < 2 {
			return nil, nil, nil, errs.ErrAuthFail
		}
		l := int(binary.BigEndian.Uint16(raw[:2]))
		raw = raw[2:]
		if len(raw) < l {
			return nil, nil, nil, errs.ErrAuthFail
		}
		chain = append(chain, raw[:l])
		raw = raw[l:]
	}
	return verifier, sig, chain, nil
}
