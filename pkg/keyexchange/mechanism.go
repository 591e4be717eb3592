// Package keyexchange implements the pluggable authentication-suite
// engines: ECDHE-NULL/PSK/ECDSA key agreement, the Anonymous/External
// identity-only SASL mechanisms, the legacy SRP mechanisms, and a GSSAPI
// bridge, unified behind one capability interface per component 4.F.
//
// It generalizes the teacher's pkg/exchange (Matter's PASE/CASE session
// establishment) from a two-mechanism, fixed-pipeline design to AllJoyn's
// pluggable mechanism-negotiation model.
package keyexchange

import "github.com/alljoyn-go/securepeer/pkg/convhash"

// Mechanism identifies one authentication suite.
type Mechanism int

const (
	Anonymous Mechanism = iota
	External
	SrpKeyx
	SrpLogon
	EcdheNull
	EcdhePsk
	EcdheEcdsa
	Gssapi
)

func (m Mechanism) String() string {
	switch m {
	case Anonymous:
		return "ALLJOYN_ANONYMOUS"
	case External:
		return "ALLJOYN_EXTERNAL"
	case SrpKeyx:
		return "ALLJOYN_SRP_KEYX"
	case SrpLogon:
		return "ALLJOYN_SRP_LOGON"
	case EcdheNull:
		return "ALLJOYN_ECDHE_NULL"
	case EcdhePsk:
		return "ALLJOYN_ECDHE_PSK"
	case EcdheEcdsa:
		return "ALLJOYN_ECDHE_ECDSA"
	case Gssapi:
		return "ALLJOYN_GSSAPI"
	default:
		return "UNKNOWN"
	}
}

// SuiteMask is the bitmask form of a mechanism set: the upper 16 bits select
// the key-agreement family, the lower 16 bits select the auth method within
// that family.
type SuiteMask uint32

const (
	maskAnonymous  SuiteMask = 0x0001 | 0x00010000
	maskExternal   SuiteMask = 0x0001 | 0x00020000
	maskSrpKeyx    SuiteMask = 0x0001 | 0x00080000
	maskSrpLogon   SuiteMask = 0x0001 | 0x00100000
	maskEcdheNull  SuiteMask = 0x00400001
	maskEcdhePsk   SuiteMask = 0x00400002
	maskEcdheEcdsa SuiteMask = 0x00400004
	maskGssapi     SuiteMask = 0x0001 | 0x00800000
)

// Mask returns m's authentication-suite bitmask.
func (m Mechanism) Mask() SuiteMask {
	switch m {
	case Anonymous:
		return maskAnonymous
	case External:
		return maskExternal
	case SrpKeyx:
		return maskSrpKeyx
	case SrpLogon:
		return maskSrpLogon
	case EcdheNull:
		return maskEcdheNull
	case EcdhePsk:
		return maskEcdhePsk
	case EcdheEcdsa:
		return maskEcdheEcdsa
	case Gssapi:
		return maskGssapi
	default:
		return 0
	}
}

// Intersects reports whether remote advertises any suite this mask also
// advertises: the two masks share both a key-agreement bit (upper 16 bits)
// and an authentication-method bit (lower 16 bits).
func (s SuiteMask) Intersects(remote SuiteMask) bool {
	common := s & remote
	return common&0xFFFF0000 != 0 && common&0x0000FFFF != 0
}

// TranscriptMode selects how much of a key-exchange message is fed into the
// conversation hash, per the auth-version-gated rule in 4.F.
type TranscriptMode int

const (
	// TranscriptSuiteAndPublicValue feeds just the suite identifier and
	// public key-agreement value (auth version < 4).
	TranscriptSuiteAndPublicValue TranscriptMode = iota
	// TranscriptFullWireMessage feeds the entire marshaled wire message
	// (auth version >= 4).
	TranscriptFullWireMessage
)

// TranscriptModeFor returns the hashing mode for a negotiated auth version.
func TranscriptModeFor(negotiatedAuthVersion uint32) TranscriptMode {
	if negotiatedAuthVersion >= 4 {
		return TranscriptFullWireMessage
	}
	return TranscriptSuiteAndPublicValue
}

// ExchangeContext carries the per-exchange state every mechanism needs:
// which auth version was negotiated, and the conversation hash to feed.
type ExchangeContext struct {
	NegotiatedAuthVersion uint32
	Hash                  *convhash.Hash
}

func (c ExchangeContext) transcriptMode() TranscriptMode {
	return TranscriptModeFor(c.NegotiatedAuthVersion)
}

// SendFunc transmits a key-exchange message to the peer and returns the
// peer's reply bytes.
type SendFunc func(out []byte) (reply []byte, err error)

// Exchanger is the capability set every mechanism implements.
type Exchanger interface {
	Mechanism() Mechanism

	// ExecKeyExchange runs the initiator side: generate the suite's public
	// value, send it with authMask, receive the peer's reply, and complete
	// key agreement.
	ExecKeyExchange(ctx ExchangeContext, authMask SuiteMask, send SendFunc) (remoteAuthMask SuiteMask, err error)

	// RespondToKeyExchange runs the responder side against an incoming
	// message, given the remote and local suite masks.
	RespondToKeyExchange(ctx ExchangeContext, incoming []byte, remoteMask, localMask SuiteMask) (reply []byte, err error)

	// KeyAuthentication exchanges verifier payloads and reports whether the
	// peer authenticated successfully.
	KeyAuthentication(ctx ExchangeContext, peerName string, send SendFunc) (authorized bool, err error)

	// MasterSecret returns the derived 48-byte master secret, valid after a
	// successful ExecKeyExchange/RespondToKeyExchange plus KeyAuthentication.
	MasterSecret() []byte
}
