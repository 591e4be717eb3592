package keyexchange

import "github.com/alljoyn-go/securepeer/pkg/errs"

// identityOnly implements the Anonymous and External mechanisms: neither
// establishes a session key, so ExecKeyExchange/RespondToKeyExchange are
// no-ops beyond the suite-mask handshake, and KeyAuthentication always
// succeeds (the two peers are considered mutually authenticated by the
// fact that a bus connection was accepted at all — AllJoyn leaves identity
// policing for these mechanisms to the transport/policy layers instead).
type identityOnly struct {
	mech Mechanism
}

// NewAnonymous constructs the Anonymous mechanism.
func NewAnonymous() Exchanger { return &identityOnly{mech: Anonymous} }

// NewExternal constructs the External mechanism.
func NewExternal() Exchanger { return &identityOnly{mech: External} }

func (i *identityOnly) Mechanism() Mechanism { return i.mech }

func (i *identityOnly) MasterSecret() []byte { return nil }

func (i *identityOnly) ExecKeyExchange(ctx ExchangeContext, authMask SuiteMask, send SendFunc) (SuiteMask, error) {
	reply, err := send(encodePublicValue(publicValueMessage{suite: i.mech.Mask()}))
	if err != nil {
		return 0, err
	}
	msg, err := decodePublicValue(reply)
	if err != nil {
		return 0, err
	}
	return msg.suite, nil
}

func (i *identityOnly) RespondToKeyExchange(ctx ExchangeContext, incoming []byte, remoteMask, localMask SuiteMask) ([]byte, error) {
	if !localMask.Intersects(remoteMask) {
		return nil, errs.ErrNoAuthenticationMechanism
	}
	return encodePublicValue(publicValueMessage{suite: i.mech.Mask()}), nil
}

func (i *identityOnly) KeyAuthentication(ctx ExchangeContext, peerName string, send SendFunc) (bool, error) {
	return true, nil
}

// srpUnsupported reports the legacy SRP-Keyx/SRP-Logon mechanisms as
// unavailable. AllJoyn's own SRP implementation is a bespoke
// variant of RFC 5054 SRP-6a; no library in this codebase's dependency
// surface speaks it, and it is deprecated in favor of ECDHE in current
// AllJoyn deployments, so it is wired into the mechanism set as a suite
// that correctly reports "no supported mechanism" rather than silently
// omitted from the Mechanism enum.
type srpUnsupported struct {
	mech Mechanism
}

// NewSRPKeyx constructs the legacy SRP-Keyx mechanism stub.
func NewSRPKeyx() Exchanger { return &srpUnsupported{mech: SrpKeyx} }

// NewSRPLogon constructs the legacy SRP-Logon mechanism stub.
func NewSRPLogon() Exchanger { return &srpUnsupported{mech: SrpLogon} }

func (s *srpUnsupported) Mechanism() Mechanism { return s.mech }

func (s *srpUnsupported) MasterSecret() []byte { return nil }

func (s *srpUnsupported) ExecKeyExchange(ExchangeContext, SuiteMask, SendFunc) (SuiteMask, error) {
	return 0, errs.ErrNoAuthenticationMechanism
}

func (s *srpUnsupported) RespondToKeyExchange(ExchangeContext, []byte, SuiteMask, SuiteMask) ([]byte, error) {
	return nil, errs.ErrNoAuthenticationMechanism
}

func (s *srpUnsupported) KeyAuthentication(ExchangeContext, string, SendFunc) (bool, error) {
	return false, errs.ErrNoAuthenticationMechanism
}
