package keyexchange

import (
	"encoding/binary"

	gssapi "github.com/golang-auth/go-gssapi/v3"

	"github.com/alljoyn-go/securepeer/pkg/errs"
)

// GSSAPI implements the Gssapi mechanism by driving a
// github.com/golang-auth/go-gssapi/v3 SecContext through its
// Continue()/ContinueNeeded() token-exchange loop instead of running P-256
// key agreement directly; RFC 2743's own key-establishment and
// per-message-protection facilities stand in for ECDHE + AES-CCM.
type GSSAPI struct {
	ctx          gssapi.SecContext
	sessionToken []byte // GetMIC'd seed used in place of a PRF-derived master secret
}

// NewGSSAPI wraps an already-constructed security context (built by the
// caller via a gssapi.Provider for the desired mechanism/credentials).
func NewGSSAPI(ctx gssapi.SecContext) *GSSAPI {
	return &GSSAPI{ctx: ctx}
}

func (g *GSSAPI) Mechanism() Mechanism { return Gssapi }

func (g *GSSAPI) MasterSecret() []byte { return g.sessionToken }

func (g *GSSAPI) ExecKeyExchange(ctx ExchangeContext, authMask SuiteMask, send SendFunc) (SuiteMask, error) {
	var token []byte
	for {
		out, err := g.ctx.Continue(token)
		if err != nil {
			return 0, errs.ErrAuthFail
		}
		if len(out) > 0 {
			reply, err := send(out)
			if err != nil {
				return 0, err
			}
			token = reply
		}
		if !g.ctx.ContinueNeeded() {
			break
		}
	}
	return Gssapi.Mask(), g.finish()
}

func (g *GSSAPI) RespondToKeyExchange(ctx ExchangeContext, incoming []byte, remoteMask, localMask SuiteMask) ([]byte, error) {
	if !localMask.Intersects(remoteMask) {
		return nil, errs.ErrNoAuthenticationMechanism
	}
	out, err := g.ctx.Continue(incoming)
	if err != nil {
		return nil, errs.ErrAuthFail
	}
	if !g.ctx.ContinueNeeded() {
		if err := g.finish(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// finish derives a session key surrogate from a GetMIC'd fixed label, since
// GSSAPI contexts don't expose their underlying key material directly; the
// per-message protection this mechanism relies on in practice is RFC 2743's
// own Wrap/Unwrap. This value is what MasterSecret returns, so it is stored
// as the key-store record's secret bytes.
func (g *GSSAPI) finish() error {
	mic, err := g.ctx.GetMIC([]byte("alljoyn session key"), 0)
	if err != nil {
		return errs.ErrAuthFail
	}
	g.sessionToken = mic
	return nil
}

func (g *GSSAPI) KeyAuthentication(ctx ExchangeContext, peerName string, send SendFunc) (bool, error) {
	info, err := g.ctx.Inquire()
	if err != nil {
		return false, errs.ErrAuthFail
	}
	if !info.FullyEstablished {
		return false, errs.ErrAuthFail
	}

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], 1)
	mic, err := g.ctx.GetMIC(seq[:], 0)
	if err != nil {
		return false, errs.ErrAuthFail
	}
	peerMIC, err := send(mic)
	if err != nil {
		return false, err
	}
	if _, err := g.ctx.VerifyMIC(seq[:], peerMIC); err != nil {
		return false, nil
	}
	return true, nil
}
