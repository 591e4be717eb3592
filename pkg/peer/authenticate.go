package peer

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/guid"
	"github.com/alljoyn-go/securepeer/pkg/keyexchange"
	"github.com/alljoyn-go/securepeer/pkg/keystore"
	"github.com/alljoyn-go/securepeer/pkg/peerstate"
	"github.com/alljoyn-go/securepeer/pkg/wire"
)

const sessionKeyMatterLen = 16 + 12 // AES-128 key + RFC 5246 verifier

// AuthenticateDestination runs the initiator side of the "Authenticate a
// destination" algorithm (§4.G): version negotiation, session-key reuse or
// a full authentication exchange, group-key exchange, and release of any
// other goroutines waiting on the same peer's authentication.
//
// wait controls the behavior when another goroutine is already
// authenticating this peer: true blocks until it completes, false returns
// ErrWouldBlock immediately. Only method calls should ever authenticate
// with wait=false from a transport read path; everything else should wait.
func (p *Peer) AuthenticateDestination(ctx context.Context, busName string, wait bool) error {
	if len(p.mechanisms) == 0 {
		return errs.ErrNoAuthenticationMechanism
	}

	// Step 1: already secure.
	state, _ := p.states.Get(busName, true)
	if state.IsSecure() {
		return nil
	}

	// Step 2: another authentication already in flight for this name.
	if !state.BeginAuth() {
		if !wait {
			return errs.ErrWouldBlock
		}
		state.WaitAuth()
		if state, ok := p.states.Get(busName, false); ok && state.IsSecure() {
			return nil
		}
		return errs.ErrAuthFail
	}
	// We are committed to driving this authentication; always release
	// waiters on the way out, mirroring the original's unconditional
	// SetAuthEvent(NULL) at the bottom of AuthenticatePeer.
	defer state.EndAuth()

	// Step 3: ExchangeGuids, proposing our preferred version.
	reply, err := p.transport.ExchangeGuids(ctx, busName, wire.ExchangeGuidsRequest{
		LocalGUID: p.localGUID.String(),
		Version:   PreferredAuthVersion,
	})
	if err != nil {
		return fmt.Errorf("peer: ExchangeGuids: %w", err)
	}
	if !isCompatibleVersion(reply.Version) {
		return errs.ErrPeerAuthVersionMismatch
	}
	negotiated := lowerVersion(reply.Version, PreferredAuthVersion)

	remoteGUID, err := guid.ParseHex(reply.RemoteGUID)
	if err != nil {
		return fmt.Errorf("peer: malformed remote guid: %w", err)
	}

	// Step 4: re-resolve by the unique sender name; a well-known name may
	// now alias a peer we already have a state entry for.
	sender, err := p.transport.SenderOf(ctx, busName)
	if err != nil {
		sender = busName
	}
	if sender != busName {
		p.states.Alias(sender, busName)
	}
	state, _ = p.states.Get(sender, true)
	state.SetGuidAndAuthVersion(remoteGUID, negotiated)

	if state.IsSecure() {
		return nil
	}

	// Step 5: authenticating to ourselves.
	if remoteGUID == p.localGUID {
		return p.authenticateSelf(state)
	}

	// Step 6: try to derive a session key from an existing master secret.
	authTried, err := p.establishSessionKey(ctx, busName, state, negotiated)
	if err != nil {
		if authTried != "" {
			p.listener.AuthenticationComplete(authTried, sender, false)
		}
		return err
	}
	if authTried != "" {
		p.listener.AuthenticationComplete(authTried, sender, true)
	}

	// Step 9: group-key exchange, encrypted under the session key we just
	// obtained (the transport layer is responsible for applying message
	// crypto to this call; here we only shape the payload).
	return p.exchangeGroupKeys(ctx, busName, state, negotiated)
}

// establishSessionKey implements steps 6-8: reuse an existing master secret
// via GenSessionKey, falling back to a full authentication exchange
// (SASL or ECDHE, chosen by useKeyExchanger) if no master secret is
// available or the derived verifiers disagree. After a fresh authentication
// the session key is derived from the newly stored master secret with a
// second GenSessionKey pass. It returns the mechanism name used if a fresh
// authentication was actually run (used to report AuthenticationComplete),
// or "" if an existing session key was reused.
func (p *Peer) establishSessionKey(ctx context.Context, busName string, state *peerstate.State, negotiated uint32) (authTried string, err error) {
	if p.tryExistingMasterSecret(ctx, busName, state, negotiated) {
		return "", nil
	}

	masks := p.suiteMasksOf()
	protocolVersion := protocolVersionOf(negotiated)

	var mech string
	if useKeyExchanger(protocolVersion, masks) {
		remoteMasks, err := p.requestRemoteSuites(ctx, busName, masks)
		if err != nil {
			return "", err
		}
		mech, err = p.authenticateUsingKeyExchange(ctx, busName, state, negotiated, masks, remoteMasks)
	} else {
		mech, err = p.authenticateUsingSASL(ctx, busName, state, negotiated)
	}
	if err != nil {
		return mech, err
	}
	if !p.tryExistingMasterSecret(ctx, busName, state, negotiated) {
		return mech, errs.ErrAuthFail
	}
	return mech, nil
}

// tryExistingMasterSecret attempts step 6: if a master secret is on file
// for this peer's GUID, run GenSessionKey and accept it if the verifiers
// match.
func (p *Peer) tryExistingMasterSecret(ctx context.Context, busName string, state *peerstate.State, negotiated uint32) bool {
	record, access, ok := p.loadMasterSecret(state.GUID)
	if !ok {
		return false
	}

	localNonce, err := randomNonceHex()
	if err != nil {
		return false
	}
	reply, err := p.transport.GenSessionKey(ctx, busName, wire.GenSessionKeyRequest{
		LocalGUID:  p.localGUID.String(),
		RemoteGUID: state.GUID.String(),
		LocalNonce: localNonce,
	})
	if err != nil {
		return false
	}

	keyMatter, err := sessionKeyMaterial(record.MasterSecret[:], negotiated, localNonce+reply.RemoteNonce)
	if err != nil {
		return false
	}
	verifier := hex.EncodeToString(keyMatter[16:])
	if subtle.ConstantTimeCompare([]byte(verifier), []byte(reply.Verifier)) != 1 {
		return false
	}

	state.SetUnicastKey(keyMatter[:16], sessionKeyLifetime)
	state.Authorizations = [4]byte(access)
	return true
}

// sessionKeyMaterial computes 28 bytes of key matter per GenSessionKey
// (§4.G step 6): key-gen version 0 derives it with the RFC 5246 PRF. Key-gen
// version 1 keeps the "session key" label but switches to an AES-CCM-based
// PRF construction; no teacher or retrieved example implements that
// construction (it is unique to this protocol, not a general-purpose
// primitive an ecosystem library would provide — see DESIGN.md), so it is
// not yet implemented and reported as such rather than silently reusing the
// v0 construction.
func sessionKeyMaterial(masterSecret []byte, negotiated uint32, seed string) ([]byte, error) {
	switch keyGenVersionOf(negotiated) {
	case 0:
		return crypto.PRF(masterSecret, "session key", []byte(seed), sessionKeyMatterLen), nil
	case 1:
		// TODO: implement the AES-CCM-based PRF construction key-gen
		// version 1 requires once a grounded primitive is available.
		return nil, errs.ErrKeyGenVersionUnsupported
	default:
		return nil, errs.ErrKeyGenVersionUnsupported
	}
}

func (p *Peer) loadMasterSecret(peerGUID guid.GUID128) (keyexchange.MasterSecretRecord, keystore.AccessRights, bool) {
	blob, access, err := p.keystore.Get(peerGUID)
	if err != nil {
		return keyexchange.MasterSecretRecord{}, access, false
	}
	record, err := keyexchange.DecodeMasterSecretRecord(blob.Bytes)
	if err != nil {
		return keyexchange.MasterSecretRecord{}, access, false
	}
	return record, access, true
}

// requestRemoteSuites asks the peer which of our proposed suites it also
// supports (ExchangeSuites), step 8.
func (p *Peer) requestRemoteSuites(ctx context.Context, busName string, local []keyexchange.SuiteMask) ([]keyexchange.SuiteMask, error) {
	req := wire.ExchangeSuitesMessage{Suites: make([]uint32, len(local))}
	for i, m := range local {
		req.Suites[i] = uint32(m)
	}
	reply, err := p.transport.ExchangeSuites(ctx, busName, req)
	if err != nil {
		return nil, fmt.Errorf("peer: ExchangeSuites: %w", err)
	}
	out := make([]keyexchange.SuiteMask, len(reply.Suites))
	for i, v := range reply.Suites {
		out[i] = keyexchange.SuiteMask(v)
	}
	return out, nil
}

// authenticateUsingKeyExchange implements AuthenticatePeerUsingKeyExchange:
// try the first local suite that the remote peer also advertised; on
// failure, retry with that suite excluded, until one of our suites
// succeeds or none remain.
func (p *Peer) authenticateUsingKeyExchange(ctx context.Context, busName string, state *peerstate.State, negotiated uint32, localMasks, remoteMasks []keyexchange.SuiteMask) (string, error) {
	remaining := append([]keyexchange.SuiteMask(nil), localMasks...)
	for len(remaining) > 0 {
		suite := remaining[0]
		if !suiteIn(suite, remoteMasks) {
			remaining = remaining[1:]
			continue
		}

		factory := p.factoryForMask(suite)
		if factory == nil {
			remaining = remaining[1:]
			continue
		}
		exchanger := factory()
		mech := exchanger.Mechanism().String()

		protocolVersion := protocolVersionOf(negotiated)
		exchCtx := keyexchange.ExchangeContext{NegotiatedAuthVersion: protocolVersion, Hash: state.InitiatorHash}
		exchCtx.Hash.Init(protocolVersion)

		send := func(out []byte) ([]byte, error) {
			reply, err := p.transport.KeyExchange(ctx, busName, wire.KeyExchangeMessage{
				AuthMask: uint32(suite),
				Payload:  out,
			})
			if err != nil {
				return nil, err
			}
			return reply.Payload, nil
		}

		remoteAuthMask, err := exchanger.ExecKeyExchange(exchCtx, suite, send)
		if err == nil && remoteAuthMask == suite {
			sendAuth := func(out []byte) ([]byte, error) {
				reply, err := p.transport.KeyAuthentication(ctx, busName, wire.KeyAuthenticationMessage{Verifier: out})
				if err != nil {
					return nil, err
				}
				return reply.Verifier, nil
			}
			authorized, authErr := exchanger.KeyAuthentication(exchCtx, busName, sendAuth)
			if authErr == nil && authorized {
				state.SetMutualAuthorization()
				if err := p.recordMasterSecret(state.GUID, exchanger); err != nil {
					return mech, err
				}
				return mech, nil
			}
		}

		remaining = remaining[1:]
	}
	return "", errs.ErrAuthFail
}

func suiteIn(suite keyexchange.SuiteMask, set []keyexchange.SuiteMask) bool {
	for _, s := range set {
		if s == suite {
			return true
		}
	}
	return false
}

func (p *Peer) recordMasterSecret(peerGUID guid.GUID128, exchanger keyexchange.Exchanger) error {
	var record keyexchange.MasterSecretRecord
	copy(record.MasterSecret[:], exchanger.MasterSecret())
	var access keystore.AccessRights
	for i := range access {
		access[i] = keystore.AllowSecureTx | keystore.AllowSecureRx
	}
	return keyexchange.StoreMasterSecret(p.keystore, peerGUID, exchanger.Mechanism().String(), record, access, keystoreExpirationFor(sessionKeyLifetime*7))
}

// authenticateUsingSASL runs the legacy SASL line-protocol path for
// protocol versions below 2, trying Anonymous/External in the order
// configured.
func (p *Peer) authenticateUsingSASL(ctx context.Context, busName string, state *peerstate.State, negotiated uint32) (string, error) {
	protocolVersion := protocolVersionOf(negotiated)
	for _, factory := range p.mechanisms {
		exchanger := factory()
		mech := exchanger.Mechanism().String()
		exchCtx := keyexchange.ExchangeContext{NegotiatedAuthVersion: protocolVersion, Hash: state.InitiatorHash}
		exchCtx.Hash.Init(protocolVersion)

		send := func(out []byte) ([]byte, error) {
			reply, err := p.transport.KeyExchange(ctx, busName, wire.KeyExchangeMessage{
				AuthMask: uint32(exchanger.Mechanism().Mask()),
				Payload:  out,
			})
			if err != nil {
				return nil, err
			}
			return reply.Payload, nil
		}
		if _, err := exchanger.ExecKeyExchange(exchCtx, exchanger.Mechanism().Mask(), send); err != nil {
			continue
		}
		authorized, err := exchanger.KeyAuthentication(exchCtx, busName, send)
		if err != nil || !authorized {
			continue
		}
		state.SetMutualAuthorization()
		if err := p.recordMasterSecret(state.GUID, exchanger); err != nil {
			return mech, err
		}
		return mech, nil
	}
	return "", errs.ErrNoAuthenticationMechanism
}

// exchangeGroupKeys implements step 9: share the process group key under
// the newly established session key.
func (p *Peer) exchangeGroupKeys(ctx context.Context, busName string, state *peerstate.State, negotiated uint32) error {
	local := wire.ExchangeGroupKeysMessage{KeyBytes: p.states.GroupKey()}
	reply, err := p.transport.ExchangeGroupKeys(ctx, busName, local)
	if err != nil {
		return fmt.Errorf("peer: ExchangeGroupKeys: %w", err)
	}
	state.SetGroupKey(reply.KeyBytes)
	return nil
}

// authenticateSelf implements step 5: securing the local peer to itself
// never runs a real handshake; it installs the process group key plus a
// fresh random session key and grants full mutual authorization. Neither
// key carries a mechanism tag such as "SELF": peerstate.State stores only
// the key bytes.
func (p *Peer) authenticateSelf(state *peerstate.State) error {
	state.SetGroupKey(p.states.GroupKey())
	key, err := randomAESKey()
	if err != nil {
		return err
	}
	state.SetUnicastKey(key, 0)
	state.SetMutualAuthorization()
	return nil
}

// keystoreExpirationFor returns the absolute expiration for a master secret
// stored now with the given lifetime.
func keystoreExpirationFor(lifetime time.Duration) time.Time {
	return time.Now().Add(lifetime)
}
