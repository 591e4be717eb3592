package peer

import (
	"context"
	"encoding/hex"

	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/guid"
	"github.com/alljoyn-go/securepeer/pkg/keyexchange"
	"github.com/alljoyn-go/securepeer/pkg/wire"
)

// HandleExchangeGuids answers a remote ExchangeGuids call: pick the lower
// of the two proposed versions, install it on the sender's peer state, and
// reply with our GUID and the negotiated version. Fast and non-blocking, so
// it runs directly rather than via the dispatch queue.
//
// An incompatible proposal does not fail the call: we simply reply with our
// own preferred version and let the initiator decide whether to retry or
// give up, per ajn::AllJoynPeerObj::ExchangeGuids.
func (p *Peer) HandleExchangeGuids(sender string, req wire.ExchangeGuidsRequest) (wire.ExchangeGuidsReply, error) {
	negotiated := PreferredAuthVersion
	if isCompatibleVersion(req.Version) {
		negotiated = lowerVersion(req.Version, PreferredAuthVersion)
	}

	remoteGUID, err := guid.ParseHex(req.LocalGUID)
	if err != nil {
		return wire.ExchangeGuidsReply{}, errNoPeerGUID
	}

	state, _ := p.states.Get(sender, true)
	state.SetGuidAndAuthVersion(remoteGUID, negotiated)

	return wire.ExchangeGuidsReply{RemoteGUID: p.localGUID.String(), Version: negotiated}, nil
}

// HandleGenSessionKey answers a remote GenSessionKey call: regenerate the
// same key matter from our copy of the master secret and return our nonce
// half plus the verifier, so the caller can confirm both sides agree.
func (p *Peer) HandleGenSessionKey(sender string, req wire.GenSessionKeyRequest) (wire.GenSessionKeyReply, error) {
	localGUIDStr := p.localGUID.String()
	if req.RemoteGUID != localGUIDStr {
		return wire.GenSessionKeyReply{}, errs.ErrPeerAuthVersionMismatch
	}

	state, ok := p.states.Get(sender, false)
	if !ok {
		return wire.GenSessionKeyReply{}, errs.ErrKeyUnavailable
	}

	record, access, ok := p.loadMasterSecret(state.GUID)
	if !ok {
		return wire.GenSessionKeyReply{}, errs.ErrKeyUnavailable
	}

	remoteNonce, err := randomNonceHex()
	if err != nil {
		return wire.GenSessionKeyReply{}, err
	}

	keyMatter, err := sessionKeyMaterial(record.MasterSecret[:], state.AuthVersion, req.LocalNonce+remoteNonce)
	if err != nil {
		return wire.GenSessionKeyReply{}, err
	}
	state.SetUnicastKey(keyMatter[:16], sessionKeyLifetime)
	state.Authorizations = [4]byte(access)

	return wire.GenSessionKeyReply{
		RemoteNonce: remoteNonce,
		Verifier:    hex.EncodeToString(keyMatter[16:]),
	}, nil
}

// HandleExchangeSuites answers a remote ExchangeSuites call: intersect our
// configured suites (in our own precedence order) with the remote's
// proposal, per ajn::AllJoynPeerObj::ExchangeSuites. A local suite list of
// zero is reported back as a single zero-valued suite rather than an empty
// list, matching the original's effectiveAuthSuitesCount quirk so an
// interoperating peer still receives a well-formed (if unusable) reply.
func (p *Peer) HandleExchangeSuites(remote wire.ExchangeSuitesMessage) wire.ExchangeSuitesMessage {
	local := p.suiteMasksOf()
	if len(local) == 0 {
		return wire.ExchangeSuitesMessage{Suites: []uint32{0}}
	}

	remoteMasks := make([]keyexchange.SuiteMask, len(remote.Suites))
	for i, v := range remote.Suites {
		remoteMasks[i] = keyexchange.SuiteMask(v)
	}

	effective := make([]uint32, 0, len(local))
	for _, localMask := range local {
		if suiteIn(localMask, remoteMasks) {
			effective = append(effective, uint32(localMask))
		}
	}
	return wire.ExchangeSuitesMessage{Suites: effective}
}

// HandleKeyExchange dispatches an incoming KeyExchange call onto the work
// queue, since it may block on ECDSA signing, GSSAPI round trips, or other
// potentially slow mechanism work that must not stall the transport read
// thread. fn is invoked with the mechanism's RespondToKeyExchange result;
// callers should arrange for it to send the reply (or error) back over the
// bus.
func (p *Peer) HandleKeyExchange(ctx context.Context, sender string, msg wire.KeyExchangeMessage, reply func(wire.KeyExchangeMessage, error)) error {
	if len(p.mechanisms) == 0 {
		return errs.ErrNoAuthenticationMechanism
	}
	return p.queue.Submit(func() {
		state, _ := p.states.Get(sender, true)
		remoteMask := keyexchange.SuiteMask(msg.AuthMask)

		factory := p.factoryForMask(remoteMask)
		if factory == nil {
			reply(wire.KeyExchangeMessage{}, errs.ErrNoAuthenticationMechanism)
			return
		}
		exchanger := factory()
		protocolVersion := protocolVersionOf(state.AuthVersion)
		exchCtx := keyexchange.ExchangeContext{NegotiatedAuthVersion: protocolVersion, Hash: state.ResponderHash}
		exchCtx.Hash.Init(protocolVersion)

		localMask := remoteMask
		out, err := exchanger.RespondToKeyExchange(exchCtx, msg.Payload, remoteMask, localMask)
		p.mu.Lock()
		p.pendingExchangers[sender] = exchanger
		p.mu.Unlock()
		reply(wire.KeyExchangeMessage{AuthMask: uint32(localMask), Payload: out}, err)
	})
}

// HandleKeyAuthentication dispatches the verifier exchange for whichever
// mechanism HandleKeyExchange selected for sender. Both calls are dispatched
// RPCs against the same responder state, bridged by p.pendingExchangers.
func (p *Peer) HandleKeyAuthentication(ctx context.Context, sender string, msg wire.KeyAuthenticationMessage, reply func(wire.KeyAuthenticationMessage, error)) error {
	return p.queue.Submit(func() {
		p.mu.Lock()
		exchanger, ok := p.pendingExchangers[sender]
		delete(p.pendingExchangers, sender)
		p.mu.Unlock()
		if !ok {
			reply(wire.KeyAuthenticationMessage{}, errs.ErrAuthFail)
			return
		}

		state, _ := p.states.Get(sender, true)
		protocolVersion := protocolVersionOf(state.AuthVersion)
		exchCtx := keyexchange.ExchangeContext{NegotiatedAuthVersion: protocolVersion, Hash: state.ResponderHash}

		send := func(out []byte) ([]byte, error) {
			reply(wire.KeyAuthenticationMessage{Verifier: out}, nil)
			return msg.Verifier, nil
		}
		authorized, err := exchanger.KeyAuthentication(exchCtx, sender, send)
		if err != nil || !authorized {
			p.listener.SecurityViolation(sender, errs.ErrAuthFail)
			return
		}

		state.SetMutualAuthorization()
		if err := p.recordMasterSecret(state.GUID, exchanger); err != nil {
			p.listener.SecurityViolation(sender, err)
		}
	})
}

// HandleExchangeGroupKeys answers the responder side of group-key exchange:
// install the peer's group key for decrypting its broadcasts, and return
// ours.
func (p *Peer) HandleExchangeGroupKeys(sender string, msg wire.ExchangeGroupKeysMessage) wire.ExchangeGroupKeysMessage {
	state, _ := p.states.Get(sender, true)
	state.SetGroupKey(msg.KeyBytes)
	return wire.ExchangeGroupKeysMessage{KeyBytes: p.states.GroupKey()}
}

// ForceAuthentication clears a peer's keys, requiring a fresh
// authentication on the next use, mirroring
// ajn::AllJoynPeerObj::ForceAuthentication.
func (p *Peer) ForceAuthentication(busName string) {
	state, ok := p.states.Get(busName, false)
	if !ok {
		return
	}
	state.SetUnicastKey(nil, 0)
	if state.GUID != guid.Nil {
		p.keystore.Delete(state.GUID)
	}
}
