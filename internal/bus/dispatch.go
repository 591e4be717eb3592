package bus

import (
	"context"

	itransport "github.com/alljoyn-go/securepeer/internal/transport"
	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/peer"
	"github.com/alljoyn-go/securepeer/pkg/wire"
)

// handleFrame is the Transport.MessageHandler a Runtime installs: it
// either resolves a pending call's reply (frameReply/frameError) or
// decodes a request and routes it to the Peer's corresponding Handle*
// method, mirroring how a DBus daemon demuxes an incoming method call by
// interface/member onto the registered BusObject.
func (rt *rpcTransport) handleFrame(msg *itransport.ReceivedMessage) {
	f, err := decodeFrame(msg.Data)
	if err != nil {
		rt.logf("dropping malformed frame from %s: %v", msg.PeerAddr, err)
		return
	}

	if f.kind != frameRequest {
		rt.mu.Lock()
		ch, ok := rt.pending[f.corrID]
		rt.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	sender := msg.PeerAddr.String()
	rt.AddPeer(sender, msg.PeerAddr)

	ctx := context.Background()
	switch f.op {
	case opExchangeGuids:
		req, err := wire.UnmarshalExchangeGuidsRequest(f.payload)
		rt.replyOrError(f, sender, err, func() ([]byte, error) {
			reply, err := rt.peer.HandleExchangeGuids(sender, req)
			return reply.Marshal(), err
		})
	case opGenSessionKey:
		req, err := wire.UnmarshalGenSessionKeyRequest(f.payload)
		rt.replyOrError(f, sender, err, func() ([]byte, error) {
			reply, err := rt.peer.HandleGenSessionKey(sender, req)
			return reply.Marshal(), err
		})
	case opExchangeGroupKeys:
		req, err := wire.UnmarshalExchangeGroupKeysMessage(f.payload)
		rt.replyOrError(f, sender, err, func() ([]byte, error) {
			return rt.peer.HandleExchangeGroupKeys(sender, req).Marshal(), nil
		})
	case opExchangeSuites:
		req, err := wire.UnmarshalExchangeSuitesMessage(f.payload)
		rt.replyOrError(f, sender, err, func() ([]byte, error) {
			return rt.peer.HandleExchangeSuites(req).Marshal(), nil
		})
	case opKeyExchange:
		req, err := wire.UnmarshalKeyExchangeMessage(f.payload)
		if err != nil {
			rt.sendError(f, sender, err)
			return
		}
		corrID, op := f.corrID, f.op
		err = rt.peer.HandleKeyExchange(ctx, sender, req, func(reply wire.KeyExchangeMessage, err error) {
			rt.sendResult(corrID, op, sender, reply.Marshal(), err)
		})
		if err != nil {
			rt.sendError(f, sender, err)
		}
	case opKeyAuthentication:
		req, err := wire.UnmarshalKeyAuthenticationMessage(f.payload)
		if err != nil {
			rt.sendError(f, sender, err)
			return
		}
		corrID, op := f.corrID, f.op
		err = rt.peer.HandleKeyAuthentication(ctx, sender, req, func(reply wire.KeyAuthenticationMessage, err error) {
			rt.sendResult(corrID, op, sender, reply.Marshal(), err)
		})
		if err != nil {
			rt.sendError(f, sender, err)
		}
	case opGetExpansion:
		req, decodeErr := wire.UnmarshalGetExpansionRequest(f.payload)
		rt.replyOrError(f, sender, decodeErr, func() ([]byte, error) {
			fields, ok := rt.compression.Expansion(req.Token)
			if !ok {
				return nil, errs.ErrCompressionTokenUnknown
			}
			return wire.GetExpansionReply{Fields: peer.EncodeExpansionFields(fields)}.Marshal(), nil
		})
	default:
		rt.sendError(f, sender, errUnknownOpcode)
	}
}

// replyOrError runs fn (a synchronous Handle* call) and sends either its
// marshaled reply or an error frame back to sender.
func (rt *rpcTransport) replyOrError(req frame, sender string, decodeErr error, fn func() ([]byte, error)) {
	if decodeErr != nil {
		rt.sendError(req, sender, decodeErr)
		return
	}
	payload, err := fn()
	if err != nil {
		rt.sendError(req, sender, err)
		return
	}
	rt.sendResult(req.corrID, req.op, sender, payload, nil)
}

func (rt *rpcTransport) sendResult(corrID uint32, op opcode, sender string, payload []byte, err error) {
	if err != nil {
		rt.sendError(frame{corrID: corrID, op: op}, sender, err)
		return
	}
	addr, ok := rt.addressOf(sender)
	if !ok {
		return
	}
	rt.wire.Send(encodeFrame(frame{kind: frameReply, op: op, corrID: corrID, payload: payload}), addr)
}

func (rt *rpcTransport) sendError(req frame, sender string, err error) {
	addr, ok := rt.addressOf(sender)
	if !ok {
		return
	}
	rt.wire.Send(encodeFrame(frame{kind: frameError, op: req.op, corrID: req.corrID, payload: []byte(err.Error())}), addr)
}

func (rt *rpcTransport) logf(format string, args ...any) {
	if rt.log != nil {
		rt.log.Warnf(format, args...)
	}
}
