package bus

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"

	itransport "github.com/alljoyn-go/securepeer/internal/transport"
	"github.com/alljoyn-go/securepeer/pkg/compression"
	"github.com/alljoyn-go/securepeer/pkg/peer"
	"github.com/alljoyn-go/securepeer/pkg/wire"
	"github.com/pion/logging"
)

// opcode identifies which §6 wire method a frame carries, framed ahead of
// a little-endian correlation ID the way pkg/exchange.Manager frames an
// exchange ID ahead of every message (exchangeKey-style request/reply
// correlation, simplified here to a single in-flight map instead of a
// full session/fabric-scoped table since there is no DBus router to
// multiplex through).
type opcode byte

const (
	opExchangeGuids opcode = iota + 1
	opGenSessionKey
	opExchangeGroupKeys
	opExchangeSuites
	opKeyExchange
	opKeyAuthentication
	opGetExpansion
)

type frameKind byte

const (
	frameRequest frameKind = iota
	frameReply
	frameError
)

var errUnknownOpcode = errors.New("bus: unknown opcode")

// rpcTransport implements pkg/peer.Transport over a raw
// internal/transport.Transport, correlating requests to replies by a
// random-started, incrementing ID exactly like
// pkg/exchange.Manager.nextExchangeID.
type rpcTransport struct {
	wire        itransport.Transport
	log         logging.LeveledLogger
	peer        *peer.Peer
	compression *compression.Table

	mu       sync.Mutex
	nextID   uint32
	pending  map[uint32]chan frame
	peerAddr map[string]itransport.PeerAddress
}

type frame struct {
	kind    frameKind
	op      opcode
	corrID  uint32
	payload []byte
}

func newRPCTransport(t itransport.Transport, log logging.LeveledLogger) *rpcTransport {
	var seed [4]byte
	rand.Read(seed[:])
	rt := &rpcTransport{
		wire:     t,
		log:      log,
		nextID:   binary.LittleEndian.Uint32(seed[:]),
		pending:  make(map[uint32]chan frame),
		peerAddr: make(map[string]itransport.PeerAddress),
	}
	return rt
}

func (rt *rpcTransport) bindPeer(p *peer.Peer, compressionTable *compression.Table) {
	rt.peer = p
	rt.compression = compressionTable
}

// AddPeer registers the network address a bus name resolves to. There is
// no DBus daemon in this process to resolve well-known names, so callers
// (internal/bus's host application, or tests) record the mapping
// explicitly once a peer's address is known — typically from whatever
// discovery mechanism is in play.
func (rt *rpcTransport) AddPeer(busName string, addr itransport.PeerAddress) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.peerAddr[busName] = addr
}

func (rt *rpcTransport) allocID() uint32 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	id := rt.nextID
	rt.nextID++
	return id
}

func (rt *rpcTransport) addressOf(busName string) (itransport.PeerAddress, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	addr, ok := rt.peerAddr[busName]
	return addr, ok
}

func encodeFrame(f frame) []byte {
	out := make([]byte, 6, 6+len(f.payload))
	out[0] = byte(f.kind)
	out[1] = byte(f.op)
	binary.LittleEndian.PutUint32(out[2:6], f.corrID)
	return append(out, f.payload...)
}

func decodeFrame(data []byte) (frame, error) {
	if len(data) < 6 {
		return frame{}, errors.New("bus: short frame")
	}
	return frame{
		kind:    frameKind(data[0]),
		op:      opcode(data[1]),
		corrID:  binary.LittleEndian.Uint32(data[2:6]),
		payload: data[6:],
	}, nil
}

// call sends a request frame for op to busName and blocks for its reply
// or ctx's cancellation, mirroring §5's suspension-point semantics: a
// canceled context is a failed suspension point, not something this
// layer retries.
func (rt *rpcTransport) call(ctx context.Context, busName string, op opcode, payload []byte) ([]byte, error) {
	addr, ok := rt.addressOf(busName)
	if !ok {
		return nil, errors.New("bus: unknown peer address for " + busName)
	}

	corrID := rt.allocID()
	ch := make(chan frame, 1)
	rt.mu.Lock()
	rt.pending[corrID] = ch
	rt.mu.Unlock()
	defer func() {
		rt.mu.Lock()
		delete(rt.pending, corrID)
		rt.mu.Unlock()
	}()

	if err := rt.wire.Send(encodeFrame(frame{kind: frameRequest, op: op, corrID: corrID, payload: payload}), addr); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply := <-ch:
		if reply.kind == frameError {
			return nil, errors.New(string(reply.payload))
		}
		return reply.payload, nil
	}
}

func (rt *rpcTransport) SenderOf(ctx context.Context, busName string) (string, error) {
	// No DBus daemon sits between peers in this process to resolve a
	// well-known name to a different unique name, so the bus name is its
	// own sender.
	return busName, nil
}

func (rt *rpcTransport) ExchangeGuids(ctx context.Context, busName string, req wire.ExchangeGuidsRequest) (wire.ExchangeGuidsReply, error) {
	raw, err := rt.call(ctx, busName, opExchangeGuids, req.Marshal())
	if err != nil {
		return wire.ExchangeGuidsReply{}, err
	}
	return wire.UnmarshalExchangeGuidsReply(raw)
}

func (rt *rpcTransport) GenSessionKey(ctx context.Context, busName string, req wire.GenSessionKeyRequest) (wire.GenSessionKeyReply, error) {
	raw, err := rt.call(ctx, busName, opGenSessionKey, req.Marshal())
	if err != nil {
		return wire.GenSessionKeyReply{}, err
	}
	return wire.UnmarshalGenSessionKeyReply(raw)
}

func (rt *rpcTransport) ExchangeGroupKeys(ctx context.Context, busName string, msg wire.ExchangeGroupKeysMessage) (wire.ExchangeGroupKeysMessage, error) {
	raw, err := rt.call(ctx, busName, opExchangeGroupKeys, msg.Marshal())
	if err != nil {
		return wire.ExchangeGroupKeysMessage{}, err
	}
	return wire.UnmarshalExchangeGroupKeysMessage(raw)
}

func (rt *rpcTransport) ExchangeSuites(ctx context.Context, busName string, msg wire.ExchangeSuitesMessage) (wire.ExchangeSuitesMessage, error) {
	raw, err := rt.call(ctx, busName, opExchangeSuites, msg.Marshal())
	if err != nil {
		return wire.ExchangeSuitesMessage{}, err
	}
	return wire.UnmarshalExchangeSuitesMessage(raw)
}

func (rt *rpcTransport) KeyExchange(ctx context.Context, busName string, msg wire.KeyExchangeMessage) (wire.KeyExchangeMessage, error) {
	raw, err := rt.call(ctx, busName, opKeyExchange, msg.Marshal())
	if err != nil {
		return wire.KeyExchangeMessage{}, err
	}
	return wire.UnmarshalKeyExchangeMessage(raw)
}

func (rt *rpcTransport) KeyAuthentication(ctx context.Context, busName string, msg wire.KeyAuthenticationMessage) (wire.KeyAuthenticationMessage, error) {
	raw, err := rt.call(ctx, busName, opKeyAuthentication, msg.Marshal())
	if err != nil {
		return wire.KeyAuthenticationMessage{}, err
	}
	return wire.UnmarshalKeyAuthenticationMessage(raw)
}

func (rt *rpcTransport) GetExpansion(ctx context.Context, busName string, token uint32) (wire.GetExpansionReply, error) {
	raw, err := rt.call(ctx, busName, opGetExpansion, wire.GetExpansionRequest{Token: token}.Marshal())
	if err != nil {
		return wire.GetExpansionReply{}, err
	}
	return wire.UnmarshalGetExpansionReply(raw)
}

var _ peer.Transport = (*rpcTransport)(nil)
