// Package peer implements the Peer Object: the orchestrator that drives
// version handshake, suite negotiation, session-key generation, group-key
// exchange, header-expansion handling, and queuing of messages awaiting
// authentication. It is the component that wires every other package in
// this module together: pkg/keyexchange for the authentication engines,
// pkg/peerstate for per-peer records, pkg/wire for the method-call shapes,
// pkg/compression for the header token table, and pkg/keystore for
// persisted master secrets.
//
// It generalizes the teacher's pkg/exchange.Manager (Matter's exchange
// dispatch and MRP bookkeeping) from a fixed two-party session-establishment
// pipeline to AllJoyn's per-peer, name-addressed, pluggable-mechanism model.
package peer

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/compression"
	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/guid"
	"github.com/alljoyn-go/securepeer/pkg/keyexchange"
	"github.com/alljoyn-go/securepeer/pkg/keystore"
	"github.com/alljoyn-go/securepeer/pkg/peerstate"
	"github.com/alljoyn-go/securepeer/pkg/wire"
)

// Protocol version constants, mirroring ajn::AllJoynPeerObj's
// PREFERRED_AUTH_VERSION packing: the upper 16 bits carry the protocol
// version, the lower byte the key-generation scheme.
const (
	MinAuthVersion   = 1
	MaxAuthVersion   = 4 // convhash/msgcrypto gate modern behavior at 4; see DESIGN.md.
	MinKeyGenVersion = 0
	MaxKeyGenVersion = 1

	PreferredAuthVersion = uint32(MaxAuthVersion)<<16 | MinKeyGenVersion

	sessionKeyLifetime = 48 * time.Hour
	nonceLen           = 28
	selfTag            = "SELF"
)

func protocolVersionOf(packed uint32) uint32 { return packed >> 16 }
func keyGenVersionOf(packed uint32) uint32   { return packed & 0xFF }

// isCompatibleVersion mirrors ajn::AllJoynPeerObj::IsCompatibleVersion
// exactly: beyond the protocol-version and key-gen-version range checks, it
// also requires the byte between them (bits 8-15) to be zero. That byte is
// unused by this packing but the original rejects any proposal that sets it,
// so a future key-gen scheme can claim it without colliding with old peers.
func isCompatibleVersion(packed uint32) bool {
	pv, kv := protocolVersionOf(packed), keyGenVersionOf(packed)
	if pv < MinAuthVersion || pv > MaxAuthVersion || kv < MinKeyGenVersion || kv > MaxKeyGenVersion {
		return false
	}
	return packed&0xFF00 == 0
}

// lowerVersion picks the protocol-version-dominant, then key-gen-dominant,
// lower of two packed auth versions. Because both fields are packed
// big-endian-significant within the uint32 (version in the upper 16 bits,
// key-gen in the low byte), ordinary numeric comparison already implements
// this rule.
func lowerVersion(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Transport abstracts the Authentication/HeaderCompression/Session bus
// interfaces (§6) this peer calls on a remote object and is called on by
// one. An implementation typically marshals these onto a real DBus
// ProxyBusObject; tests can fake it directly in memory.
type Transport interface {
	// SenderOf resolves the unique bus name that will be recorded as the
	// reply's sender for a method call sent to busName (a well-known name
	// may resolve to a different unique name than busName itself).
	SenderOf(ctx context.Context, busName string) (string, error)

	ExchangeGuids(ctx context.Context, busName string, req wire.ExchangeGuidsRequest) (wire.ExchangeGuidsReply, error)
	GenSessionKey(ctx context.Context, busName string, req wire.GenSessionKeyRequest) (wire.GenSessionKeyReply, error)
	ExchangeGroupKeys(ctx context.Context, busName string, msg wire.ExchangeGroupKeysMessage) (wire.ExchangeGroupKeysMessage, error)
	ExchangeSuites(ctx context.Context, busName string, msg wire.ExchangeSuitesMessage) (wire.ExchangeSuitesMessage, error)
	KeyExchange(ctx context.Context, busName string, msg wire.KeyExchangeMessage) (wire.KeyExchangeMessage, error)
	KeyAuthentication(ctx context.Context, busName string, msg wire.KeyAuthenticationMessage) (wire.KeyAuthenticationMessage, error)
	GetExpansion(ctx context.Context, busName string, token uint32) (wire.GetExpansionReply, error)
}

// ExchangerFactory builds a fresh Exchanger instance for one authentication
// attempt (ECDHE engines carry per-handshake state and cannot be reused).
type ExchangerFactory func() keyexchange.Exchanger

// Listener receives the notifications the application layer cares about:
// completion of an authentication conversation and security violations
// detected on a specific peer (decryption failure, replay, unauthorized
// message).
type Listener interface {
	AuthenticationComplete(mechanism, peerName string, success bool)
	SecurityViolation(peerName string, err error)
}

// NopListener implements Listener with no-ops, for callers that don't need
// the notifications.
type NopListener struct{}

func (NopListener) AuthenticationComplete(string, string, bool) {}
func (NopListener) SecurityViolation(string, error)             {}

// Config configures a Peer.
type Config struct {
	LocalGUID   guid.GUID128
	States      *peerstate.Table
	KeyStore    *keystore.Store
	Compression *compression.Table
	Transport   Transport
	Listener    Listener

	// Mechanisms lists the authentication-suite factories this peer offers,
	// in the server-side order of precedence used for suite negotiation
	// (§4.G step 8 mirrors ajn::AllJoynPeerObj::ExchangeSuites, which walks
	// supportedAuthSuites outer, remote suites inner).
	Mechanisms []ExchangerFactory

	// ExpansionQueueDepth bounds how many distinct unknown compression
	// tokens can be queued awaiting a GetExpansion round trip at once.
	ExpansionQueueDepth int
}

// Peer is the per-bus-attachment orchestrator.
type Peer struct {
	localGUID   guid.GUID128
	states      *peerstate.Table
	keystore    *keystore.Store
	compression *compression.Table
	transport   Transport
	listener    Listener

	mechanisms []ExchangerFactory

	queue *workQueue

	mu                sync.Mutex
	expansion         *expansionQueue
	pendingExchangers map[string]keyexchange.Exchanger // sender -> in-flight responder exchanger, between KeyExchange and KeyAuthentication
}

// New creates a Peer from cfg. A nil Listener is replaced with NopListener.
func New(cfg Config) *Peer {
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	depth := cfg.ExpansionQueueDepth
	if depth <= 0 {
		depth = 32
	}
	p := &Peer{
		localGUID:         cfg.LocalGUID,
		states:            cfg.States,
		keystore:          cfg.KeyStore,
		compression:       cfg.Compression,
		transport:         cfg.Transport,
		listener:          listener,
		mechanisms:        cfg.Mechanisms,
		queue:             newWorkQueue(3),
		pendingExchangers: make(map[string]keyexchange.Exchanger),
	}
	p.expansion = newExpansionQueue(p, depth)
	return p
}

// suiteMasksOf returns the SuiteMask each configured mechanism factory
// advertises, instantiating a throwaway instance of each just to read its
// Mechanism().
func (p *Peer) suiteMasksOf() []keyexchange.SuiteMask {
	masks := make([]keyexchange.SuiteMask, 0, len(p.mechanisms))
	for _, f := range p.mechanisms {
		masks = append(masks, f().Mechanism().Mask())
	}
	return masks
}

func (p *Peer) factoryForMask(mask keyexchange.SuiteMask) ExchangerFactory {
	for _, f := range p.mechanisms {
		if f().Mechanism().Mask() == mask {
			return f
		}
	}
	return nil
}

// useKeyExchanger reports whether the ECDHE engines should be used (version
// >= 2 and at least one configured suite has its ECDHE key-agreement bit
// set) instead of falling back to SASL.
func useKeyExchanger(protocolVersion uint32, masks []keyexchange.SuiteMask) bool {
	if protocolVersion < 2 {
		return false
	}
	const ecdheKeyx = keyexchange.SuiteMask(0x00400000)
	for _, m := range masks {
		if m&ecdheKeyx == ecdheKeyx {
			return true
		}
	}
	return false
}

func randomNonceHex() (string, error) {
	buf := make([]byte, nonceLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", buf), nil
}

func randomAESKey() ([]byte, error) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// errNoPeerGUID mirrors ER_BUS_NO_PEER_GUID: the destination side rejected
// ExchangeGuids (version mismatch or targeted the wrong local GUID).
var errNoPeerGUID = fmt.Errorf("peer: remote rejected guid exchange: %w", errs.ErrPeerAuthVersionMismatch)
