// Package bus is the process-level orchestrator: it owns the key store,
// peer-state table, policy engine, permission object, and peer object for
// one bus attachment, and bridges pkg/peer's RPC-shaped Transport
// interface onto the raw byte Transport of internal/transport. It is
// adapted from pkg/matter/node.go's Node — "one orchestrator owns every
// manager" — generalized from Matter's fabric/session/exchange stack to
// this repository's keystore/peerstate/policy/peer stack.
package bus

import (
	"crypto/rand"
	"crypto/x509"

	"github.com/alljoyn-go/securepeer/internal/config"
	ilogging "github.com/alljoyn-go/securepeer/internal/logging"
	itransport "github.com/alljoyn-go/securepeer/internal/transport"
	"github.com/alljoyn-go/securepeer/pkg/compression"
	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/guid"
	"github.com/alljoyn-go/securepeer/pkg/keyexchange"
	"github.com/alljoyn-go/securepeer/pkg/keystore"
	"github.com/alljoyn-go/securepeer/pkg/peer"
	"github.com/alljoyn-go/securepeer/pkg/peerstate"
	"github.com/alljoyn-go/securepeer/pkg/permission"
	"github.com/alljoyn-go/securepeer/pkg/policy"
	"github.com/pion/logging"
)

// Config configures a Runtime.
type Config struct {
	*config.Config

	// LoggerFactory supplies scoped loggers; nil falls back to
	// pion/logging's default factory (internal/logging.NewLogger).
	LoggerFactory logging.LoggerFactory

	// Transport carries raw frames between this runtime and its peers.
	// Required.
	Transport itransport.Transport

	// IdentityKeys is this device's own DSA key pair, used both by
	// pkg/permission's Claim validation and as the ECDSA mechanism's
	// signing/verification key when Mechanisms is left nil.
	IdentityKeys *crypto.P256KeyPair

	// Mechanisms overrides the authentication-suite factories offered to
	// peers (§4.G step 8's precedence order). Defaults to
	// [ECDHE_ECDSA, ECDHE_NULL] when nil.
	Mechanisms []peer.ExchangerFactory

	// PermissionListener/PeerListener forward pkg/permission and pkg/peer
	// notifications to the application layer. Both default to no-ops.
	PermissionListener permission.Listener
	PeerListener       peer.Listener
}

// Runtime is a running bus attachment: the full keystore/peerstate/
// policy/permission/peer stack, wired to a byte Transport via a
// correlation-ID RPC layer (rpctransport.go).
type Runtime struct {
	cfg Config
	log logging.LeveledLogger

	localGUID guid.GUID128

	KeyStore    *keystore.Store
	States      *peerstate.Table
	Compression *compression.Table
	Engine      *policy.Engine
	Permission  *permission.Object
	Peer        *peer.Peer

	rpc *rpcTransport
}

// New builds and wires a Runtime. It does not start listening for
// inbound frames; call Start to do that.
func New(cfg Config) (*Runtime, error) {
	log := ilogging.NewLogger(cfg.LoggerFactory, ilogging.ScopeBus)

	ks, err := keystore.Open(keystore.Config{
		Path:     cfg.KeyStorePath,
		Password: []byte(cfg.KeyStorePassword),
	})
	if err != nil {
		return nil, err
	}

	groupKey := make([]byte, 16)
	if _, err := rand.Read(groupKey); err != nil {
		return nil, err
	}

	localGUID, err := guid.New()
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:         cfg,
		log:         log,
		localGUID:   localGUID,
		KeyStore:    ks,
		States:      peerstate.NewTable(groupKey),
		Compression: compression.New(),
		Engine:      policy.NewEngine(),
	}

	r.Permission = permission.New(permission.Config{
		IdentityKeys: cfg.IdentityKeys,
		Engine:       r.Engine,
		Claimable:    cfg.Claimable,
		Listener:     cfg.PermissionListener,
	})

	r.rpc = newRPCTransport(cfg.Transport, ilogging.NewLogger(cfg.LoggerFactory, ilogging.ScopeTransport))

	mechanisms := cfg.Mechanisms
	if mechanisms == nil {
		mechanisms = defaultMechanisms(cfg.IdentityKeys, r.Permission.IdentityChain, r.Engine)
	}

	r.Peer = peer.New(peer.Config{
		LocalGUID:           localGUID,
		States:              r.States,
		KeyStore:            ks,
		Compression:         r.Compression,
		Transport:           r.rpc,
		Listener:            cfg.PeerListener,
		Mechanisms:          mechanisms,
		ExpansionQueueDepth: cfg.ExpansionQueueDepth,
	})

	r.rpc.bindPeer(r.Peer, r.Compression)
	return r, nil
}

// defaultMechanisms offers ECDHE_ECDSA (backed by the device's own
// identity key and installed certificate chain) ahead of ECDHE_NULL,
// mirroring ajn::AllJoynPeerObj::SetupPeerAuthentication's precedence of
// certificate-based exchange over anonymous exchange.
func defaultMechanisms(keys *crypto.P256KeyPair, identityChain func() []*x509.Certificate, engine *policy.Engine) []peer.ExchangerFactory {
	signer := ecdsaSigner(keys, identityChain)
	verifier := ecdsaVerifier(engine)
	return []peer.ExchangerFactory{
		func() keyexchange.Exchanger {
			return keyexchange.NewECDHEECDSA(signer, verifier)
		},
		func() keyexchange.Exchanger {
			return keyexchange.NewECDHENull()
		},
	}
}

// Start installs the runtime's frame handler on its Transport, making it
// ready to receive RPC requests from peers.
func (r *Runtime) Start() {
	r.cfg.Transport.SetHandler(r.rpc.handleFrame)
}

// AddPeer records the network address a bus name resolves to, so a later
// call addressed to that bus name (ExchangeGuids, AuthenticateDestination,
// ...) knows where to send its request frame. There is no DBus daemon in
// this process to resolve well-known names on its own, so the host
// application (or a test) supplies this mapping explicitly once it is
// known, typically from whatever discovery mechanism is in play.
func (r *Runtime) AddPeer(busName string, addr itransport.PeerAddress) {
	r.rpc.AddPeer(busName, addr)
}

// Close flushes the key store to disk and releases the transport.
func (r *Runtime) Close() error {
	if err := r.KeyStore.Store(); err != nil {
		return err
	}
	return r.cfg.Transport.Close()
}
