package bus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alljoyn-go/securepeer/internal/config"
	itransport "github.com/alljoyn-go/securepeer/internal/transport"
	"github.com/alljoyn-go/securepeer/pkg/keyexchange"
	"github.com/alljoyn-go/securepeer/pkg/peer"
	pt "github.com/alljoyn-go/securepeer/pkg/transport"
)

func ecdheNullFactory() keyexchange.Exchanger { return keyexchange.NewECDHENull() }

func newTestRuntime(t *testing.T, busName string, tr itransport.Transport) *Runtime {
	t.Helper()
	r, err := New(Config{
		Config: &config.Config{
			BusName:      busName,
			KeyStorePath: filepath.Join(t.TempDir(), busName+".keystore"),
		},
		Transport:  tr,
		Mechanisms: []peer.ExchangerFactory{ecdheNullFactory},
	})
	if err != nil {
		t.Fatalf("New(%s): %v", busName, err)
	}
	return r
}

// TestRuntimeAuthenticateDestinationRoundTrip drives a full ECDHE_NULL
// handshake between two Runtimes joined by an in-memory pipe transport,
// exercising the rpcTransport correlation layer end to end: ExchangeGuids,
// ExchangeSuites, KeyExchange, and KeyAuthentication all ride the same
// pipe, demuxed by opcode on the receiving side.
func TestRuntimeAuthenticateDestinationRoundTrip(t *testing.T) {
	pair, err := itransport.NewPipeTransportPair()
	if err != nil {
		t.Fatalf("NewPipeTransportPair: %v", err)
	}
	defer pair.Close()

	a := newTestRuntime(t, "A", pair.A())
	b := newTestRuntime(t, "B", pair.B())
	a.Start()
	b.Start()

	localA := pair.A().LocalAddresses()
	localB := pair.B().LocalAddresses()
	if len(localA) == 0 || len(localB) == 0 {
		t.Fatal("pipe transports should report at least one local address")
	}

	a.AddPeer("B", pt.NewUDPPeerAddress(localB[0]))
	b.AddPeer("A", pt.NewUDPPeerAddress(localA[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Peer.AuthenticateDestination(ctx, "B", true); err != nil {
		t.Fatalf("AuthenticateDestination: %v", err)
	}

	state, ok := a.States.Get("B", false)
	if !ok || !state.IsSecure() {
		t.Fatal("A should have an established, unexpired session key with B")
	}
}

// TestRuntimeCloseFlushesKeyStore confirms Close persists the key store
// without error on a freshly constructed, never-authenticated Runtime.
func TestRuntimeCloseFlushesKeyStore(t *testing.T) {
	pair, err := itransport.NewPipeTransportPair()
	if err != nil {
		t.Fatalf("NewPipeTransportPair: %v", err)
	}
	defer pair.B().Close()

	a := newTestRuntime(t, "A", pair.A())
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
