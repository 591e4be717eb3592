package transport

import (
	"fmt"
	"net"

	pt "github.com/alljoyn-go/securepeer/pkg/transport"
)

// PipeTransportPair holds two in-memory-connected Transports, grounded on
// pkg/exchange/testpair.go's NewTestManagerPair helper: every frame one
// side sends arrives on the other with no real socket involved, so tests
// can drive two peer.Objects end to end deterministically.
type PipeTransportPair struct {
	a, b *netTransport
}

// NewPipeTransportPair creates a connected pair of in-memory Transports.
func NewPipeTransportPair() (*PipeTransportPair, error) {
	f0, f1 := pt.NewPipeFactoryPair()

	a, err := newPipeSide(f0)
	if err != nil {
		return nil, fmt.Errorf("creating pipe transport side A: %w", err)
	}
	b, err := newPipeSide(f1)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating pipe transport side B: %w", err)
	}
	return &PipeTransportPair{a: a, b: b}, nil
}

func newPipeSide(factory *pt.PipeFactory) (*netTransport, error) {
	nt := &netTransport{}
	mgr, err := pt.NewManager(pt.ManagerConfig{
		UDPEnabled:     true,
		TCPEnabled:     false,
		UDPConn:        mustUDPConn(factory),
		MessageHandler: nt.dispatch,
	})
	if err != nil {
		return nil, err
	}
	nt.mgr = mgr
	if err := mgr.Start(); err != nil {
		return nil, err
	}
	return nt, nil
}

func mustUDPConn(factory *pt.PipeFactory) net.PacketConn {
	conn, _ := factory.CreateUDPConn(pt.DefaultPort)
	return conn
}

// A returns the first transport of the pair.
func (p *PipeTransportPair) A() Transport { return p.a }

// B returns the second transport of the pair.
func (p *PipeTransportPair) B() Transport { return p.b }

// Close tears down both sides.
func (p *PipeTransportPair) Close() error {
	errA := p.a.Close()
	errB := p.b.Close()
	if errA != nil {
		return errA
	}
	return errB
}
