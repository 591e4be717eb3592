// Package transport adapts the teacher's pkg/transport UDP/TCP/pipe
// plumbing into the byte-level Send/SetHandler collaborator that §6's
// wire methods ride on, leaving request/reply correlation and marshaling
// to internal/bus.
package transport

import (
	"fmt"
	"net"

	pt "github.com/alljoyn-go/securepeer/pkg/transport"
)

// PeerAddress identifies a remote endpoint. It is an alias of the
// teacher's own address type rather than a reinvention of it.
type PeerAddress = pt.PeerAddress

// MessageHandler is invoked for each inbound frame.
type MessageHandler = pt.MessageHandler

// Transport is the minimal byte-delivery collaborator internal/bus drives:
// send a frame to a peer, and register the callback invoked for frames
// arriving from any peer.
type Transport interface {
	Send(data []byte, peer PeerAddress) error
	SetHandler(h MessageHandler)
	LocalAddresses() []net.Addr
	Close() error
}

// netTransport wraps the teacher's pkg/transport.Manager, the real
// UDP/TCP-backed implementation used by cmd/securepeerd.
type netTransport struct {
	mgr     *pt.Manager
	handler MessageHandler
}

// Config configures a network-backed Transport.
type Config struct {
	// Port is the listen port (default pt.DefaultPort).
	Port int
	// UDPEnabled/TCPEnabled mirror pt.ManagerConfig; both default to
	// enabled when neither is set.
	UDPEnabled bool
	TCPEnabled bool
}

// New creates a Transport backed by real UDP/TCP sockets.
func New(cfg Config) (Transport, error) {
	nt := &netTransport{}
	mgr, err := pt.NewManager(pt.ManagerConfig{
		Port:           cfg.Port,
		UDPEnabled:     cfg.UDPEnabled,
		TCPEnabled:     cfg.TCPEnabled,
		MessageHandler: nt.dispatch,
	})
	if err != nil {
		return nil, fmt.Errorf("creating transport manager: %w", err)
	}
	nt.mgr = mgr
	if err := mgr.Start(); err != nil {
		return nil, fmt.Errorf("starting transport manager: %w", err)
	}
	return nt, nil
}

func (t *netTransport) dispatch(msg *pt.ReceivedMessage) {
	if t.handler != nil {
		t.handler(msg)
	}
}

func (t *netTransport) Send(data []byte, peer PeerAddress) error {
	return t.mgr.Send(data, peer)
}

func (t *netTransport) SetHandler(h MessageHandler) { t.handler = h }

func (t *netTransport) LocalAddresses() []net.Addr { return t.mgr.LocalAddresses() }

func (t *netTransport) Close() error { return t.mgr.Stop() }

var _ Transport = (*netTransport)(nil)
