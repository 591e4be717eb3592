package transport

import (
	"testing"
	"time"

	pt "github.com/alljoyn-go/securepeer/pkg/transport"
)

func TestPipeTransportPairDeliversFrames(t *testing.T) {
	pair, err := NewPipeTransportPair()
	if err != nil {
		t.Fatalf("NewPipeTransportPair: %v", err)
	}
	defer pair.Close()

	received := make(chan []byte, 1)
	pair.B().SetHandler(func(msg *pt.ReceivedMessage) {
		received <- msg.Data
	})

	dest := pair.B().LocalAddresses()[0]
	peerAddr := pt.NewUDPPeerAddress(dest)

	want := []byte("hello peer")
	if err := pair.A().Send(want, peerAddr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame delivery")
	}
}

func TestPipeTransportPairBidirectional(t *testing.T) {
	pair, err := NewPipeTransportPair()
	if err != nil {
		t.Fatalf("NewPipeTransportPair: %v", err)
	}
	defer pair.Close()

	aReceived := make(chan []byte, 1)
	pair.A().SetHandler(func(msg *pt.ReceivedMessage) { aReceived <- msg.Data })

	peerAddr := pt.NewUDPPeerAddress(pair.A().LocalAddresses()[0])
	want := []byte("reply")
	if err := pair.B().Send(want, peerAddr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-aReceived:
		if string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame delivery")
	}
}
