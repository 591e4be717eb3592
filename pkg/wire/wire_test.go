package wire

import "testing"

func TestExchangeGuidsRoundTrip(t *testing.T) {
	req := ExchangeGuidsRequest{LocalGUID: "ABCDEF0123456789ABCDEF0123456789", Version: 4}
	got, err := UnmarshalExchangeGuidsRequest(req.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != req {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, req)
	}
}

func TestGenSessionKeyRoundTrip(t *testing.T) {
	req := GenSessionKeyRequest{LocalGUID: "a", RemoteGUID: "b", LocalNonce: "nonce-bytes"}
	got, err := UnmarshalGenSessionKeyRequest(req.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != req {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, req)
	}
}

func TestExchangeSuitesRoundTrip(t *testing.T) {
	msg := ExchangeSuitesMessage{Suites: []uint32{0x00400001, 0x00010001}}
	got, err := UnmarshalExchangeSuitesMessage(msg.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Suites) != 2 || got.Suites[0] != msg.Suites[0] || got.Suites[1] != msg.Suites[1] {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestKeyExchangeMessageRoundTrip(t *testing.T) {
	msg := KeyExchangeMessage{AuthMask: 0x00400004, Encoding: KeyExchangeKeyInfoNISTP256, Payload: []byte{1, 2, 3, 4}}
	got, err := UnmarshalKeyExchangeMessage(msg.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.AuthMask != msg.AuthMask || got.Encoding != msg.Encoding || string(got.Payload) != string(msg.Payload) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestGetExpansionRoundTrip(t *testing.T) {
	reply := GetExpansionReply{Fields: []ExpansionField{{ID: 1, Value: []byte("member")}, {ID: 2, Value: []byte("iface")}}}
	got, err := UnmarshalGetExpansionReply(reply.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Fields) != 2 || got.Fields[0].ID != 1 || string(got.Fields[0].Value) != "member" {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}
}

func TestAcceptSessionRoundTrip(t *testing.T) {
	req := AcceptSessionRequest{
		SessionPort: 42,
		SessionID:   99,
		JoinerName:  ":1.7",
		Options: SessionOptions{
			Traffic: 1, IsMultipoint: true, Proximity: 0xFF, Transports: 0x0001,
			Names: []string{"org.example.a", "org.example.b"},
		},
	}
	got, err := UnmarshalAcceptSessionRequest(req.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.SessionPort != req.SessionPort || got.SessionID != req.SessionID || got.JoinerName != req.JoinerName {
		t.Fatalf("scalar field mismatch: %+v", got)
	}
	if !got.Options.IsMultipoint || got.Options.Traffic != 1 || got.Options.Proximity != 0xFF {
		t.Fatalf("options mismatch: %+v", got.Options)
	}
	if len(got.Options.Names) != 2 || got.Options.Names[1] != "org.example.b" {
		t.Fatalf("names mismatch: %+v", got.Options.Names)
	}
}

func TestSessionJoinedSignalRoundTrip(t *testing.T) {
	sig := SessionJoinedSignal{SessionPort: 7, SessionID: 12345, JoinerName: ":1.99"}
	got, err := UnmarshalSessionJoinedSignal(sig.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != sig {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, sig)
	}
}

func TestShortBufferErrors(t *testing.T) {
	if _, err := UnmarshalExchangeGuidsRequest([]byte{1, 2}); err == nil {
		t.Fatal("expected a short buffer to error")
	}
}
