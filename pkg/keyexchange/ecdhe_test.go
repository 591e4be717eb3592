package keyexchange

import (
	"testing"

	"github.com/alljoyn-go/securepeer/pkg/convhash"
)

func TestECDHENullDerivesMatchingMasterSecret(t *testing.T) {
	initiator := NewECDHENull()
	responder := NewECDHENull()

	initCtx := ExchangeContext{NegotiatedAuthVersion: 4, Hash: convhash.New()}
	initCtx.Hash.Init(4)
	respCtx := ExchangeContext{NegotiatedAuthVersion: 4, Hash: convhash.New()}
	respCtx.Hash.Init(4)

	send := func(out []byte) ([]byte, error) {
		return responder.RespondToKeyExchange(respCtx, out, initiator.Mechanism().Mask(), responder.Mechanism().Mask())
	}

	if _, err := initiator.ExecKeyExchange(initCtx, initiator.Mechanism().Mask(), send); err != nil {
		t.Fatalf("ExecKeyExchange: %v", err)
	}

	if len(initiator.MasterSecret()) != masterSecretLen || len(responder.MasterSecret()) != masterSecretLen {
		t.Fatal("both sides should derive a 48-byte master secret")
	}
	if string(initiator.MasterSecret()) != string(responder.MasterSecret()) {
		t.Fatal("initiator and responder must derive the same master secret")
	}
}

func TestECDHENullKeyAuthenticationRoundTrip(t *testing.T) {
	initiator := NewECDHENull()
	responder := NewECDHENull()

	initCtx := ExchangeContext{NegotiatedAuthVersion: 4, Hash: convhash.New()}
	initCtx.Hash.Init(4)
	respCtx := ExchangeContext{NegotiatedAuthVersion: 4, Hash: convhash.New()}
	respCtx.Hash.Init(4)

	kexSend := func(out []byte) ([]byte, error) {
		return responder.RespondToKeyExchange(respCtx, out, initiator.Mechanism().Mask(), responder.Mechanism().Mask())
	}
	if _, err := initiator.ExecKeyExchange(initCtx, initiator.Mechanism().Mask(), kexSend); err != nil {
		t.Fatalf("ExecKeyExchange: %v", err)
	}

	// The responder's KeyAuthentication call needs to run concurrently with
	// the initiator's, since each blocks on send() waiting for the other's
	// verifier.
	respResult := make(chan bool, 1)
	respVerifier := make(chan []byte, 1)
	initVerifier := make(chan []byte, 1)

	go func() {
		ok, err := responder.KeyAuthentication(respCtx, "initiator", func(out []byte) ([]byte, error) {
			respVerifier <- out
			return <-initVerifier, nil
		})
		if err != nil {
			respResult <- false
			return
		}
		respResult <- ok
	}()

	initOK, err := initiator.KeyAuthentication(initCtx, "responder", func(out []byte) ([]byte, error) {
		initVerifier <- out
		return <-respVerifier, nil
	})
	if err != nil {
		t.Fatalf("initiator KeyAuthentication: %v", err)
	}
	if !initOK {
		t.Fatal("initiator should have authorized the responder's verifier")
	}
	if !<-respResult {
		t.Fatal("responder should have authorized the initiator's verifier")
	}
}

func TestSRPMechanismsReportUnsupported(t *testing.T) {
	keyx := NewSRPKeyx()
	if _, err := keyx.ExecKeyExchange(ExchangeContext{}, 0, nil); err == nil {
		t.Fatal("expected SRP-Keyx ExecKeyExchange to report an error")
	}
}

func TestAnonymousKeyAuthenticationAlwaysSucceeds(t *testing.T) {
	a := NewAnonymous()
	ok, err := a.KeyAuthentication(ExchangeContext{}, "peer", nil)
	if err != nil || !ok {
		t.Fatal("Anonymous KeyAuthentication should always report authorized")
	}
}

func TestSuiteMaskIntersects(t *testing.T) {
	local := EcdheNull.Mask() | Anonymous.Mask()
	remote := EcdheNull.Mask()
	if !local.Intersects(remote) {
		t.Fatal("expected overlapping suite masks to intersect")
	}
	if EcdheEcdsa.Mask().Intersects(EcdhePsk.Mask()) {
		t.Fatal("disjoint suites must not intersect")
	}
}

func TestTranscriptModeGatedByAuthVersion(t *testing.T) {
	if TranscriptModeFor(3) != TranscriptSuiteAndPublicValue {
		t.Fatal("auth version 3 should use the pre-v4 transcript mode")
	}
	if TranscriptModeFor(4) != TranscriptFullWireMessage {
		t.Fatal("auth version 4 should use the full-message transcript mode")
	}
}
