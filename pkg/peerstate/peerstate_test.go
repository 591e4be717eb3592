package peerstate

import (
	"testing"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/guid"
)

func TestReplayWindowSequentialAccepted(t *testing.T) {
	s := newState("peer.one")
	for serial := uint32(1); serial <= 200; serial++ {
		if !s.IsValidSerial(serial) {
			t.Fatalf("serial %d should have been accepted", serial)
		}
	}
}

func TestReplayWindowRejectsDuplicate(t *testing.T) {
	s := newState("peer.one")
	for serial := uint32(1); serial <= 200; serial++ {
		s.IsValidSerial(serial)
	}
	if s.IsValidSerial(5) {
		t.Fatal("duplicate serial 5 must be rejected")
	}
}

func TestReplayWindowLargeForwardJumpThenOldRejected(t *testing.T) {
	s := newState("peer.one")
	for serial := uint32(1); serial <= 200; serial++ {
		s.IsValidSerial(serial)
	}

	jump := uint32(1)<<31 + 5
	if !s.IsValidSerial(jump) {
		t.Fatal("large forward jump must be accepted")
	}
	if s.IsValidSerial(5) {
		t.Fatal("serial 5 must be rejected again after the forward jump")
	}
}

func TestReplayWindowRejectsZero(t *testing.T) {
	s := newState("peer.one")
	if s.IsValidSerial(0) {
		t.Fatal("serial 0 must always be rejected")
	}
}

func TestEstimateTimestampInitializesOnFirstObservation(t *testing.T) {
	s := newState("peer.one")
	local := time.Now()
	foreign := local.Add(5 * time.Second)

	est := s.EstimateTimestamp(foreign, local)
	if !est.Equal(foreign) {
		t.Fatalf("first estimate should equal the foreign timestamp exactly, got %v want %v", est, foreign)
	}
}

func TestEstimateTimestampClampsDownInstantly(t *testing.T) {
	s := newState("peer.one")
	local := time.Now()
	s.EstimateTimestamp(local.Add(10*time.Second), local)

	lowerLocal := local.Add(time.Second)
	lowerForeign := lowerLocal.Add(2 * time.Second)
	est := s.EstimateTimestamp(lowerForeign, lowerLocal)
	if !est.Equal(lowerForeign) {
		t.Fatalf("lower estimate should apply instantly, got %v want %v", est, lowerForeign)
	}
}

func TestEstimateTimestampCreepsUpGradually(t *testing.T) {
	s := newState("peer.one")
	base := time.Now()
	s.EstimateTimestamp(base, base)

	// A higher foreign timestamp 1 second later should not jump all the way
	// up; the offset only creeps by whole 10s ticks.
	est := s.EstimateTimestamp(base.Add(time.Hour), base.Add(time.Second))
	if est.Equal(base.Add(time.Hour)) {
		t.Fatal("offset must not jump straight to a higher estimate")
	}
}

func TestTableGetCreatesAndReuses(t *testing.T) {
	tbl := NewTable([]byte("group-key-bytes"))

	st1, ok := tbl.Get("org.example.peer", true)
	if !ok || st1 == nil {
		t.Fatal("expected Get with create=true to create a state")
	}
	st2, ok := tbl.Get("org.example.peer", false)
	if !ok || st2 != st1 {
		t.Fatal("expected the same state instance to be returned on lookup")
	}
}

func TestTableNullNameHoldsGroupKey(t *testing.T) {
	tbl := NewTable([]byte("the-group-key"))
	null, ok := tbl.Get(NullName, false)
	if !ok {
		t.Fatal("the null-name peer should always exist")
	}
	if string(null.GroupKey) != "the-group-key" {
		t.Fatalf("unexpected group key: %q", null.GroupKey)
	}
}

func TestTableAliasSharesState(t *testing.T) {
	tbl := NewTable(nil)
	unique, _ := tbl.Get(":1.42", true)
	unique.AuthVersion = 4

	tbl.Alias(":1.42", "com.example.WellKnown")

	aliased, ok := tbl.Get("com.example.WellKnown", false)
	if !ok {
		t.Fatal("aliased name should resolve to the canonical state")
	}
	if aliased != unique {
		t.Fatal("aliased lookup must return the same state instance")
	}
}

func TestTableIsKnown(t *testing.T) {
	tbl := NewTable(nil)
	if tbl.IsKnown("nobody") {
		t.Fatal("unknown name should report false")
	}
	tbl.Get("somebody", true)
	if !tbl.IsKnown("somebody") {
		t.Fatal("created name should report true")
	}
}

func TestIsSecureRequiresAnUnexpiredUnicastKey(t *testing.T) {
	s := newState("peer.one")
	if s.IsSecure() {
		t.Fatal("a fresh state has no session key and should not be secure")
	}

	s.SetUnicastKey([]byte("0123456789abcdef"), 0)
	if !s.IsSecure() {
		t.Fatal("a key with no expiration should be secure indefinitely")
	}

	s.SetUnicastKey([]byte("0123456789abcdef"), time.Second)
	s.UnicastKeyExpiration = time.Now().Add(-time.Second) // force it into the past
	if s.IsSecure() {
		t.Fatal("a key whose expiration is already in the past should not be secure")
	}
}

func TestSetGuidAndAuthVersion(t *testing.T) {
	s := newState("peer.one")
	g, err := guid.New()
	if err != nil {
		t.Fatalf("guid.New: %v", err)
	}
	s.SetGuidAndAuthVersion(g, 4)
	if s.GUID != g || s.AuthVersion != 4 {
		t.Fatalf("expected GUID=%v AuthVersion=4, got GUID=%v AuthVersion=%d", g, s.GUID, s.AuthVersion)
	}
}

func TestSetGroupKeyCopiesInput(t *testing.T) {
	s := newState("peer.one")
	key := []byte("group-key-bytes")
	s.SetGroupKey(key)
	key[0] = 'X'
	if string(s.GroupKey) == string(key) {
		t.Fatal("SetGroupKey should copy its input, not alias it")
	}
}

func TestSetMutualAuthorizationGrantsAllKinds(t *testing.T) {
	s := newState("peer.one")
	s.SetMutualAuthorization()
	for i, auth := range s.Authorizations {
		if auth != AllowSecureTx|AllowSecureRx {
			t.Fatalf("authorization kind %d: got %#x, want AllowSecureTx|AllowSecureRx", i, auth)
		}
	}
}

func TestTableGroupKeyReadsNullNamePeer(t *testing.T) {
	tbl := NewTable([]byte("the-group-key"))
	if string(tbl.GroupKey()) != "the-group-key" {
		t.Fatalf("unexpected group key: %q", tbl.GroupKey())
	}
}
