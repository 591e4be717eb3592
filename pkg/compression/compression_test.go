package compression

import "testing"

func TestGetOrAllocateTokenIsStable(t *testing.T) {
	tbl := New()
	f := Fields{Interface: "org.alljoyn.Test", Member: "DoThing"}

	tok1, err := tbl.GetOrAllocateToken(f)
	if err != nil {
		t.Fatalf("GetOrAllocateToken: %v", err)
	}
	if tok1 == 0 {
		t.Fatal("token must be non-zero")
	}

	tok2, err := tbl.GetOrAllocateToken(f)
	if err != nil {
		t.Fatalf("GetOrAllocateToken (2nd): %v", err)
	}
	if tok1 != tok2 {
		t.Fatalf("expected stable token for the same {member,interface}, got %d then %d", tok1, tok2)
	}
}

func TestExpansionRoundTrip(t *testing.T) {
	tbl := New()
	f := Fields{Interface: "org.alljoyn.Test", Member: "DoThing", Path: "/test"}
	tok, _ := tbl.GetOrAllocateToken(f)

	got, ok := tbl.Expansion(tok)
	if !ok {
		t.Fatal("expected expansion to be found")
	}
	if got != f {
		t.Fatalf("expansion mismatch: got %+v want %+v", got, f)
	}
}

func TestExpansionUnknownToken(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Expansion(12345); ok {
		t.Fatal("expected unknown token to report not found")
	}
}

func TestAddExpansionRejectsOverwrite(t *testing.T) {
	tbl := New()
	f1 := Fields{Interface: "a", Member: "b"}
	f2 := Fields{Interface: "c", Member: "d"}

	if !tbl.AddExpansion(f1, 99) {
		t.Fatal("first AddExpansion for a fresh token should succeed")
	}
	if tbl.AddExpansion(f2, 99) {
		t.Fatal("AddExpansion must not overwrite an existing token")
	}

	got, _ := tbl.Expansion(99)
	if got != f1 {
		t.Fatal("existing mapping must be preserved after a rejected overwrite")
	}
}

func TestDifferentMemberInterfaceGetDifferentTokens(t *testing.T) {
	tbl := New()
	t1, _ := tbl.GetOrAllocateToken(Fields{Interface: "a", Member: "b"})
	t2, _ := tbl.GetOrAllocateToken(Fields{Interface: "a", Member: "c"})
	if t1 == t2 {
		t.Fatal("different {member,interface} pairs should not collide in practice")
	}
}
