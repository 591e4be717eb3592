package policy

import "testing"

func TestWildcardMatch(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything", true},
		{"/app/*", "/app/main", true},
		{"/app/*", "/other", false},
		{"Ping", "Ping", true},
		{"Ping", "Pong", false},
		{"", "Ping", false},
	}
	for _, c := range cases {
		if got := wildcardMatch(c.pattern, c.name); got != c.want {
			t.Errorf("wildcardMatch(%q, %q): got %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestEvaluatePeerAllGrantsMatchingRule(t *testing.T) {
	p := Policy{ACLs: []ACL{{
		Peers: []PeerSpec{{Kind: PeerAll}},
		Rules: []Rule{{
			ObjPath:   "/app/*",
			Interface: "org.example.Chat",
			Members:   []Member{{Name: "Send", Kind: MemberMethod, Mask: ActionProvide}},
		}},
	}}}

	req := Request{ObjPath: "/app/room1", Interface: "org.example.Chat", Member: "Send", Kind: MemberMethod, Action: ActionProvide}
	if !p.Evaluate(Subject{}, req) {
		t.Fatal("expected PeerAll + matching rule to grant access")
	}

	req.Action = ActionModify
	if p.Evaluate(Subject{}, req) {
		t.Fatal("expected a mask without ActionModify to deny a Modify request")
	}
}

func TestEvaluateAnyTrustedRequiresTrustedSubject(t *testing.T) {
	p := Policy{ACLs: []ACL{{
		Peers: []PeerSpec{{Kind: PeerAnyTrusted}},
		Rules: []Rule{{ObjPath: "*", Interface: "*", Members: []Member{{Name: "*", Kind: MemberSignal, Mask: ActionObserve}}}},
	}}}

	req := Request{ObjPath: "/x", Interface: "org.example", Member: "Tick", Kind: MemberSignal, Action: ActionObserve}
	if p.Evaluate(Subject{Trusted: false}, req) {
		t.Fatal("an untrusted subject must not match PeerAnyTrusted")
	}
	if !p.Evaluate(Subject{Trusted: true}, req) {
		t.Fatal("a trusted subject should match PeerAnyTrusted")
	}
}

func TestEvaluateWithPublicKeyMatchesExactKey(t *testing.T) {
	key := []byte("thirty-two-byte-ish-test-key...")
	p := Policy{ACLs: []ACL{{
		Peers: []PeerSpec{{Kind: PeerWithPublicKey, KeyInfo: key}},
		Rules: []Rule{{ObjPath: "*", Interface: "*", Members: []Member{{Name: "*", Kind: MemberMethod, Mask: ActionProvide}}}},
	}}}
	req := Request{ObjPath: "/x", Interface: "org.example", Member: "Do", Kind: MemberMethod, Action: ActionProvide}

	if p.Evaluate(Subject{PublicKey: []byte("different-key")}, req) {
		t.Fatal("a mismatched public key must not grant access")
	}
	if !p.Evaluate(Subject{PublicKey: key}, req) {
		t.Fatal("the exact configured public key should grant access")
	}
}
