package policy

import "strings"

// Subject describes the peer making a request, analogous to
// pkg/acl.SubjectDescriptor but keyed by the AllJoyn peer-variant model
// instead of Matter's fabric/NodeID model.
type Subject struct {
	// PublicKey is the peer's session or identity public key (uncompressed
	// P-256), when known.
	PublicKey []byte
	// Trusted is true once the peer has completed mutual authentication.
	Trusted bool
	// IssuerKeyInfo, if non-nil, is the identity certificate issuer's public
	// key — what PeerFromCA matches against.
	IssuerKeyInfo []byte
	// Memberships lists the security groups the peer holds a valid
	// membership certificate for, each paired with its issuing authority's
	// public key.
	Memberships []SubjectMembership
}

// SubjectMembership is one membership grant a Subject carries.
type SubjectMembership struct {
	SecurityGroupID [16]byte
	IssuerKeyInfo   []byte
}

// Request describes the method/signal/property access being checked.
type Request struct {
	ObjPath   string
	Interface string
	Member    string
	Kind      MemberKind
	Action    ActionMask
}

// Evaluate walks p's ACLs in order and returns true on the first ACL whose
// peer clause matches subject and whose rule clause grants req, mirroring
// pkg/acl.Checker.Check's first-match-wins algorithm generalized to
// AllJoyn's peer-variant/wildcard-name model.
func (p *Policy) Evaluate(subject Subject, req Request) bool {
	for _, acl := range p.ACLs {
		if !peersMatch(acl.Peers, subject) {
			continue
		}
		if rulesGrant(acl.Rules, req) {
			return true
		}
	}
	return false
}

func peersMatch(peers []PeerSpec, subject Subject) bool {
	if len(peers) == 0 {
		return false
	}
	for _, p := range peers {
		if peerMatches(p, subject) {
			return true
		}
	}
	return false
}

func peerMatches(p PeerSpec, subject Subject) bool {
	switch p.Kind {
	case PeerAll:
		return true
	case PeerAnyTrusted:
		return subject.Trusted
	case PeerFromCA:
		return subject.Trusted && keyInfoEqual(p.KeyInfo, subject.IssuerKeyInfo)
	case PeerWithPublicKey:
		return keyInfoEqual(p.KeyInfo, subject.PublicKey)
	case PeerWithMembership:
		for _, m := range subject.Memberships {
			if m.SecurityGroupID == p.SecurityGroupID.Bytes() && keyInfoEqual(p.KeyInfo, m.IssuerKeyInfo) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func keyInfoEqual(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func rulesGrant(rules []Rule, req Request) bool {
	for _, r := range rules {
		if !wildcardMatch(r.ObjPath, req.ObjPath) || !wildcardMatch(r.Interface, req.Interface) {
			continue
		}
		for _, mem := range r.Members {
			if mem.Kind != req.Kind {
				continue
			}
			if !wildcardMatch(mem.Name, req.Member) {
				continue
			}
			if mem.Mask.Has(req.Action) {
				return true
			}
		}
	}
	return false
}

// wildcardMatch reports whether name matches pattern, where pattern may end
// in a single trailing '*' standing for any suffix (the only wildcard form
// §3's data model calls for). An empty pattern matches nothing.
func wildcardMatch(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}
	return pattern == name
}
