package policy

import (
	"crypto/ecdsa"
	"sync"

	"github.com/alljoyn-go/securepeer/pkg/guid"
)

// TrustAnchors is the read-mostly trust-anchor list (§4.I, §5's
// trust_anchors.lock), repopulated wholesale from the active policy
// whenever it changes. Mutex-guarded slice, the same shape as
// pkg/fabric/table.go's map-behind-a-mutex pattern, simplified to a slice
// since trust anchors are replaced as a set rather than mutated one at a
// time.
type TrustAnchors struct {
	mu      sync.RWMutex
	anchors []TrustAnchor
}

// NewTrustAnchors returns an empty trust-anchor list.
func NewTrustAnchors() *TrustAnchors {
	return &TrustAnchors{}
}

// Replace atomically swaps in a new trust-anchor set, copying anchors so
// the caller's slice can be reused.
func (t *TrustAnchors) Replace(anchors []TrustAnchor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchors = append([]TrustAnchor(nil), anchors...)
}

// Snapshot returns a copy of the current trust-anchor list.
func (t *TrustAnchors) Snapshot() []TrustAnchor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]TrustAnchor(nil), t.anchors...)
}

// MatchesCA reports whether pub (an uncompressed P-256 public key) is a
// configured CA trust anchor.
func (t *TrustAnchors) MatchesCA(pub []byte) bool {
	return t.matches(TrustAnchorCA, pub, guid.Nil)
}

// MatchesSGAuthority reports whether pub is the configured membership
// authority for security group sg.
func (t *TrustAnchors) MatchesSGAuthority(pub []byte, sg guid.GUID128) bool {
	return t.matches(TrustAnchorSGAuthority, pub, sg)
}

func (t *TrustAnchors) matches(use TrustAnchorUse, pub []byte, sg guid.GUID128) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.anchors {
		if a.Use != use || !keyInfoEqual(a.KeyInfo, pub) {
			continue
		}
		if use == TrustAnchorSGAuthority && a.SecurityGroupID != sg {
			continue
		}
		return true
	}
	return false
}

// RepopulateFromPolicy rebuilds the trust-anchor list from p's ACLs: every
// PeerFromCA clause contributes a CA anchor, every PeerWithMembership
// clause contributes an SG_AUTHORITY anchor for its security group, per
// §4.I ("the list is repopulated from the active policy whenever it
// changes").
func (t *TrustAnchors) RepopulateFromPolicy(p *Policy) {
	var anchors []TrustAnchor
	seen := make(map[string]bool)
	for _, acl := range p.ACLs {
		for _, peer := range acl.Peers {
			switch peer.Kind {
			case PeerFromCA:
				key := "ca:" + string(peer.KeyInfo)
				if !seen[key] {
					seen[key] = true
					anchors = append(anchors, TrustAnchor{Use: TrustAnchorCA, KeyInfo: peer.KeyInfo})
				}
			case PeerWithMembership:
				key := "sg:" + peer.SecurityGroupID.String() + ":" + string(peer.KeyInfo)
				if !seen[key] {
					seen[key] = true
					anchors = append(anchors, TrustAnchor{
						Use:             TrustAnchorSGAuthority,
						KeyInfo:         peer.KeyInfo,
						SecurityGroupID: peer.SecurityGroupID,
					})
				}
			}
		}
	}
	t.Replace(anchors)
}

// uncompressedKey extracts the uncompressed P-256 point encoding pkg/crypto
// works with from a parsed certificate's public key, the shape a
// crypto/x509-parsed leaf or CA certificate exposes.
func uncompressedKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil {
		return nil
	}
	out := make([]byte, 65)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:65])
	return out
}
