// Package policy implements the signed manifest and permission-policy data
// model: rule/ACL evaluation against an incoming method call, a trust-anchor
// list repopulated from the active policy, and membership certificate-chain
// validation.
//
// The rule/peer/ACL shapes generalize pkg/acl's Entry/Target/Checker
// (fabric-indexed, privilege-hierarchy access control) to AllJoyn's
// peer-variant/wildcard-name model; trust-anchor and chain validation
// generalize pkg/fabric/table.go's mutex-guarded table and pkg/credentials'
// extension/DN decoding to real crypto/x509 certificate chains, per this
// repository's choice to use the standard library for certificate parsing
// rather than the teacher's Matter-TLV certificate encoding.
package policy

import "github.com/alljoyn-go/securepeer/pkg/guid"

// MemberKind identifies what a rule member governs.
type MemberKind uint8

const (
	MemberMethod MemberKind = iota
	MemberSignal
	MemberProperty
)

// ActionMask is the set of actions a rule member authorizes.
type ActionMask uint8

const (
	ActionProvide ActionMask = 1 << iota // the peer may invoke/receive this member
	ActionObserve                        // the peer may observe (receive signals, get properties)
	ActionModify                         // the peer may modify (set properties)
)

// Has reports whether mask includes action.
func (m ActionMask) Has(action ActionMask) bool { return m&action != 0 }

// Member is one name within a Rule, matched against a specific method,
// signal, or property.
type Member struct {
	Name string // supports a trailing '*' wildcard
	Kind MemberKind
	Mask ActionMask
}

// Rule grants access to a set of members on one object path / interface
// pair. ObjPath and Interface both support a trailing '*' wildcard.
type Rule struct {
	ObjPath   string
	Interface string
	Members   []Member
}

// PeerKind identifies which variant of ACL peer-matching applies.
type PeerKind uint8

const (
	// PeerAll matches any peer, authenticated or not.
	PeerAll PeerKind = iota
	// PeerAnyTrusted matches any peer that completed mutual authentication.
	PeerAnyTrusted
	// PeerFromCA matches a peer whose identity certificate chains to the CA
	// identified by KeyInfo.
	PeerFromCA
	// PeerWithPublicKey matches a peer whose session was authenticated
	// directly against KeyInfo (no certificate chain involved).
	PeerWithPublicKey
	// PeerWithMembership matches a peer holding a membership certificate for
	// SecurityGroupID, issued by the authority identified by KeyInfo.
	PeerWithMembership
)

// PeerSpec is one peer-matching clause of an ACL.
type PeerSpec struct {
	Kind            PeerKind
	KeyInfo         []byte       // uncompressed P-256 public key; meaningful for FromCA/WithPublicKey/WithMembership
	SecurityGroupID guid.GUID128 // meaningful only for WithMembership
}

// ACL grants the union of Rules to any peer matching any of Peers.
type ACL struct {
	Peers []PeerSpec
	Rules []Rule
}

// Policy is the full permission policy: a monotonically versioned list of
// ACLs.
type Policy struct {
	SpecVersion   uint16
	PolicyVersion uint32
	ACLs          []ACL
}

// TrustAnchorUse identifies the role a trust anchor plays.
type TrustAnchorUse uint8

const (
	// TrustAnchorCA authorizes identity/NOC-style certificate chains.
	TrustAnchorCA TrustAnchorUse = iota
	// TrustAnchorSGAuthority authorizes membership certificate chains for
	// one security group.
	TrustAnchorSGAuthority
)

// TrustAnchor is one entry of the trust-anchor list, repopulated from the
// active policy whenever it changes (§4.I).
type TrustAnchor struct {
	Use             TrustAnchorUse
	KeyInfo         []byte // uncompressed P-256 public key
	SecurityGroupID guid.GUID128 // meaningful only when Use == TrustAnchorSGAuthority
}
