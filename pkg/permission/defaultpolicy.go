package permission

import (
	"github.com/alljoyn-go/securepeer/pkg/guid"
	"github.com/alljoyn-go/securepeer/pkg/policy"
)

// CAInfo identifies the claiming certificate authority by its uncompressed
// P-256 public key.
type CAInfo struct {
	PublicKey []byte
}

// AdminGroupInfo identifies the admin security group and the authority that
// vouches for its membership certificates.
type AdminGroupInfo struct {
	SecurityGroupID guid.GUID128
	AuthorityKey    []byte
}

// generateDefaultPolicy builds the four-ACL policy PermissionMgmtObj::Claim
// installs on a successful claim: the claiming CA is recorded as a trust
// anchor with no standing rights of its own, the admin security group gets
// full Provide+Observe+Modify on every object/interface/member, the
// device's own public key may call InstallMembership on the management
// interface, and any already-trusted peer may call methods and receive
// signals.
func generateDefaultPolicy(ca CAInfo, admin AdminGroupInfo, localPublicKey []byte) policy.Policy {
	fullMembers := []policy.Member{
		{Name: "*", Kind: policy.MemberMethod, Mask: policy.ActionProvide | policy.ActionObserve | policy.ActionModify},
		{Name: "*", Kind: policy.MemberSignal, Mask: policy.ActionProvide | policy.ActionObserve | policy.ActionModify},
		{Name: "*", Kind: policy.MemberProperty, Mask: policy.ActionProvide | policy.ActionObserve | policy.ActionModify},
	}

	return policy.Policy{
		SpecVersion: 1,
		// PolicyVersion starts at 1, not 0: Engine.Install enforces strictly
		// monotonic versions even for the very first install, so the default
		// policy needs a version a genuine InstallPolicy call can supersede.
		PolicyVersion: 1,
		ACLs: []policy.ACL{
			{
				// Certificate authority: a trust anchor, no rules of its own.
				Peers: []policy.PeerSpec{{Kind: policy.PeerFromCA, KeyInfo: ca.PublicKey}},
			},
			{
				Peers: []policy.PeerSpec{{
					Kind:            policy.PeerWithMembership,
					SecurityGroupID: admin.SecurityGroupID,
					KeyInfo:         admin.AuthorityKey,
				}},
				Rules: []policy.Rule{{ObjPath: "*", Interface: "*", Members: fullMembers}},
			},
			{
				Peers: []policy.PeerSpec{{Kind: policy.PeerWithPublicKey, KeyInfo: localPublicKey}},
				Rules: []policy.Rule{{
					ObjPath:   "*",
					Interface: "org.alljoyn.Bus.Security.ManagedApplication",
					Members:   []policy.Member{{Name: "InstallMembership", Kind: policy.MemberMethod, Mask: policy.ActionModify}},
				}},
			},
			{
				Peers: []policy.PeerSpec{{Kind: policy.PeerAnyTrusted}},
				Rules: []policy.Rule{{
					ObjPath:   "*",
					Interface: "*",
					Members: []policy.Member{
						{Name: "*", Kind: policy.MemberMethod, Mask: policy.ActionProvide},
						{Name: "*", Kind: policy.MemberSignal, Mask: policy.ActionObserve},
						{Name: "*", Kind: policy.MemberProperty, Mask: policy.ActionProvide},
					},
				}},
			},
		},
	}
}
