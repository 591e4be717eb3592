package policy

import (
	"crypto/ecdsa"
	"crypto/x509"
	"sync"

	"github.com/alljoyn-go/securepeer/pkg/errs"
)

// Engine owns the active policy, the trust-anchor list it drives, and the
// per-peer guild map of accepted membership chains (§3's guild_map,
// §4.G/§4.I). One Engine is shared by pkg/permission's bus-method surface
// and pkg/peer's per-message authorization checks.
type Engine struct {
	mu      sync.RWMutex
	policy  Policy
	anchors *TrustAnchors
	guilds  map[GuildKey][]*x509.Certificate
}

// NewEngine returns an Engine with no policy installed (a zero-ACL policy
// denies everything but PeerAll grants, of which there are none).
func NewEngine() *Engine {
	return &Engine{
		anchors: NewTrustAnchors(),
		guilds:  make(map[GuildKey][]*x509.Certificate),
	}
}

// TrustAnchors returns the engine's trust-anchor list.
func (e *Engine) TrustAnchors() *TrustAnchors { return e.anchors }

// Current returns a copy of the active policy.
func (e *Engine) Current() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Install replaces the active policy, enforcing the strictly-monotonic
// policy-version requirement from §4.H ("InstallPolicy enforces strictly
// monotonic policy-version"), and repopulates the trust-anchor list from
// it. Returns ErrPolicyNotNewer without changing anything if p is not
// strictly newer than the currently installed policy.
func (e *Engine) Install(p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.PolicyVersion <= e.policy.PolicyVersion {
		return errs.ErrPolicyNotNewer
	}
	e.policy = p
	e.anchors.RepopulateFromPolicy(&e.policy)
	return nil
}

// ForceInstall replaces the active policy without the strictly-monotonic
// version check, for the two bus methods that legitimately bypass it: Claim
// (installing the first policy a device has ever had) and ResetPolicy
// (replacing whatever version is installed with the rebuilt default, per
// ajn::PermissionMgmtObj::ResetPolicy deleting the stored policy outright
// before restoring the default).
func (e *Engine) ForceInstall(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
	e.anchors.RepopulateFromPolicy(&e.policy)
}

// Reset clears the policy back to its zero value and empties the
// trust-anchor list and guild map, per the Reset bus method.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = Policy{}
	e.anchors.Replace(nil)
	e.guilds = make(map[GuildKey][]*x509.Certificate)
}

// Evaluate reports whether subject is authorized for req under the active
// policy.
func (e *Engine) Evaluate(subject Subject, req Request) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Evaluate(subject, req)
}

// InstallMembership validates chain against the trust-anchor list and, on
// success, records it in the guild map keyed by the leaf's serial number
// and authority-key-identifier, returning ErrDuplicateCertificate if an
// entry already exists for that key.
func (e *Engine) InstallMembership(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return errs.ErrInvalidCertificate
	}
	if _, err := ValidateChain(chain, e.anchors); err != nil {
		return err
	}
	key := GuildKey{
		SerialNumber: chain[0].SerialNumber.String(),
		IssuerAKI:    string(chain[0].AuthorityKeyId),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.guilds[key]; exists {
		return errs.ErrDuplicateCertificate
	}
	e.guilds[key] = chain
	return nil
}

// RemoveMembership deletes the guild-map entry for the given serial number
// and issuer AKI, returning ErrCertificateNotFound if none exists.
func (e *Engine) RemoveMembership(serialNumber, issuerAKI string) error {
	key := GuildKey{SerialNumber: serialNumber, IssuerAKI: issuerAKI}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.guilds[key]; !exists {
		return errs.ErrCertificateNotFound
	}
	delete(e.guilds, key)
	return nil
}

// Memberships returns the security-group subject descriptors a peer's
// installed guild entries grant, for building the Subject passed to
// Evaluate.
func (e *Engine) Memberships() []SubjectMembership {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SubjectMembership, 0, len(e.guilds))
	for _, chain := range e.guilds {
		sg, err := membershipSecurityGroup(chain[0])
		if err != nil {
			continue
		}
		issuer := chain[len(chain)-1]
		issuerPub, ok := issuer.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			continue
		}
		out = append(out, SubjectMembership{
			SecurityGroupID: sg.Bytes(),
			IssuerKeyInfo:   uncompressedKey(issuerPub),
		})
	}
	return out
}
