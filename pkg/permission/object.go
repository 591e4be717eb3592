package permission

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"sync"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/policy"
)

// Listener receives the two notifications ajn::PermissionMgmtObj fires on
// the bus whenever the policy or claim state changes, so the runtime can
// forward them as signals.
type Listener interface {
	PolicyChanged(p *policy.Policy) // nil after a Reset that removed the policy entirely
	StateChanged(state State)
}

// NopListener implements Listener with no-ops.
type NopListener struct{}

func (NopListener) PolicyChanged(*policy.Policy) {}
func (NopListener) StateChanged(State)           {}

// Config configures an Object.
type Config struct {
	// IdentityKeys is this device's own DSA (ECDSA P-256) key pair. Claim
	// validates the supplied certificate chain's leaf against its public
	// key.
	IdentityKeys *crypto.P256KeyPair

	// Engine is the shared policy engine this object installs policies and
	// memberships into. Required.
	Engine *policy.Engine

	// Claimable, when true, allows Claim to succeed immediately without a
	// prior SetManifestTemplate call (NotClaimable is skipped). Mirrors an
	// application that ships already in the Claimable state.
	Claimable bool

	// ClearSessionSecrets is invoked after InstallPolicy/InstallIdentity's
	// reply has been transmitted, wiping any session keys that might have
	// been exposed to intermediate message processing. May be nil.
	ClearSessionSecrets func()

	Listener Listener
}

// Object implements the Permission Management Object's bus-method surface
// (§4.H) over a shared pkg/policy.Engine.
type Object struct {
	mu sync.Mutex

	identityKeys *crypto.P256KeyPair
	engine       *policy.Engine
	clearSecrets func()
	listener     Listener

	state State

	identityChain []*x509.Certificate
	manifest      policy.Manifest

	defaultPolicyParams *defaultPolicyParams
	managementStarted   bool
}

type defaultPolicyParams struct {
	ca    CAInfo
	admin AdminGroupInfo
}

// New creates an Object. The object starts in NotClaimable unless
// cfg.Claimable is set.
func New(cfg Config) *Object {
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	state := NotClaimable
	if cfg.Claimable {
		state = Claimable
	}
	return &Object{
		identityKeys: cfg.IdentityKeys,
		engine:       cfg.Engine,
		clearSecrets: cfg.ClearSessionSecrets,
		listener:     listener,
		state:        state,
	}
}

// State returns the current application claim state.
func (o *Object) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IdentityChain returns the identity certificate chain installed by the
// last successful Claim or InstallIdentity, or nil if none has been
// installed yet. Exposed for the key-exchange mechanisms that present
// this device's identity to a peer during ECDHE_ECDSA.
func (o *Object) IdentityChain() []*x509.Certificate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identityChain
}

func (o *Object) setState(s State) {
	o.state = s
	o.listener.StateChanged(s)
}

// SetManifestTemplate records the manifest template the device will present
// to a future Claim, moving NotClaimable to Claimable. Per §4.H this
// transition can be explicitly overridden (cfg.Claimable); calling this
// again while already Claimable or beyond is a no-op.
func (o *Object) SetManifestTemplate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == NotClaimable {
		o.setState(Claimable)
	}
}

// Claim implements the Claim bus method (§4.H): it is only accepted in the
// Claimable state, validates the identity chain against manifest and the
// device's own public key, installs a default policy, and moves the
// application to Claimed.
func (o *Object) Claim(ca CAInfo, admin AdminGroupInfo, identityChain []*x509.Certificate, manifest policy.Manifest) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == NotClaimable {
		return errs.ErrPermissionDenied
	}
	if o.state.IsClaimed() {
		return errs.ErrPermissionDenied
	}
	if len(identityChain) == 0 {
		return errs.ErrInvalidCertificate
	}

	leaf := identityChain[0]
	if err := validateLeafKeyBytes(leaf, o.identityKeys.P256PublicKey()); err != nil {
		return err
	}
	if err := manifest.VerifyThumbprint(leaf); err != nil {
		return err
	}

	// Install a provisional trust-anchor set from the default policy before
	// validating the chain, mirroring ajn::PermissionMgmtObj::Claim calling
	// ManageTrustAnchors(defaultPolicy) ahead of StoreIdentityCertChain.
	params := defaultPolicyParams{ca: ca, admin: admin}
	defaultPolicy := generateDefaultPolicy(ca, admin, o.identityKeys.P256PublicKey())
	o.engine.ForceInstall(defaultPolicy)

	if _, err := policy.ValidateChain(identityChain, o.engine.TrustAnchors()); err != nil {
		o.engine.Reset()
		return err
	}

	o.identityChain = identityChain
	o.manifest = manifest
	o.defaultPolicyParams = &params
	o.setState(Claimed)
	o.listener.PolicyChanged(&defaultPolicy)
	return nil
}

// validateLeafKeyBytes checks that leaf's subject public key, in
// uncompressed point form, equals ownUncompressed — Claim's and
// InstallIdentity's validation step (a): the certificate's leaf public key
// must match this device's own DSA public key.
func validateLeafKeyBytes(leaf *x509.Certificate, ownUncompressed []byte) error {
	pub, ok := leafUncompressedKey(leaf)
	if !ok || !bytes.Equal(pub, ownUncompressed) {
		return errs.ErrInvalidCertificate
	}
	return nil
}

// leafUncompressedKey extracts leaf's ECDSA P-256 public key in uncompressed
// point form (0x04 || X || Y), the same encoding pkg/crypto.P256KeyPair
// uses, so it can be compared directly against P256PublicKey().
func leafUncompressedKey(leaf *x509.Certificate) ([]byte, bool) {
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, false
	}
	out := make([]byte, 65)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:65])
	return out, true
}

// InstallPolicy implements the InstallPolicy bus method: enforces strictly
// monotonic policy-version (delegated to the engine) and, on success,
// returns a callback the caller must invoke once the method reply has
// actually been transmitted, to wipe session secrets per §4.H.
func (o *Object) InstallPolicy(p policy.Policy) (afterReply func(), err error) {
	if err := o.engine.Install(p); err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.listener.PolicyChanged(&p)
	o.mu.Unlock()
	return o.afterReplyClearSecrets(), nil
}

// ResetPolicy implements the ResetPolicy bus method: discards whatever
// policy is installed and restores the default policy computed at Claim
// time, bypassing the monotonic-version check (ajn::PermissionMgmtObj
// deletes the stored policy outright before restoring the default).
func (o *Object) ResetPolicy() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.defaultPolicyParams == nil {
		return errs.ErrPermissionDenied
	}
	defaultPolicy := generateDefaultPolicy(o.defaultPolicyParams.ca, o.defaultPolicyParams.admin, o.identityKeys.P256PublicKey())
	o.engine.ForceInstall(defaultPolicy)
	o.listener.PolicyChanged(&defaultPolicy)
	return nil
}

// InstallIdentity implements the InstallIdentity bus method: replaces the
// identity certificate chain and manifest, returning to Claimed from
// NeedUpdate. On validation failure the previous chain/manifest are left
// untouched, mirroring the original's rollback behavior.
func (o *Object) InstallIdentity(chain []*x509.Certificate, manifest policy.Manifest) (afterReply func(), err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(chain) == 0 {
		return nil, errs.ErrInvalidCertificate
	}
	leaf := chain[0]
	if err := validateLeafKeyBytes(leaf, o.identityKeys.P256PublicKey()); err != nil {
		return nil, err
	}
	if err := manifest.VerifyThumbprint(leaf); err != nil {
		return nil, err
	}
	if _, err := policy.ValidateChain(chain, o.engine.TrustAnchors()); err != nil {
		return nil, err
	}

	o.identityChain = chain
	o.manifest = manifest
	if o.state == NeedUpdate {
		o.setState(Claimed)
	}
	return o.afterReplyClearSecrets(), nil
}

// InstallMembership implements the InstallMembership bus method.
func (o *Object) InstallMembership(chain []*x509.Certificate) error {
	return o.engine.InstallMembership(chain)
}

// RemoveMembership implements the RemoveMembership bus method.
func (o *Object) RemoveMembership(serialNumber, issuerAKI string) error {
	return o.engine.RemoveMembership(serialNumber, issuerAKI)
}

// Reset implements the factory-reset bus method: clears the policy engine,
// the identity chain/manifest, and returns the application to
// NotClaimable.
func (o *Object) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.engine.Reset()
	o.identityChain = nil
	o.manifest = policy.Manifest{}
	o.defaultPolicyParams = nil
	o.setState(NotClaimable)
	o.listener.PolicyChanged(nil)
	return nil
}

// StartManagement implements the StartManagement bus method: only one
// management session may be open at a time.
func (o *Object) StartManagement() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.managementStarted {
		return errs.ErrManagementAlreadyStarted
	}
	o.managementStarted = true
	return nil
}

// EndManagement implements the EndManagement bus method.
func (o *Object) EndManagement() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.managementStarted {
		return errs.ErrManagementNotStarted
	}
	o.managementStarted = false
	return nil
}

// afterReplyClearSecrets returns the callback InstallPolicy/InstallIdentity
// hand back to the caller. Must be called with o.mu held.
func (o *Object) afterReplyClearSecrets() func() {
	clear := o.clearSecrets
	if clear == nil {
		return func() {}
	}
	return clear
}
