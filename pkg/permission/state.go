// Package permission implements the Permission Management Object: the
// bus-method surface (Claim, InstallPolicy, ResetPolicy, InstallIdentity,
// InstallMembership, RemoveMembership, Reset, StartManagement,
// EndManagement) that drives pkg/policy's Engine, plus the application
// claim-state machine that gates those methods.
//
// It is grounded on pkg/commissioning's CommissioningWindow (a config
// struct holding callback hooks plus a mutex-guarded state field advanced
// by explicit On*/transition methods) for the overall shape, and on
// pkg/clusters/generalcommissioning's Cluster (bus methods that validate
// preconditions against a small state machine, then delegate the real
// work to a collaborator interface before producing an explicit error
// code) for how each bus method's precondition checks are structured.
package permission

// State is the application claim-state machine (§4.H).
type State int

const (
	// NotClaimable is the initial state: no manifest template has been set,
	// so Claim is unconditionally rejected.
	NotClaimable State = iota

	// Claimable indicates a manifest template has been set and the device
	// will accept a Claim call.
	Claimable

	// Claimed indicates a successful Claim has already installed an
	// identity and default policy; further Claim calls are rejected.
	Claimed

	// NeedUpdate indicates a certificate/manifest update arrived while
	// Claimed and the identity must be refreshed via InstallIdentity
	// before the device is considered current again.
	NeedUpdate
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case NotClaimable:
		return "NotClaimable"
	case Claimable:
		return "Claimable"
	case Claimed:
		return "Claimed"
	case NeedUpdate:
		return "NeedUpdate"
	default:
		return "Unknown"
	}
}

// IsClaimed reports whether the device has completed a Claim (Claimed or
// NeedUpdate both mean "has an owner").
func (s State) IsClaimed() bool {
	return s == Claimed || s == NeedUpdate
}
