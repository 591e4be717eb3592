// Package peerstate implements the peer state table: a map from bus name to
// per-peer security state, protected by one lock, generalizing the
// teacher's session ID table (pkg/session.Table) from a numeric-ID-keyed
// table of secure contexts to a name-keyed table of peer records that
// additionally tracks replay windows and clock offset.
package peerstate

import (
	"sync"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/convhash"
	"github.com/alljoyn-go/securepeer/pkg/guid"
)

// replayWindowSize is the number of slots in the open-addressed serial ring.
const replayWindowSize = 128

// AuthKind enumerates the four message kinds the per-type authorization
// mask covers.
type AuthKind int

const (
	AuthMethodCall AuthKind = iota
	AuthMethodReturn
	AuthError
	AuthSignal
)

const (
	AllowSecureTx byte = 1 << 0
	AllowSecureRx byte = 1 << 1
)

// GuildKey identifies a certificate chain a peer has supplied for a
// membership it claims, per (membership-serial, issuer-AKI).
type GuildKey struct {
	MembershipSerial uint32
	IssuerAKI        string
}

// State is one peer's security record: identity, negotiated parameters,
// keys, per-type authorization, replay protection, clock estimate, and
// conversation hashes.
type State struct {
	mu sync.Mutex

	BusName      string
	GUID         guid.GUID128
	AuthVersion  uint32
	UnicastKey   []byte
	UnicastKeyExpiration time.Time
	GroupKey     []byte
	Authorizations [4]byte // indexed by AuthKind

	replayWindow [replayWindowSize]uint32

	clockOffset     int32
	clockInitialized bool
	lastOffsetBump  time.Time

	InitiatorHash *convhash.Hash
	ResponderHash *convhash.Hash

	GuildMap map[GuildKey][][]byte // certificate chain, DER-encoded leaf-first

	authInProgress chan struct{} // non-nil while an authentication is in flight; closed on completion
}

func newState(busName string) *State {
	return &State{
		BusName:       busName,
		InitiatorHash: convhash.New(),
		ResponderHash: convhash.New(),
		GuildMap:      make(map[GuildKey][][]byte),
	}
}

// IsValidSerial applies the replay-window membership test and records s if
// accepted. s == 0 is always rejected. The slot s mod 128 is compared to
// the stored value: reject if they're equal, or if the stored value is
// strictly newer than s by at most half the 32-bit space (i.e. s is a
// duplicate or an old serial that already passed); accept and overwrite the
// slot otherwise.
func (s *State) IsValidSerial(serial uint32) bool {
	if serial == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := serial % replayWindowSize
	stored := s.replayWindow[slot]
	diff := stored - serial // uint32 wraparound arithmetic
	if diff <= 1<<31 {
		return false
	}
	s.replayWindow[slot] = serial
	return true
}

// EstimateTimestamp folds a freshly observed (foreignTimestamp, localNow)
// pair into the running clock-offset estimate and returns the peer's
// estimated current local time. The offset clamps down instantly to any
// lower estimate (the peer's clock can only be caught being fast, never
// slow, without a protocol-visible event) and otherwise creeps up by one
// unit per 10 seconds, so a single spoofed high foreign timestamp cannot
// permanently desynchronize the estimate.
func (s *State) EstimateTimestamp(foreignTimestamp, localNow time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := int32(foreignTimestamp.Sub(localNow).Milliseconds())

	switch {
	case !s.clockInitialized:
		s.clockOffset = candidate
		s.clockInitialized = true
		s.lastOffsetBump = localNow
	case candidate < s.clockOffset:
		s.clockOffset = candidate
		s.lastOffsetBump = localNow
	default:
		elapsed := localNow.Sub(s.lastOffsetBump)
		if ticks := int32(elapsed / (10 * time.Second)); ticks > 0 {
			s.clockOffset += ticks
			if s.clockOffset > candidate {
				s.clockOffset = candidate
			}
			s.lastOffsetBump = localNow
		}
	}

	return localNow.Add(time.Duration(s.clockOffset) * time.Millisecond)
}

// IsSecure reports whether this peer already has an unexpired unicast
// session key, i.e. whether AuthenticateDestination can skip straight to
// returning success.
func (s *State) IsSecure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.UnicastKey) == 0 {
		return false
	}
	return s.UnicastKeyExpiration.IsZero() || time.Now().Before(s.UnicastKeyExpiration)
}

// SetGuidAndAuthVersion records the remote peer's GUID and the negotiated
// auth version, per ExchangeGuids.
func (s *State) SetGuidAndAuthVersion(remoteGUID guid.GUID128, authVersion uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GUID = remoteGUID
	s.AuthVersion = authVersion
}

// SetUnicastKey installs a fresh session key with the given lifetime (zero
// means never expires).
func (s *State) SetUnicastKey(key []byte, lifetime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnicastKey = append([]byte(nil), key...)
	if lifetime > 0 {
		s.UnicastKeyExpiration = time.Now().Add(lifetime)
	} else {
		s.UnicastKeyExpiration = time.Time{}
	}
}

// SetGroupKey installs the peer's group (broadcast-decrypt) key.
func (s *State) SetGroupKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GroupKey = append([]byte(nil), key...)
}

// SetMutualAuthorization grants both AllowSecureTx and AllowSecureRx for
// every message kind, the "fully trusted" authorization state reached after
// a successful authentication.
func (s *State) SetMutualAuthorization() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Authorizations {
		s.Authorizations[i] = AllowSecureTx | AllowSecureRx
	}
}

// BeginAuth marks an authentication as in progress, returning false if one
// is already underway (the caller should wait on WaitAuth instead).
func (s *State) BeginAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authInProgress != nil {
		return false
	}
	s.authInProgress = make(chan struct{})
	return true
}

// EndAuth completes the in-progress authentication, releasing any other
// goroutines blocked in WaitAuth.
func (s *State) EndAuth() {
	s.mu.Lock()
	ch := s.authInProgress
	s.authInProgress = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// WaitAuth blocks until any in-progress authentication for this peer
// completes. It returns immediately if none is in progress.
func (s *State) WaitAuth() {
	s.mu.Lock()
	ch := s.authInProgress
	s.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

// Table is the process-wide peer state table.
type Table struct {
	mu      sync.RWMutex
	byName  map[string]*State
	aliases map[string]string // alias name -> canonical name
}

// NullName is the reserved bus name holding the process-local group key.
const NullName = ""

// NewTable creates a peer state table, pre-populating the null-name peer
// with a freshly generated group key.
func NewTable(groupKey []byte) *Table {
	t := &Table{
		byName:  make(map[string]*State),
		aliases: make(map[string]string),
	}
	null := newState(NullName)
	null.GroupKey = append([]byte(nil), groupKey...)
	t.byName[NullName] = null
	return t
}

// GroupKey returns the process-local group key stored on the null-name
// peer.
func (t *Table) GroupKey() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]byte(nil), t.byName[NullName].GroupKey...)
}

// Get returns the state for name, creating it if create is true and it
// doesn't already exist. Aliased names resolve to their canonical state.
func (t *Table) Get(name string, create bool) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(name, create)
}

func (t *Table) getLocked(name string, create bool) (*State, bool) {
	canonical := name
	if alias, ok := t.aliases[name]; ok {
		canonical = alias
	}
	st, ok := t.byName[canonical]
	if ok {
		return st, true
	}
	if !create {
		return nil, false
	}
	st = newState(canonical)
	t.byName[canonical] = st
	return st, true
}

// Alias makes name b resolve to the same state as name a (used when a
// well-known name is discovered to belong to the unique name that already
// has a state entry).
func (t *Table) Alias(a, b string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	canonicalA := a
	if existing, ok := t.aliases[a]; ok {
		canonicalA = existing
	}
	if _, ok := t.byName[canonicalA]; !ok {
		t.byName[canonicalA] = newState(canonicalA)
	}
	t.aliases[b] = canonicalA
	delete(t.byName, b)
}

// IsKnown reports whether name has any state entry (directly or via alias).
func (t *Table) IsKnown(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	canonical := name
	if alias, ok := t.aliases[name]; ok {
		canonical = alias
	}
	_, ok := t.byName[canonical]
	return ok
}

// Remove deletes name's state entry and any aliases pointing at it.
func (t *Table) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byName, name)
	for alias, canonical := range t.aliases {
		if canonical == name {
			delete(t.aliases, alias)
		}
	}
}
