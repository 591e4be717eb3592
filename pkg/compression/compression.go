// Package compression implements the header-compression token table: a
// forward map from a compressible header-field set to a randomly assigned
// 32-bit token, and the reverse map used to expand a token a peer sent us
// back into its field set. Adler-32 (stdlib hash/adler32) is used for the
// lookup key exactly as the original source does — a weak but fast hash,
// accepted on the assumption that member+interface collisions within one
// process are vanishingly rare.
package compression

import (
	"crypto/rand"
	"encoding/binary"
	"hash/adler32"
	"sync"
)

// Fields is the fixed set of header fields a compression rule rewrites to a
// single token. Equality for forward-table lookup purposes is the
// {member, interface} pair alone; the remaining fields ride along as the
// rest of the compressible subset.
type Fields struct {
	Interface   string
	Member      string
	Path        string
	Signature   string
	Destination string
	Sender      string
	SessionID   uint32
	TTL         uint16
}

// key returns the Adler-32 hash of member||interface, the two-field
// equality key used by the forward table.
func (f Fields) key() uint32 {
	return adler32.Checksum([]byte(f.Member + f.Interface))
}

// Table holds the forward (fields -> token) and reverse (token -> fields)
// compression maps for one peer connection. All operations are guarded by
// a single mutex, matching the "compression_rules.lock protects both maps"
// locking note.
type Table struct {
	mu       sync.Mutex
	forward  map[uint32]uint32 // Adler-32(member||interface) -> token
	fieldsOf map[uint32]Fields // same key, kept so the forward map can
	// report which Fields produced a given token without losing the
	// other compressible fields.
	reverse map[uint32]Fields // token -> fields
}

// New creates an empty compression table.
func New() *Table {
	return &Table{
		forward:  make(map[uint32]uint32),
		fieldsOf: make(map[uint32]Fields),
		reverse:  make(map[uint32]Fields),
	}
}

// GetOrAllocateToken returns the token already associated with fields'
// {member, interface} key, or allocates a fresh random non-zero 32-bit
// token, installs it in both maps, and returns it.
func (t *Table) GetOrAllocateToken(fields Fields) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := fields.key()
	if token, ok := t.forward[k]; ok {
		return token, nil
	}

	token, err := t.randomNonZeroToken()
	if err != nil {
		return 0, err
	}

	t.forward[k] = token
	t.fieldsOf[k] = fields
	t.reverse[token] = fields
	return token, nil
}

// Expansion returns the field set a token expands to, or ok=false if the
// token is not known.
func (t *Table) Expansion(token uint32) (Fields, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fields, ok := t.reverse[token]
	return fields, ok
}

// AddExpansion installs a mapping received from a peer in response to
// GetExpansion, but only if the token is not already known — a peer cannot
// overwrite an existing rule by re-announcing the same token with
// different fields.
func (t *Table) AddExpansion(fields Fields, token uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.reverse[token]; exists {
		return false
	}
	k := fields.key()
	t.reverse[token] = fields
	t.forward[k] = token
	t.fieldsOf[k] = fields
	return true
}

// randomNonZeroToken picks a cryptographically random 32-bit value that is
// not already a key in the reverse map and is not zero (zero is reserved
// to mean "no compression applied").
func (t *Table) randomNonZeroToken() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		token := binary.BigEndian.Uint32(buf[:])
		if token == 0 {
			continue
		}
		if _, exists := t.reverse[token]; exists {
			continue
		}
		return token, nil
	}
}
