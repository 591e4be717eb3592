// Package convhash implements the running conversation-hash transcript used
// to bind an authentication exchange together: every suite proposal, public
// value, and verifier exchanged between two peers is folded into a SHA-256
// digest that both sides must agree on before trust is established.
//
// There are always two independent hashes live for a given peer, one per
// direction ("what I sent" and "what I received"), mirroring the ajn
// ConversationHash design: see pkg/peerstate for how a peer state owns both.
package convhash

import (
	"encoding/binary"
	"sync"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
)

// DigestSize is the length of a conversation-hash digest (SHA-256).
const DigestSize = crypto.SHA256LenBytes

// Version gates which tagged updates apply to a running hash. Updates
// tagged AppliesAtV1 only affect hashes for conversations negotiated below
// auth version 4; updates tagged AppliesAtV4 only affect conversations at
// or above it. This lets the same call sites drive both legacy and modern
// transcripts without branching at every call site.
type Version int

const (
	// AppliesAtV1 marks an update that matters only to auth versions below 4.
	AppliesAtV1 Version = iota
	// AppliesAtV4 marks an update that matters only to auth versions 4 and above.
	AppliesAtV4
)

// Hash is a single directional running SHA-256 conversation hash, with its
// own lock per invariant I1 ("every GetDigest call is preceded by Init and a
// lock acquisition on the same direction").
type Hash struct {
	mu            sync.Mutex
	h             crypto_hashState
	initialized   bool
	negotiated    uint32 // negotiated auth version, set once at Init
	sensitiveMode bool
}

// crypto_hashState is the running hash Hash holds: only Write and Sum are
// used, and it is the same stdlib sha256 state crypto.NewSHA256 returns.
type crypto_hashState = hashWriter

type hashWriter interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// New creates an uninitialized conversation hash. Callers must call Init
// before Update or GetDigest.
func New() *Hash {
	return &Hash{}
}

// Init (re)initializes the hash state for a fresh conversation, recording
// the negotiated auth version so later tagged updates can decide whether
// they apply.
func (h *Hash) Init(negotiatedAuthVersion uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.h = crypto.NewSHA256()
	h.negotiated = negotiatedAuthVersion
	h.initialized = true
}

// SetSensitiveMode enables or disables sensitive-data logging suppression.
// When enabled, byte-array updates still hash the data but callers doing
// their own tracing around Update should log only the length, not the
// plaintext. Update and GetDigest behavior is otherwise unaffected.
func (h *Hash) SetSensitiveMode(mode bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sensitiveMode = mode
}

// SensitiveMode reports whether sensitive-data logging suppression is on.
func (h *Hash) SensitiveMode() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sensitiveMode
}

// applies reports whether an update tagged with the given version should be
// folded into a hash negotiated at negotiatedAuthVersion.
func applies(tag Version, negotiatedAuthVersion uint32) bool {
	switch tag {
	case AppliesAtV1:
		return negotiatedAuthVersion < 4
	case AppliesAtV4:
		return negotiatedAuthVersion >= 4
	default:
		return false
	}
}

// UpdateByte folds a single byte into the hash, unconditionally.
func (h *Hash) UpdateByte(b byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return
	}
	h.h.Write([]byte{b})
}

// UpdateBytes folds buf into the hash. When includeSizeInHash is true, a
// 32-bit little-endian length prefix is hashed ahead of buf so that
// variable-length contributions in a v4 transcript cannot be confused with
// each other by concatenation ambiguity.
func (h *Hash) UpdateBytes(buf []byte, includeSizeInHash bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return
	}
	if includeSizeInHash {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(buf)))
		h.h.Write(lenBuf[:])
	}
	h.h.Write(buf)
}

// UpdateString folds a string into the hash as raw bytes, with no length
// prefix (the wire methods that use this already length-delimit strings).
func (h *Hash) UpdateString(s string) {
	h.UpdateBytes([]byte(s), false)
}

// UpdateMessage folds the raw unmarshaled wire bytes of a method call or
// reply into the hash, including its header. Per the design's definition of
// "the message" in the transcript, semantic arguments are never hashed
// directly — only the bytes that actually crossed the wire.
func (h *Hash) UpdateMessage(rawWireBytes []byte) {
	h.UpdateBytes(rawWireBytes, true)
}

// UpdateTagged folds buf into the hash only if tag applies to the
// negotiated auth version recorded at Init; otherwise it is a silent no-op.
func (h *Hash) UpdateTagged(tag Version, buf []byte, includeSizeInHash bool) {
	h.mu.Lock()
	negotiated := h.negotiated
	initialized := h.initialized
	h.mu.Unlock()
	if !initialized || !applies(tag, negotiated) {
		return
	}
	h.UpdateBytes(buf, includeSizeInHash)
}

// GetDigest returns the current SHA-256 digest. When keepAlive is true the
// hash continues accumulating afterward (relying on the stdlib hash.Hash
// contract that Sum never mutates the underlying state); when false the
// hash is left in an unusable, uninitialized state and Init must be called
// again before further use.
func (h *Hash) GetDigest(keepAlive bool) [DigestSize]byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out [DigestSize]byte
	if !h.initialized {
		return out
	}
	copy(out[:], h.h.Sum(nil))
	if !keepAlive {
		h.initialized = false
		h.h = nil
	}
	return out
}

// Free releases the hash state. Equivalent to the ajn FreeConversationHash
// call; safe to call multiple times.
func (h *Hash) Free() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = false
	h.h = nil
}
