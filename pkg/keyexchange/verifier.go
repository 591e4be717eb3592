package keyexchange

import (
	"crypto/subtle"

	"github.com/alljoyn-go/securepeer/pkg/convhash"
	"github.com/alljoyn-go/securepeer/pkg/crypto"
)

const verifierLen = 12

// clientFinishedLabel and serverFinishedLabel are the PRF labels used to
// derive each side's verifier, mirroring TLS's own Finished-message labels.
const (
	clientFinishedLabel = "client finished"
	serverFinishedLabel = "server finished"
)

// computeVerifier derives the 12-byte verifier PRF(masterSecret, label,
// conversation-hash-digest, 12). hashDigest is already convhash.GetDigest's
// SHA-256 output, so it is fed to the PRF directly as the seed — hashing it
// again here would diverge from AllJoynPeerObj::GenerateVerifier, which
// passes GetDigest()'s bytes straight through. When pskName/pskValue are
// non-empty (v4 ECDHE-PSK), they are appended to the PRF seed directly,
// deliberately outside the hashed transcript, so a name/PSK mismatch fails
// authentication cleanly instead of desynchronizing the conversation hash.
func computeVerifier(masterSecret []byte, label string, hashDigest [convhash.DigestSize]byte, pskName, pskValue []byte) []byte {
	full := make([]byte, 0, len(hashDigest)+len(pskName)+len(pskValue))
	full = append(full, hashDigest[:]...)
	full = append(full, pskName...)
	full = append(full, pskValue...)
	return crypto.PRF(masterSecret, label, full, verifierLen)
}

// verifyEquals does a constant-time comparison of two verifiers.
func verifyEquals(a, b []byte) bool {
	if len(a) != verifierLen || len(b) != verifierLen {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
