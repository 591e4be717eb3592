// Package errs defines the error taxonomy shared across the secure-peer
// subsystem. Every package in this module reports failures as one of these
// sentinel values (wrapped with fmt.Errorf's %w where extra context is
// useful), so callers can classify a failure with errors.Is regardless of
// which component produced it.
package errs

import "errors"

// Transient errors are retried internally by the caller, or surfaced so the
// caller can decide to retry.
var (
	ErrWouldBlock          = errors.New("securepeer: operation would block")
	ErrAuthenticationPending = errors.New("securepeer: authentication already in progress")
)

// Fatal-for-exchange errors end the current authentication conversation.
// They are reported to the application once, via AuthenticationComplete
// (success=false) plus a SecurityViolation event for the triggering message.
var (
	ErrAuthFail                  = errors.New("securepeer: authentication failed")
	ErrAuthUserReject            = errors.New("securepeer: authentication rejected by user")
	ErrAuthVersionMismatch       = errors.New("securepeer: unsupported authentication version")
	ErrNoAuthenticationMechanism = errors.New("securepeer: no common authentication mechanism")
	ErrKeyUnavailable            = errors.New("securepeer: key unavailable")
	ErrPeerAuthVersionMismatch   = errors.New("securepeer: peer authentication version mismatch")
	ErrKeyGenVersionUnsupported  = errors.New("securepeer: unsupported key generation version")
)

// Policy errors are surfaced as error replies on the bus method call that
// triggered them.
var (
	ErrPermissionDenied         = errors.New("securepeer: permission denied")
	ErrPolicyNotNewer           = errors.New("securepeer: replacement policy is not newer than the installed one")
	ErrManagementAlreadyStarted = errors.New("securepeer: permission management session already started")
	ErrManagementNotStarted     = errors.New("securepeer: permission management session not started")
	ErrDigestMismatch           = errors.New("securepeer: digest mismatch")
	ErrDuplicateCertificate     = errors.New("securepeer: duplicate certificate")
	ErrCertificateNotFound      = errors.New("securepeer: certificate not found")
	ErrInvalidCertificate       = errors.New("securepeer: invalid certificate")
	ErrInvalidCertificateUsage  = errors.New("securepeer: invalid certificate usage")
)

// Storage errors originate in the persistent key store.
var (
	ErrKeystoreNotLoaded      = errors.New("securepeer: key store not loaded")
	ErrKeyExpired             = errors.New("securepeer: key expired")
	ErrCorruptKeystore        = errors.New("securepeer: key store is corrupt")
	ErrKeystoreVersionMismatch = errors.New("securepeer: key store version mismatch")
)

// ErrMessageDecryptionFailed is the single kind that all message-crypto-level
// failures collapse to, regardless of the underlying AEAD failure reason.
var ErrMessageDecryptionFailed = errors.New("securepeer: message decryption failed")

// ErrCompressionTokenUnknown is returned when a GetExpansion request names a
// header-compression token the receiving peer never assigned, surfaced as an
// error reply on the bus method call that triggered the lookup.
var ErrCompressionTokenUnknown = errors.New("securepeer: compression token unknown")

// Kind classifies a sentinel error into one of the five visibility buckets
// from the error-handling design so callers can branch on propagation policy
// without an exhaustive errors.Is chain.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindFatalForExchange
	KindPolicy
	KindStorage
	KindDecryption
)

var kindOf = map[error]Kind{
	ErrWouldBlock:              KindTransient,
	ErrAuthenticationPending:   KindTransient,
	ErrAuthFail:                KindFatalForExchange,
	ErrAuthUserReject:          KindFatalForExchange,
	ErrAuthVersionMismatch:     KindFatalForExchange,
	ErrNoAuthenticationMechanism: KindFatalForExchange,
	ErrKeyUnavailable:          KindFatalForExchange,
	ErrPeerAuthVersionMismatch: KindFatalForExchange,
	ErrKeyGenVersionUnsupported: KindFatalForExchange,
	ErrPermissionDenied:        KindPolicy,
	ErrPolicyNotNewer:          KindPolicy,
	ErrManagementAlreadyStarted: KindPolicy,
	ErrManagementNotStarted:    KindPolicy,
	ErrDigestMismatch:          KindPolicy,
	ErrDuplicateCertificate:    KindPolicy,
	ErrCertificateNotFound:     KindPolicy,
	ErrInvalidCertificate:      KindPolicy,
	ErrInvalidCertificateUsage: KindPolicy,
	ErrKeystoreNotLoaded:       KindStorage,
	ErrKeyExpired:              KindStorage,
	ErrCorruptKeystore:         KindStorage,
	ErrKeystoreVersionMismatch: KindStorage,
	ErrMessageDecryptionFailed: KindDecryption,
	ErrCompressionTokenUnknown: KindPolicy,
}

// Classify returns the visibility bucket for a sentinel error defined in
// this package, or KindUnknown for anything else (including wrapped errors
// from other packages that were never mapped here).
func Classify(err error) Kind {
	if k, ok := kindOf[err]; ok {
		return k
	}
	for sentinel, k := range kindOf {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}
