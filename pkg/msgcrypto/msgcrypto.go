// Package msgcrypto implements per-message AES-CCM encryption and
// decryption for secured bus traffic, including the role-byte/serial/
// crypto-random nonce construction described in the AllJoyn message
// security design. It is grounded on pkg/message's Codec in the teacher
// repo, adapted to AllJoyn's simpler (no header-privacy) nonce layout.
package msgcrypto

import (
	"encoding/binary"
	"errors"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/errs"
)

// Role identifies which side of a conversation produced a given message,
// used to select the nonce's role byte.
type Role byte

const (
	RoleInitiator Role = 0x00
	RoleResponder Role = 0x01
	RoleNoRole    Role = 0x02 // used for group (broadcast) keys, §3 invariant I4
)

// Anti returns the opposite role, used when constructing the nonce for a
// message we are decrypting: the role byte must reflect the sender's role,
// i.e. the opposite of ours for a unicast exchange.
func (r Role) Anti() Role {
	switch r {
	case RoleInitiator:
		return RoleResponder
	case RoleResponder:
		return RoleInitiator
	default:
		return r
	}
}

// MinAuthVersionMACLen16 is the negotiated auth version at and above which
// the 16-byte MAC applies; below it, messages use the 8-byte legacy MAC.
// This mirrors ajn::Crypto::GetMACLength, which compares the message's full
// (shifted) auth version against _Message::MIN_AUTH_VERSION_MACLEN16.
const MinAuthVersionMACLen16 uint32 = 3

// MACLenFor derives the tag size for a negotiated auth version.
func MACLenFor(negotiatedAuthVersion uint32) int {
	if negotiatedAuthVersion >= MinAuthVersionMACLen16 {
		return crypto.AESCCMTagSize
	}
	return crypto.AESCCMLegacyTagSize
}

// ErrKeyBlobOpInvalid is returned when a non-AES key is presented to the
// message codec; only AES key blobs are accepted for message encryption.
var ErrKeyBlobOpInvalid = errors.New("msgcrypto: only AES key blobs are valid for message encryption")

// BuildNonce constructs the AEAD nonce per §4.C and ajn::Crypto::Encrypt:
//
//	byte 0      = role byte (sender's role when encrypting, anti-role when decrypting)
//	bytes 1..4  = message call serial, big-endian
//	bytes 5..12 = 64-bit crypto-random value, big-endian (legacy nonces
//	              stop after byte 4)
//
// Unlike the MAC length (gated on negotiated auth version), the nonce
// length is driven purely by whether this particular message requires a
// crypto-random value: messages that don't use the 5-byte legacy-length
// nonce regardless of auth version; messages that do use the full 13-byte
// nonce. This is preserved exactly from the source rather than re-derived
// from the auth version, per the design's "mirror the source exactly"
// guidance for nonce-length selection.
func BuildNonce(role Role, serial uint32, cryptoRandomValue uint64, hasCryptoValue bool) []byte {
	nonceLen := crypto.AESCCMLegacyNonceSize
	if hasCryptoValue {
		nonceLen = crypto.AESCCMNonceSize
	}

	nonce := make([]byte, nonceLen)
	nonce[0] = byte(role)
	binary.BigEndian.PutUint32(nonce[1:5], serial)
	if hasCryptoValue {
		var crBuf [8]byte
		binary.BigEndian.PutUint64(crBuf[:], cryptoRandomValue)
		copy(nonce[5:], crBuf[:])
	}
	return nonce
}

// Codec encrypts and decrypts message bodies for one direction of a secured
// session, parameterized by the negotiated auth version's MAC size.
type Codec struct {
	key    []byte // AES-128 key, 16 bytes
	macLen int
}

// NewCodec builds a message codec bound to a single symmetric key. The key
// must come from an AES key blob; any other key type is rejected with
// ErrKeyBlobOpInvalid before this constructor is ever reached by callers
// that validate KeyBlob.Type.
func NewCodec(key []byte, negotiatedAuthVersion uint32) (*Codec, error) {
	if len(key) != crypto.AESCCMKeySize {
		return nil, ErrKeyBlobOpInvalid
	}
	return &Codec{key: key, macLen: MACLenFor(negotiatedAuthVersion)}, nil
}

// Encrypt encrypts body (the portion of the message beyond header_len) and
// returns ciphertext||tag. headerBytes is used verbatim as AAD — AllJoyn
// never obfuscates the header the way Matter's optional privacy mode does.
// A nonce shorter than 11 bytes (the 5-byte legacy nonce) is zero-padded to
// 11 bytes before use, giving a 4-byte CCM length field.
func (c *Codec) Encrypt(role Role, serial uint32, cryptoRandomValue uint64, hasCryptoValue bool, headerBytes, body []byte) ([]byte, error) {
	nonce := BuildNonce(role, serial, cryptoRandomValue, hasCryptoValue)
	if len(nonce) < 11 {
		nonce = append(nonce, make([]byte, 11-len(nonce))...)
	}
	ccm, err := crypto.NewAESCCMWithParams(c.key, len(nonce), c.macLen)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, body, headerBytes)
}

// Decrypt decrypts an AES-CCM body using the anti-role of role (the role we
// expect the sender to have used). Any failure — bad tag, bad key, bad
// nonce — collapses to errs.ErrMessageDecryptionFailed so callers never
// learn which primitive rejected the message.
func (c *Codec) Decrypt(role Role, serial uint32, cryptoRandomValue uint64, hasCryptoValue bool, headerBytes, ciphertext []byte) ([]byte, error) {
	nonce := BuildNonce(role.Anti(), serial, cryptoRandomValue, hasCryptoValue)
	if len(nonce) < 11 {
		nonce = append(nonce, make([]byte, 11-len(nonce))...)
	}
	ccm, err := crypto.NewAESCCMWithParams(c.key, len(nonce), c.macLen)
	if err != nil {
		return nil, errs.ErrMessageDecryptionFailed
	}
	plaintext, err := ccm.Open(nonce, ciphertext, headerBytes)
	if err != nil {
		return nil, errs.ErrMessageDecryptionFailed
	}
	return plaintext, nil
}
