// Package wire defines the on-the-wire method call and signal shapes for
// the Authentication, HeaderCompression, and Session bus interfaces (§6),
// plus their little-endian marshaling. It mirrors the teacher's
// pkg/message.Codec (a length-prefixed, fixed-endianness wire format)
// generalized from Matter's TLV-framed IM payloads to AllJoyn's
// DBus-type-grammar method signatures.
package wire

import (
	"encoding/binary"
	"errors"
)

var errShortBuffer = errors.New("wire: buffer too short")

// --- Authentication.ExchangeGuids ---

type ExchangeGuidsRequest struct {
	LocalGUID string
	Version   uint32
}

type ExchangeGuidsReply struct {
	RemoteGUID string
	Version    uint32
}

func (r ExchangeGuidsRequest) Marshal() []byte {
	return encodeStringU32(r.LocalGUID, r.Version)
}

func UnmarshalExchangeGuidsRequest(b []byte) (ExchangeGuidsRequest, error) {
	s, u, err := decodeStringU32(b)
	return ExchangeGuidsRequest{LocalGUID: s, Version: u}, err
}

func (r ExchangeGuidsReply) Marshal() []byte {
	return encodeStringU32(r.RemoteGUID, r.Version)
}

func UnmarshalExchangeGuidsReply(b []byte) (ExchangeGuidsReply, error) {
	s, u, err := decodeStringU32(b)
	return ExchangeGuidsReply{RemoteGUID: s, Version: u}, err
}

// --- Authentication.GenSessionKey ---

type GenSessionKeyRequest struct {
	LocalGUID  string
	RemoteGUID string
	LocalNonce string
}

type GenSessionKeyReply struct {
	RemoteNonce string
	Verifier    string
}

func (r GenSessionKeyRequest) Marshal() []byte {
	var out []byte
	out = appendString(out, r.LocalGUID)
	out = appendString(out, r.RemoteGUID)
	out = appendString(out, r.LocalNonce)
	return out
}

func UnmarshalGenSessionKeyRequest(b []byte) (GenSessionKeyRequest, error) {
	var r GenSessionKeyRequest
	var err error
	r.LocalGUID, b, err = readString(b)
	if err != nil {
		return r, err
	}
	r.RemoteGUID, b, err = readString(b)
	if err != nil {
		return r, err
	}
	r.LocalNonce, _, err = readString(b)
	return r, err
}

func (r GenSessionKeyReply) Marshal() []byte {
	var out []byte
	out = appendString(out, r.RemoteNonce)
	out = appendString(out, r.Verifier)
	return out
}

func UnmarshalGenSessionKeyReply(b []byte) (GenSessionKeyReply, error) {
	var r GenSessionKeyReply
	var err error
	r.RemoteNonce, b, err = readString(b)
	if err != nil {
		return r, err
	}
	r.Verifier, _, err = readString(b)
	return r, err
}

// --- Authentication.ExchangeGroupKeys ---
// Payload is either raw key bytes (key-gen >= 1) or a KeyBlob-stored form
// (key-gen 0); both are opaque byte strings at this layer.

type ExchangeGroupKeysMessage struct {
	KeyBytes []byte
}

func (m ExchangeGroupKeysMessage) Marshal() []byte { return appendBytes(nil, m.KeyBytes) }

func UnmarshalExchangeGroupKeysMessage(b []byte) (ExchangeGroupKeysMessage, error) {
	key, _, err := readBytes(b)
	return ExchangeGroupKeysMessage{KeyBytes: key}, err
}

// --- Authentication.AuthChallenge ---
// SASL line protocol: a single string in, a single string out.

type AuthChallenge struct {
	Line string
}

func (c AuthChallenge) Marshal() []byte { return appendString(nil, c.Line) }

func UnmarshalAuthChallenge(b []byte) (AuthChallenge, error) {
	s, _, err := readString(b)
	return AuthChallenge{Line: s}, err
}

// --- Authentication.ExchangeSuites ---

type ExchangeSuitesMessage struct {
	Suites []uint32
}

func (m ExchangeSuitesMessage) Marshal() []byte {
	out := make([]byte, 0, 4+4*len(m.Suites))
	out = appendU32(out, uint32(len(m.Suites)))
	for _, s := range m.Suites {
		out = appendU32(out, s)
	}
	return out
}

func UnmarshalExchangeSuitesMessage(b []byte) (ExchangeSuitesMessage, error) {
	n, b, err := readU32(b)
	if err != nil {
		return ExchangeSuitesMessage{}, err
	}
	suites := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		var v uint32
		v, b, err = readU32(b)
		if err != nil {
			return ExchangeSuitesMessage{}, err
		}
		suites = append(suites, v)
	}
	return ExchangeSuitesMessage{Suites: suites}, nil
}

// --- Authentication.KeyExchange ---
// variant is either `ay` (legacy), `(yay)` (curve-type + encoded point), or
// KeyInfoNISTP256 (version >= 4); represented here as raw bytes plus a kind
// tag so callers can dispatch on encoding.

type KeyExchangeEncoding byte

const (
	KeyExchangeLegacyBytes KeyExchangeEncoding = iota
	KeyExchangeCurveTypePrefixed
	KeyExchangeKeyInfoNISTP256
)

type KeyExchangeMessage struct {
	AuthMask uint32
	Encoding KeyExchangeEncoding
	Variant  byte // meaningful only for KeyExchangeCurveTypePrefixed (the curve-type byte)
	Payload  []byte
}

func (m KeyExchangeMessage) Marshal() []byte {
	out := appendU32(nil, m.AuthMask)
	out = append(out, byte(m.Encoding), m.Variant)
	return appendBytes(out, m.Payload)
}

func UnmarshalKeyExchangeMessage(b []byte) (KeyExchangeMessage, error) {
	mask, b, err := readU32(b)
	if err != nil {
		return KeyExchangeMessage{}, err
	}
	if len(b) < 2 {
		return KeyExchangeMessage{}, errShortBuffer
	}
	enc, variant := b[0], b[1]
	payload, _, err := readBytes(b[2:])
	return KeyExchangeMessage{AuthMask: mask, Encoding: KeyExchangeEncoding(enc), Variant: variant, Payload: payload}, err
}

// --- Authentication.KeyAuthentication ---
// verifier is `ay` (NULL), `(ayay)` (PSK: name,verifier), or `(vyv)` (ECDSA:
// sig-info, cert-encoding, cert-chain).

type KeyAuthenticationKind byte

const (
	KeyAuthNull KeyAuthenticationKind = iota
	KeyAuthPSK
	KeyAuthECDSA
)

type KeyAuthenticationMessage struct {
	Kind      KeyAuthenticationKind
	Verifier  []byte // NULL: the verifier itself; PSK/ECDSA: first field
	Secondary []byte // PSK: verifier; ECDSA: cert-encoding+chain blob
}

func (m KeyAuthenticationMessage) Marshal() []byte {
	out := append([]byte{byte(m.Kind)}, 0)
	out = appendBytes(out, m.Verifier)
	out = appendBytes(out, m.Secondary)
	return out
}

func UnmarshalKeyAuthenticationMessage(b []byte) (KeyAuthenticationMessage, error) {
	if len(b) < 2 {
		return KeyAuthenticationMessage{}, errShortBuffer
	}
	kind := KeyAuthenticationKind(b[0])
	v, rest, err := readBytes(b[2:])
	if err != nil {
		return KeyAuthenticationMessage{}, err
	}
	s, _, err := readBytes(rest)
	return KeyAuthenticationMessage{Kind: kind, Verifier: v, Secondary: s}, err
}

// --- HeaderCompression.GetExpansion ---

type GetExpansionRequest struct {
	Token uint32
}

type ExpansionField struct {
	ID    byte
	Value []byte
}

type GetExpansionReply struct {
	Fields []ExpansionField
}

func (r GetExpansionRequest) Marshal() []byte { return appendU32(nil, r.Token) }

func UnmarshalGetExpansionRequest(b []byte) (GetExpansionRequest, error) {
	tok, _, err := readU32(b)
	return GetExpansionRequest{Token: tok}, err
}

func (r GetExpansionReply) Marshal() []byte {
	out := appendU32(nil, uint32(len(r.Fields)))
	for _, f := range r.Fields {
		out = append(out, f.ID)
		out = appendBytes(out, f.Value)
	}
	return out
}

func UnmarshalGetExpansionReply(b []byte) (GetExpansionReply, error) {
	n, b, err := readU32(b)
	if err != nil {
		return GetExpansionReply{}, err
	}
	fields := make([]ExpansionField, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 1 {
			return GetExpansionReply{}, errShortBuffer
		}
		id := b[0]
		var val []byte
		val, b, err = readBytes(b[1:])
		if err != nil {
			return GetExpansionReply{}, err
		}
		fields = append(fields, ExpansionField{ID: id, Value: val})
	}
	return GetExpansionReply{Fields: fields}, nil
}

// --- Session.AcceptSession / Session.SessionJoined ---

type SessionOptions struct {
	Traffic      byte
	IsMultipoint bool
	Proximity    byte
	Transports   uint16
	Names        []string
}

type AcceptSessionRequest struct {
	SessionPort uint16
	SessionID   uint32
	JoinerName  string
	Options     SessionOptions
}

type AcceptSessionReply struct {
	Accept bool
}

type SessionJoinedSignal struct {
	SessionPort uint16
	SessionID   uint32
	JoinerName  string
}

func (r AcceptSessionRequest) Marshal() []byte {
	out := make([]byte, 0, 64)
	out = appendU16(out, r.SessionPort)
	out = appendU32(out, r.SessionID)
	out = appendString(out, r.JoinerName)
	out = append(out, r.Options.Traffic, boolByte(r.Options.IsMultipoint), r.Options.Proximity)
	out = appendU16(out, r.Options.Transports)
	out = appendU32(out, uint32(len(r.Options.Names)))
	for _, n := range r.Options.Names {
		out = appendString(out, n)
	}
	return out
}

func UnmarshalAcceptSessionRequest(b []byte) (AcceptSessionRequest, error) {
	var r AcceptSessionRequest
	var err error
	r.SessionPort, b, err = readU16(b)
	if err != nil {
		return r, err
	}
	r.SessionID, b, err = readU32(b)
	if err != nil {
		return r, err
	}
	r.JoinerName, b, err = readString(b)
	if err != nil {
		return r, err
	}
	if len(b) < 4 {
		return r, errShortBuffer
	}
	r.Options.Traffic, r.Options.IsMultipoint, r.Options.Proximity = b[0], b[1] != 0, b[2]
	b = b[3:]
	r.Options.Transports, b, err = readU16(b)
	if err != nil {
		return r, err
	}
	n, b, err := readU32(b)
	if err != nil {
		return r, err
	}
	for i := uint32(0); i < n; i++ {
		var name string
		name, b, err = readString(b)
		if err != nil {
			return r, err
		}
		r.Options.Names = append(r.Options.Names, name)
	}
	return r, nil
}

func (r AcceptSessionReply) Marshal() []byte { return []byte{boolByte(r.Accept)} }

func UnmarshalAcceptSessionReply(b []byte) (AcceptSessionReply, error) {
	if len(b) < 1 {
		return AcceptSessionReply{}, errShortBuffer
	}
	return AcceptSessionReply{Accept: b[0] != 0}, nil
}

func (s SessionJoinedSignal) Marshal() []byte {
	out := appendU16(nil, s.SessionPort)
	out = appendU32(out, s.SessionID)
	return appendString(out, s.JoinerName)
}

func UnmarshalSessionJoinedSignal(b []byte) (SessionJoinedSignal, error) {
	var s SessionJoinedSignal
	var err error
	s.SessionPort, b, err = readU16(b)
	if err != nil {
		return s, err
	}
	s.SessionID, b, err = readU32(b)
	if err != nil {
		return s, err
	}
	s.JoinerName, _, err = readString(b)
	return s, err
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// --- primitive little-endian codec helpers ---

func appendU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendString(b []byte, s string) []byte {
	return appendBytes(b, []byte(s))
}

func appendBytes(b []byte, v []byte) []byte {
	b = appendU32(b, uint32(len(v)))
	return append(b, v...)
}

func readU16(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, nil, errShortBuffer
	}
	return binary.LittleEndian.Uint16(b), b[2:], nil
}

func readU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errShortBuffer
	}
	return binary.LittleEndian.Uint32(b), b[4:], nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := readU32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errShortBuffer
	}
	return rest[:n], rest[n:], nil
}

func readString(b []byte) (string, []byte, error) {
	v, rest, err := readBytes(b)
	return string(v), rest, err
}

func encodeStringU32(s string, u uint32) []byte {
	out := appendString(nil, s)
	return appendU32(out, u)
}

func decodeStringU32(b []byte) (string, uint32, error) {
	s, b, err := readString(b)
	if err != nil {
		return "", 0, err
	}
	u, _, err := readU32(b)
	return s, u, err
}
