package keyexchange

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/guid"
	"github.com/alljoyn-go/securepeer/pkg/keystore"
)

const masterSecretLen = 48

// MasterSecretRecord is the structured form store_master_secret persists
// for ECDSA-authenticated exchanges: the master secret plus the peer's
// certificate material needed for later membership evaluation. Non-ECDSA
// suites persist only MasterSecret, in the older short format, for
// backward compatibility.
type MasterSecretRecord struct {
	MasterSecret   [masterSecretLen]byte
	ECCPublicKey   []byte // encoded leaf public key, empty for non-ECDSA suites
	ManifestDigest [32]byte
	IssuerKeys     [][]byte // DER-encoded issuer public keys, root-last
}

func (r MasterSecretRecord) isShortForm() bool {
	return len(r.ECCPublicKey) == 0
}

// Encode serializes r in the on-disk key-blob form:
// version=1 | master-secret 48B | ecc-pubkey | manifest-digest 32B |
// n-issuers u8 | issuer-keys[]. The short form used by non-ECDSA suites
// omits everything past the master secret.
func (r MasterSecretRecord) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(1) // version
	buf.Write(r.MasterSecret[:])
	if r.isShortForm() {
		return buf.Bytes()
	}

	var pkLen [2]byte
	binary.BigEndian.PutUint16(pkLen[:], uint16(len(r.ECCPublicKey)))
	buf.Write(pkLen[:])
	buf.Write(r.ECCPublicKey)

	buf.Write(r.ManifestDigest[:])

	buf.WriteByte(byte(len(r.IssuerKeys)))
	for _, key := range r.IssuerKeys {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(key)))
		buf.Write(l[:])
		buf.Write(key)
	}
	return buf.Bytes()
}

// DecodeMasterSecretRecord parses the form Encode produces, in either the
// short (master-secret-only) or long (ECDSA) layout.
func DecodeMasterSecretRecord(raw []byte) (MasterSecretRecord, error) {
	var r MasterSecretRecord
	buf := bytes.NewReader(raw)

	version, err := buf.ReadByte()
	if err != nil || version != 1 {
		return r, errs.ErrInvalidCertificate
	}
	if _, err := readFull(buf, r.MasterSecret[:]); err != nil {
		return r, err
	}
	if buf.Len() == 0 {
		return r, nil // short form
	}

	var pkLen uint16
	if err := binary.Read(buf, binary.BigEndian, &pkLen); err != nil {
		return r, errs.ErrInvalidCertificate
	}
	r.ECCPublicKey = make([]byte, pkLen)
	if _, err := readFull(buf, r.ECCPublicKey); err != nil {
		return r, err
	}
	if _, err := readFull(buf, r.ManifestDigest[:]); err != nil {
		return r, err
	}
	nIssuers, err := buf.ReadByte()
	if err != nil {
		return r, errs.ErrInvalidCertificate
	}
	for i := 0; i < int(nIssuers); i++ {
		var l uint16
		if err := binary.Read(buf, binary.BigEndian, &l); err != nil {
			return r, errs.ErrInvalidCertificate
		}
		key := make([]byte, l)
		if _, err := readFull(buf, key); err != nil {
			return r, err
		}
		r.IssuerKeys = append(r.IssuerKeys, key)
	}
	return r, nil
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	n, err := r.Read(dst)
	if err != nil || n != len(dst) {
		return n, errs.ErrInvalidCertificate
	}
	return n, nil
}

// StoreMasterSecret writes record into store under peerGUID with access,
// per store_master_secret. Any error here must abort the exchange.
func StoreMasterSecret(store *keystore.Store, peerGUID guid.GUID128, tag string, record MasterSecretRecord, access keystore.AccessRights, expiration time.Time) error {
	blob := keystore.Blob{
		Type:       keystore.KeyTypeGeneric,
		Bytes:      record.Encode(),
		Tag:        tag,
		Expiration: expiration,
	}
	store.Add(peerGUID, blob, access)
	return nil
}
