package keyexchange

import (
	"bytes"
	"testing"
)

func TestMasterSecretRecordShortFormRoundTrip(t *testing.T) {
	var r MasterSecretRecord
	copy(r.MasterSecret[:], bytes.Repeat([]byte{0x42}, masterSecretLen))

	encoded := r.Encode()
	decoded, err := DecodeMasterSecretRecord(encoded)
	if err != nil {
		t.Fatalf("DecodeMasterSecretRecord: %v", err)
	}
	if decoded.MasterSecret != r.MasterSecret {
		t.Fatal("master secret mismatch after short-form round trip")
	}
	if len(decoded.ECCPublicKey) != 0 {
		t.Fatal("short-form record must not carry ECC key material")
	}
}

func TestMasterSecretRecordLongFormRoundTrip(t *testing.T) {
	r := MasterSecretRecord{
		ECCPublicKey: []byte{0x04, 0x01, 0x02, 0x03},
		IssuerKeys:   [][]byte{{0xAA, 0xBB}, {0xCC}},
	}
	copy(r.MasterSecret[:], bytes.Repeat([]byte{0x11}, masterSecretLen))
	copy(r.ManifestDigest[:], bytes.Repeat([]byte{0x22}, 32))

	decoded, err := DecodeMasterSecretRecord(r.Encode())
	if err != nil {
		t.Fatalf("DecodeMasterSecretRecord: %v", err)
	}
	if !bytes.Equal(decoded.ECCPublicKey, r.ECCPublicKey) {
		t.Fatal("ECC public key mismatch")
	}
	if decoded.ManifestDigest != r.ManifestDigest {
		t.Fatal("manifest digest mismatch")
	}
	if len(decoded.IssuerKeys) != 2 || !bytes.Equal(decoded.IssuerKeys[0], r.IssuerKeys[0]) || !bytes.Equal(decoded.IssuerKeys[1], r.IssuerKeys[1]) {
		t.Fatalf("issuer keys mismatch: %+v", decoded.IssuerKeys)
	}
}
