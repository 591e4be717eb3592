package convhash

import (
	"bytes"
	"testing"
)

func TestGetDigestKeepAliveContinuesAccumulating(t *testing.T) {
	h := New()
	h.Init(2)
	h.UpdateByte('a')

	d1 := h.GetDigest(true)
	h.UpdateByte('b')
	d2 := h.GetDigest(true)

	if bytes.Equal(d1[:], d2[:]) {
		t.Fatal("digest did not change after additional update with keepAlive")
	}

	// "ab" hashed incrementally via keepAlive must match hashing "ab" in one go.
	h2 := New()
	h2.Init(2)
	h2.UpdateBytes([]byte("ab"), false)
	want := h2.GetDigest(false)
	if !bytes.Equal(d2[:], want[:]) {
		t.Fatalf("incremental digest mismatch: got %x want %x", d2, want)
	}
}

func TestGetDigestWithoutKeepAliveInvalidates(t *testing.T) {
	h := New()
	h.Init(2)
	h.UpdateByte('x')
	h.GetDigest(false)

	// Further updates after a non-keepAlive GetDigest are no-ops.
	h.UpdateByte('y')
	d := h.GetDigest(true)
	var zero [DigestSize]byte
	if d != zero {
		t.Fatal("hash should be inert after GetDigest(keepAlive=false) until Init is called again")
	}
}

func TestUpdateTaggedAppliesRule(t *testing.T) {
	// v1-tagged updates apply only when negotiated < 4.
	legacy := New()
	legacy.Init(2)
	legacy.UpdateTagged(AppliesAtV1, []byte("suite"), false)
	legacyWithV1 := legacy.GetDigest(false)

	legacySkipped := New()
	legacySkipped.Init(2)
	legacySkipped.UpdateTagged(AppliesAtV4, []byte("suite"), false)
	legacyWithoutV4 := legacySkipped.GetDigest(false)

	bare := New()
	bare.Init(2)
	bareDigest := bare.GetDigest(false)

	if bytes.Equal(legacyWithV1[:], bareDigest[:]) {
		t.Fatal("v1-tagged update should have applied at negotiated version 2")
	}
	if !bytes.Equal(legacyWithoutV4[:], bareDigest[:]) {
		t.Fatal("v4-tagged update should have been dropped at negotiated version 2")
	}
}

func TestUpdateBytesIncludeSizePrefix(t *testing.T) {
	a := New()
	a.Init(4)
	a.UpdateBytes([]byte("hello"), true)
	da := a.GetDigest(false)

	b := New()
	b.Init(4)
	b.UpdateBytes([]byte("hello"), false)
	db := b.GetDigest(false)

	if bytes.Equal(da[:], db[:]) {
		t.Fatal("size-prefixed and bare updates must produce different digests")
	}
}

func TestSensitiveModeDoesNotAffectDigest(t *testing.T) {
	a := New()
	a.Init(2)
	a.SetSensitiveMode(true)
	a.UpdateBytes([]byte("secret"), false)
	da := a.GetDigest(false)

	b := New()
	b.Init(2)
	b.UpdateBytes([]byte("secret"), false)
	db := b.GetDigest(false)

	if da != db {
		t.Fatal("sensitive mode must only affect logging, not the hashed bytes")
	}
}
