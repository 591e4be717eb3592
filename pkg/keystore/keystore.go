// Package keystore implements the persistent, optionally process-shared key
// store: symmetric and asymmetric key blobs keyed by GUID, encrypted at
// rest with AES-CCM under a password-derived master key, with a
// last-writer-loses merge protocol for stores shared across processes.
//
// It is grounded on the teacher's pkg/session.Table (map-plus-mutex shape,
// Add/Remove/ForEach idioms) generalized from a session-ID-keyed table to a
// GUID-keyed, persistent one, and on the original KeyStore.cc's on-disk
// format and merge algorithm.
package keystore

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/crypto"
	"github.com/alljoyn-go/securepeer/pkg/errs"
	"github.com/alljoyn-go/securepeer/pkg/guid"
)

// AssociationMode controls how deleting a key cascades to keys associated
// with it. Deleting a Head deletes all Member keys associated to it,
// recursively.
type AssociationMode byte

const (
	AssociationNone AssociationMode = iota
	AssociationHead
	AssociationMember
	AssociationBoth
)

// Role mirrors msgcrypto.Role without importing it, since a key blob's role
// is a storage-layer concept (captured at creation time) independent of any
// in-flight codec.
type Role byte

const (
	RoleInitiator Role = iota
	RoleResponder
	RoleNoRole
)

// KeyType enumerates the supported blob content types. Only AES key blobs
// are accepted for message encryption (msgcrypto enforces that); the store
// itself is agnostic and also holds private/public key material for
// long-lived credentials.
type KeyType byte

const (
	KeyTypeGeneric KeyType = iota
	KeyTypeAES
	KeyTypePrivate
	KeyTypePublic
)

// AccessRights is the 4-entry {MethodCall, MethodReturn, Error, Signal}
// mask, each entry holding {AllowSecureTx, AllowSecureRx} bits (§3).
type AccessRights [4]byte

const (
	AllowSecureTx byte = 1 << 0
	AllowSecureRx byte = 1 << 1
)

// Blob is a stored key: (type, bytes, tag, role, expiration,
// association-mode, association-guid) per §3's key-blob tuple.
type Blob struct {
	Type        KeyType
	Bytes       []byte
	Tag         string // the authentication mechanism name that produced it (invariant I2)
	Role        Role
	Expiration  time.Time // zero value means "never expires"
	AssocMode   AssociationMode
	AssocGUID   guid.GUID128
}

// HasExpired reports whether the blob's expiration has passed.
func (b Blob) HasExpired(now time.Time) bool {
	return !b.Expiration.IsZero() && now.After(b.Expiration)
}

type entry struct {
	revision uint32
	keyType  KeyType
	blob     Blob
	access   AccessRights
}

// ExpiredKeyListener is notified as each key is lazily reaped during the
// expiration sweep that runs immediately before every write.
type ExpiredKeyListener func(key guid.GUID128, blob Blob)

// Store versions supported on disk. v0x0102 and v0x0103 omit the key-type
// field; v0x0103 and below may have been encrypted without the GUID
// suffixed into the master-key material.
const (
	VersionMin     uint16 = 0x0102
	VersionNoGUID  uint16 = 0x0103 // highest version that may lack the GUID-suffixed key
	VersionCurrent uint16 = 0x0104
)

// Store is the persistent, optionally process-shared key store.
type Store struct {
	mu sync.Mutex

	path     string
	shared   bool
	password []byte
	storeID  guid.GUID128 // the GUID embedded in the on-disk record, identifying this store

	version  uint16
	revision uint32
	entries  map[guid.GUID128]entry
	dirty    bool

	// committedRevision is the revision last known to be on disk: the
	// revision loaded at Open, advanced by a successful Store(), or adopted
	// from another process's write at Reload. Unlike revision (which is
	// bumped eagerly in memory as soon as a local Add/Remove happens), this
	// is the correct baseline for deciding whether a local entry already
	// made it to disk, since revision alone is always >= every local
	// entry's own revision and so can never tell local-only from committed.
	committedRevision uint32

	// deletions tracks local keys removed since the last successful store(),
	// so Reload can apply them against a disk copy written by another
	// process without resurrecting a key that process never saw deleted.
	deletions map[guid.GUID128]uint32 // key -> revision at time of deletion

	listener ExpiredKeyListener

	loader func() ([]byte, error) // injected so tests can avoid real files
	saver  func([]byte) error
}

// Config configures a new store. Loader/Saver default to a local-file
// implementation over Path when nil.
type Config struct {
	Path     string
	Shared   bool
	Password []byte
	StoreID  guid.GUID128
	Loader   func() ([]byte, error)
	Saver    func([]byte) error
	Listener ExpiredKeyListener
}

// Open loads a store from its backing file (or bootstraps an empty one if
// none exists yet).
func Open(cfg Config) (*Store, error) {
	s := &Store{
		path:      cfg.Path,
		shared:    cfg.Shared,
		password:  append([]byte(nil), cfg.Password...),
		storeID:   cfg.StoreID,
		version:   VersionCurrent,
		entries:   make(map[guid.GUID128]entry),
		deletions: make(map[guid.GUID128]uint32),
		listener:  cfg.Listener,
		loader:    cfg.Loader,
		saver:     cfg.Saver,
	}
	if s.loader == nil {
		s.loader = fileLoader(cfg.Path)
	}
	if s.saver == nil {
		s.saver = fileSaver(cfg.Path)
	}

	raw, err := s.loader()
	if err != nil {
		if isNotExist(err) {
			return s, nil // bootstrap empty store
		}
		return nil, err
	}
	if len(raw) == 0 {
		return s, nil
	}

	version, revision, storeGUID, entries, err := decodeStore(raw, s.password)
	if err != nil {
		return nil, err
	}
	s.version = version
	s.revision = revision
	s.committedRevision = revision
	s.storeID = storeGUID
	s.entries = entries
	return s, nil
}

func (s *Store) masterKey() []byte {
	return deriveMasterKey(s.password, s.storeID)
}

// candidateKeys returns the master-key derivations to try for a store
// embedding id, newest-first: the GUID-suffixed derivation, then (for
// versions that might predate it) the legacy GUID-less derivation.
func candidateKeys(password []byte, id guid.GUID128) [][]byte {
	return [][]byte{deriveMasterKey(password, id), deriveMasterKeyNoGUID(password)}
}

// deriveMasterKey implements the design's Open Question resolution: the
// on-disk cipher key is HKDF-SHA256(password || guid-string) truncated to
// 16 bytes, standing in for the source's KeyBlob::Derive. The legacy
// "without GUID" variant is tried on decrypt failure, per the v0x0103 and
// below fallback.
func deriveMasterKey(password []byte, id guid.GUID128) []byte {
	ikm := make([]byte, 0, len(password)+32)
	ikm = append(ikm, password...)
	ikm = append(ikm, []byte(id.String())...)
	key, _ := crypto.HKDFSHA256(ikm, nil, []byte("alljoyn-keystore-master"), 16)
	return key
}

func deriveMasterKeyNoGUID(password []byte) []byte {
	key, _ := crypto.HKDFSHA256(password, nil, []byte("alljoyn-keystore-master"), 16)
	return key
}

// Get returns the blob and access rights for key, or ErrKeyUnavailable if
// absent, or ErrKeyExpired (after clearing the entry) if it has expired.
func (s *Store) Get(key guid.GUID128) (Blob, AccessRights, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Blob{}, AccessRights{}, errs.ErrKeyUnavailable
	}
	if e.blob.HasExpired(time.Now()) {
		delete(s.entries, key)
		s.dirty = true
		return Blob{}, AccessRights{}, errs.ErrKeyExpired
	}
	return e.blob, e.access, nil
}

// Has reports whether key is present (and unexpired) in the store.
func (s *Store) Has(key guid.GUID128) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && !e.blob.HasExpired(time.Now())
}

// Add inserts or replaces a key, bumping the store's revision.
func (s *Store) Add(key guid.GUID128, blob Blob, access AccessRights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
	s.entries[key] = entry{revision: s.revision, keyType: blob.Type, blob: blob, access: access}
	delete(s.deletions, key)
	s.dirty = true
}

// Delete removes key from the store. If it is a Head key, every Member key
// associated with it is removed recursively.
func (s *Store) Delete(key guid.GUID128) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
}

func (s *Store) deleteLocked(key guid.GUID128) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	s.revision++
	s.deletions[key] = s.revision
	s.dirty = true

	if e.blob.AssocMode == AssociationHead || e.blob.AssocMode == AssociationBoth {
		for k, member := range s.entries {
			if member.blob.AssocGUID == key &&
				(member.blob.AssocMode == AssociationMember || member.blob.AssocMode == AssociationBoth) {
				s.deleteLocked(k)
			}
		}
	}
}

// SearchAssociated returns the member keys associated with head.
func (s *Store) SearchAssociated(head guid.GUID128) []guid.GUID128 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []guid.GUID128
	for k, e := range s.entries {
		if e.blob.AssocGUID == head &&
			(e.blob.AssocMode == AssociationMember || e.blob.AssocMode == AssociationBoth) {
			out = append(out, k)
		}
	}
	return out
}

// SetExpiration sets key's expiration time.
func (s *Store) SetExpiration(key guid.GUID128, when time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.blob.Expiration = when
	s.entries[key] = e
	s.dirty = true
	return true
}

// GetExpiration returns key's expiration time.
func (s *Store) GetExpiration(key guid.GUID128) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.blob.Expiration, true
}

// Clear deletes every key whose Tag matches pattern exactly or via a
// trailing '*' wildcard.
func (s *Store) Clear(tagPattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := exactMatcher(tagPattern)
	for k, e := range s.entries {
		if match(e.blob.Tag) {
			s.deleteLocked(k)
		}
	}
}

func exactMatcher(pattern string) func(string) bool {
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return func(s string) bool { return len(s) >= len(prefix) && s[:len(prefix)] == prefix }
	}
	return func(s string) bool { return s == pattern }
}

// eraseExpired sweeps every entry, deleting expired ones and notifying the
// listener. If the listener mutates the map (through Add/Delete calls on
// this store from within the callback) the sweep restarts from the
// beginning, matching the "iterator invalidation safe" design note. The
// caller holds s.mu; it is released while the listener runs.
func (s *Store) eraseExpired() {
	now := time.Now()
	for {
		restarted := false
		for k, e := range s.entries {
			if e.blob.HasExpired(now) {
				blob := e.blob
				delete(s.entries, k)
				s.dirty = true
				if s.listener != nil {
					before := len(s.entries)
					s.mu.Unlock()
					s.listener(k, blob)
					s.mu.Lock()
					if len(s.entries) != before {
						restarted = true
						break
					}
				}
			}
		}
		if !restarted {
			return
		}
	}
}

// Store persists the store to disk if dirty. The expiration sweep always
// runs first. The revision is bumped before encryption (invariant I6: the
// file on disk is always either the last-committed revision or the one
// currently being written).
func (s *Store) Store() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eraseExpired()
	if !s.dirty {
		return nil
	}

	s.revision++
	raw := encodeStore(s.version, s.revision, s.storeID, s.entries, s.masterKey())
	if err := s.saver(raw); err != nil {
		s.revision-- // the write never landed; don't advertise a revision that doesn't exist on disk
		return err
	}
	s.committedRevision = s.revision
	s.dirty = false
	s.deletions = make(map[guid.GUID128]uint32)
	return nil
}

// Reload merges changes from another process's write into this in-memory
// store, implementing the last-writer-loses protocol from §4.B.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.loader()
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	diskVersion, diskRevision, diskGUID, diskEntries, err := decodeStore(raw, s.password)
	if err != nil {
		return err
	}

	// baseline is the revision this in-memory copy was last known to share
	// with disk. Any local entry newer than that was Add()ed here but never
	// Store()d, so it cannot appear in diskEntries under its own revision
	// number; comparing against the live s.revision instead (which every
	// local entry's revision is always <=) would make that case
	// unreachable and silently drop such entries.
	baseline := s.committedRevision
	localEntries := s.entries

	merged := make(map[guid.GUID128]entry, len(diskEntries))
	for k, v := range diskEntries {
		merged[k] = v
	}

	for key, delRev := range s.deletions {
		if diskRev, ok := diskEntries[key]; ok && diskRev.revision <= baseline {
			_ = delRev
			delete(merged, key)
		}
	}

	for key, local := range localEntries {
		if local.revision <= baseline {
			continue
		}
		if disk, ok := diskEntries[key]; ok && disk.revision > baseline {
			// Conflict: prefer the already-committed disk writer.
			continue
		}
		merged[key] = local
	}

	s.version = diskVersion
	s.storeID = diskGUID
	s.entries = merged
	if diskRevision > s.revision {
		s.revision = diskRevision
	}
	if diskRevision > s.committedRevision {
		s.committedRevision = diskRevision
	}
	s.eraseExpired()
	return nil
}

// encodeStore serializes the store as version|revision|guid|len|ciphertext.
// ciphertext is AES-CCM(master, nonce=revision(4B BE), aad=empty, tag=16)
// over the packed entry list: rev|keytype|guid|blob|access-rights per entry.
func encodeStore(version uint16, revision uint32, id guid.GUID128, entries map[guid.GUID128]entry, masterKey []byte) []byte {
	var plaintext bytes.Buffer
	for key, e := range entries {
		var rec bytes.Buffer
		binary.Write(&rec, binary.BigEndian, e.revision)
		if version >= 0x0104 {
			rec.WriteByte(byte(e.keyType))
		}
		idBytes := key.Bytes()
		rec.Write(idBytes[:])
		writeBlob(&rec, e.blob)
		rec.Write(e.access[:])

		var recLen [4]byte
		binary.BigEndian.PutUint32(recLen[:], uint32(rec.Len()))
		plaintext.Write(recLen[:])
		plaintext.Write(rec.Bytes())
	}

	nonce := make([]byte, crypto.AESCCMNonceSize)
	binary.BigEndian.PutUint32(nonce[crypto.AESCCMNonceSize-4:], revision)

	ccm, err := crypto.NewAESCCM(masterKey)
	if err != nil {
		return nil
	}
	ciphertext, err := ccm.Seal(nonce, plaintext.Bytes(), nil)
	if err != nil {
		return nil
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, version)
	binary.Write(&out, binary.BigEndian, revision)
	idBytes := id.Bytes()
	out.Write(idBytes[:])
	var ctLen [4]byte
	binary.BigEndian.PutUint32(ctLen[:], uint32(len(ciphertext)))
	out.Write(ctLen[:])
	out.Write(ciphertext)
	return out.Bytes()
}

func decodeStore(raw []byte, password []byte) (uint16, uint32, guid.GUID128, map[guid.GUID128]entry, error) {
	r := bytes.NewReader(raw)
	var version uint16
	var revision uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return 0, 0, guid.Nil, nil, errs.ErrCorruptKeystore
	}
	if version < VersionMin || version > VersionCurrent {
		return 0, 0, guid.Nil, nil, errs.ErrKeystoreVersionMismatch
	}
	if err := binary.Read(r, binary.BigEndian, &revision); err != nil {
		return 0, 0, guid.Nil, nil, errs.ErrCorruptKeystore
	}
	var idBytes [16]byte
	if _, err := io.ReadFull(r, idBytes[:]); err != nil {
		return 0, 0, guid.Nil, nil, errs.ErrCorruptKeystore
	}
	id := guid.GUID128(idBytes)

	var ctLen uint32
	if err := binary.Read(r, binary.BigEndian, &ctLen); err != nil {
		return 0, 0, guid.Nil, nil, errs.ErrCorruptKeystore
	}
	ciphertext := make([]byte, ctLen)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return 0, 0, guid.Nil, nil, errs.ErrCorruptKeystore
	}

	nonce := make([]byte, crypto.AESCCMNonceSize)
	binary.BigEndian.PutUint32(nonce[crypto.AESCCMNonceSize-4:], revision)

	plaintext, err := decryptWithFallback(candidateKeys(password, id), nonce, ciphertext, version)
	if err != nil {
		return 0, 0, guid.Nil, nil, errs.ErrCorruptKeystore
	}

	entries, err := parseEntries(plaintext, version)
	if err != nil {
		return 0, 0, guid.Nil, nil, err
	}
	return version, revision, id, entries, nil
}

// decryptWithFallback tries the GUID-suffixed master-key derivation first,
// then (for v0x0103-and-below stores, which may predate the GUID suffix)
// the legacy GUID-less derivation.
func decryptWithFallback(keyCandidates [][]byte, nonce, ciphertext []byte, version uint16) ([]byte, error) {
	tries := keyCandidates
	if version > VersionNoGUID {
		tries = keyCandidates[:1]
	}
	for _, key := range tries {
		ccm, err := crypto.NewAESCCM(key)
		if err != nil {
			continue
		}
		if pt, err := ccm.Open(nonce, ciphertext, nil); err == nil {
			return pt, nil
		}
	}
	return nil, errs.ErrCorruptKeystore
}

func parseEntries(plaintext []byte, version uint16) (map[guid.GUID128]entry, error) {
	out := make(map[guid.GUID128]entry)
	r := bytes.NewReader(plaintext)
	for r.Len() > 0 {
		var recLen uint32
		if err := binary.Read(r, binary.BigEndian, &recLen); err != nil {
			return nil, errs.ErrCorruptKeystore
		}
		recBuf := make([]byte, recLen)
		if _, err := io.ReadFull(r, recBuf); err != nil {
			return nil, errs.ErrCorruptKeystore
		}
		rr := bytes.NewReader(recBuf)

		var rev uint32
		if err := binary.Read(rr, binary.BigEndian, &rev); err != nil {
			return nil, errs.ErrCorruptKeystore
		}
		var keyType KeyType
		if version >= 0x0104 {
			kt, err := rr.ReadByte()
			if err != nil {
				return nil, errs.ErrCorruptKeystore
			}
			keyType = KeyType(kt)
		}
		var idBytes [16]byte
		if _, err := io.ReadFull(rr, idBytes[:]); err != nil {
			return nil, errs.ErrCorruptKeystore
		}
		blob, err := readBlob(rr)
		if err != nil {
			return nil, err
		}
		var access AccessRights
		if _, err := io.ReadFull(rr, access[:]); err != nil {
			return nil, errs.ErrCorruptKeystore
		}

		out[guid.GUID128(idBytes)] = entry{revision: rev, keyType: keyType, blob: blob, access: access}
	}
	return out, nil
}

func writeBlob(w *bytes.Buffer, b Blob) {
	w.WriteByte(byte(b.Type))
	var bl [2]byte
	binary.BigEndian.PutUint16(bl[:], uint16(len(b.Bytes)))
	w.Write(bl[:])
	w.Write(b.Bytes)

	w.WriteByte(byte(len(b.Tag)))
	w.WriteString(b.Tag)

	w.WriteByte(byte(b.Role))

	var exp [8]byte
	if !b.Expiration.IsZero() {
		binary.BigEndian.PutUint64(exp[:], uint64(b.Expiration.Unix()))
	}
	w.Write(exp[:])

	w.WriteByte(byte(b.AssocMode))
	assocBytes := b.AssocGUID.Bytes()
	w.Write(assocBytes[:])
}

func readBlob(r *bytes.Reader) (Blob, error) {
	var b Blob
	t, err := r.ReadByte()
	if err != nil {
		return b, errs.ErrCorruptKeystore
	}
	b.Type = KeyType(t)

	var bl [2]byte
	if _, err := io.ReadFull(r, bl[:]); err != nil {
		return b, errs.ErrCorruptKeystore
	}
	blen := binary.BigEndian.Uint16(bl[:])
	b.Bytes = make([]byte, blen)
	if _, err := io.ReadFull(r, b.Bytes); err != nil {
		return b, errs.ErrCorruptKeystore
	}

	tagLen, err := r.ReadByte()
	if err != nil {
		return b, errs.ErrCorruptKeystore
	}
	tagBuf := make([]byte, tagLen)
	if _, err := io.ReadFull(r, tagBuf); err != nil {
		return b, errs.ErrCorruptKeystore
	}
	b.Tag = string(tagBuf)

	role, err := r.ReadByte()
	if err != nil {
		return b, errs.ErrCorruptKeystore
	}
	b.Role = Role(role)

	var exp [8]byte
	if _, err := io.ReadFull(r, exp[:]); err != nil {
		return b, errs.ErrCorruptKeystore
	}
	if unix := binary.BigEndian.Uint64(exp[:]); unix != 0 {
		b.Expiration = time.Unix(int64(unix), 0)
	}

	mode, err := r.ReadByte()
	if err != nil {
		return b, errs.ErrCorruptKeystore
	}
	b.AssocMode = AssociationMode(mode)

	var assoc [16]byte
	if _, err := io.ReadFull(r, assoc[:]); err != nil {
		return b, errs.ErrCorruptKeystore
	}
	b.AssocGUID = guid.GUID128(assoc)

	return b, nil
}

// Revision returns the store's current revision number.
func (s *Store) Revision() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// IsDirty reports whether the store has unpersisted changes.
func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
