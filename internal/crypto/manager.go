// Package crypto implements envelope encryption and per-topic key management
// for the ACMS core (spec.md §4.1). It is built the way the teacher's
// internal/embedding package builds pluggable backends: a narrow interface
// (HardwareBackend), a concrete implementation handed to NewManager at
// construction, and a Manager that owns the algorithm-level details so
// callers never see nonce sizes or wrap formats.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"acms/internal/domain"
	"acms/internal/logging"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
)

const (
	// envelopeVersion is the only negotiated byte in the blob format.
	envelopeVersion byte = 1

	nonceSize = chacha20poly1305.NonceSizeX // 24 bytes (XChaCha20-Poly1305)
	tagSize   = chacha20poly1305.Overhead   // 16 bytes
	keySize   = chacha20poly1305.KeySize    // 32 bytes

	hkdfSalt = "acms_topic_kek_v1"
)

// KeyVersion identifies one generation of a topic's key.
type KeyVersion int

// topicKey is one wrapping ("key-encrypting") key for a topic, derived from
// the master key via HKDF-SHA256(salt="acms_topic_kek_v1", info=topicID).
// A topic can have several live versions simultaneously after rotation;
// old records stay readable under the version recorded on them.
type topicKey struct {
	version KeyVersion
	key     [keySize]byte
}

// KeyRing holds every non-destroyed key version for one topic.
type KeyRing struct {
	mu       sync.RWMutex
	topicID  string
	versions map[KeyVersion]topicKey
	current  KeyVersion
}

// Manager is the crypto / key manager of spec.md §4.1.
type Manager struct {
	mu      sync.RWMutex
	backend HardwareBackend
	rings   map[string]*KeyRing // topicID -> ring
}

// NewManager constructs a Manager backed by the given hardware backend.
func NewManager(backend HardwareBackend) *Manager {
	return &Manager{backend: backend, rings: make(map[string]*KeyRing)}
}

// ringFor returns (creating if necessary) the key ring for a topic, deriving
// its first key version from the backend's master key.
func (m *Manager) ringFor(topicID string) (*KeyRing, error) {
	m.mu.RLock()
	ring, ok := m.rings[topicID]
	m.mu.RUnlock()
	if ok {
		return ring, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ring, ok := m.rings[topicID]; ok {
		return ring, nil
	}

	ring = &KeyRing{topicID: topicID, versions: make(map[KeyVersion]topicKey)}
	if err := m.deriveAndStore(ring, 1); err != nil {
		return nil, err
	}
	m.rings[topicID] = ring
	return ring, nil
}

func (m *Manager) deriveAndStore(ring *KeyRing, version KeyVersion) error {
	master, err := m.backend.GetMasterKey()
	if err != nil {
		return domain.Wrap(domain.KindKeyUnavailable, "master key unavailable", err).WithBackend(m.backend.Name())
	}

	info := fmt.Sprintf("%s:v%d", ring.topicID, version)
	h := hkdf.New(sha256.New, master, []byte(hkdfSalt), []byte(info))
	var tk topicKey
	tk.version = version
	if _, err := io.ReadFull(h, tk.key[:]); err != nil {
		return domain.Wrap(domain.KindInternal, "hkdf derive failed", err)
	}

	ring.mu.Lock()
	ring.versions[version] = tk
	if version > ring.current {
		ring.current = version
	}
	ring.mu.Unlock()
	return nil
}

// envelope layout:
//   [0]      version byte
//   [1:3]    uint16 big-endian length of wrapped data key
//   [3:3+n]  wrapped data key (XChaCha20-Poly1305 sealed under the topic key)
//   [...]    24-byte nonce for the payload AEAD
//   [...]    AEAD ciphertext (payload sealed under the data key)
//
// The wrapped-data-key blob itself is: [24-byte nonce][sealed 32-byte key].

// Blob is an opaque encrypted payload plus the metadata needed to decrypt it.
type Blob struct {
	Bytes       []byte
	TopicID     string
	KeyVersion  KeyVersion
}

// KeyID renders a stable identifier referencing the key used, for storage on
// a MemoryItem (spec.md §3 "key identifier").
func (b Blob) KeyID() string {
	return fmt.Sprintf("%s:v%d", b.TopicID, b.KeyVersion)
}

// Encrypt implements spec.md §4.1 encrypt(plaintext, topic_id).
func (m *Manager) Encrypt(plaintext []byte, topicID string) (Blob, error) {
	timer := logging.StartTimer(logging.CategoryCrypto, "Encrypt")
	defer timer.Stop()

	ring, err := m.ringFor(topicID)
	if err != nil {
		return Blob{}, err
	}
	ring.mu.RLock()
	tk, ok := ring.versions[ring.current]
	version := ring.current
	ring.mu.RUnlock()
	if !ok {
		return Blob{}, domain.New(domain.KindKeyUnavailable, "no current key version")
	}

	dataKey := make([]byte, keySize)
	if _, err := rand.Read(dataKey); err != nil {
		return Blob{}, domain.Wrap(domain.KindInternal, "rng failure", err)
	}

	topicAEAD, err := chacha20poly1305.NewX(tk.key[:])
	if err != nil {
		return Blob{}, domain.Wrap(domain.KindInternal, "aead init failed", err)
	}
	wrapNonce := make([]byte, nonceSize)
	if _, err := rand.Read(wrapNonce); err != nil {
		return Blob{}, domain.Wrap(domain.KindInternal, "rng failure", err)
	}
	wrappedKey := topicAEAD.Seal(nil, wrapNonce, dataKey, nil)
	wrappedBlob := append(append([]byte{}, wrapNonce...), wrappedKey...)

	payloadAEAD, err := chacha20poly1305.NewX(dataKey)
	if err != nil {
		return Blob{}, domain.Wrap(domain.KindInternal, "aead init failed", err)
	}
	payloadNonce := make([]byte, nonceSize)
	if _, err := rand.Read(payloadNonce); err != nil {
		return Blob{}, domain.Wrap(domain.KindInternal, "rng failure", err)
	}
	ciphertext := payloadAEAD.Seal(nil, payloadNonce, plaintext, nil)

	zero(dataKey)

	if len(wrappedBlob) > 0xFFFF {
		return Blob{}, domain.New(domain.KindInternal, "wrapped key too large")
	}

	out := make([]byte, 0, 1+2+len(wrappedBlob)+nonceSize+len(ciphertext))
	out = append(out, envelopeVersion)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(wrappedBlob)))
	out = append(out, lenBuf...)
	out = append(out, wrappedBlob...)
	out = append(out, payloadNonce...)
	out = append(out, ciphertext...)

	logging.CryptoDebug("encrypted %d bytes under topic=%s version=%d", len(plaintext), topicID, version)
	return Blob{Bytes: out, TopicID: topicID, KeyVersion: version}, nil
}

// EncryptForItem is a thin adapter over Encrypt that returns the two fields
// a MemoryItem actually persists (ciphertext bytes and the key id string),
// so callers that build domain.MemoryItem values — internal/tier's
// consolidation, a future internal/ingest — don't need to import the Blob
// type just to read two of its fields.
func (m *Manager) EncryptForItem(plaintext []byte, topicID string) (data []byte, keyID string, err error) {
	blob, err := m.Encrypt(plaintext, topicID)
	if err != nil {
		return nil, "", err
	}
	return blob.Bytes, blob.KeyID(), nil
}

// Decrypt implements spec.md §4.1 decrypt(ciphertext_blob, key_id).
// keyID must be the value previously returned by Blob.KeyID().
func (m *Manager) Decrypt(blob []byte, keyID string) ([]byte, error) {
	timer := logging.StartTimer(logging.CategoryCrypto, "Decrypt")
	defer timer.Stop()

	topicID, version, err := parseKeyID(keyID)
	if err != nil {
		return nil, err
	}

	if len(blob) < 1 {
		return nil, domain.New(domain.KindValidation, "empty ciphertext blob")
	}
	if blob[0] != envelopeVersion {
		return nil, domain.New(domain.KindValidation, "unsupported envelope version")
	}
	if len(blob) < 3 {
		return nil, domain.New(domain.KindValidation, "truncated envelope")
	}
	wrapLen := int(binary.BigEndian.Uint16(blob[1:3]))
	rest := blob[3:]
	if len(rest) < wrapLen+nonceSize {
		return nil, domain.New(domain.KindValidation, "truncated envelope")
	}
	wrappedBlob := rest[:wrapLen]
	rest = rest[wrapLen:]
	payloadNonce := rest[:nonceSize]
	ciphertext := rest[nonceSize:]

	if len(wrappedBlob) < nonceSize {
		return nil, domain.New(domain.KindValidation, "truncated wrapped key")
	}
	wrapNonce := wrappedBlob[:nonceSize]
	sealedKey := wrappedBlob[nonceSize:]

	ring, err := m.ringFor(topicID)
	if err != nil {
		return nil, err
	}
	ring.mu.RLock()
	tk, ok := ring.versions[version]
	ring.mu.RUnlock()
	if !ok {
		return nil, domain.New(domain.KindKeyUnavailable, "key version not available")
	}

	topicAEAD, err := chacha20poly1305.NewX(tk.key[:])
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "aead init failed", err)
	}
	dataKey, err := topicAEAD.Open(nil, wrapNonce, sealedKey, nil)
	if err != nil {
		return nil, domain.New(domain.KindIntegrityFailure, "data key unwrap failed")
	}
	defer zero(dataKey)

	payloadAEAD, err := chacha20poly1305.NewX(dataKey)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "aead init failed", err)
	}
	plaintext, err := payloadAEAD.Open(nil, payloadNonce, ciphertext, nil)
	if err != nil {
		return nil, domain.New(domain.KindIntegrityFailure, "AEAD tag mismatch")
	}
	return plaintext, nil
}

// RotateTopic implements spec.md §4.1 rotate_topic: derives a new key
// version. Existing records remain readable under their recorded key id.
func (m *Manager) RotateTopic(topicID string) (KeyVersion, error) {
	ring, err := m.ringFor(topicID)
	if err != nil {
		return 0, err
	}
	ring.mu.RLock()
	next := ring.current + 1
	ring.mu.RUnlock()
	if err := m.deriveAndStore(ring, next); err != nil {
		return 0, err
	}
	logging.Crypto("rotated topic=%s to version=%d", topicID, next)
	return next, nil
}

// CurrentVersion returns the active key version for a topic (1 if no
// rotation has occurred yet). Used by internal/boundary's EditMemory to
// re-encrypt an edited item whose key id names an older version.
func (m *Manager) CurrentVersion(topicID string) (KeyVersion, error) {
	ring, err := m.ringFor(topicID)
	if err != nil {
		return 0, err
	}
	ring.mu.RLock()
	defer ring.mu.RUnlock()
	return ring.current, nil
}

// DestroyTopicKeys implements spec.md §4.1 destroy_topic_keys: irreversibly
// removes every key version for a topic from the in-memory ring and the
// hardware backend. After this call, Decrypt for that topic always fails
// with KeyUnavailable — the basis for erasure's "keys destroyed" guarantee
// (spec.md §8 testable property 3). Encrypt for the topic also fails with
// KeyUnavailable until RotateTopic derives a new version.
func (m *Manager) DestroyTopicKeys(topicID string) error {
	// The emptied ring stays in m.rings: deleting it would let ringFor
	// re-derive version 1 from the master key on the next Decrypt.
	m.mu.Lock()
	ring, ok := m.rings[topicID]
	m.mu.Unlock()

	if !ok {
		return nil
	}
	ring.mu.Lock()
	for v := range ring.versions {
		delete(ring.versions, v)
	}
	ring.mu.Unlock()

	if err := m.backend.Destroy(topicID); err != nil {
		return domain.Wrap(domain.KindBackendUnavailable, "destroy topic keys", err).WithBackend(m.backend.Name())
	}
	logging.Crypto("destroyed all keys for topic=%s", topicID)
	return nil
}

func parseKeyID(keyID string) (topicID string, version KeyVersion, err error) {
	idx := -1
	for i := len(keyID) - 1; i >= 0; i-- {
		if keyID[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 || idx+2 >= len(keyID) || keyID[idx+1] != 'v' {
		return "", 0, domain.New(domain.KindValidation, "malformed key id")
	}
	var v int
	if _, scanErr := fmt.Sscanf(keyID[idx+2:], "%d", &v); scanErr != nil {
		return "", 0, domain.New(domain.KindValidation, "malformed key id version")
	}
	return keyID[:idx], KeyVersion(v), nil
}

// zero overwrites a key buffer; best-effort since the Go runtime may have
// copied it, but consistent with "cached keys are zeroized on eviction"
// (spec.md §5 "Shared resources").
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeEqual is exposed for callers that must compare secrets
// (spec.md §4.1 "Constant-time primitives for all comparisons involving
// secrets"). No package in this module calls it; internal/policy's consent
// ledger matches tokens by map key, not by comparing secrets.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
