package crypto

import (
	"crypto/rand"
	"sync"

	"acms/internal/domain"
)

// HardwareBackend abstracts master-key custody (spec.md §4.1 "Hardware
// backend"). Three concrete variants exist in production systems
// (TPM-sealed, secure-enclave-backed keychain, software keychain); only the
// software fallback ships here, since TPM/enclave access is a host
// capability this repo cannot exercise in CI — the interface is the
// contract an OS-specific build would satisfy.
type HardwareBackend interface {
	// GetMasterKey returns the backend's long-lived master key, unsealing it
	// if necessary.
	GetMasterKey() ([]byte, error)

	// Seal wraps arbitrary data under the backend's protection.
	Seal(plaintext []byte) ([]byte, error)

	// Unseal reverses Seal.
	Unseal(sealed []byte) ([]byte, error)

	// Destroy removes any backend-held material scoped to id (e.g. a topic).
	Destroy(id string) error

	// Name identifies the backend for error/audit reporting.
	Name() string
}

// SoftwareKeychain is the fallback HardwareBackend: the master key lives in
// process memory, generated once at construction. It is the grounded
// minimum every platform supports; TPM-sealed and secure-enclave-backed
// variants would implement the same interface using OS-specific syscalls.
type SoftwareKeychain struct {
	mu        sync.RWMutex
	masterKey []byte
	destroyed map[string]bool
}

// NewSoftwareKeychain generates a fresh master key.
func NewSoftwareKeychain() (*SoftwareKeychain, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "generate master key", err)
	}
	return &SoftwareKeychain{masterKey: key, destroyed: make(map[string]bool)}, nil
}

// NewSoftwareKeychainFromSeed is used by tests and by operators restoring a
// previously exported keychain; it never logs or persists the seed itself.
func NewSoftwareKeychainFromSeed(seed []byte) (*SoftwareKeychain, error) {
	if len(seed) != keySize {
		return nil, domain.New(domain.KindValidation, "seed must be 32 bytes")
	}
	key := make([]byte, keySize)
	copy(key, seed)
	return &SoftwareKeychain{masterKey: key, destroyed: make(map[string]bool)}, nil
}

func (s *SoftwareKeychain) GetMasterKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return nil, domain.New(domain.KindKeyUnavailable, "software keychain destroyed")
	}
	out := make([]byte, len(s.masterKey))
	copy(out, s.masterKey)
	return out, nil
}

func (s *SoftwareKeychain) Seal(plaintext []byte) ([]byte, error) {
	// The software keychain has no separate sealing primitive; callers that
	// need confidentiality use Manager.Encrypt directly. Seal here is an
	// identity operation reserved for HardwareBackend API parity with
	// TPM/enclave variants that would actually wrap bytes in hardware.
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (s *SoftwareKeychain) Unseal(sealed []byte) ([]byte, error) {
	out := make([]byte, len(sealed))
	copy(out, sealed)
	return out, nil
}

func (s *SoftwareKeychain) Destroy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed == nil {
		s.destroyed = make(map[string]bool)
	}
	s.destroyed[id] = true
	return nil
}

func (s *SoftwareKeychain) Name() string { return "software-keychain" }

// DestroyMaster zeroizes the master key itself, making every topic key
// derived from it permanently unrecoverable. Used for full-process teardown,
// not per-topic erasure (which goes through Manager.DestroyTopicKeys).
func (s *SoftwareKeychain) DestroyMaster() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.masterKey)
	s.masterKey = nil
}
