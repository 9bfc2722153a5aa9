package crypto

import (
	"crypto/rand"

	"acms/internal/domain"
	"acms/internal/logging"

	"golang.org/x/crypto/nacl/box"
)

// GenerateExportKeypair creates a new X25519 keypair a user can register to
// receive sealed exports (spec.md §6 "encrypted to the user's public key").
func GenerateExportKeypair() (publicKey, privateKey *[32]byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindInternal, "generate export keypair", err)
	}
	return pub, priv, nil
}

// SealForRecipient anonymously seals plaintext to recipientPublicKey using
// NaCl's sealed-box construction: an ephemeral sender keypair is generated
// per call and discarded, so only the recipient's private key can open the
// result (spec.md §6 export bundle format).
func SealForRecipient(plaintext []byte, recipientPublicKey *[32]byte) ([]byte, error) {
	sealed, err := box.SealAnonymous(nil, plaintext, recipientPublicKey, rand.Reader)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "seal export bundle", err)
	}
	logging.CryptoDebug("sealed export bundle: %d bytes plaintext -> %d bytes sealed", len(plaintext), len(sealed))
	return sealed, nil
}

// SealForRecipient is the Manager-bound form of the package function of the
// same name, letting *Manager satisfy internal/policy's narrow Sealer
// interface without that package importing internal/crypto.
func (m *Manager) SealForRecipient(plaintext []byte, recipientPublicKey *[32]byte) ([]byte, error) {
	return SealForRecipient(plaintext, recipientPublicKey)
}

// OpenSealed reverses SealForRecipient given the recipient's keypair.
// internal/boundary's ImportBundle uses it with a keypair supplied by its
// caller; the ACMS core holds no recipient private key of its own.
func OpenSealed(sealed []byte, publicKey, privateKey *[32]byte) ([]byte, error) {
	plaintext, ok := box.OpenAnonymous(nil, sealed, publicKey, privateKey)
	if !ok {
		return nil, domain.New(domain.KindIntegrityFailure, "export bundle open failed")
	}
	return plaintext, nil
}
