package config

import "fmt"

// CryptoConfig selects and configures the internal/crypto.HardwareBackend
// (spec.md §4.1). Only "software" is implemented in this repo (see
// internal/crypto/backend.go); "tpm" and "enclave" are named here as the
// documented extension points an OS-specific build would add.
type CryptoConfig struct {
	// Backend selects the HardwareBackend: "software" (default), "tpm", or
	// "enclave". Only "software" has a constructor in this repo.
	Backend string `yaml:"backend"`

	// MasterKeySeedHex, when set (normally via ACMS_MASTER_KEY_SEED, never
	// committed to a config file), restores a previously-generated software
	// keychain's master key instead of minting a fresh one. Empty means
	// generate fresh on every process start, per
	// crypto.NewSoftwareKeychain's doc comment.
	MasterKeySeedHex string `yaml:"-"`
}

func DefaultCryptoConfig() CryptoConfig {
	return CryptoConfig{Backend: "software"}
}

func (c CryptoConfig) Validate() error {
	switch c.Backend {
	case "software", "tpm", "enclave":
		return nil
	default:
		return fmt.Errorf("unknown crypto backend %q", c.Backend)
	}
}
