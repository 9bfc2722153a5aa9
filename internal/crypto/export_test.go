package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealForRecipientRoundTrip(t *testing.T) {
	pub, priv, err := GenerateExportKeypair()
	require.NoError(t, err)

	plaintext := []byte(`{"hello":"world"}`)
	sealed, err := SealForRecipient(plaintext, pub)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := OpenSealed(sealed, pub, priv)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenSealedFailsWithWrongKey(t *testing.T) {
	pub, _, err := GenerateExportKeypair()
	require.NoError(t, err)
	_, wrongPriv, err := GenerateExportKeypair()
	require.NoError(t, err)

	sealed, err := SealForRecipient([]byte("secret"), pub)
	require.NoError(t, err)

	_, err = OpenSealed(sealed, pub, wrongPriv)
	require.Error(t, err)
}

func TestManagerSealForRecipientDelegates(t *testing.T) {
	m := newTestManager(t)
	pub, priv, err := GenerateExportKeypair()
	require.NoError(t, err)

	sealed, err := m.SealForRecipient([]byte("payload"), pub)
	require.NoError(t, err)

	opened, err := OpenSealed(sealed, pub, priv)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(opened))
}
