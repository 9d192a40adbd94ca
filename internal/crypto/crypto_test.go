package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f"

func TestAesGcmService_RoundTrip(t *testing.T) {
	svc, err := NewAesGcmService(testKey)
	require.NoError(t, err)

	sealed, err := svc.Encrypt(`{"access_token":"secret"}`)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secret")

	opened, err := svc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"secret"}`, opened)
}

func TestAesGcmService_NoncesDiffer(t *testing.T) {
	svc, err := NewAesGcmService(testKey)
	require.NoError(t, err)

	first, err := svc.Encrypt("same input")
	require.NoError(t, err)
	second, err := svc.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAesGcmService_RejectsBadKey(t *testing.T) {
	_, err := NewAesGcmService("not hex")
	require.Error(t, err)

	_, err = NewAesGcmService(hex.EncodeToString([]byte("short")))
	require.Error(t, err)
}

func TestAesGcmService_RejectsTamperedCiphertext(t *testing.T) {
	svc, err := NewAesGcmService(testKey)
	require.NoError(t, err)

	sealed, err := svc.Encrypt("payload")
	require.NoError(t, err)

	tampered := []byte(sealed)
	if tampered[len(tampered)-1] == 'f' {
		tampered[len(tampered)-1] = '0'
	} else {
		tampered[len(tampered)-1] = 'f'
	}
	_, err = svc.Decrypt(string(tampered))
	require.Error(t, err)
}

func TestNoopService_PassesThrough(t *testing.T) {
	svc := NoopService{}

	sealed, err := svc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	opened, err := svc.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", opened)
}
