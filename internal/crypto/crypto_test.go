package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0000000000000000000000000000000000000000000000000000000000000001"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("zz", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err) // wrong length
}

func TestLoadKeyRawTakesPrecedence(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestL2HeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "c2VjcmV0", Passphrase: "pp"}

	h1 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)
	h2 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "0xabc", h1["POLY_ADDRESS"])
	assert.Equal(t, "key", h1["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	h3 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":2}`, 1700000000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
}

func TestSignerDeterministicAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)
	// Address of private key 0x...01 is fixed by secp256k1.
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", s.Address().Hex())

	sig, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2) // 0x + 65 hex bytes
}
