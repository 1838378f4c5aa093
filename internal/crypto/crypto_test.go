package crypto

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func init() {
	scryptN = 1 << 10
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	key, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, KeyHex(key))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key", func(t *testing.T) {
		key, err := LoadKey(KeySource{RawPrivateKey: "0x" + testKey})
		require.NoError(t, err)
		want, _ := ethcrypto.HexToECDSA(testKey)
		assert.Equal(t, ethcrypto.PubkeyToAddress(want.PublicKey), ethcrypto.PubkeyToAddress(key.PublicKey))
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKey, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "deployer.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		key, err := LoadKey(KeySource{EncryptedKeyPath: path, Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKey, KeyHex(key))
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadKey(KeySource{})
		assert.ErrorIs(t, err, ErrNoKey)
	})
}

func TestTriggerSigner(t *testing.T) {
	s := NewTriggerSigner("shared")
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	body := []byte(`{"job":"batch-odds"}`)
	req := httptest.NewRequest("POST", "https://example.org/.netlify/functions/batch-odds", strings.NewReader(string(body)))
	s.Sign(req, body)
	assert.NotEmpty(t, req.Header.Get(HeaderSignature))
	assert.True(t, s.Verify(req, body, time.Minute))
	assert.False(t, s.Verify(req, []byte("tampered"), time.Minute))

	now = now.Add(2 * time.Minute)
	assert.False(t, s.Verify(req, body, time.Minute))

	assert.Nil(t, NewTriggerSigner(""))
}
