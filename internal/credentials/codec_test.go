package credentials

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podconnect/internal/types"
)

const testPassphrase types.SecretString = "correct horse battery staple"

func newTestCodec(opts ...Option) *Codec {
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return NewCodec(opts...)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCodec()
	in := types.CredentialSet{
		"PODIGEE_ACCESS_TOKEN":  "access-123",
		"PODIGEE_REFRESH_TOKEN": "refresh-abcdefghijklmnopqrstuvwxyz",
		"OPENPODCAST_API_TOKEN": "cp_live_42",
	}

	blob, err := c.Encrypt(in, testPassphrase)
	require.NoError(t, err)

	var stored map[string]string
	require.NoError(t, json.Unmarshal([]byte(blob), &stored))
	for k, v := range in {
		assert.NotEqual(t, v, stored[k], "field %s stored in plaintext", k)
	}

	out, err := c.Decrypt(blob, testPassphrase)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecryptWrongPassphraseKeepsStoredValue(t *testing.T) {
	c := newTestCodec()
	blob, err := c.Encrypt(types.CredentialSet{"k": "secret-value"}, testPassphrase)
	require.NoError(t, err)

	out, err := c.Decrypt(blob, "wrong passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, "secret-value", out["k"])

	var stored map[string]string
	require.NoError(t, json.Unmarshal([]byte(blob), &stored))
	assert.Equal(t, stored["k"], out["k"])
}

func TestDecryptPlaintextUntouched(t *testing.T) {
	c := newTestCodec()
	blob := `{"ANCHOR_WEBSTATION_ID":"12345","SPOTIFY_BASE_URL":"https://generic.wg.spotify.com/podcasters/v0"}`

	out, err := c.Decrypt(blob, testPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "12345", out["ANCHOR_WEBSTATION_ID"])
	assert.Equal(t, "https://generic.wg.spotify.com/podcasters/v0", out["SPOTIFY_BASE_URL"])
}

func TestDecryptValidBase64ButNotPGP(t *testing.T) {
	c := newTestCodec()

	value, reason := c.DecryptValue("abcd", testPassphrase)
	assert.Equal(t, "abcd", value)
	assert.Equal(t, FallbackDecryptFailed, reason)
}

func TestDecryptValueReasons(t *testing.T) {
	c := newTestCodec()

	value, reason := c.DecryptValue("https://example.com/x", testPassphrase)
	assert.Equal(t, "https://example.com/x", value)
	assert.Equal(t, FallbackNotBase64, reason)

	value, reason = c.DecryptValue("", testPassphrase)
	assert.Equal(t, "", value)
	assert.Equal(t, FallbackNotBase64, reason)
}

func TestDecryptTrimsWhitespace(t *testing.T) {
	c := newTestCodec()
	enc, err := c.EncryptValue("  token-with-newline\n", testPassphrase)
	require.NoError(t, err)

	value, reason := c.DecryptValue(enc, testPassphrase)
	assert.Equal(t, FallbackNone, reason)
	assert.Equal(t, "token-with-newline", value)
}

func TestDecryptAcceptsWrappedBase64(t *testing.T) {
	c := newTestCodec()
	enc, err := c.EncryptValue("wrapped", testPassphrase)
	require.NoError(t, err)

	// base64(1) wraps output at 76 columns.
	var wrapped string
	for i := 0; i < len(enc); i += 76 {
		end := min(i+76, len(enc))
		wrapped += enc[i:end] + "\n"
	}

	value, reason := c.DecryptValue(wrapped, testPassphrase)
	assert.Equal(t, FallbackNone, reason)
	assert.Equal(t, "wrapped", value)
}

func TestDecryptEncryptedEmptyString(t *testing.T) {
	c := newTestCodec()
	enc, err := c.EncryptValue("", testPassphrase)
	require.NoError(t, err)

	value, reason := c.DecryptValue(enc, testPassphrase)
	assert.Equal(t, FallbackEmptyResult, reason)
	assert.Equal(t, enc, value)
}

func TestDecryptMalformedJSON(t *testing.T) {
	c := newTestCodec()

	_, err := c.Decrypt(`{"unterminated":`, testPassphrase)
	require.Error(t, err)
	assert.Equal(t, types.ClassConfiguration, types.ClassOf(err))

	_, err = c.Decrypt(`["not","an","object"]`, testPassphrase)
	require.Error(t, err)
}

func TestDecryptNonStringValues(t *testing.T) {
	c := newTestCodec()

	out, err := c.Decrypt(`{"DAYS_PER_CHUNK":120,"ENABLED":true,"EMPTY":null}`, testPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "120", out["DAYS_PER_CHUNK"])
	assert.Equal(t, "true", out["ENABLED"])
	assert.Equal(t, "", out["EMPTY"])
}

func TestDecryptStrictPolicy(t *testing.T) {
	c := newTestCodec(WithPolicy(Strict))
	blob, err := newTestCodec().Encrypt(types.CredentialSet{"k": "v"}, testPassphrase)
	require.NoError(t, err)

	_, err = c.Decrypt(blob, "wrong passphrase")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndecryptable))

	out, err := c.Decrypt(blob, testPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "v", out["k"])
}

func TestEncryptEmptyPassphraseKeepsPlaintext(t *testing.T) {
	c := newTestCodec()

	blob, err := c.Encrypt(types.CredentialSet{"k": "v"}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, blob)
}

func TestEncryptValueIsBase64(t *testing.T) {
	c := newTestCodec()
	enc, err := c.EncryptValue("value", testPassphrase)
	require.NoError(t, err)

	_, err = base64.StdEncoding.DecodeString(enc)
	assert.NoError(t, err)
}
