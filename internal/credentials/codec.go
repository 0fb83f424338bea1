// Package credentials encodes and decodes the per-field encrypted credential
// blobs stored with every podcast source.
//
// A blob is a flat JSON object. Keys are plaintext field names; values are
// base64 of an OpenPGP message symmetrically encrypted with a shared
// passphrase. Legacy rows may hold plaintext values, which are accepted as-is.
package credentials

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"podconnect/internal/types"
)

// Policy decides what Decrypt does with a value it cannot decrypt.
type Policy int

const (
	// FallbackPlaintext keeps the stored value unchanged. Rows written before
	// encryption was introduced rely on this.
	FallbackPlaintext Policy = iota
	// Strict fails the whole blob on the first value that cannot be decrypted.
	Strict
)

// FallbackReason explains why a value was kept as stored.
type FallbackReason string

const (
	FallbackNone          FallbackReason = ""
	FallbackNotBase64     FallbackReason = "not_base64"
	FallbackDecryptFailed FallbackReason = "decrypt_failed"
	FallbackEmptyResult   FallbackReason = "empty_result"
)

var errPassphraseRejected = errors.New("passphrase rejected")

// ErrUndecryptable is returned under the Strict policy.
var ErrUndecryptable = errors.New("credential value could not be decrypted")

// Codec converts between encrypted blobs and CredentialSets.
type Codec struct {
	logger *slog.Logger
	policy Policy
	config *packet.Config
}

// Option configures a Codec.
type Option func(*Codec)

// WithPolicy overrides the default FallbackPlaintext policy.
func WithPolicy(p Policy) Option {
	return func(c *Codec) { c.policy = p }
}

// WithLogger sets the logger used for fallback and encryption diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) { c.logger = l }
}

// NewCodec returns a Codec that encrypts with AES-256.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		logger: slog.Default(),
		policy: FallbackPlaintext,
		config: &packet.Config{DefaultCipher: packet.CipherAES256},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decrypt parses blob and decrypts every value with passphrase. The only
// error under FallbackPlaintext is a malformed JSON document.
func (c *Codec) Decrypt(blob string, passphrase types.SecretString) (types.CredentialSet, error) {
	raw, err := parseBlob(blob)
	if err != nil {
		return nil, err
	}

	out := make(types.CredentialSet, len(raw))
	for field, stored := range raw {
		value, reason := c.DecryptValue(stored, passphrase)
		if reason != FallbackNone {
			if c.policy == Strict {
				return nil, fmt.Errorf("%w: field %s (%s)", ErrUndecryptable, field, reason)
			}
			c.logger.Debug("credential field kept as stored",
				"field", field,
				"reason", string(reason),
			)
		}
		out[field] = value
	}
	return out, nil
}

// DecryptValue decrypts a single stored value. When decryption is not
// possible it returns the stored value and the reason.
func (c *Codec) DecryptValue(stored string, passphrase types.SecretString) (string, FallbackReason) {
	ciphertext, err := base64.StdEncoding.DecodeString(stripWhitespace(stored))
	if err != nil || len(ciphertext) == 0 {
		return stored, FallbackNotBase64
	}

	plaintext, err := decryptMessage(ciphertext, []byte(passphrase.Unmask()))
	if err != nil {
		return stored, FallbackDecryptFailed
	}

	value := strings.TrimSpace(string(plaintext))
	if value == "" && strings.TrimSpace(stored) != "" {
		return stored, FallbackEmptyResult
	}
	return value, FallbackNone
}

// Encrypt encrypts every field of set independently. A field that fails to
// encrypt is stored as plaintext and logged; it is never dropped.
func (c *Codec) Encrypt(set types.CredentialSet, passphrase types.SecretString) (string, error) {
	out := make(map[string]string, len(set))
	for field, value := range set {
		enc, err := c.EncryptValue(value, passphrase)
		if err != nil {
			c.logger.Error("credential field stored unencrypted",
				"field", field,
				"error", err,
			)
			out[field] = value
			continue
		}
		out[field] = enc
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode credential blob: %w", err)
	}
	return string(data), nil
}

// EncryptValue encrypts one value and base64-encodes the binary OpenPGP message.
func (c *Codec) EncryptValue(value string, passphrase types.SecretString) (string, error) {
	if passphrase.IsEmpty() {
		return "", errors.New("empty passphrase")
	}

	var buf bytes.Buffer
	w, err := openpgp.SymmetricallyEncrypt(&buf, []byte(passphrase.Unmask()), nil, c.config)
	if err != nil {
		return "", fmt.Errorf("start encryption: %w", err)
	}
	if _, err := io.WriteString(w, value); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decryptMessage(ciphertext, passphrase []byte) ([]byte, error) {
	var r io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte("-----BEGIN PGP")) {
		block, err := armor.Decode(bytes.NewReader(ciphertext))
		if err != nil {
			return nil, err
		}
		r = block.Body
	}

	// ReadMessage re-prompts until the callback errors, so the passphrase is
	// offered exactly once.
	attempted := false
	prompt := func(_ []openpgp.Key, _ bool) ([]byte, error) {
		if attempted {
			return nil, errPassphraseRejected
		}
		attempted = true
		return passphrase, nil
	}

	md, err := openpgp.ReadMessage(r, openpgp.EntityList{}, prompt, nil)
	if err != nil {
		return nil, err
	}
	// The MDC check runs when the body reaches EOF.
	return io.ReadAll(md.UnverifiedBody)
}

// parseBlob decodes a flat JSON object. Non-string values are kept in their
// JSON text form.
func parseBlob(blob string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(blob))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidTask, "credential blob is not a JSON object", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case nil:
			out[k] = ""
		case json.Number:
			out[k] = tv.String()
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeConfigInvalidTask, "credential blob holds an unsupported value", err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}
