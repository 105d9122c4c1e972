package steps

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"kettle/internal/engine"
	"kettle/internal/schema"
)

// CodeCrypto marks a value that could not be encrypted or decrypted.
const CodeCrypto = "CRYPTO001"

// Cipher schemes of symmetric_crypto.
const (
	SchemeAESGCM            = "aes-gcm"
	SchemeChaCha20Poly1305  = "chacha20poly1305"
	SchemeXChaCha20Poly1305 = "xchacha20poly1305"
)

var (
	errUnknownScheme   = errors.New("unknown scheme")
	errShortCiphertext = errors.New("ciphertext shorter than nonce")
)

// symmetricCrypto encrypts or decrypts one field with an AEAD cipher and
// appends the result as a new field.
//
// Options:
//
//	mode           encrypt (default) or decrypt
//	scheme         aes-gcm (default), chacha20poly1305 or xchacha20poly1305
//	key            secret key in hex
//	key_field      field holding the hex key, used instead of key
//	message_field  field to process (required)
//	result_field   name of the appended field, default "result"
//	output_binary  emit raw bytes instead of a string
//
// Encryption emits nonce||ciphertext, hex encoded unless output_binary.
// Decryption accepts the same, as hex string or bytes, and emits the
// plaintext as a string unless output_binary.
type symmetricCrypto struct {
	encrypt bool
	scheme  string
	keyFld  string
	msgFld  string
	result  string
	binary  bool

	aead  cipher.AEAD
	aeads map[string]cipher.AEAD

	in     *schema.Schema
	out    *schema.Schema
	msgIdx int
	keyIdx int
}

func newSymmetricCrypto(meta engine.StepMeta, _ int) (engine.Step, error) {
	c := &symmetricCrypto{
		scheme: strings.ToLower(meta.Options.String("scheme", SchemeAESGCM)),
		keyFld: meta.Options.String("key_field", ""),
		msgFld: meta.Options.String("message_field", ""),
		result: meta.Options.String("result_field", "result"),
		binary: meta.Options.Bool("output_binary", false),
		aeads:  map[string]cipher.AEAD{},
		keyIdx: -1,
	}
	switch mode := strings.ToLower(meta.Options.String("mode", "encrypt")); mode {
	case "encrypt":
		c.encrypt = true
	case "decrypt":
	default:
		return nil, optionErr(meta, "mode", "unknown mode %q", mode)
	}
	if c.msgFld == "" {
		return nil, optionErr(meta, "message_field", "required")
	}
	if _, err := newAEAD(c.scheme, nil); errors.Is(err, errUnknownScheme) {
		return nil, optionErr(meta, "scheme", "%v", err)
	}
	if c.keyFld == "" {
		key := meta.Options.String("key", "")
		if key == "" {
			return nil, optionErr(meta, "key", "either key or key_field is required")
		}
		aead, err := c.aeadFor(key)
		if err != nil {
			return nil, optionErr(meta, "key", "%v", err)
		}
		c.aead = aead
	}
	return c, nil
}

func newAEAD(scheme string, key []byte) (cipher.AEAD, error) {
	switch scheme {
	case SchemeAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case SchemeChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case SchemeXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	}
	return nil, fmt.Errorf("%w %q", errUnknownScheme, scheme)
}

// aeadFor returns the cipher for a hex key, cached per key.
func (c *symmetricCrypto) aeadFor(hexKey string) (cipher.AEAD, error) {
	if a, ok := c.aeads[hexKey]; ok {
		return a, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("key is not hex: %w", err)
	}
	a, err := newAEAD(c.scheme, key)
	if err != nil {
		return nil, err
	}
	c.aeads[hexKey] = a
	return a, nil
}

func (c *symmetricCrypto) Init(context.Context, *engine.StepContext) error { return nil }

func (c *symmetricCrypto) bind(in *schema.Schema) error {
	c.msgIdx = in.IndexOf(c.msgFld)
	if c.msgIdx < 0 {
		return fmt.Errorf("message field %q not found in input %s", c.msgFld, in)
	}
	if c.keyFld != "" {
		c.keyIdx = in.IndexOf(c.keyFld)
		if c.keyIdx < 0 {
			return fmt.Errorf("key field %q not found in input %s", c.keyFld, in)
		}
	}
	typ := schema.TypeString
	if c.binary {
		typ = schema.TypeBinary
	}
	c.in = in
	c.out = in.Append(schema.Field{Name: c.result, Type: typ})
	return nil
}

func (c *symmetricCrypto) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	if sc.InputSchema() != c.in {
		if err := c.bind(sc.InputSchema()); err != nil {
			return false, err
		}
	}

	msg := row[c.msgIdx]
	if msg == nil {
		return false, sc.PutRow(ctx, c.out, row.Append(nil))
	}
	aead := c.aead
	if c.keyIdx >= 0 {
		aead, err = c.aeadFor(schema.Format(row[c.keyIdx]))
		if err != nil {
			return false, engine.RejectRow(row, CodeCrypto, err.Error(), c.keyFld)
		}
	}

	var out []byte
	if c.encrypt {
		out, err = seal(aead, bytesOf(msg))
	} else {
		out, err = c.open(aead, msg)
	}
	if err != nil {
		return false, engine.RejectRow(row, CodeCrypto, err.Error(), c.msgFld)
	}

	var v any = out
	switch {
	case c.binary:
	case c.encrypt:
		v = hex.EncodeToString(out)
	default:
		v = string(out)
	}
	return false, sc.PutRow(ctx, c.out, row.Append(v))
}

func (c *symmetricCrypto) open(aead cipher.AEAD, msg any) ([]byte, error) {
	data, ok := msg.([]byte)
	if !ok {
		var err error
		data, err = hex.DecodeString(strings.TrimSpace(schema.Format(msg)))
		if err != nil {
			return nil, fmt.Errorf("ciphertext is not hex: %w", err)
		}
	}
	ns := aead.NonceSize()
	if len(data) < ns {
		return nil, errShortCiphertext
	}
	return aead.Open(nil, data[:ns], data[ns:], nil)
}

func seal(aead cipher.AEAD, plain []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func bytesOf(v any) []byte {
	if b, ok := v.([]byte); ok {
		return b
	}
	return []byte(schema.Format(v))
}

func (c *symmetricCrypto) Finalize(context.Context, *engine.StepContext) error { return nil }
