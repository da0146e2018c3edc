package paymentgateway

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	apperrors "github.com/frahmantamala/skillpay-gateway/internal"
)

const ivSize = aes.BlockSize

// Codec encrypts and decrypts gateway payloads. The gateway mandates AES-CBC
// with PKCS#7 padding where the key is the shared secret and the IV is the
// first 16 bytes of that same secret, so output is deterministic.
type Codec struct {
	block cipher.Block
	iv    []byte
}

// NewCodec validates the secret and prepares the cipher. A 32 byte secret
// selects AES-256; 16 and 24 byte secrets are accepted for sandbox keys.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, apperrors.NewCodecError("encryption key is not configured", apperrors.ErrCodeInvalidKey, nil)
	}
	key := []byte(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewCodecError("encryption key is misconfigured", apperrors.ErrCodeInvalidKey,
			fmt.Errorf("key length %d: %w", len(key), err))
	}
	iv := make([]byte, ivSize)
	copy(iv, key[:ivSize])
	return &Codec{block: block, iv: iv}, nil
}

// Encrypt serializes payload to JSON and returns the base64 ciphertext.
func (c *Codec) Encrypt(payload any) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.NewCodecError("failed to encrypt payload", apperrors.ErrCodeEncryptFailed, err)
	}
	return c.EncryptBytes(plaintext), nil
}

// EncryptBytes encrypts an already serialized payload.
func (c *Codec) EncryptBytes(plaintext []byte) string {
	padded := padPKCS7(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt reverses Encrypt into out. out is left untouched on failure.
func (c *Codec) Decrypt(ciphertext string, out any) error {
	plaintext, err := c.DecryptBytes(ciphertext)
	if err != nil {
		return err
	}
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return apperrors.NewCodecError("decrypt destination must be a non-nil pointer", apperrors.ErrCodeMalformedPayload, nil)
	}
	fresh := reflect.New(dst.Elem().Type())
	if err := json.Unmarshal(plaintext, fresh.Interface()); err != nil {
		return apperrors.NewCodecError("decrypted payload has unexpected shape", apperrors.ErrCodeMalformedPayload, err)
	}
	dst.Elem().Set(fresh.Elem())
	return nil
}

// DecryptBytes returns the plaintext JSON document. Anything that is not a
// valid JSON document after unpadding is rejected.
func (c *Codec) DecryptBytes(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, apperrors.NewCodecError("ciphertext is not valid base64", apperrors.ErrCodeDecryptFailed, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, apperrors.NewCodecError("ciphertext has invalid length", apperrors.ErrCodeDecryptFailed,
			fmt.Errorf("length %d is not a positive multiple of %d", len(raw), aes.BlockSize))
	}

	padded := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(padded, raw)

	plaintext, err := removePKCS7Padding(padded, aes.BlockSize)
	if err != nil {
		return nil, apperrors.NewCodecError("failed to decrypt payload", apperrors.ErrCodeDecryptFailed, err)
	}
	if !json.Valid(plaintext) {
		return nil, apperrors.NewCodecError("decrypted payload is not valid JSON", apperrors.ErrCodeMalformedPayload, nil)
	}
	return plaintext, nil
}

func padPKCS7(b []byte, blockSize int) []byte {
	padLen := blockSize - (len(b) % blockSize)
	out := make([]byte, len(b), len(b)+padLen)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func removePKCS7Padding(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}
	pad := int(b[len(b)-1])
	if pad < 1 || pad > blockSize {
		return nil, fmt.Errorf("invalid padding value %d", pad)
	}
	for i := 0; i < pad; i++ {
		if b[len(b)-1-i] != byte(pad) {
			return nil, errors.New("invalid PKCS7 padding bytes")
		}
	}
	return b[:len(b)-pad], nil
}
