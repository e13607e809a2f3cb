// Package webpush decrypts Web Push message bodies encoded with the
// aes128gcm content coding (RFC 8188) under the Web Push key schedule
// (RFC 8291).
package webpush

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// ContentEncoding is the Content-Encoding of an encrypted push body.
	ContentEncoding = "aes128gcm"

	saltLen      = 16
	headerLen    = saltLen + 4 + 1
	publicKeyLen = 65
	authLen      = 16
	tagLen       = 16
	keyLen       = 16
	nonceLen     = 12
)

var (
	ErrTruncated     = errors.New("webpush: message truncated")
	ErrInvalidHeader = errors.New("webpush: invalid content coding header")
	ErrInvalidKey    = errors.New("webpush: invalid key")
	ErrDecrypt       = errors.New("webpush: decryption failed")
	ErrPadding       = errors.New("webpush: invalid padding")
)

// Keys are the user agent's subscription keys.
type Keys struct {
	Private *ecdh.PrivateKey
	Auth    []byte
}

// P256dh returns the public key of the subscription in uncompressed form.
func (k Keys) P256dh() []byte {
	return k.Private.PublicKey().Bytes()
}

// ParseKeys decodes a base64url P-256 private scalar and authentication secret.
// Padded and unpadded encodings are accepted.
func ParseKeys(privateKey, auth string) (Keys, error) {
	rawKey, err := decodeBase64(privateKey)
	if err != nil {
		return Keys{}, fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
	}
	priv, err := ecdh.P256().NewPrivateKey(rawKey)
	if err != nil {
		return Keys{}, fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
	}
	rawAuth, err := decodeBase64(auth)
	if err != nil {
		return Keys{}, fmt.Errorf("%w: auth: %v", ErrInvalidKey, err)
	}
	if len(rawAuth) != authLen {
		return Keys{}, fmt.Errorf("%w: auth secret must be %d bytes", ErrInvalidKey, authLen)
	}
	return Keys{Private: priv, Auth: rawAuth}, nil
}

func decodeBase64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(s), "="))
}

// Decrypt returns the plaintext of an aes128gcm encoded push body.
func Decrypt(body []byte, keys Keys) ([]byte, error) {
	if keys.Private == nil || len(keys.Auth) == 0 {
		return nil, ErrInvalidKey
	}
	if len(body) < headerLen {
		return nil, ErrTruncated
	}
	salt := body[:saltLen]
	rs := binary.BigEndian.Uint32(body[saltLen : saltLen+4])
	idLen := int(body[saltLen+4])
	if rs <= tagLen+1 {
		return nil, fmt.Errorf("%w: record size %d", ErrInvalidHeader, rs)
	}
	if idLen != publicKeyLen {
		return nil, fmt.Errorf("%w: key id length %d", ErrInvalidHeader, idLen)
	}
	if len(body) < headerLen+idLen {
		return nil, ErrTruncated
	}
	serverKey, err := ecdh.P256().NewPublicKey(body[headerLen : headerLen+idLen])
	if err != nil {
		return nil, fmt.Errorf("%w: sender key: %v", ErrInvalidHeader, err)
	}

	cek, baseNonce, err := deriveKeys(keys, serverKey, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	records := body[headerLen+idLen:]
	if len(records) == 0 {
		return nil, ErrTruncated
	}
	var out bytes.Buffer
	for seq := uint64(0); len(records) > 0; seq++ {
		n := int(rs)
		if n > len(records) {
			n = len(records)
		}
		record := records[:n]
		records = records[n:]
		last := len(records) == 0

		plain, err := gcm.Open(nil, recordNonce(baseNonce, seq), record, nil)
		if err != nil {
			return nil, ErrDecrypt
		}
		data, err := unpad(plain, last)
		if err != nil {
			return nil, err
		}
		out.Write(data)
	}
	return out.Bytes(), nil
}

// deriveKeys runs the Web Push key schedule and returns the content
// encryption key and the base nonce.
func deriveKeys(keys Keys, serverKey *ecdh.PublicKey, salt []byte) ([]byte, []byte, error) {
	secret, err := keys.Private.ECDH(serverKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	keyInfo := append([]byte("WebPush: info\x00"), keys.P256dh()...)
	keyInfo = append(keyInfo, serverKey.Bytes()...)
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, keys.Auth, keyInfo), ikm); err != nil {
		return nil, nil, err
	}

	prk := hkdf.Extract(sha256.New, ikm, salt)
	cek := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, nil, err
	}
	return cek, nonce, nil
}

// recordNonce XORs the record sequence number into the low bytes of the base nonce.
func recordNonce(base []byte, seq uint64) []byte {
	nonce := append([]byte(nil), base...)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	for i := 0; i < 8; i++ {
		nonce[nonceLen-8+i] ^= s[i]
	}
	return nonce
}

// unpad strips the zero padding and the delimiter octet of a record.
func unpad(plain []byte, last bool) ([]byte, error) {
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, ErrPadding
	}
	switch plain[i] {
	case 0x02:
		if !last {
			return nil, fmt.Errorf("%w: final delimiter before last record", ErrPadding)
		}
	case 0x01:
		if last {
			return nil, fmt.Errorf("%w: last record without final delimiter", ErrPadding)
		}
	default:
		return nil, fmt.Errorf("%w: delimiter %#x", ErrPadding, plain[i])
	}
	return plain[:i], nil
}
