package miio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cybre/deskbridge/internal/errors"
)

const (
	// every miIO packet starts with this
	magic uint16 = 0x2131
	// magic, length, unknown, device id, stamp, checksum
	headerLength = 32
	// token length in bytes (32 hex characters)
	tokenLength = 16
)

var (
	ErrInvalidToken    = fmt.Errorf("token must be 32 hexadecimal characters")
	ErrInvalidPacket   = fmt.Errorf("invalid miio packet")
	ErrChecksumInvalid = fmt.Errorf("miio packet checksum mismatch")
)

type header struct {
	length   uint16
	unknown  uint32
	deviceID uint32
	stamp    uint32
	checksum [16]byte
}

// ParseToken decodes the hexadecimal device token.
func ParseToken(token string) ([]byte, error) {
	b, err := hex.DecodeString(token)
	if err != nil || len(b) != tokenLength {
		return nil, errors.Wrap(ErrInvalidToken)
	}

	return b, nil
}

func helloPacket() []byte {
	b := make([]byte, headerLength)
	binary.BigEndian.PutUint16(b[0:], magic)
	binary.BigEndian.PutUint16(b[2:], headerLength)
	for i := 4; i < headerLength; i++ {
		b[i] = 0xff
	}

	return b
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerLength {
		return header{}, errors.Wrapf(ErrInvalidPacket, "%d bytes", len(b))
	}

	if binary.BigEndian.Uint16(b[0:]) != magic {
		return header{}, errors.Wrapf(ErrInvalidPacket, "bad magic %#04x", binary.BigEndian.Uint16(b[0:]))
	}

	h := header{
		length:   binary.BigEndian.Uint16(b[2:]),
		unknown:  binary.BigEndian.Uint32(b[4:]),
		deviceID: binary.BigEndian.Uint32(b[8:]),
		stamp:    binary.BigEndian.Uint32(b[12:]),
	}
	copy(h.checksum[:], b[16:32])

	if int(h.length) < headerLength || int(h.length) > len(b) {
		return header{}, errors.Wrapf(ErrInvalidPacket, "length %d for %d bytes", h.length, len(b))
	}

	return h, nil
}

// tokenCipher seals and opens packets for a single device.
type tokenCipher struct {
	token []byte
	block cipher.Block
	iv    []byte
}

func newTokenCipher(token []byte) (*tokenCipher, error) {
	if len(token) != tokenLength {
		return nil, errors.Wrap(ErrInvalidToken)
	}

	key := md5.Sum(token)
	iv := md5.Sum(append(key[:], token...))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrapf(err, "create aes cipher")
	}

	return &tokenCipher{
		token: token,
		block: block,
		iv:    iv[:],
	}, nil
}

func (c *tokenCipher) encrypt(plain []byte) []byte {
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)

	return out
}

func (c *tokenCipher) decrypt(data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.Wrapf(ErrInvalidPacket, "payload of %d bytes is not block aligned", len(data))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, data)

	return pkcs7Unpad(out, aes.BlockSize)
}

// seal builds an encrypted request packet.
func (c *tokenCipher) seal(deviceID, stamp uint32, payload []byte) []byte {
	data := c.encrypt(payload)

	b := make([]byte, headerLength+len(data))
	binary.BigEndian.PutUint16(b[0:], magic)
	binary.BigEndian.PutUint16(b[2:], uint16(len(b)))
	binary.BigEndian.PutUint32(b[4:], 0)
	binary.BigEndian.PutUint32(b[8:], deviceID)
	binary.BigEndian.PutUint32(b[12:], stamp)
	copy(b[16:32], c.token)
	copy(b[32:], data)

	sum := md5.Sum(b)
	copy(b[16:32], sum[:])

	return b
}

// open verifies and decrypts a packet. A header-only packet yields a nil payload.
func (c *tokenCipher) open(b []byte) (header, []byte, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return header{}, nil, err
	}

	if h.length == headerLength {
		return h, nil, nil
	}

	raw := make([]byte, h.length)
	copy(raw, b[:h.length])
	copy(raw[16:32], c.token)
	if md5.Sum(raw) != h.checksum {
		return header{}, nil, errors.Wrap(ErrChecksumInvalid)
	}

	payload, err := c.decrypt(b[headerLength:h.length])
	if err != nil {
		return header{}, nil, err
	}

	// some firmwares pad the JSON with NUL bytes
	return h, bytes.TrimRight(payload, "\x00"), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize

	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.Wrapf(ErrInvalidPacket, "empty payload")
	}

	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.Wrapf(ErrInvalidPacket, "bad padding")
	}

	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.Wrapf(ErrInvalidPacket, "bad padding")
		}
	}

	return b[:len(b)-n], nil
}
