package wv

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"

	"github.com/chmike/cmac-go"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

func Pointer[T any](v T) *T {
	return &v
}

func Pkcs7Padding(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(data, padText...)
}

func Pkcs7Unpadding(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length: %d", len(data))
	}
	paddingLength := int(data[len(data)-1])
	if paddingLength < 1 || paddingLength > blockSize {
		return nil, fmt.Errorf("invalid padding length: %d", paddingLength)
	}
	if !bytes.Equal(data[len(data)-paddingLength:], bytes.Repeat([]byte{byte(paddingLength)}, paddingLength)) {
		return nil, fmt.Errorf("invalid padding bytes")
	}

	return data[:len(data)-paddingLength], nil
}

func ParsePublicKey(pubKey []byte) (*rsa.PublicKey, error) {
	publicKey := &rsa.PublicKey{}
	if _, err := asn1.Unmarshal(pubKey, publicKey); err != nil {
		return nil, fmt.Errorf("unmarshal asn1: %w", err)
	}

	return publicKey, nil
}

func cmacAES(data, key []byte) []byte {
	hash, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil
	}

	_, err = hash.Write(data)
	if err != nil {
		return nil
	}

	return hash.Sum(nil)
}

func EncryptAES(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := Pkcs7Padding(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

func DecryptAES(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv length: %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext length: %d", len(ciphertext))
	}

	mode := cipher.NewCBCDecrypter(block, iv)

	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	unpaddedPlaintext, err := Pkcs7Unpadding(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	return unpaddedPlaintext, nil
}

// ParseServiceCert parses a service certificate which can be used in privacy mode.
//
// Both a SignedMessage wrapping the certificate (as returned by a license
// server for a certificate request) and a bare SignedDrmCertificate are accepted.
func ParseServiceCert(serviceCert []byte) (*wvpb.DrmCertificate, *wvpb.SignedDrmCertificate, error) {
	if len(serviceCert) == 0 {
		return nil, nil, fmt.Errorf("empty service certificate")
	}

	signed := serviceCert
	msg := &wvpb.SignedMessage{}
	if err := proto.Unmarshal(serviceCert, msg); err == nil && msg.GetType() == wvpb.SignedMessage_SERVICE_CERTIFICATE && len(msg.GetMsg()) > 0 {
		signed = msg.GetMsg()
	}

	signedCert := &wvpb.SignedDrmCertificate{}
	if err := proto.Unmarshal(signed, signedCert); err != nil {
		return nil, nil, fmt.Errorf("unmarshal signed drm certificate: %w", err)
	}
	if len(signedCert.GetDrmCertificate()) == 0 {
		return nil, nil, fmt.Errorf("signed drm certificate is empty")
	}

	cert := &wvpb.DrmCertificate{}
	if err := proto.Unmarshal(signedCert.DrmCertificate, cert); err != nil {
		return nil, nil, fmt.Errorf("unmarshal drm certificate: %w", err)
	}
	if len(cert.GetPublicKey()) == 0 {
		return nil, nil, fmt.Errorf("drm certificate has no public key")
	}

	return cert, signedCert, nil
}
