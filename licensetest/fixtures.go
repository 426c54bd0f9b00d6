// Package licensetest provides device fixtures and an in-process license
// server for exercising license acquisition end to end.
package licensetest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Eyevinn/mp4ff/mp4"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"

	"github.com/devatadev/gowvlicense/wv"
)

const keyBits = 2048

// Device is a freshly provisioned test device.
type Device struct {
	SystemID      uint32
	SecurityLevel int
	PrivateKey    *rsa.PrivateKey
	// WVD is the device serialized as a WVD v2 file.
	WVD []byte
}

// NewDevice provisions a device with a new RSA key.
func NewDevice(systemID uint32, securityLevel int) (*Device, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	token, err := signedCertificate(&wvpb.DrmCertificate{
		SystemId:     wv.Pointer(systemID),
		SerialNumber: []byte("test-device"),
		PublicKey:    x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	if err != nil {
		return nil, err
	}
	clientID, err := proto.Marshal(&wvpb.ClientIdentification{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal client id: %w", err)
	}

	return &Device{
		SystemID:      systemID,
		SecurityLevel: securityLevel,
		PrivateKey:    key,
		WVD:           EncodeWVD(2, byte(wv.DeviceTypeAndroid), byte(securityLevel), x509.MarshalPKCS1PrivateKey(key), clientID),
	}, nil
}

// WriteFile stores the WVD in dir and returns its path.
func (d *Device) WriteFile(dir string) (string, error) {
	path := filepath.Join(dir, "device.wvd")
	if err := os.WriteFile(path, d.WVD, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// EncodeWVD lays out a WVD file. Version 1 gets an empty vmp blob appended.
func EncodeWVD(version, deviceType, securityLevel byte, privateKey, clientID []byte) []byte {
	var b bytes.Buffer
	b.WriteString("WVD")
	b.Write([]byte{version, deviceType, securityLevel, 0})
	writeBlob(&b, privateKey)
	writeBlob(&b, clientID)
	if version == 1 {
		writeBlob(&b, nil)
	}
	return b.Bytes()
}

func writeBlob(b *bytes.Buffer, data []byte) {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(data)))
	b.Write(n[:])
	b.Write(data)
}

// ServiceCertificate is a license service identity for privacy mode.
type ServiceCertificate struct {
	PrivateKey *rsa.PrivateKey
	// Message is the certificate as a license server returns it, a
	// SERVICE_CERTIFICATE SignedMessage.
	Message []byte
}

func NewServiceCertificate(providerID string) (*ServiceCertificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	signed, err := signedCertificate(&wvpb.DrmCertificate{
		SerialNumber: []byte("test-service"),
		ProviderId:   wv.Pointer(providerID),
		PublicKey:    x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	if err != nil {
		return nil, err
	}
	msg, err := proto.Marshal(&wvpb.SignedMessage{
		Type: wvpb.SignedMessage_SERVICE_CERTIFICATE.Enum(),
		Msg:  signed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal signed message: %w", err)
	}

	return &ServiceCertificate{PrivateKey: key, Message: msg}, nil
}

func signedCertificate(cert *wvpb.DrmCertificate) ([]byte, error) {
	data, err := proto.Marshal(cert)
	if err != nil {
		return nil, fmt.Errorf("marshal drm certificate: %w", err)
	}
	signed, err := proto.Marshal(&wvpb.SignedDrmCertificate{DrmCertificate: data})
	if err != nil {
		return nil, fmt.Errorf("marshal signed drm certificate: %w", err)
	}
	return signed, nil
}

// InitData returns a serialized WidevinePsshData for the key ids.
func InitData(kids ...[]byte) ([]byte, error) {
	return proto.Marshal(&wvpb.WidevinePsshData{KeyIds: kids})
}

// PSSHBox returns a base64 Widevine PSSH box for the key ids.
func PSSHBox(kids ...[]byte) (string, error) {
	data, err := InitData(kids...)
	if err != nil {
		return "", err
	}
	box := &mp4.PsshBox{
		SystemID: wv.WidevineSystemID,
		Data:     data,
	}
	var b bytes.Buffer
	if err = box.Encode(&b); err != nil {
		return "", fmt.Errorf("encode pssh box: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b.Bytes()), nil
}

// RawPSSH returns base64 init data without the box.
func RawPSSH(kids ...[]byte) (string, error) {
	data, err := InitData(kids...)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
