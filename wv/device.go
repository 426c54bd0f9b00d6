package wv

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

var wvdMagic = []byte("WVD")

// DeviceType is the kind of device a WVD file was dumped from.
type DeviceType byte

const (
	DeviceTypeChrome  DeviceType = 1
	DeviceTypeAndroid DeviceType = 2
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeChrome:
		return "CHROME"
	case DeviceTypeAndroid:
		return "ANDROID"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Device is a provisioned Widevine client identity.
type Device struct {
	typ           DeviceType
	securityLevel int
	flags         byte
	clientID      *wvpb.ClientIdentification
	privateKey    *rsa.PrivateKey
	systemID      uint32
}

// DeviceSource fills a Device from some storage format.
type DeviceSource func(*Device) error

// NewDevice creates a device from the given source.
func NewDevice(src DeviceSource) (*Device, error) {
	d := &Device{}
	if err := src(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceLoad, err)
	}
	return d, nil
}

// LoadDevice reads a WVD file from disk.
func LoadDevice(path string) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceLoad, err)
	}
	defer func() { _ = f.Close() }()

	return NewDevice(FromWVD(f))
}

// FromWVD parses a WVD v1 or v2 stream.
func FromWVD(r io.Reader) DeviceSource {
	return func(d *Device) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read wvd: %w", err)
		}
		if len(data) < 7 || !bytes.Equal(data[:3], wvdMagic) {
			return fmt.Errorf("not a wvd file")
		}

		version := data[3]
		if version != 1 && version != 2 {
			return fmt.Errorf("unsupported wvd version %d", version)
		}

		d.typ = DeviceType(data[4])
		d.securityLevel = int(data[5])
		d.flags = data[6]

		rest := data[7:]
		privateKey, rest, err := readBlob(rest)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		clientID, rest, err := readBlob(rest)
		if err != nil {
			return fmt.Errorf("read client id: %w", err)
		}
		if version == 1 {
			// v1 carries a vmp blob that is no longer used
			if _, _, err = readBlob(rest); err != nil {
				return fmt.Errorf("read vmp: %w", err)
			}
		}

		return FromRaw(clientID, privateKey)(d)
	}
}

// FromRaw builds a device from a serialized ClientIdentification and a
// PKCS#1 DER private key.
func FromRaw(clientID, privateKey []byte) DeviceSource {
	return func(d *Device) error {
		key, err := x509.ParsePKCS1PrivateKey(privateKey)
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}

		id := &wvpb.ClientIdentification{}
		if err = proto.Unmarshal(clientID, id); err != nil {
			return fmt.Errorf("unmarshal client id: %w", err)
		}

		signedCert := &wvpb.SignedDrmCertificate{}
		if err = proto.Unmarshal(id.GetToken(), signedCert); err != nil {
			return fmt.Errorf("unmarshal signed drm certificate: %w", err)
		}
		cert := &wvpb.DrmCertificate{}
		if err = proto.Unmarshal(signedCert.GetDrmCertificate(), cert); err != nil {
			return fmt.Errorf("unmarshal drm certificate: %w", err)
		}

		d.clientID = id
		d.privateKey = key
		d.systemID = cert.GetSystemId()
		return nil
	}
}

func readBlob(b []byte) ([]byte, []byte, error) {
	if len(b) < 2 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return b[:n], b[n:], nil
}

// SystemID returns the Widevine system id from the device certificate.
func (d *Device) SystemID() uint32 {
	return d.systemID
}

// SecurityLevel returns the Widevine security level (1-3).
func (d *Device) SecurityLevel() int {
	return d.securityLevel
}

func (d *Device) Type() DeviceType {
	return d.typ
}

// ClientID returns the client identification sent in clear challenges.
func (d *Device) ClientID() *wvpb.ClientIdentification {
	return d.clientID
}

func (d *Device) PrivateKey() *rsa.PrivateKey {
	return d.privateKey
}

func (d *Device) String() string {
	return fmt.Sprintf("Device(type=%s, system_id=%d, security_level=%d)", d.typ, d.systemID, d.securityLevel)
}
