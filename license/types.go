// Package license drives a single license acquisition against a remote
// license service: load a device, open a CDM session for a PSSH, optionally
// fetch the service certificate for privacy mode, send the challenge and
// parse the returned license into keys.
package license

import (
	"context"
	"fmt"
	"strings"
)

// LicenseType is the kind of license requested from the server.
type LicenseType int

const (
	Streaming LicenseType = iota + 1
	Offline
	Automatic
)

var licenseTypeNames = map[LicenseType]string{
	Streaming: "STREAMING",
	Offline:   "OFFLINE",
	Automatic: "AUTOMATIC",
}

// LicenseTypes lists the accepted license type names.
func LicenseTypes() []string {
	return []string{"STREAMING", "OFFLINE", "AUTOMATIC"}
}

// ParseLicenseType maps a case-insensitive name to a LicenseType.
func ParseLicenseType(s string) (LicenseType, error) {
	for t, name := range licenseTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown license type %q, must be one of %s", s, strings.Join(LicenseTypes(), ", "))
}

func (t LicenseType) String() string {
	if name, ok := licenseTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LicenseType(%d)", int(t))
}

// Key is a content key returned in a license.
type Key struct {
	Type string
	KID  []byte
	Key  []byte
}

// Device is a loaded client identity.
type Device interface {
	SystemID() uint32
	SecurityLevel() int
}

// Session is a CDM session bound to one PSSH and license type.
type Session interface {
	// CertificateChallenge returns the service certificate request payload.
	CertificateChallenge() []byte
	SetServiceCertificate(cert []byte) error
	GenerateChallenge(privacy bool) ([]byte, error)
	ParseLicense(license []byte) ([]Key, error)
}

// Engine is the cryptographic backend the Acquirer sequences.
type Engine interface {
	LoadDevice(path string) (Device, error)
	NewSession(dev Device, contentID string, typ LicenseType, raw bool) (Session, error)
}

// Transport exchanges opaque payloads with a license server.
type Transport interface {
	Send(ctx context.Context, url string, body []byte) (int, []byte, error)
}

// Request describes one acquisition.
type Request struct {
	DevicePath string
	ContentID  string
	ServerURL  string
	Type       LicenseType
	// Raw marks ContentID as bare init data rather than a PSSH box.
	Raw bool
	// Privacy fetches the service certificate and encrypts the client id.
	Privacy bool
}
