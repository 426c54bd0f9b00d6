package wv

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	wvpb "github.com/iyear/gowidevine/widevinepb"
)

// ServiceCertificateRequest is a serialized SignedMessage of type
// SERVICE_CERTIFICATE_REQUEST.
var ServiceCertificateRequest = []byte{0x08, 0x04}

const (
	sessionKeyLength = 16
	sessionIdLength  = 16
)

// CDM implements the Widevine CDM protocol for a single device.
type CDM struct {
	device *Device
	rand   io.Reader
	now    func() time.Time
}

type CDMOption func(*CDM)

func defaultCDMOptions() []CDMOption {
	return []CDMOption{
		WithRandom(rand.Reader),
		WithNow(time.Now),
	}
}

// WithRandom sets the random source of the CDM.
func WithRandom(source io.Reader) CDMOption {
	return func(c *CDM) {
		c.rand = source
	}
}

// WithNow sets the time now source of the CDM.
func WithNow(now func() time.Time) CDMOption {
	return func(c *CDM) {
		c.now = now
	}
}

// NewCDM creates a new CDM.
//
// Get device by calling NewDevice or LoadDevice.
func NewCDM(device *Device, opts ...CDMOption) *CDM {
	if device == nil {
		panic("device cannot be nil")
	}

	c := &CDM{
		device: device,
	}

	for _, opt := range defaultCDMOptions() {
		opt(c)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetSystemId returns the system id of the underlying device.
func (c *CDM) GetSystemId() uint32 {
	return c.device.SystemID()
}

// OpenSession opens a session bound to pssh and license type.
func (c *CDM) OpenSession(pssh *PSSH, typ wvpb.LicenseType) (*Session, error) {
	if pssh == nil {
		return nil, fmt.Errorf("%w: pssh cannot be nil", ErrInvalidContentID)
	}
	if _, ok := wvpb.LicenseType_name[int32(typ)]; !ok {
		return nil, fmt.Errorf("unknown license type %d", typ)
	}

	id, err := c.randomBytes(sessionIdLength)
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	return &Session{
		cdm:         c,
		Id:          id,
		pssh:        pssh,
		licenseType: typ,
	}, nil
}

func (c *CDM) randomBytes(length int) ([]byte, error) {
	r := make([]byte, length)
	if _, err := io.ReadFull(c.rand, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *CDM) String() string {
	return fmt.Sprintf("CDM(%s)", c.device)
}
