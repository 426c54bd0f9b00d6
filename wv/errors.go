package wv

import "errors"

var (
	// ErrDeviceLoad is returned when a device file is unreadable or malformed.
	ErrDeviceLoad = errors.New("device load failed")
	// ErrInvalidContentID is returned when the PSSH cannot be parsed.
	ErrInvalidContentID = errors.New("invalid content id")
	// ErrInvalidCertificate is returned for a malformed service certificate.
	ErrInvalidCertificate = errors.New("invalid service certificate")
	// ErrPrivacyModeUnavailable is returned when privacy mode is requested
	// without a service certificate set on the session.
	ErrPrivacyModeUnavailable = errors.New("privacy mode unavailable")
	// ErrLicenseParse is returned for malformed or inconsistent licenses.
	ErrLicenseParse = errors.New("license parse failed")
)
