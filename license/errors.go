package license

import (
	"fmt"
)

// Kind classifies acquisition failures.
type Kind int

const (
	DeviceLoadFailure Kind = iota + 1
	SessionInitFailure
	CertificateFetchFailure
	CertificateSetFailure
	ChallengeGenerationFailure
	LicenseFetchFailure
	LicenseParseFailure
)

var kindNames = map[Kind]string{
	DeviceLoadFailure:          "DeviceLoadFailure",
	SessionInitFailure:         "SessionInitFailure",
	CertificateFetchFailure:    "CertificateFetchFailure",
	CertificateSetFailure:      "CertificateSetFailure",
	ChallengeGenerationFailure: "ChallengeGenerationFailure",
	LicenseFetchFailure:        "LicenseFetchFailure",
	LicenseParseFailure:        "LicenseParseFailure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned by Acquire for any failed step.
//
// Status and Body are set when a server answered an exchange with a
// non-200 status. Err holds the underlying cause, if any.
type Error struct {
	Kind   Kind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: [%d] %s", e.Kind, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransport reports whether the failure happened on a network exchange.
func (e *Error) IsTransport() bool {
	return e.Kind == CertificateFetchFailure || e.Kind == LicenseFetchFailure
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
