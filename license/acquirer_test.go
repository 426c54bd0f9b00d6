package license

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	systemID      uint32
	securityLevel int
}

func (d fakeDevice) SystemID() uint32   { return d.systemID }
func (d fakeDevice) SecurityLevel() int { return d.securityLevel }

// recorder is shared by the fakes so tests can assert call ordering.
type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

type fakeSession struct {
	rec        *recorder
	challenge  []byte
	keys       []Key
	setErr     error
	genErr     error
	parseErr   error
	gotCert    []byte
	gotLicense []byte
	privacy    *bool
}

func (s *fakeSession) CertificateChallenge() []byte {
	s.rec.add("CertificateChallenge")
	return []byte{0x08, 0x04}
}

func (s *fakeSession) SetServiceCertificate(cert []byte) error {
	s.rec.add("SetServiceCertificate")
	s.gotCert = cert
	return s.setErr
}

func (s *fakeSession) GenerateChallenge(privacy bool) ([]byte, error) {
	s.rec.add("GenerateChallenge(%t)", privacy)
	s.privacy = &privacy
	if s.genErr != nil {
		return nil, s.genErr
	}
	return s.challenge, nil
}

func (s *fakeSession) ParseLicense(license []byte) ([]Key, error) {
	s.rec.add("ParseLicense")
	s.gotLicense = license
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	return s.keys, nil
}

type fakeEngine struct {
	rec        *recorder
	device     Device
	session    *fakeSession
	loadErr    error
	sessionErr error

	gotPath      string
	gotContentID string
	gotType      LicenseType
	gotRaw       bool
}

func (e *fakeEngine) LoadDevice(path string) (Device, error) {
	e.rec.add("LoadDevice")
	e.gotPath = path
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e.device, nil
}

func (e *fakeEngine) NewSession(dev Device, contentID string, typ LicenseType, raw bool) (Session, error) {
	e.rec.add("NewSession")
	e.gotContentID, e.gotType, e.gotRaw = contentID, typ, raw
	if e.sessionErr != nil {
		return nil, e.sessionErr
	}
	return e.session, nil
}

type response struct {
	status int
	body   []byte
	err    error
}

type exchange struct {
	url  string
	body []byte
}

type fakeTransport struct {
	rec       *recorder
	responses []response
	sent      []exchange
}

func (t *fakeTransport) Send(_ context.Context, url string, body []byte) (int, []byte, error) {
	t.rec.add("Send")
	t.sent = append(t.sent, exchange{url: url, body: body})
	r := t.responses[len(t.sent)-1]
	return r.status, r.body, r.err
}

type fixture struct {
	rec       *recorder
	engine    *fakeEngine
	session   *fakeSession
	transport *fakeTransport
	hook      *test.Hook
	acquirer  *Acquirer
}

func newFixture(responses ...response) *fixture {
	rec := &recorder{}
	session := &fakeSession{
		rec:       rec,
		challenge: []byte("challenge-bytes"),
		keys:      []Key{{Type: "CONTENT", KID: []byte{0x11, 0x22}, Key: []byte{0xaa, 0xbb}}},
	}
	engine := &fakeEngine{
		rec:     rec,
		device:  fakeDevice{systemID: 4464, securityLevel: 3},
		session: session,
	}
	transport := &fakeTransport{rec: rec, responses: responses}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	return &fixture{
		rec:       rec,
		engine:    engine,
		session:   session,
		transport: transport,
		hook:      hook,
		acquirer:  NewAcquirer(engine, transport, WithLogger(logger)),
	}
}

func testRequest(privacy bool) Request {
	return Request{
		DevicePath: "test.dev",
		ContentID:  "AAAA",
		ServerURL:  "http://svc/license",
		Type:       Streaming,
		Privacy:    privacy,
	}
}

func errorEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestAcquire_WithoutPrivacy(t *testing.T) {
	license := []byte("license-bytes")
	f := newFixture(response{status: http.StatusOK, body: license})

	res, err := f.acquirer.Acquire(context.Background(), testRequest(false))
	require.NoError(t, err)

	assert.Equal(t, Done, res.State)
	assert.Equal(t, []State{Start, DeviceLoaded, SessionReady, ChallengeReady, LicenseFetched, KeysParsed, Done}, res.Trace)
	assert.Equal(t, []string{"LoadDevice", "NewSession", "GenerateChallenge(false)", "Send", "ParseLicense"}, f.rec.calls)

	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, "http://svc/license", f.transport.sent[0].url)
	assert.Equal(t, f.session.challenge, f.transport.sent[0].body)
	assert.Equal(t, license, f.session.gotLicense)
	assert.Nil(t, f.session.gotCert)

	assert.Equal(t, "test.dev", f.engine.gotPath)
	assert.Equal(t, "AAAA", f.engine.gotContentID)
	assert.Equal(t, Streaming, f.engine.gotType)
	assert.False(t, f.engine.gotRaw)

	require.Len(t, res.Keys, 1)
	assert.Equal(t, uint32(4464), res.Device.SystemID())
	assert.Equal(t, 3, res.Device.SecurityLevel())
	assert.Empty(t, errorEntries(f.hook))
}

func TestAcquire_WithPrivacy(t *testing.T) {
	cert := []byte("service-cert")
	license := []byte("license-bytes")
	f := newFixture(
		response{status: http.StatusOK, body: cert},
		response{status: http.StatusOK, body: license},
	)

	res, err := f.acquirer.Acquire(context.Background(), testRequest(true))
	require.NoError(t, err)

	assert.Equal(t, Done, res.State)
	assert.Equal(t, []State{Start, DeviceLoaded, SessionReady, CertFetched, CertSet, ChallengeReady, LicenseFetched, KeysParsed, Done}, res.Trace)
	assert.Equal(t, []string{
		"LoadDevice", "NewSession", "CertificateChallenge", "Send", "SetServiceCertificate",
		"GenerateChallenge(true)", "Send", "ParseLicense",
	}, f.rec.calls)

	require.Len(t, f.transport.sent, 2)
	assert.Equal(t, []byte{0x08, 0x04}, f.transport.sent[0].body)
	assert.Equal(t, f.session.challenge, f.transport.sent[1].body)
	assert.Equal(t, cert, f.session.gotCert)
	assert.Equal(t, license, f.session.gotLicense)
}

func TestAcquire_CertificateTransport(t *testing.T) {
	f := newFixture(response{status: http.StatusOK, body: []byte("license")})
	certTransport := &fakeTransport{rec: f.rec, responses: []response{{status: http.StatusOK, body: []byte("cert")}}}
	a := NewAcquirer(f.engine, f.transport, WithCertificateTransport(certTransport))

	_, err := a.Acquire(context.Background(), testRequest(true))
	require.NoError(t, err)

	require.Len(t, certTransport.sent, 1)
	assert.Equal(t, []byte{0x08, 0x04}, certTransport.sent[0].body)
	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, f.session.challenge, f.transport.sent[0].body)
}

func TestAcquire_LicenseFetchFailure(t *testing.T) {
	f := newFixture(response{status: http.StatusInternalServerError, body: []byte("denied")})

	res, err := f.acquirer.Acquire(context.Background(), testRequest(false))
	require.Error(t, err)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, LicenseFetchFailure, lerr.Kind)
	assert.Equal(t, http.StatusInternalServerError, lerr.Status)
	assert.Equal(t, "denied", lerr.Body)
	assert.True(t, lerr.IsTransport())

	assert.Equal(t, AbortedTransport, res.State)
	assert.Empty(t, res.Keys)
	assert.NotContains(t, f.rec.calls, "ParseLicense")

	entries := errorEntries(f.hook)
	require.Len(t, entries, 1)
	assert.Equal(t, http.StatusInternalServerError, entries[0].Data["status"])
	assert.Equal(t, "denied", entries[0].Data["body"])
	assert.Contains(t, entries[0].Message, "[500] denied")
}

func TestAcquire_CertificateFetchFailure(t *testing.T) {
	f := newFixture(response{status: http.StatusForbidden, body: []byte("no cert")})

	res, err := f.acquirer.Acquire(context.Background(), testRequest(true))

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CertificateFetchFailure, lerr.Kind)
	assert.Equal(t, AbortedTransport, res.State)
	assert.Equal(t, []string{"LoadDevice", "NewSession", "CertificateChallenge", "Send"}, f.rec.calls)
	assert.Len(t, f.transport.sent, 1)
	assert.Nil(t, f.session.privacy)
	require.Len(t, errorEntries(f.hook), 1)
}

func TestAcquire_TransportError(t *testing.T) {
	f := newFixture(response{err: errors.New("connection refused")})

	res, err := f.acquirer.Acquire(context.Background(), testRequest(false))

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, LicenseFetchFailure, lerr.Kind)
	assert.Zero(t, lerr.Status)
	assert.EqualError(t, lerr.Unwrap(), "connection refused")
	assert.Equal(t, AbortedTransport, res.State)
}

func TestAcquire_CapabilityFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		privacy bool
		setup   func(f *fixture)
		kind    Kind
		calls   []string
	}{
		{
			name:  "device load",
			setup: func(f *fixture) { f.engine.loadErr = boom },
			kind:  DeviceLoadFailure,
			calls: []string{"LoadDevice"},
		},
		{
			name:  "session init",
			setup: func(f *fixture) { f.engine.sessionErr = boom },
			kind:  SessionInitFailure,
			calls: []string{"LoadDevice", "NewSession"},
		},
		{
			name:    "certificate set",
			privacy: true,
			setup:   func(f *fixture) { f.session.setErr = boom },
			kind:    CertificateSetFailure,
			calls:   []string{"LoadDevice", "NewSession", "CertificateChallenge", "Send", "SetServiceCertificate"},
		},
		{
			name:  "challenge generation",
			setup: func(f *fixture) { f.session.genErr = boom },
			kind:  ChallengeGenerationFailure,
			calls: []string{"LoadDevice", "NewSession", "GenerateChallenge(false)"},
		},
		{
			name:  "license parse",
			setup: func(f *fixture) { f.session.parseErr = boom },
			kind:  LicenseParseFailure,
			calls: []string{"LoadDevice", "NewSession", "GenerateChallenge(false)", "Send", "ParseLicense"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(
				response{status: http.StatusOK, body: []byte("first")},
				response{status: http.StatusOK, body: []byte("second")},
			)
			tt.setup(f)

			res, err := f.acquirer.Acquire(context.Background(), testRequest(tt.privacy))

			var lerr *Error
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tt.kind, lerr.Kind)
			assert.False(t, lerr.IsTransport())
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, Aborted, res.State)
			assert.Empty(t, res.Keys)
			assert.Equal(t, tt.calls, f.rec.calls)
		})
	}
}

func TestAcquire_ScenarioOutput(t *testing.T) {
	f := newFixture(response{status: http.StatusOK, body: []byte("license")})

	res, err := f.acquirer.Acquire(context.Background(), testRequest(false))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, NewReporter(&out, FormatText).Report(res.Keys))
	assert.Equal(t, "[CONTENT] 1122:aabb\n", out.String())
}

func TestAcquire_ScenarioDenied(t *testing.T) {
	f := newFixture(response{status: http.StatusInternalServerError, body: []byte("denied")})

	res, err := f.acquirer.Acquire(context.Background(), testRequest(false))
	require.Error(t, err)

	var out bytes.Buffer
	require.NoError(t, NewReporter(&out, FormatText).Report(res.Keys))
	assert.Empty(t, out.String())
	require.Len(t, errorEntries(f.hook), 1)
}
