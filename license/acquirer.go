package license

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Acquirer sequences one license acquisition over an Engine and a Transport.
type Acquirer struct {
	engine    Engine
	transport Transport
	// certTransport is used for the service certificate exchange.
	certTransport Transport
	log           logrus.FieldLogger
}

type Option func(*Acquirer)

// WithLogger sets the logger progress and failures are reported to.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Acquirer) {
		a.log = log
	}
}

// WithCertificateTransport uses t for the service certificate exchange
// instead of the license transport.
func WithCertificateTransport(t Transport) Option {
	return func(a *Acquirer) {
		a.certTransport = t
	}
}

func NewAcquirer(engine Engine, transport Transport, opts ...Option) *Acquirer {
	if engine == nil || transport == nil {
		panic("engine and transport cannot be nil")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	a := &Acquirer{
		engine:    engine,
		transport: transport,
		log:       discard,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.certTransport == nil {
		a.certTransport = a.transport
	}
	return a
}

// Result is the outcome of Acquire. It is returned on failure too, with
// State set to the terminal state reached.
type Result struct {
	State State
	// Trace lists every state entered, in order.
	Trace  []State
	Device Device
	Keys   []Key
}

// Acquire runs the acquisition flow for req. Each step either succeeds or
// stops the flow with an *Error; no step is retried.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (*Result, error) {
	run := &acquisition{
		Acquirer: a,
		req:      req,
		res:      &Result{State: Start, Trace: []State{Start}},
		log: a.log.WithFields(logrus.Fields{
			"server": req.ServerURL,
			"type":   req.Type.String(),
		}),
	}

	steps := []func(context.Context) error{
		run.loadDevice,
		run.openSession,
		run.fetchCertificate,
		run.setCertificate,
		run.generateChallenge,
		run.fetchLicense,
		run.parseLicense,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			run.abort(err)
			return run.res, err
		}
	}
	run.enter(Done)

	return run.res, nil
}

// acquisition holds the per-call state of Acquire.
type acquisition struct {
	*Acquirer
	req Request
	res *Result
	log logrus.FieldLogger

	device      Device
	session     Session
	certificate []byte
	challenge   []byte
	license     []byte
}

func (r *acquisition) enter(s State) {
	r.log.WithField("state", s.String()).Debug("state transition")
	r.res.State = s
	r.res.Trace = append(r.res.Trace, s)
}

func (r *acquisition) abort(err error) {
	var lerr *Error
	if errors.As(err, &lerr) && lerr.IsTransport() {
		r.enter(AbortedTransport)
		return
	}
	r.enter(Aborted)
}

func (r *acquisition) loadDevice(context.Context) error {
	device, err := r.engine.LoadDevice(r.req.DevicePath)
	if err != nil {
		return newError(DeviceLoadFailure, err)
	}
	r.device = device
	r.res.Device = device
	r.log.Infof("[+] Loaded Device (%d L%d)", device.SystemID(), device.SecurityLevel())
	r.log.Debug(device)
	r.enter(DeviceLoaded)
	return nil
}

func (r *acquisition) openSession(context.Context) error {
	session, err := r.engine.NewSession(r.device, r.req.ContentID, r.req.Type, r.req.Raw)
	if err != nil {
		return newError(SessionInitFailure, err)
	}
	r.session = session
	r.log.Infof("[+] Loaded CDM with PSSH: %s", r.req.ContentID)
	r.log.Debug(session)
	r.enter(SessionReady)
	return nil
}

func (r *acquisition) fetchCertificate(ctx context.Context) error {
	if !r.req.Privacy {
		return nil
	}
	cert, err := r.exchange(ctx, r.certTransport, r.session.CertificateChallenge(), CertificateFetchFailure,
		"[-] Failed to get Service Privacy Certificate")
	if err != nil {
		return err
	}
	r.certificate = cert
	r.enter(CertFetched)
	return nil
}

func (r *acquisition) setCertificate(context.Context) error {
	if !r.req.Privacy {
		return nil
	}
	if err := r.session.SetServiceCertificate(r.certificate); err != nil {
		return newError(CertificateSetFailure, err)
	}
	r.log.Info("[+] Set Service Privacy Certificate")
	r.log.Debugf("%x", r.certificate)
	r.enter(CertSet)
	return nil
}

func (r *acquisition) generateChallenge(context.Context) error {
	challenge, err := r.session.GenerateChallenge(r.req.Privacy)
	if err != nil {
		return newError(ChallengeGenerationFailure, err)
	}
	r.challenge = challenge
	r.log.Info("[+] Created License Request Message (Challenge)")
	r.log.Debugf("%x", challenge)
	r.enter(ChallengeReady)
	return nil
}

func (r *acquisition) fetchLicense(ctx context.Context) error {
	license, err := r.exchange(ctx, r.transport, r.challenge, LicenseFetchFailure,
		"[-] Failed to send challenge")
	if err != nil {
		return err
	}
	r.license = license
	r.log.Info("[+] Got License Message")
	r.log.Debugf("%x", license)
	r.enter(LicenseFetched)
	return nil
}

func (r *acquisition) parseLicense(context.Context) error {
	keys, err := r.session.ParseLicense(r.license)
	if err != nil {
		return newError(LicenseParseFailure, err)
	}
	r.res.Keys = keys
	r.log.Info("[+] License Parsed Successfully")
	r.enter(KeysParsed)
	return nil
}

// exchange posts body to the server. Anything but a 200 is logged once and
// returned as a transport *Error of the given kind.
func (r *acquisition) exchange(ctx context.Context, t Transport, body []byte, kind Kind, failure string) ([]byte, error) {
	status, resp, err := t.Send(ctx, r.req.ServerURL, body)
	if err != nil {
		r.log.WithError(err).Error(failure)
		return nil, newError(kind, err)
	}
	if status != http.StatusOK {
		r.log.WithFields(logrus.Fields{
			"status": status,
			"body":   string(resp),
		}).Errorf("%s: [%d] %s", failure, status, resp)
		return nil, &Error{Kind: kind, Status: status, Body: string(resp)}
	}
	return resp, nil
}
