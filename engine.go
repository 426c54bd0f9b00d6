package main

import (
	"fmt"

	wvpb "github.com/iyear/gowidevine/widevinepb"

	"github.com/devatadev/gowvlicense/license"
	"github.com/devatadev/gowvlicense/wv"
)

var wvLicenseTypes = map[license.LicenseType]wvpb.LicenseType{
	license.Streaming: wvpb.LicenseType_STREAMING,
	license.Offline:   wvpb.LicenseType_OFFLINE,
	license.Automatic: wvpb.LicenseType_AUTOMATIC,
}

// wvEngine serves the license flow with the wv CDM.
type wvEngine struct {
	opts []wv.CDMOption
}

func newEngine(opts ...wv.CDMOption) *wvEngine {
	return &wvEngine{opts: opts}
}

func (e *wvEngine) LoadDevice(path string) (license.Device, error) {
	device, err := wv.LoadDevice(path)
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (e *wvEngine) NewSession(dev license.Device, contentID string, typ license.LicenseType, raw bool) (license.Session, error) {
	device, ok := dev.(*wv.Device)
	if !ok {
		return nil, fmt.Errorf("unsupported device %T", dev)
	}
	licenseType, ok := wvLicenseTypes[typ]
	if !ok {
		return nil, fmt.Errorf("unsupported license type %s", typ)
	}

	pssh, err := wv.ParsePSSH(contentID, raw)
	if err != nil {
		return nil, err
	}

	cdm := wv.NewCDM(device, e.opts...)
	session, err := cdm.OpenSession(pssh, licenseType)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &wvSession{cdm: cdm, session: session}, nil
}

type wvSession struct {
	cdm     *wv.CDM
	session *wv.Session
}

func (s *wvSession) CertificateChallenge() []byte {
	return s.session.CertificateChallenge()
}

func (s *wvSession) SetServiceCertificate(cert []byte) error {
	_, err := s.session.SetServiceCertificate(cert)
	return err
}

func (s *wvSession) GenerateChallenge(privacy bool) ([]byte, error) {
	return s.session.GetLicenseChallenge(privacy)
}

func (s *wvSession) ParseLicense(data []byte) ([]license.Key, error) {
	keys, err := s.session.ParseLicense(data)
	if err != nil {
		return nil, err
	}
	out := make([]license.Key, 0, len(keys))
	for _, k := range keys {
		out = append(out, license.Key{
			Type: k.Type.String(),
			KID:  k.ID,
			Key:  k.Key,
		})
	}
	return out, nil
}

func (s *wvSession) String() string {
	return fmt.Sprintf("Session(id=%s, %s)", s.session.HexId(), s.cdm)
}
