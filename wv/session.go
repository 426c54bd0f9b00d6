package wv

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

// Session is a single license exchange for one PSSH.
//
// A challenge may be generated once and a license parsed once; a service
// certificate may only be set before the challenge exists.
type Session struct {
	cdm         *CDM
	Id          []byte
	pssh        *PSSH
	licenseType wvpb.LicenseType

	ServiceCertificate *wvpb.DrmCertificate
	// LicenseChallengeRequest is the serialized LicenseRequest the keys are
	// derived from.
	LicenseChallengeRequest []byte
	Keys                    []*Key
	parsed                  bool
}

func (s *Session) HexId() string {
	return hex.EncodeToString(s.Id)
}

// PSSH returns the init data the session was opened with.
func (s *Session) PSSH() *PSSH {
	return s.pssh
}

// CertificateChallenge returns the payload asking a license server for its
// service certificate.
func (s *Session) CertificateChallenge() []byte {
	return append([]byte(nil), ServiceCertificateRequest...)
}

// SetServiceCertificate sets the certificate used to encrypt the client id.
func (s *Session) SetServiceCertificate(cert []byte) (*wvpb.DrmCertificate, error) {
	if s.LicenseChallengeRequest != nil {
		return nil, errors.New("service certificate must be set before the challenge is generated")
	}
	if s.ServiceCertificate != nil {
		return nil, errors.New("service certificate already set")
	}

	serviceCert, _, err := ParseServiceCert(cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	s.ServiceCertificate = serviceCert
	return serviceCert, nil
}

// GetLicenseChallenge returns the signed license request for the session PSSH.
//
// Set privacyMode to true to enable privacy mode, and you must set a service
// certificate first.
func (s *Session) GetLicenseChallenge(privacyMode bool) ([]byte, error) {
	if s.LicenseChallengeRequest != nil {
		return nil, errors.New("license challenge already generated")
	}
	if privacyMode && s.ServiceCertificate == nil {
		return nil, fmt.Errorf("%w: no service certificate set", ErrPrivacyModeUnavailable)
	}

	c := s.cdm
	nonce, err := c.randomBytes(12)
	if err != nil {
		return nil, fmt.Errorf("random: %w", err)
	}

	req := &wvpb.LicenseRequest{
		Type:            wvpb.LicenseRequest_NEW.Enum(),
		RequestTime:     Pointer(c.now().Unix()),
		ProtocolVersion: wvpb.ProtocolVersion_VERSION_2_1.Enum(),
		KeyControlNonce: Pointer(binary.BigEndian.Uint32(nonce[8:])),
		ContentId: &wvpb.LicenseRequest_ContentIdentification{
			ContentIdVariant: &wvpb.LicenseRequest_ContentIdentification_WidevinePsshData_{
				WidevinePsshData: &wvpb.LicenseRequest_ContentIdentification_WidevinePsshData{
					PsshData:    [][]byte{s.pssh.RawData()},
					LicenseType: s.licenseType.Enum(),
					RequestId: []byte(fmt.Sprintf("%08X%08X0100000000000000",
						binary.BigEndian.Uint32(nonce[:4]),
						binary.BigEndian.Uint32(nonce[4:8]))),
				},
			},
		},
	}

	// set client id
	if privacyMode {
		encClientID, err := s.encryptClientID(s.ServiceCertificate)
		if err != nil {
			return nil, fmt.Errorf("encrypt client id: %w", err)
		}

		req.EncryptedClientId = encClientID
	} else {
		req.ClientId = c.device.ClientID()
	}

	reqData, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal license request: %w", err)
	}

	// signed license request signature
	hashed := sha1.Sum(reqData)
	pss, err := rsa.SignPSS(
		c.rand,
		c.device.PrivateKey(),
		crypto.SHA1,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return nil, fmt.Errorf("sign pss: %w", err)
	}

	msg := &wvpb.SignedMessage{
		Type:      wvpb.SignedMessage_LICENSE_REQUEST.Enum(),
		Msg:       reqData,
		Signature: pss,
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal signed message: %w", err)
	}

	s.LicenseChallengeRequest = reqData
	return data, nil
}

func (s *Session) encryptClientID(cert *wvpb.DrmCertificate) (*wvpb.EncryptedClientIdentification, error) {
	c := s.cdm
	privacyKey, err := c.randomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("privacy key: %w", err)
	}
	privacyIV, err := c.randomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("privacy iv: %w", err)
	}

	// encryptedClientID
	clientID, err := proto.Marshal(c.device.ClientID())
	if err != nil {
		return nil, fmt.Errorf("marshal client id: %w", err)
	}
	encryptedClientID, err := EncryptAES(privacyKey, privacyIV, clientID)
	if err != nil {
		return nil, fmt.Errorf("encrypt aes: %w", err)
	}

	// encryptedPrivacyKey
	publicKey, err := ParsePublicKey(cert.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	encryptedPrivacyKey, err := rsa.EncryptOAEP(
		sha1.New(),
		c.rand,
		publicKey,
		privacyKey,
		nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt oaep: %w", err)
	}

	encClientID := &wvpb.EncryptedClientIdentification{
		ProviderId:                     cert.ProviderId,
		ServiceCertificateSerialNumber: cert.SerialNumber,
		EncryptedClientId:              encryptedClientID,
		EncryptedPrivacyKey:            encryptedPrivacyKey,
		EncryptedClientIdIv:            privacyIV,
	}

	return encClientID, nil
}

// ParseLicense decrypts the keys of a license answering this session's
// challenge. Keys keep the order of the license message.
func (s *Session) ParseLicense(license []byte) ([]*Key, error) {
	if s.LicenseChallengeRequest == nil {
		return nil, fmt.Errorf("%w: no license challenge generated", ErrLicenseParse)
	}
	if s.parsed {
		return nil, fmt.Errorf("%w: license already parsed", ErrLicenseParse)
	}

	keys, err := s.parseLicense(license)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLicenseParse, err)
	}
	s.parsed = true
	s.Keys = keys
	return keys, nil
}

func (s *Session) parseLicense(license []byte) ([]*Key, error) {
	c := s.cdm
	signedMsg := &wvpb.SignedMessage{}
	if err := proto.Unmarshal(license, signedMsg); err != nil {
		return nil, fmt.Errorf("unmarshal signed message: %w", err)
	}
	if signedMsg.GetType() != wvpb.SignedMessage_LICENSE {
		return nil, fmt.Errorf("invalid license type: %v", signedMsg.GetType())
	}

	sessionKey, err := rsa.DecryptOAEP(sha1.New(), c.rand, c.device.PrivateKey(), signedMsg.SessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt session key: %w", err)
	}
	if len(sessionKey) != sessionKeyLength {
		return nil, fmt.Errorf("invalid session key length: %d", len(sessionKey))
	}

	derivedEncKey, derivedAuthKey := DeriveKeys(s.LicenseChallengeRequest, sessionKey)

	licenseMsgHMAC := hmac.New(sha256.New, derivedAuthKey)
	licenseMsgHMAC.Write(signedMsg.Msg)
	expectedHMAC := licenseMsgHMAC.Sum(nil)
	if !hmac.Equal(signedMsg.Signature, expectedHMAC) {
		return nil, fmt.Errorf("invalid license signature")
	}

	licenseMsg := &wvpb.License{}
	if err = proto.Unmarshal(signedMsg.Msg, licenseMsg); err != nil {
		return nil, fmt.Errorf("unmarshal license message: %w", err)
	}

	keys := make([]*Key, 0, len(licenseMsg.Key))
	for _, key := range licenseMsg.Key {
		var decryptedKey []byte
		if len(key.Key) > 0 {
			decryptedKey, err = DecryptAES(derivedEncKey, key.Iv, key.Key)
			if err != nil {
				return nil, fmt.Errorf("decrypt key %x: %w", key.GetId(), err)
			}
		}

		keys = append(keys, &Key{
			Type: key.GetType(),
			IV:   key.Iv,
			ID:   key.GetId(),
			Key:  decryptedKey,
		})
	}

	return keys, nil
}

// DeriveKeys returns the content encryption key and the license
// authentication key derived from a serialized license request and the
// session key. License servers derive the same pair.
func DeriveKeys(licenseRequest, sessionKey []byte) (enc, auth []byte) {
	return deriveEncKey(licenseRequest, sessionKey), deriveAuthKey(licenseRequest, sessionKey)
}

func deriveEncKey(licenseRequest, sessionKey []byte) []byte {
	encKey := make([]byte, 16+len(licenseRequest))

	copy(encKey[:12], "\x01ENCRYPTION\x00")
	copy(encKey[12:], licenseRequest)
	binary.BigEndian.PutUint32(encKey[12+len(licenseRequest):], 128)

	return cmacAES(encKey, sessionKey)
}

func deriveAuthKey(licenseRequest, sessionKey []byte) []byte {
	authKey := make([]byte, 20+len(licenseRequest))

	copy(authKey[:16], "\x01AUTHENTICATION\x00")
	copy(authKey[16:], licenseRequest)
	binary.BigEndian.PutUint32(authKey[16+len(licenseRequest):], 512)

	authCmacKey1 := cmacAES(authKey, sessionKey)
	authKey[0] = 2
	authCmacKey2 := cmacAES(authKey, sessionKey)

	return append(authCmacKey1, authCmacKey2...)
}
