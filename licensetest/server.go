package licensetest

import (
	"bytes"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"

	"github.com/devatadev/gowvlicense/wv"
)

// Key is a key the server puts into every license it issues.
type Key struct {
	Type wvpb.License_KeyContainer_KeyType
	ID   []byte
	Key  []byte
}

// Request is a request received by the server.
type Request struct {
	Path    string
	Body    []byte
	Header  http.Header
	Privacy bool
	Issued  bool
}

type failure struct {
	status int
	body   string
}

// Server answers service certificate requests and license challenges the
// way a Widevine license proxy does: raw bytes in, raw bytes out.
type Server struct {
	*httptest.Server

	keys    []Key
	service *ServiceCertificate
	license *failure
	cert    *failure

	mu       sync.Mutex
	requests []Request
}

type ServerOption func(*Server)

// WithServiceCertificate lets the server answer certificate requests and
// decrypt privacy mode challenges.
func WithServiceCertificate(sc *ServiceCertificate) ServerOption {
	return func(s *Server) {
		s.service = sc
	}
}

// WithLicenseFailure answers license challenges with status and body.
func WithLicenseFailure(status int, body string) ServerOption {
	return func(s *Server) {
		s.license = &failure{status: status, body: body}
	}
}

// WithCertificateFailure answers certificate requests with status and body.
func WithCertificateFailure(status int, body string) ServerOption {
	return func(s *Server) {
		s.cert = &failure{status: status, body: body}
	}
}

func NewServer(keys []Key, opts ...ServerOption) *Server {
	s := &Server{keys: keys}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/*path", s.handle)

	s.Server = httptest.NewServer(router)
	return s
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) record(r Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)
}

func (s *Server) handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read request body")
		return
	}
	req := Request{
		Path:   c.Request.URL.Path,
		Body:   body,
		Header: c.Request.Header.Clone(),
	}

	if bytes.Equal(body, wv.ServiceCertificateRequest) {
		s.record(req)
		switch {
		case s.cert != nil:
			c.String(s.cert.status, s.cert.body)
		case s.service == nil:
			c.String(http.StatusNotFound, "no service certificate")
		default:
			c.Data(http.StatusOK, "application/octet-stream", s.service.Message)
		}
		return
	}

	if s.license != nil {
		s.record(req)
		c.String(s.license.status, s.license.body)
		return
	}

	license, privacy, err := s.issue(body)
	req.Privacy = privacy
	req.Issued = err == nil
	s.record(req)
	if err != nil {
		c.String(http.StatusBadRequest, "failed to issue license : "+err.Error())
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", license)
}

// issue builds a license for a signed license request.
func (s *Server) issue(challenge []byte) ([]byte, bool, error) {
	signed := &wvpb.SignedMessage{}
	if err := proto.Unmarshal(challenge, signed); err != nil {
		return nil, false, fmt.Errorf("unmarshal signed message: %w", err)
	}
	if signed.GetType() != wvpb.SignedMessage_LICENSE_REQUEST {
		return nil, false, fmt.Errorf("unexpected message type %v", signed.GetType())
	}

	req := &wvpb.LicenseRequest{}
	if err := proto.Unmarshal(signed.GetMsg(), req); err != nil {
		return nil, false, fmt.Errorf("unmarshal license request: %w", err)
	}

	privacy := req.GetEncryptedClientId() != nil
	clientID := req.GetClientId()
	if privacy {
		var err error
		if clientID, err = s.decryptClientID(req.GetEncryptedClientId()); err != nil {
			return nil, privacy, err
		}
	}
	if clientID == nil {
		return nil, privacy, errors.New("missing client id")
	}

	publicKey, err := devicePublicKey(clientID)
	if err != nil {
		return nil, privacy, err
	}
	hashed := sha1.Sum(signed.GetMsg())
	if err = rsa.VerifyPSS(publicKey, crypto.SHA1, hashed[:], signed.GetSignature(),
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		return nil, privacy, fmt.Errorf("verify signature: %w", err)
	}

	sessionKey := make([]byte, 16)
	if _, err = rand.Read(sessionKey); err != nil {
		return nil, privacy, err
	}
	encKey, authKey := wv.DeriveKeys(signed.GetMsg(), sessionKey)

	license := &wvpb.License{}
	for _, k := range s.keys {
		iv := make([]byte, 16)
		if _, err = rand.Read(iv); err != nil {
			return nil, privacy, err
		}
		encrypted, err := wv.EncryptAES(encKey, iv, k.Key)
		if err != nil {
			return nil, privacy, fmt.Errorf("encrypt key: %w", err)
		}
		license.Key = append(license.Key, &wvpb.License_KeyContainer{
			Id:   k.ID,
			Iv:   iv,
			Key:  encrypted,
			Type: k.Type.Enum(),
		})
	}
	licenseData, err := proto.Marshal(license)
	if err != nil {
		return nil, privacy, fmt.Errorf("marshal license: %w", err)
	}

	mac := hmac.New(sha256.New, authKey)
	mac.Write(licenseData)

	encSessionKey, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, publicKey, sessionKey, nil)
	if err != nil {
		return nil, privacy, fmt.Errorf("encrypt session key: %w", err)
	}

	out, err := proto.Marshal(&wvpb.SignedMessage{
		Type:       wvpb.SignedMessage_LICENSE.Enum(),
		Msg:        licenseData,
		Signature:  mac.Sum(nil),
		SessionKey: encSessionKey,
	})
	if err != nil {
		return nil, privacy, fmt.Errorf("marshal signed license: %w", err)
	}
	return out, privacy, nil
}

func (s *Server) decryptClientID(enc *wvpb.EncryptedClientIdentification) (*wvpb.ClientIdentification, error) {
	if s.service == nil {
		return nil, errors.New("privacy mode without service certificate")
	}
	privacyKey, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, s.service.PrivateKey, enc.GetEncryptedPrivacyKey(), nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt privacy key: %w", err)
	}
	plain, err := wv.DecryptAES(privacyKey, enc.GetEncryptedClientIdIv(), enc.GetEncryptedClientId())
	if err != nil {
		return nil, fmt.Errorf("decrypt client id: %w", err)
	}
	clientID := &wvpb.ClientIdentification{}
	if err = proto.Unmarshal(plain, clientID); err != nil {
		return nil, fmt.Errorf("unmarshal client id: %w", err)
	}
	return clientID, nil
}

func devicePublicKey(clientID *wvpb.ClientIdentification) (*rsa.PublicKey, error) {
	signedCert := &wvpb.SignedDrmCertificate{}
	if err := proto.Unmarshal(clientID.GetToken(), signedCert); err != nil {
		return nil, fmt.Errorf("unmarshal signed drm certificate: %w", err)
	}
	cert := &wvpb.DrmCertificate{}
	if err := proto.Unmarshal(signedCert.GetDrmCertificate(), cert); err != nil {
		return nil, fmt.Errorf("unmarshal drm certificate: %w", err)
	}
	return wv.ParsePublicKey(cert.GetPublicKey())
}
