package wv

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

// WidevineSystemID is the system ID of Widevine.
var WidevineSystemID = []byte{0xed, 0xef, 0x8b, 0xa9, 0x79, 0xd6, 0x4a, 0xce, 0xa3, 0xc8, 0x27, 0xdc, 0xd5, 0x1d, 0x21, 0xed}

// PSSH holds Widevine init data, either from a PSSH box or raw.
type PSSH struct {
	box  *mp4.PsshBox
	raw  []byte
	data *wvpb.WidevinePsshData
}

// ParsePSSH decodes base64 init data. When raw is set the payload is a bare
// WidevinePsshData message instead of a full PSSH box.
func ParsePSSH(b64 string, raw bool) (*PSSH, error) {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %w", ErrInvalidContentID, err)
	}
	if raw {
		return NewRawPSSH(b)
	}
	return NewPSSH(b)
}

// NewPSSH creates a PSSH from bytes
func NewPSSH(b []byte) (*PSSH, error) {
	box, err := mp4.DecodeBox(0, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: decode box: %w", ErrInvalidContentID, err)
	}

	psshBox, ok := box.(*mp4.PsshBox)
	if !ok {
		return nil, fmt.Errorf("%w: box is a %s instead of a PSSH", ErrInvalidContentID, box.Type())
	}

	if !bytes.Equal(psshBox.SystemID, WidevineSystemID) {
		return nil, fmt.Errorf("%w: system id is %s instead of widevine",
			ErrInvalidContentID, hex.EncodeToString(psshBox.SystemID))
	}

	data := &wvpb.WidevinePsshData{}
	if err = proto.Unmarshal(psshBox.Data, data); err != nil {
		return nil, fmt.Errorf("%w: unmarshal pssh data: %w", ErrInvalidContentID, err)
	}

	return &PSSH{
		box:  psshBox,
		raw:  psshBox.Data,
		data: data,
	}, nil
}

// NewRawPSSH creates a PSSH from a serialized WidevinePsshData.
func NewRawPSSH(b []byte) (*PSSH, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty init data", ErrInvalidContentID)
	}
	data := &wvpb.WidevinePsshData{}
	if err := proto.Unmarshal(b, data); err != nil {
		return nil, fmt.Errorf("%w: unmarshal pssh data: %w", ErrInvalidContentID, err)
	}
	return &PSSH{
		raw:  b,
		data: data,
	}, nil
}

// Version returns the version of the PSSH box, 0 for raw init data.
func (p *PSSH) Version() byte {
	if p.box == nil {
		return 0
	}
	return p.box.Version
}

// RawData returns the Widevine init data carried in the request.
func (p *PSSH) RawData() []byte {
	return p.raw
}

// Data returns the parsed init data.
func (p *PSSH) Data() *wvpb.WidevinePsshData {
	return p.data
}
