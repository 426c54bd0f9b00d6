package wv_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devatadev/gowvlicense/licensetest"
	"github.com/devatadev/gowvlicense/wv"
)

var testKID = []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00}

func TestParsePSSH_Box(t *testing.T) {
	b64, err := licensetest.PSSHBox(testKID)
	require.NoError(t, err)

	pssh, err := wv.ParsePSSH(b64, false)
	require.NoError(t, err)

	initData, err := licensetest.InitData(testKID)
	require.NoError(t, err)
	assert.Equal(t, initData, pssh.RawData())
	assert.Equal(t, [][]byte{testKID}, pssh.Data().GetKeyIds())
	assert.Equal(t, byte(0), pssh.Version())
}

func TestParsePSSH_Raw(t *testing.T) {
	b64, err := licensetest.RawPSSH(testKID)
	require.NoError(t, err)

	pssh, err := wv.ParsePSSH(b64, true)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testKID}, pssh.Data().GetKeyIds())

	// raw init data is not a box
	_, err = wv.ParsePSSH(b64, false)
	assert.ErrorIs(t, err, wv.ErrInvalidContentID)
}

func TestParsePSSH_Invalid(t *testing.T) {
	other := &mp4.PsshBox{
		SystemID: bytes.Repeat([]byte{0x01}, 16),
		Data:     []byte{0x12, 0x00},
	}
	var b bytes.Buffer
	require.NoError(t, other.Encode(&b))

	tests := []struct {
		name string
		in   string
		raw  bool
	}{
		{"not base64", "!!!", false},
		{"empty raw", "", true},
		{"garbage raw", base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff}), true},
		{"foreign system id", base64.StdEncoding.EncodeToString(b.Bytes()), false},
		{"too short", "AAAA", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wv.ParsePSSH(tt.in, tt.raw)
			assert.ErrorIs(t, err, wv.ErrInvalidContentID)
		})
	}
}
