package wv_test

import (
	"bytes"
	"crypto/x509"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/devatadev/gowvlicense/licensetest"
	"github.com/devatadev/gowvlicense/wv"
)

var (
	deviceOnce    sync.Once
	deviceFixture *licensetest.Device
	deviceErr     error
)

func testDevice(t *testing.T) *licensetest.Device {
	t.Helper()
	deviceOnce.Do(func() {
		deviceFixture, deviceErr = licensetest.NewDevice(4464, 3)
	})
	require.NoError(t, deviceErr)
	return deviceFixture
}

func TestLoadDevice(t *testing.T) {
	fixture := testDevice(t)
	path, err := fixture.WriteFile(t.TempDir())
	require.NoError(t, err)

	device, err := wv.LoadDevice(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(4464), device.SystemID())
	assert.Equal(t, 3, device.SecurityLevel())
	assert.Equal(t, wv.DeviceTypeAndroid, device.Type())
	assert.True(t, fixture.PrivateKey.Equal(device.PrivateKey()))
	assert.NotNil(t, device.ClientID())
	assert.Equal(t, "Device(type=ANDROID, system_id=4464, security_level=3)", device.String())
}

func TestNewDevice_WVDv1(t *testing.T) {
	fixture := testDevice(t)
	device, err := wv.NewDevice(wv.FromWVD(bytes.NewReader(fixture.WVD)))
	require.NoError(t, err)

	v1 := licensetest.EncodeWVD(1, byte(wv.DeviceTypeChrome), 1,
		x509.MarshalPKCS1PrivateKey(fixture.PrivateKey), mustClientID(t, device))
	device, err = wv.NewDevice(wv.FromWVD(bytes.NewReader(v1)))
	require.NoError(t, err)
	assert.Equal(t, wv.DeviceTypeChrome, device.Type())
	assert.Equal(t, 1, device.SecurityLevel())
	assert.Equal(t, uint32(4464), device.SystemID())
}

func TestNewDevice_Malformed(t *testing.T) {
	fixture := testDevice(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XYZ"), fixture.WVD[3:]...)},
		{"unsupported version", append([]byte{'W', 'V', 'D', 9}, fixture.WVD[4:]...)},
		{"truncated", fixture.WVD[:len(fixture.WVD)-10]},
		{"bad private key", licensetest.EncodeWVD(2, 2, 3, []byte("nope"), nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wv.NewDevice(wv.FromWVD(bytes.NewReader(tt.data)))
			assert.ErrorIs(t, err, wv.ErrDeviceLoad)
		})
	}
}

func TestLoadDevice_Missing(t *testing.T) {
	_, err := wv.LoadDevice(filepath.Join(t.TempDir(), "missing.wvd"))
	assert.ErrorIs(t, err, wv.ErrDeviceLoad)
}

func mustClientID(t *testing.T, device *wv.Device) []byte {
	t.Helper()
	b, err := proto.Marshal(device.ClientID())
	require.NoError(t, err)
	return b
}
