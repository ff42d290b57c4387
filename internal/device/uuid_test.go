package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit UUID", input: "180A", expected: "180a"},
		{name: "16-bit UUID with 0x prefix", input: "0x2A24", expected: "2a24"},
		{name: "SIG base UUID with dashes", input: "0000180a-0000-1000-8000-00805f9b34fb", expected: "180a"},
		{name: "SIG base UUID uppercase", input: "00002A29-0000-1000-8000-00805F9B34FB", expected: "2a29"},
		{name: "Madoka service", input: MadokaServiceUUID, expected: "2141e110213a11e6b67b9e71128cae77"},
		{name: "custom UUID with SIG-like suffix keeps full form", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "32-bit UUID untouched", input: "00002902", expected: "00002902"},
		{name: "non-hex rejected", input: "zz12", expected: ""},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestFindCharacteristic(t *testing.T) {
	refs := []CharacteristicRef{
		{Service: NormalizeUUID(MadokaServiceUUID), UUID: NormalizeUUID(MadokaNotifyCharUUID), Properties: PropNotify},
		{Service: NormalizeUUID(MadokaServiceUUID), UUID: NormalizeUUID(MadokaWriteCharUUID), Properties: PropWrite | PropWriteNoResponse},
		{Service: DeviceInfoServiceUUID, UUID: ModelNumberUUID, Properties: PropRead},
	}

	ref, err := FindCharacteristic(refs, MadokaServiceUUID, MadokaWriteCharUUID)
	require.NoError(t, err)
	assert.True(t, ref.Properties.Has(PropWriteNoResponse))
	assert.Equal(t, "write,write-without-response", ref.Properties.String())

	_, err = FindCharacteristic(refs, "180f", "2a19")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "service", nf.Resource)

	_, err = FindCharacteristic(refs, DeviceInfoServiceUUID, SerialNumberUUID)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "characteristic", nf.Resource)
	assert.Equal(t, `characteristic "2a25" not found in service "180a"`, err.Error())
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		expected error
	}{
		{name: "bluetooth off on darwin", msg: "central manager has invalid state: have=4 want=5: is Bluetooth turned on?", expected: ErrBluetoothOff},
		{name: "not connected", msg: "Device Not Connected", expected: ErrNotConnected},
		{name: "disconnected", msg: "peripheral disconnected", expected: ErrNotConnected},
		{name: "already connected", msg: "device already connected", expected: ErrAlreadyConnected},
		{name: "not initialized", msg: "connection is not initialized", expected: ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(assert.AnError)
			assert.Same(t, assert.AnError, err, "unknown errors MUST pass through unchanged")

			err = NormalizeError(&ConnectionError{Msg: tt.msg})
			assert.ErrorIs(t, err, tt.expected)
		})
	}

	assert.NoError(t, NormalizeError(nil))
	assert.True(t, IsConnectionState(ErrNotConnected, NotConnected))
	assert.False(t, IsConnectionState(assert.AnError, NotConnected))
}
