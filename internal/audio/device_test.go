package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevices() []Device {
	return []Device{
		{ID: "alsa_input.usb-Blue_Yeti-00.analog-stereo", Description: "Blue Yeti", State: "idle", Available: true},
		{ID: "alsa_input.pci-0000_00_1f.3.analog-stereo", Description: "Built-in Audio", State: "running", Available: true, Default: true},
		{ID: "alsa_input.headset.mono-fallback", Description: "USB Headset", State: "suspended", Available: true},
	}
}

func TestSelectDeviceDefault(t *testing.T) {
	selection, err := selectDeviceFromList(testDevices(), "default", "")
	require.NoError(t, err)
	assert.Equal(t, "alsa_input.pci-0000_00_1f.3.analog-stereo", selection.Device.ID)
	assert.False(t, selection.Fallback)
	assert.Empty(t, selection.Warning)
}

func TestSelectDeviceByDescription(t *testing.T) {
	selection, err := selectDeviceFromList(testDevices(), "blue yeti", "")
	require.NoError(t, err)
	assert.Equal(t, "alsa_input.usb-Blue_Yeti-00.analog-stereo", selection.Device.ID)
}

func TestSelectDeviceByPartialID(t *testing.T) {
	selection, err := selectDeviceFromList(testDevices(), "headset", "")
	require.NoError(t, err)
	assert.Equal(t, "alsa_input.headset.mono-fallback", selection.Device.ID)
}

func TestSelectDeviceNoMatch(t *testing.T) {
	_, err := selectDeviceFromList(testDevices(), "snowball", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snowball")
}

func TestSelectDeviceEmptyList(t *testing.T) {
	_, err := selectDeviceFromList(nil, "default", "")
	require.Error(t, err)
}

func TestSelectDeviceMutedPrimaryFallsBackToConfigured(t *testing.T) {
	devices := testDevices()
	devices[0].Muted = true

	selection, err := selectDeviceFromList(devices, "blue yeti", "headset")
	require.NoError(t, err)
	assert.Equal(t, "alsa_input.headset.mono-fallback", selection.Device.ID)
	assert.True(t, selection.Fallback)
	assert.Contains(t, selection.Warning, "muted")
}

func TestSelectDeviceUnavailablePrimaryFallsBackToDefault(t *testing.T) {
	devices := testDevices()
	devices[0].Available = false

	selection, err := selectDeviceFromList(devices, "blue yeti", "")
	require.NoError(t, err)
	assert.Equal(t, "alsa_input.pci-0000_00_1f.3.analog-stereo", selection.Device.ID)
	assert.True(t, selection.Fallback)
	assert.Contains(t, selection.Warning, "unavailable")
}

func TestSelectDeviceFallbackAlsoUnusable(t *testing.T) {
	devices := testDevices()
	devices[0].Muted = true
	devices[2].Available = false

	_, err := selectDeviceFromList(devices, "blue yeti", "headset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestSelectDeviceFallbackMuted(t *testing.T) {
	devices := testDevices()
	devices[0].Available = false
	devices[2].Muted = true

	_, err := selectDeviceFromList(devices, "blue yeti", "headset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "muted")
}

func TestSelectDeviceMissingFallback(t *testing.T) {
	devices := testDevices()
	devices[0].Muted = true

	_, err := selectDeviceFromList(devices, "blue yeti", "snowball")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snowball")
}

func TestDeviceMatches(t *testing.T) {
	device := Device{ID: "alsa_input.usb-Blue_Yeti-00.analog-stereo", Description: "Blue Yeti"}

	assert.True(t, deviceMatches(device, "yeti"))
	assert.True(t, deviceMatches(device, "alsa_input.usb"))
	assert.False(t, deviceMatches(device, "snowball"))
	assert.False(t, deviceMatches(device, ""))
}

func TestSourceStateString(t *testing.T) {
	assert.Equal(t, "running", sourceStateString(0))
	assert.Equal(t, "idle", sourceStateString(1))
	assert.Equal(t, "suspended", sourceStateString(2))
	assert.Equal(t, "unknown(9)", sourceStateString(9))
}
