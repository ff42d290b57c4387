package device

import "strings"

// BRC1H ("Madoka") GATT layout.
const (
	MadokaServiceUUID    = "2141e110-213a-11e6-b67b-9e71128cae77"
	MadokaNotifyCharUUID = "2141e111-213a-11e6-b67b-9e71128cae77"
	MadokaWriteCharUUID  = "2141e112-213a-11e6-b67b-9e71128cae77"
)

// Device Information Service.
const (
	DeviceInfoServiceUUID  = "180a"
	ModelNumberUUID        = "2a24"
	SerialNumberUUID       = "2a25"
	FirmwareRevisionUUID   = "2a26"
	HardwareRevisionUUID   = "2a27"
	SoftwareRevisionUUID   = "2a28"
	ManufacturerNameUUID   = "2a29"
	bluetoothBaseUUIDTail  = "00001000800000805f9b34fb"
	bluetoothBaseUUIDStart = "0000"
)

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix if present (e.g., "0x2902" -> "2902").
// For full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb),
// extracts the 16-bit short form (xxxx).
// Returns "" for strings containing non-hex characters.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	for _, c := range u {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}

	if len(u) == 32 && strings.HasPrefix(u, bluetoothBaseUUIDStart) && strings.HasSuffix(u, bluetoothBaseUUIDTail) {
		return u[4:8]
	}
	return u
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
