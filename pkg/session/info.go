package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/brc1h/internal/device"
)

// DeviceInfo holds the Device Information Service strings of the controller.
type DeviceInfo struct {
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	Serial       string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Hardware     string `json:"hardware,omitempty" yaml:"hardware,omitempty"`
	Firmware     string `json:"firmware,omitempty" yaml:"firmware,omitempty"`
	Software     string `json:"software,omitempty" yaml:"software,omitempty"`
}

// DeviceInfo reads the Device Information Service. Characteristics the
// controller does not expose are left empty. Each read is bounded by the
// configured command timeout.
func (s *Session) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	s.mu.Lock()
	link, refs, current := s.link, s.refs, s.state
	s.mu.Unlock()

	if current != Ready || link == nil {
		return DeviceInfo{}, ErrNotReady
	}

	var info DeviceInfo
	fields := []struct {
		uuid string
		dst  *string
	}{
		{device.ManufacturerNameUUID, &info.Manufacturer},
		{device.ModelNumberUUID, &info.Model},
		{device.SerialNumberUUID, &info.Serial},
		{device.HardwareRevisionUUID, &info.Hardware},
		{device.FirmwareRevisionUUID, &info.Firmware},
		{device.SoftwareRevisionUUID, &info.Software},
	}

	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return info, err
		}
		ref, err := device.FindCharacteristic(refs, device.DeviceInfoServiceUUID, f.uuid)
		if err != nil {
			var nf *device.NotFoundError
			if errors.As(err, &nf) && nf.Resource == "service" {
				return info, err
			}
			continue
		}
		if !ref.Properties.Has(device.PropRead) {
			continue
		}
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		data, err := link.Read(readCtx, ref)
		cancel()
		if err != nil {
			return info, fmt.Errorf("failed to read %s: %w", ref, err)
		}
		*f.dst = strings.TrimRight(string(data), "\x00 ")
	}
	return info, nil
}
