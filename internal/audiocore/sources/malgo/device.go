package malgo

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/errors"
)

// nullDeviceName is the miniaudio placeholder that discards all samples
const nullDeviceName = "Discard all samples"

// backendForPlatform returns the malgo backend for the current platform
func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system %s", runtime.GOOS).
			Component(ComponentMalgo).
			Category(errors.CategoryAudio).
			Context("os", runtime.GOOS).
			Build()
	}
}

// initContext allocates a malgo context for the platform backend
func initContext() (*malgo.AllocatedContext, error) {
	backend, err := backendForPlatform()
	if err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentMalgo).
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Context("backend", runtime.GOOS).
			Build()
	}
	return mctx, nil
}

// captureDevices lists capture devices of mctx, skipping the null device
func captureDevices(mctx *malgo.AllocatedContext) ([]malgo.DeviceInfo, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentMalgo).
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Build()
	}

	devices := infos[:0]
	for i := range infos {
		if strings.Contains(infos[i].Name(), nullDeviceName) {
			continue
		}
		devices = append(devices, infos[i])
	}
	return devices, nil
}

// toDeviceInfo converts a malgo device into the capture description. The
// backend's hex encoded ID is decoded into a readable, stable UID.
func toDeviceInfo(info *malgo.DeviceInfo) capture.DeviceInfo {
	return capture.DeviceInfo{
		ID:        decodeDeviceID(info.ID.String()),
		Name:      info.Name(),
		IsDefault: info.IsDefault == 1,
	}
}

// findDevice returns the malgo device whose decoded ID equals id
func findDevice(devices []malgo.DeviceInfo, id string) (*malgo.DeviceInfo, error) {
	for i := range devices {
		if decodeDeviceID(devices[i].ID.String()) == id {
			return &devices[i], nil
		}
	}
	return nil, errors.Newf("audio device %q not found", id).
		Component(ComponentMalgo).
		Category(errors.CategoryNotFound).
		Context("device_id", id).
		Context("available_devices", len(devices)).
		Build()
}

// decodeDeviceID turns the hex device ID into text, trimming the NUL
// padding of the fixed size ID buffer. IDs that are not valid hex are
// returned as they are.
func decodeDeviceID(hexID string) string {
	decoded, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	id := strings.TrimRight(string(decoded), "\x00")
	if id == "" {
		return hexID
	}
	return id
}

// isHardwareDevice reports whether a decoded ID names a physical device. ALSA
// hardware IDs look like ":X,Y"; other platforms only list real devices.
func isHardwareDevice(goos, id string) bool {
	if goos == "linux" {
		return strings.Contains(id, ":") && strings.Contains(id, ",")
	}
	return true
}
