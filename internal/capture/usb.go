package capture

import (
	"fmt"

	"github.com/google/gousb"
)

// VideoDevice describes a USB video class device seen on the bus
type VideoDevice struct {
	Bus     int
	Address int
	Vendor  gousb.ID
	Product gousb.ID
}

func (d VideoDevice) String() string {
	return fmt.Sprintf("%03d.%03d %s:%s", d.Bus, d.Address, d.Vendor, d.Product)
}

// ProbeUVC lists attached USB video class devices without opening them
func ProbeUVC() (devices []VideoDevice, err error) {
	defer func() {
		// gousb panics when libusb cannot initialise
		if r := recover(); r != nil {
			err = fmt.Errorf("libusb init: %v", r)
		}
	}()

	ctx := gousb.NewContext()
	defer ctx.Close()

	opened, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if isVideoClass(desc) {
			devices = append(devices, VideoDevice{
				Bus:     desc.Bus,
				Address: desc.Address,
				Vendor:  desc.Vendor,
				Product: desc.Product,
			})
		}
		return false
	})
	for _, dev := range opened {
		dev.Close()
	}

	return devices, err
}

// isVideoClass reports whether the device or any of its interfaces is UVC
func isVideoClass(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassVideo {
		return true
	}

	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassVideo {
					return true
				}
			}
		}
	}
	return false
}
