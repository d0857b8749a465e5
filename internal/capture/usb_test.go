package capture

import (
	"testing"

	"github.com/google/gousb"
)

// Note: probing real devices requires hardware; these tests cover descriptor matching only

func TestIsVideoClass(t *testing.T) {
	tests := []struct {
		name string
		desc *gousb.DeviceDesc
		want bool
	}{
		{
			name: "device class video",
			desc: &gousb.DeviceDesc{Class: gousb.ClassVideo},
			want: true,
		},
		{
			name: "video interface on composite device",
			desc: &gousb.DeviceDesc{
				Class: gousb.ClassPerInterface,
				Configs: map[int]gousb.ConfigDesc{
					1: {Interfaces: []gousb.InterfaceDesc{
						{AltSettings: []gousb.InterfaceSetting{{Class: gousb.ClassAudio}}},
						{AltSettings: []gousb.InterfaceSetting{{Class: gousb.ClassVideo}}},
					}},
				},
			},
			want: true,
		},
		{
			name: "hid only",
			desc: &gousb.DeviceDesc{
				Class: gousb.ClassPerInterface,
				Configs: map[int]gousb.ConfigDesc{
					1: {Interfaces: []gousb.InterfaceDesc{
						{AltSettings: []gousb.InterfaceSetting{{Class: gousb.ClassHID}}},
					}},
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isVideoClass(tt.desc); got != tt.want {
				t.Errorf("isVideoClass() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoDeviceString(t *testing.T) {
	d := VideoDevice{Bus: 1, Address: 4, Vendor: 0x046d, Product: 0x0825}
	if got, want := d.String(), "001.004 046d:0825"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
