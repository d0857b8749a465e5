package portal

import (
	"fmt"

	"github.com/teslashibe/go-portal/internal/frustum"
	"github.com/teslashibe/go-portal/internal/scene"
)

// Profile selects the frame geometry and asset placement for a device class
type Profile string

const (
	ProfileAuto    Profile = "auto"
	ProfileDesktop Profile = "desktop"
	ProfileTouch   Profile = "touch"
)

// ParseProfile validates a profile name
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(s); p {
	case ProfileAuto, ProfileDesktop, ProfileTouch:
		return p, nil
	case "":
		return ProfileAuto, nil
	default:
		return "", fmt.Errorf("unknown profile %q", s)
	}
}

// Resolve turns auto into a concrete profile for the given GOOS
func (p Profile) Resolve(goos string) Profile {
	if p != ProfileAuto {
		return p
	}
	switch goos {
	case "android", "ios":
		return ProfileTouch
	default:
		return ProfileDesktop
	}
}

// Frame returns the window frame for the profile
func (p Profile) Frame() frustum.Frame {
	if p == ProfileTouch {
		return frustum.TouchFrame()
	}
	return frustum.DesktopFrame()
}

// Placement returns the asset placement for the profile
func (p Profile) Placement() scene.Placement {
	if p == ProfileTouch {
		return scene.TouchPlacement()
	}
	return scene.DesktopPlacement()
}
