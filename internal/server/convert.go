package server

import (
	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-portal/internal/portal"
	"github.com/teslashibe/go-portal/internal/protocol"
)

func vec3(v r3.Vector) protocol.Vec3 {
	return protocol.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

// stateData flattens a tick snapshot into the wire format
func stateData(st portal.State) protocol.StateData {
	b := st.Projection.Bounds
	data := protocol.StateData{
		Tick:    st.Tick,
		Eye:     vec3(st.Eye),
		Target:  vec3(st.Rig.Target),
		Radius:  st.Rig.Radius,
		Polar:   st.Rig.Polar,
		Azimuth: st.Rig.Azimuth,
		Bounds: protocol.BoundsData{
			Left:   b.Left,
			Right:  b.Right,
			Bottom: b.Bottom,
			Top:    b.Top,
			Near:   b.Near,
			Far:    b.Far,
		},
		Viewport:  st.Viewport,
		Rejected:  st.Rejected,
		PoseAlive: st.PoseAlive,
	}
	if st.Face != nil {
		data.Face = &protocol.FaceData{X: st.Face.X, Y: st.Face.Y}
	}
	return data
}
