package kinematics

import (
	"fmt"
	"strings"
)

// ParseGeometryKind parses a configuration string into a GeometryKind.
func ParseGeometryKind(s string) (GeometryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cartesian":
		return GeometryCartesian, nil
	case "corexy":
		return GeometryCoreXY, nil
	case "corexz":
		return GeometryCoreXZ, nil
	case "coreyz":
		return GeometryCoreYZ, nil
	case "delta":
		return GeometryDelta, nil
	default:
		return GeometryCartesian, fmt.Errorf("unsupported kinematics type: %s", s)
	}
}
