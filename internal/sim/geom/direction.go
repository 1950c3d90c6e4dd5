package geom

// Direction values are part of the wire format.
type Direction uint8

const (
	DirNone Direction = iota
	DirNorth
	DirSouth
	DirWest
	DirEast
	DirNorthEast
	DirNorthWest
	DirSouthEast
	DirSouthWest
	DirUp
	DirDown
)

var dirNames = [...]string{"NONE", "NORTH", "SOUTH", "WEST", "EAST", "NORTHEAST", "NORTHWEST", "SOUTHEAST", "SOUTHWEST", "UP", "DOWN"}

func (d Direction) Valid() bool { return int(d) < len(dirNames) }

func (d Direction) String() string {
	if !d.Valid() {
		return "INVALID"
	}
	return dirNames[d]
}

// ParseDirection accepts the names produced by String.
func ParseDirection(s string) (Direction, bool) {
	for i, n := range dirNames {
		if n == s {
			return Direction(i), true
		}
	}
	return DirNone, false
}

// Delta is the tile offset of one step. North is -Y.
func (d Direction) Delta() (dx, dy, dz int) {
	switch d {
	case DirNorth:
		return 0, -1, 0
	case DirSouth:
		return 0, 1, 0
	case DirWest:
		return -1, 0, 0
	case DirEast:
		return 1, 0, 0
	case DirNorthEast:
		return 1, -1, 0
	case DirNorthWest:
		return -1, -1, 0
	case DirSouthEast:
		return 1, 1, 0
	case DirSouthWest:
		return -1, 1, 0
	case DirUp:
		return 0, 0, 1
	case DirDown:
		return 0, 0, -1
	}
	return 0, 0, 0
}

// Planar reports whether d moves within a z level.
func (d Direction) Planar() bool { return d >= DirNorth && d <= DirSouthWest }

// Facing returns the planar direction from a to b, DirNone when equal.
func Facing(a, b Pos) Direction {
	sx, sy := sign(b.X-a.X), sign(b.Y-a.Y)
	for d := DirNorth; d <= DirSouthWest; d++ {
		dx, dy, _ := d.Delta()
		if dx == sx && dy == sy {
			return d
		}
	}
	return DirNone
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
