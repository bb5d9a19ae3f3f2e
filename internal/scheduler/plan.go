package scheduler

import (
	"math"

	"github.com/golang/geo/r2"

	"tileview/internal/projection"
)

// Index addresses a tile column and row at an implied zoom.
type Index struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

// Rect is the half-open tile range [XFirst, XEnd) x [YFirst, YEnd).
type Rect struct {
	XFirst uint32 `json:"x_first"`
	YFirst uint32 `json:"y_first"`
	XEnd   uint32 `json:"x_end"`
	YEnd   uint32 `json:"y_end"`
}

func (r Rect) Empty() bool { return r.XEnd <= r.XFirst || r.YEnd <= r.YFirst }

func (r Rect) Contains(x, y uint32) bool {
	return x >= r.XFirst && x < r.XEnd && y >= r.YFirst && y < r.YEnd
}

func (r Rect) Len() int {
	if r.Empty() {
		return 0
	}
	return int(r.XEnd-r.XFirst) * int(r.YEnd-r.YFirst)
}

// VisibleRect returns the tiles a viewport touches. The viewport is given in
// world pixels at zoom; the result is clamped to the grid.
func VisibleRect(viewport r2.Rect, zoom uint32, tileSize int, grid projection.Grid) Rect {
	if viewport.IsEmpty() || tileSize <= 0 {
		return Rect{}
	}
	size := float64(tileSize)
	return Rect{
		XFirst: clampIndex(math.Floor(viewport.X.Lo/size), grid.Columns(zoom)),
		YFirst: clampIndex(math.Floor(viewport.Y.Lo/size), grid.Rows(zoom)),
		XEnd:   clampIndex(math.Ceil(viewport.X.Hi/size), grid.Columns(zoom)),
		YEnd:   clampIndex(math.Ceil(viewport.Y.Hi/size), grid.Rows(zoom)),
	}
}

func clampIndex(v float64, count uint32) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= float64(count) {
		return count
	}
	return uint32(v)
}

// SpiralOrder lists every index of r, starting at its center and walking
// outward in rings: right 1, down 1, left 2, up 2, right 3 and so on.
// Positions of the walk that fall outside r are skipped.
func SpiralOrder(r Rect) []Index {
	total := r.Len()
	if total == 0 {
		return nil
	}
	order := make([]Index, 0, total)

	x := int64(r.XFirst) + (int64(r.XEnd-r.XFirst)-1)/2
	y := int64(r.YFirst) + (int64(r.YEnd-r.YFirst)-1)/2
	visit := func() {
		if x >= 0 && y >= 0 && r.Contains(uint32(x), uint32(y)) {
			order = append(order, Index{X: uint32(x), Y: uint32(y)})
		}
	}
	visit()

	directions := [4][2]int64{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
	for leg := 0; len(order) < total; leg++ {
		d := directions[leg%4]
		steps := leg/2 + 1
		for i := 0; i < steps; i++ {
			x += d[0]
			y += d[1]
			visit()
		}
	}
	return order
}
