package geo

import (
	"github.com/uber/h3-go/v4"
)

// CellResolution is the H3 resolution attached to location reports
// (~175m edge). The backend's matching index uses the same resolution.
const CellResolution = 9

// Cell returns the H3 index of p at CellResolution as a hex string, or ""
// when p cannot be indexed.
func Cell(p Point) string {
	return CellAt(p, CellResolution)
}

// CellAt returns the H3 index of p at resolution as a hex string.
func CellAt(p Point, resolution int) string {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), resolution)
	if err != nil {
		return ""
	}
	return cell.String()
}

// CellCenter returns the center of an H3 cell given as a hex string.
func CellCenter(index string) (Point, bool) {
	cell := h3.Cell(h3.IndexFromString(index))
	if !cell.IsValid() {
		return Point{}, false
	}
	ll, err := cell.LatLng()
	if err != nil {
		return Point{}, false
	}
	return Point{Lat: ll.Lat, Lng: ll.Lng}, true
}
