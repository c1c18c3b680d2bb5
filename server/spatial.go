package main

import (
	"math"
	"math/rand"
)

// Direction is one of the four grid headings
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// ParseDirection returns the direction for s, or false if s is not one
func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(s); d {
	case DirUp, DirDown, DirLeft, DirRight:
		return d, true
	}
	return "", false
}

// Opposite returns the 180° reversal of d
func (d Direction) Opposite() Direction {
	switch d {
	case DirUp:
		return DirDown
	case DirDown:
		return DirUp
	case DirLeft:
		return DirRight
	case DirRight:
		return DirLeft
	}
	return d
}

// IsOpposite reports whether a and b point in exactly opposite directions
func IsOpposite(a, b Direction) bool {
	return a != b && a.Opposite() == b
}

// Point is a grid-aligned world position
type Point struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// World describes the bounded square the snakes live in
type World struct {
	Size int // side length, exclusive upper bound on both axes
	Grid int // quantization step
}

// Snap rounds v to the nearest multiple of the grid step
func (w World) Snap(v float64) int {
	return int(math.Floor(v/float64(w.Grid)+0.5)) * w.Grid
}

// Contains reports whether p lies inside [0, Size) on both axes
func (w World) Contains(p Point) bool {
	return p.X >= 0 && p.X < w.Size && p.Y >= 0 && p.Y < w.Size
}

// Step moves p one grid cell in direction d
func (w World) Step(p Point, d Direction) Point {
	switch d {
	case DirUp:
		p.Y -= w.Grid
	case DirDown:
		p.Y += w.Grid
	case DirLeft:
		p.X -= w.Grid
	case DirRight:
		p.X += w.Grid
	}
	return p
}

// spawnMargin keeps fresh spawns away from the walls
func spawnMargin(grid int) int {
	return grid * 3
}

// RandomPoint returns a grid-aligned point at least the spawn margin from
// every wall, leaving reserveBelow extra cells free under it so a body
// hanging downward stays inside the map.
func (w World) RandomPoint(rng *rand.Rand, reserveBelow int) Point {
	margin := spawnMargin(w.Grid)
	maxX := w.Size - margin - w.Grid
	maxY := w.Size - margin - w.Grid - reserveBelow*w.Grid
	return Point{
		X: w.randomCoord(rng, margin, maxX),
		Y: w.randomCoord(rng, margin, maxY),
	}
}

func (w World) randomCoord(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	// lo and hi are grid multiples, so the snapped value stays in range
	return w.Snap(float64(lo) + rng.Float64()*float64(hi-lo))
}

// BodyRef identifies one segment of one snake in the occupancy grid
type BodyRef struct {
	Owner int // index into the snake list the grid was built from
	Seg   int // segment index, 0 = head
}

// SpatialGrid indexes snake segments by grid cell for collision queries.
// Refs within a cell keep insertion order.
type SpatialGrid struct {
	cells map[Point][]BodyRef
}

// NewSpatialGrid creates an empty grid
func NewSpatialGrid() *SpatialGrid {
	return &SpatialGrid{cells: make(map[Point][]BodyRef)}
}

// Clear resets all cells (keeps allocated capacity)
func (g *SpatialGrid) Clear() {
	for k, v := range g.cells {
		g.cells[k] = v[:0]
	}
}

// Insert adds a segment reference at the given cell
func (g *SpatialGrid) Insert(p Point, ref BodyRef) {
	g.cells[p] = append(g.cells[p], ref)
}

// Query returns every segment reference occupying p
func (g *SpatialGrid) Query(p Point) []BodyRef {
	return g.cells[p]
}
