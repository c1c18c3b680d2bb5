package main

// FoodHit reports whether a head at h reaches food at f: closer than one
// grid step on both axes
func FoodHit(h, f Point, grid int) bool {
	return abs(h.X-f.X) < grid && abs(h.Y-f.Y) < grid
}

// FindCollision returns the index of the snake whose body the head of
// snakes[self] runs into, scanning snakes in order. Other snakes are tested
// from their head, snakes[self] from segment 1. Returns -1 when clear.
func FindCollision(grid *SpatialGrid, self int, head Point) int {
	hit := -1
	for _, ref := range grid.Query(head) {
		if ref.Owner == self && ref.Seg == 0 {
			continue
		}
		if hit == -1 || ref.Owner < hit {
			hit = ref.Owner
		}
	}
	return hit
}

// BuildBodyGrid indexes every segment of the given bodies
func BuildBodyGrid(grid *SpatialGrid, bodies [][]Point) {
	grid.Clear()
	for owner, body := range bodies {
		for seg, p := range body {
			grid.Insert(p, BodyRef{Owner: owner, Seg: seg})
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
