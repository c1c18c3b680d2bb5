package main

import "strconv"

// spawnFood creates a pellet at a random spot away from the walls
func (e *Engine) spawnFood() FoodItem {
	return e.foodAt(e.world.RandomPoint(e.rng, 0))
}

func (e *Engine) foodAt(p Point) FoodItem {
	id := "f" + strconv.FormatUint(e.nextFoodID, 10)
	e.nextFoodID++
	return FoodItem{ID: id, X: p.X, Y: p.Y}
}

// initFood replaces the food list with a fresh full set
func (e *Engine) initFood() {
	e.food = e.food[:0]
	e.replenishFood()
}

// replenishFood tops the food list up to the target count
func (e *Engine) replenishFood() {
	for len(e.food) < e.cfg.FoodCount {
		e.food = append(e.food, e.spawnFood())
	}
}

// eatFood removes the first pellet within reach of head and reports
// whether there was one
func (e *Engine) eatFood(head Point) bool {
	for i, f := range e.food {
		if FoodHit(head, Point{X: f.X, Y: f.Y}, e.world.Grid) {
			e.food = append(e.food[:i], e.food[i+1:]...)
			return true
		}
	}
	return false
}

// dropFood scatters pellets along a dead snake's body, on every other
// segment that is still inside the map, up to the drop cap
func (e *Engine) dropFood(body []Point) {
	limit := e.cfg.FoodCount + e.cfg.FoodDropCap
	for i := 0; i < len(body); i += 2 {
		if len(e.food) >= limit {
			return
		}
		if !e.world.Contains(body[i]) {
			continue
		}
		e.food = append(e.food, e.foodAt(body[i]))
	}
}
