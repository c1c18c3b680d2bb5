package main

// StrokeHistory is a fixed-capacity circular buffer of finished strokes.
// When full, each append overwrites the oldest stroke. It is owned by the
// relay and only touched from the hub loop.
type StrokeHistory struct {
	data     []StrokeRecord
	capacity int
	// start is the position of the oldest stroke; count is how many are
	// stored. The newest stroke sits at (start+count-1) % capacity.
	start int
	count int
	// total counts every stroke ever appended, including evicted ones
	total uint64
}

// NewStrokeHistory creates a history holding at most capacity strokes
func NewStrokeHistory(capacity int) *StrokeHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &StrokeHistory{
		data:     make([]StrokeRecord, capacity),
		capacity: capacity,
	}
}

// Append stores s, evicting the oldest stroke if the buffer is full
func (h *StrokeHistory) Append(s StrokeRecord) {
	if h.count < h.capacity {
		h.data[(h.start+h.count)%h.capacity] = s
		h.count++
	} else {
		h.data[h.start] = s
		h.start = (h.start + 1) % h.capacity
	}
	h.total++
}

// Strokes returns the stored strokes, oldest first
func (h *StrokeHistory) Strokes() []StrokeRecord {
	out := make([]StrokeRecord, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.data[(h.start+i)%h.capacity]
	}
	return out
}

// Clear drops every stored stroke
func (h *StrokeHistory) Clear() {
	for i := range h.data {
		h.data[i] = StrokeRecord{}
	}
	h.start = 0
	h.count = 0
}

// Len returns the number of stored strokes
func (h *StrokeHistory) Len() int { return h.count }

// Total returns the number of strokes ever appended
func (h *StrokeHistory) Total() uint64 { return h.total }
