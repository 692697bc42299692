package signal

// Window is a fixed-capacity ring of float64 samples used by the line
// processing routines (moving averages over recent magnitudes). All
// indexed access is bounds-checked; the legacy numeric code this replaces
// read past its working arrays when fed malformed line data.
type Window struct {
	name  string
	buf   []float64
	size  int
	start int
}

// NewWindow creates a window with the given capacity. The name labels
// bounds errors originating from this buffer.
func NewWindow(name string, capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{name: name, buf: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest when the window is full.
func (w *Window) Push(v float64) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	return w.size
}

// At returns the i-th oldest sample. An index outside [0, Len()) fails
// with an IndexError instead of reading out of range.
func (w *Window) At(i int) (float64, error) {
	if i < 0 || i >= w.size {
		return 0, &IndexError{Name: w.name, Index: i, Bound: w.size}
	}
	return w.buf[(w.start+i)%len(w.buf)], nil
}

// Mean returns the average of the held samples, or 0 for an empty window.
func (w *Window) Mean() float64 {
	if w.size == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.size; i++ {
		sum += w.buf[(w.start+i)%len(w.buf)]
	}
	return sum / float64(w.size)
}
