package indicators

// window is a fixed-capacity FIFO of float64 values in arrival order.
type window struct {
	buf  []float64
	head int
	n    int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{buf: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *window) len() int   { return w.n }
func (w *window) full() bool { return w.n == len(w.buf) }

// at returns the i-th oldest value.
func (w *window) at(i int) float64 {
	start := (w.head - w.n + len(w.buf)) % len(w.buf)
	return w.buf[(start+i)%len(w.buf)]
}

func (w *window) last() float64 {
	if w.n == 0 {
		return 0
	}
	return w.at(w.n - 1)
}

func (w *window) oldest() float64 {
	if w.n == 0 {
		return 0
	}
	return w.at(0)
}

func (w *window) sum() float64 {
	s := 0.0
	for i := 0; i < w.n; i++ {
		s += w.at(i)
	}
	return s
}

func (w *window) mean() float64 {
	if w.n == 0 {
		return 0
	}
	return w.sum() / float64(w.n)
}

func (w *window) max() float64 {
	m := w.at(0)
	for i := 1; i < w.n; i++ {
		if v := w.at(i); v > m {
			m = v
		}
	}
	return m
}

func (w *window) min() float64 {
	m := w.at(0)
	for i := 1; i < w.n; i++ {
		if v := w.at(i); v < m {
			m = v
		}
	}
	return m
}
