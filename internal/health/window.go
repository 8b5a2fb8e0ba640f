package health

import "github.com/nerrad567/coldwatch-core/internal/telemetry"

// window is a fixed-capacity ring of the most recent readings for one
// device, oldest first. Timestamps are strictly increasing.
type window struct {
	buf   []telemetry.Reading
	start int
	n     int
}

func newWindow(size int) *window {
	return &window{buf: make([]telemetry.Reading, size)}
}

// push appends r, evicting the oldest reading when full. It returns false
// and leaves the window unchanged if r is not newer than the latest entry.
func (w *window) push(r telemetry.Reading) bool {
	if w.n > 0 && !r.Timestamp.After(w.at(w.n-1).Timestamp) {
		return false
	}
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = r
		w.n++
		return true
	}
	w.buf[w.start] = r
	w.start = (w.start + 1) % len(w.buf)
	return true
}

func (w *window) len() int { return w.n }

// at returns the i-th oldest reading.
func (w *window) at(i int) telemetry.Reading {
	return w.buf[(w.start+i)%len(w.buf)]
}

// series extracts one value per reading, oldest first.
func (w *window) series(f func(telemetry.Reading) float64) []float64 {
	out := make([]float64, w.n)
	for i := range out {
		out[i] = f(w.at(i))
	}
	return out
}

// slope is the least-squares slope of ys against their index.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// variance is the population variance of ys.
func variance(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	var mean float64
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))
	var ss float64
	for _, y := range ys {
		d := y - mean
		ss += d * d
	}
	return ss / float64(len(ys))
}
