package broadcast

import "github.com/nerrad567/coldwatch-core/internal/telemetry"

// ring keeps the last cap readings of one device.
type ring struct {
	buf   []telemetry.Reading
	next  int
	count int
}

func newRing(size int) *ring {
	return &ring{buf: make([]telemetry.Reading, size)}
}

func (r *ring) push(reading telemetry.Reading) {
	r.buf[r.next] = reading
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// last returns up to n of the newest readings, oldest first. n <= 0 means all.
func (r *ring) last(n int) []telemetry.Reading {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]telemetry.Reading, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := range n {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
