package housekeeping

// history is a fixed capacity ring of readings, oldest overwritten first
type history struct {
	buf  []Reading
	next int
	full bool
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{buf: make([]Reading, capacity)}
}

// Append adds r, evicting the oldest reading if the ring is full
func (h *history) Append(r Reading) {
	h.buf[h.next] = r
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// Contiguous returns a copy of the readings, oldest first
func (h *history) Contiguous() []Reading {
	if !h.full {
		return append([]Reading(nil), h.buf[:h.next]...)
	}
	out := make([]Reading, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}
