package sim

import "sort"

// interval is a half-open tick range [start, end).
type interval struct {
	start, end int64
}

func (iv interval) overlaps(start, end int64) bool {
	return iv.start < end && start < iv.end
}

// planeTimeline tracks when a plane becomes free and what is booked on it.
type planeTimeline struct {
	avail        int64
	reservations []interval
}

func (pt *planeTimeline) reserve(iv interval) {
	pt.avail = max(pt.avail, iv.end)
	pt.reservations = append(pt.reservations, iv)
}

func (pt *planeTimeline) conflicts(start, end int64) bool {
	for _, iv := range pt.reservations {
		if iv.overlaps(start, end) {
			return true
		}
	}
	return false
}

func (pt *planeTimeline) prune(before int64) {
	kept := pt.reservations[:0]
	for _, iv := range pt.reservations {
		if iv.end > before {
			kept = append(kept, iv)
		}
	}
	pt.reservations = kept
}

// busTimeline is the single global command bus, kept sorted by start.
type busTimeline struct {
	reserved []interval
}

func (b *busTimeline) free(start, end int64) bool {
	// first reservation that ends after start
	i := sort.Search(len(b.reserved), func(i int) bool { return b.reserved[i].end > start })
	for ; i < len(b.reserved) && b.reserved[i].start < end; i++ {
		if b.reserved[i].overlaps(start, end) {
			return false
		}
	}
	return true
}

func (b *busTimeline) reserve(iv interval) {
	i := sort.Search(len(b.reserved), func(i int) bool { return b.reserved[i].start > iv.start })
	b.reserved = append(b.reserved, interval{})
	copy(b.reserved[i+1:], b.reserved[i:])
	b.reserved[i] = iv
}

func (b *busTimeline) prune(before int64) {
	kept := b.reserved[:0]
	for _, iv := range b.reserved {
		if iv.end > before {
			kept = append(kept, iv)
		}
	}
	b.reserved = kept
}
