package stats

import (
	"fmt"
	"math"
	"strings"

	"thresholder/internal/domain"
)

// FutureSlots is how many slots past the view end are kept open for samples stamped
// slightly ahead of the evaluation edge.
const FutureSlots = 2

// Window is a ring of per-period statistics. The view covers the most recent Periods
// slots ending at ViewEnd; slots at or after ViewEnd accept early samples. ViewEnd only
// moves forward.
type Window struct {
	fn      domain.AggregateFunction
	period  int64
	periods int

	slots       []Statistic
	head        int   // ring index of the oldest slot
	windowStart int64 // start timestamp of the oldest slot
	viewEnd     int64
}

// NewWindow creates a window whose view ends at viewEnd.
func NewWindow(fn domain.AggregateFunction, period int64, periods int, viewEnd int64) *Window {
	w := &Window{
		fn:          fn,
		period:      period,
		periods:     periods,
		slots:       make([]Statistic, periods+FutureSlots),
		windowStart: viewEnd - int64(periods)*period,
		viewEnd:     viewEnd,
	}
	for i := range w.slots {
		w.slots[i] = NewStatistic(fn)
	}
	return w
}

// Period returns the slot width in seconds.
func (w *Window) Period() int64 { return w.period }

// Periods returns the number of slots in the view.
func (w *Window) Periods() int { return w.periods }

// ViewEnd returns the exclusive end timestamp of the view.
func (w *Window) ViewEnd() int64 { return w.viewEnd }

// WindowStart returns the start timestamp of the oldest retained slot.
func (w *Window) WindowStart() int64 { return w.windowStart }

// WindowEnd returns the exclusive end timestamp of the newest slot.
func (w *Window) WindowEnd() int64 {
	return w.windowStart + int64(len(w.slots))*w.period
}

func (w *Window) indexOf(timestamp int64) int {
	if timestamp < w.windowStart || timestamp >= w.WindowEnd() {
		return -1
	}
	offset := int((timestamp - w.windowStart) / w.period)
	return (w.head + offset) % len(w.slots)
}

// AddValue folds value into the slot covering timestamp. It returns false when the
// timestamp lies outside the retained range; such samples are discarded.
func (w *Window) AddValue(value float64, timestamp int64) bool {
	i := w.indexOf(timestamp)
	if i < 0 {
		return false
	}
	w.slots[i].Add(value)
	return true
}

// SlideTo moves the view so that it ends at the first period boundary after timestamp.
// Timestamps before the current view end leave the window unchanged.
func (w *Window) SlideTo(timestamp int64) {
	if timestamp < w.viewEnd {
		return
	}
	w.shift(int((timestamp-w.viewEnd)/w.period) + 1)
}

func (w *Window) shift(n int) {
	if n >= len(w.slots) {
		for i := range w.slots {
			w.slots[i].Reset()
		}
		w.head = 0
	} else {
		for i := 0; i < n; i++ {
			w.slots[w.head].Reset()
			w.head = (w.head + 1) % len(w.slots)
		}
	}
	w.windowStart += int64(n) * w.period
	w.viewEnd += int64(n) * w.period
}

// ViewValues returns the statistic of each view slot, oldest first. Empty slots are NaN.
func (w *Window) ViewValues() []float64 {
	values := make([]float64, w.periods)
	for i := 0; i < w.periods; i++ {
		values[i] = w.slots[(w.head+i)%len(w.slots)].Value()
	}
	return values
}

// Resize changes the number of view periods, keeping the view end and every slot that is
// still inside the resized range.
func (w *Window) Resize(periods int) {
	if periods == w.periods {
		return
	}
	resized := NewWindow(w.fn, w.period, periods, w.viewEnd)
	for i := range w.slots {
		start := w.windowStart + int64(i)*w.period
		if j := resized.indexOf(start); j >= 0 {
			resized.slots[j] = w.slots[(w.head+i)%len(w.slots)]
		}
	}
	*w = *resized
}

func (w *Window) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Window{fn=%s, period=%d, viewEnd=%d, slots=[", w.fn, w.period, w.viewEnd)
	for i := range w.slots {
		if i > 0 {
			b.WriteString(", ")
		}
		start := w.windowStart + int64(i)*w.period
		v := w.slots[(w.head+i)%len(w.slots)].Value()
		if math.IsNaN(v) {
			fmt.Fprintf(&b, "%d:-", start)
		} else {
			fmt.Fprintf(&b, "%d:%g", start, v)
		}
	}
	b.WriteString("]}")
	return b.String()
}
