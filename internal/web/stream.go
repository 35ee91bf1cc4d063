package web

import (
	"math"
	"sync"
)

// OrientationBroadcaster fans orientation views out to stream listeners. It keeps the most recent
// value so a new subscriber gets an immediate sample. Slow subscribers drop values.
type OrientationBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan OrientationView
	nextID   int
	last     OrientationView
	haveLast bool

	// alpha in (0,1] low-pass filters pitch and roll for display; 0 disables.
	alpha       float64
	smoothMu    sync.Mutex
	pitchSmooth float64
	rollSmooth  float64
	haveSmooth  bool
}

func NewOrientationBroadcaster(smoothingAlpha float64) *OrientationBroadcaster {
	if smoothingAlpha < 0 || smoothingAlpha > 1 {
		smoothingAlpha = 0
	}
	return &OrientationBroadcaster{
		subs:  make(map[int]chan OrientationView),
		alpha: smoothingAlpha,
	}
}

func (b *OrientationBroadcaster) Subscribe(buffer int) (int, <-chan OrientationView) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan OrientationView, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *OrientationBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *OrientationBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *OrientationBroadcaster) Publish(v OrientationView) {
	if b == nil {
		return
	}
	if b.alpha > 0 && v.Valid {
		b.smoothMu.Lock()
		if !b.haveSmooth {
			b.pitchSmooth, b.rollSmooth = v.PitchDeg, v.RollDeg
			b.haveSmooth = true
		} else {
			b.pitchSmooth += b.alpha * (v.PitchDeg - b.pitchSmooth)
			// Roll wraps at ±180; filter along the short arc.
			b.rollSmooth = wrap180(b.rollSmooth + b.alpha*math.Remainder(v.RollDeg-b.rollSmooth, 360))
		}
		v.PitchDeg, v.RollDeg = b.pitchSmooth, b.rollSmooth
		b.smoothMu.Unlock()
	} else if !v.Valid {
		b.smoothMu.Lock()
		b.haveSmooth = false
		b.smoothMu.Unlock()
	}

	// Held for write so Unsubscribe cannot close a channel mid-send.
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
	b.last = v
	b.haveLast = true
	b.mu.Unlock()
}

// wrap180 folds degrees into (-180, 180].
func wrap180(deg float64) float64 {
	d := math.Remainder(deg, 360)
	if d <= -180 {
		d += 360
	}
	return d
}
