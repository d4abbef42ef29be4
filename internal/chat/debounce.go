package chat

import (
	"sync"
	"time"
)

// Debouncer держит не больше одного отложенного вызова: каждый Trigger отменяет прежний
// и планирует заново, так что серия вызовов сворачивается в один через delay после последнего.
type Debouncer struct {
	clock Clock
	delay time.Duration

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

func NewDebouncer(clock Clock, delay time.Duration) *Debouncer {
	return &Debouncer{clock: clock, delay: delay}
}

// Trigger отменяет отложенный вызов и планирует fn через delay.
func (d *Debouncer) Trigger(fn func()) {
	d.TriggerAfter(d.delay, fn)
}

// TriggerAfter — Trigger со своей задержкой для этого вызова.
func (d *Debouncer) TriggerAfter(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	gen := d.gen
	d.timer = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.gen != gen {
			// Отменён, когда таймер уже сработал.
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel снимает отложенный вызов и сообщает, был ли он.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Debouncer) stopLocked() bool {
	d.gen++
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

// Pending — есть запланированный вызов.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
