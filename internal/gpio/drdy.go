// Package gpio watches the IMU data-ready interrupt line.
package gpio

import "fmt"

// DataReady delivers one tick per rising edge on the interrupt line. Edges that arrive while a
// tick is still pending are coalesced.
type DataReady struct {
	c      chan struct{}
	closer func() error
}

func newDataReady(closer func() error) *DataReady {
	return &DataReady{c: make(chan struct{}, 1), closer: closer}
}

// C returns the tick channel. It is never closed.
func (d *DataReady) C() <-chan struct{} { return d.c }

func (d *DataReady) notify() {
	select {
	case d.c <- struct{}{}:
	default:
	}
}

func (d *DataReady) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	err := d.closer()
	d.closer = nil
	return err
}

func validate(chip string, offset int) error {
	if chip == "" {
		return fmt.Errorf("gpio: chip is required")
	}
	if offset < 0 {
		return fmt.Errorf("gpio: invalid line offset %d", offset)
	}
	return nil
}
