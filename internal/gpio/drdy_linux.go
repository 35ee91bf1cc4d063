//go:build linux

package gpio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// OpenDataReady requests line offset on chip (a name like "gpiochip0" or a /dev path) as a
// rising-edge input.
func OpenDataReady(chip string, offset int) (*DataReady, error) {
	if err := validate(chip, offset); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(chip, "/") {
		chip = filepath.Join("/dev", chip)
	}

	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("gpio: open %s: %w", chip, err)
	}

	d := newDataReady(nil)
	line, err := c.RequestLine(offset,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { d.notify() }),
		gpiocdev.WithConsumer("gyrofusion-drdy"),
	)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("gpio: request %s line %d: %w", chip, offset, err)
	}
	d.closer = func() error {
		return multierr.Append(line.Close(), c.Close())
	}
	return d, nil
}
