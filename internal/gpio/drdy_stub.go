//go:build !linux

package gpio

import "errors"

func OpenDataReady(chip string, offset int) (*DataReady, error) {
	if err := validate(chip, offset); err != nil {
		return nil, err
	}
	return nil, errors.New("gpio: data-ready interrupt not supported on this platform")
}
