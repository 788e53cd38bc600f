//go:build !windows

package driver

import "errors"

// NewToomoss 需要 USB2XXX.dll，仅支持 Windows
func NewToomoss(index int, canType CanType) (CANDriver, error) {
	return nil, errors.New("toomoss adapters are only supported on windows")
}
