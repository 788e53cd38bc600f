//go:build !linux

package driver

import (
	"errors"
	"log"
)

// NewSocketCAN 仅在 Linux 上可用
func NewSocketCAN(ifname string, canFD bool, logger *log.Logger) (CANDriver, error) {
	return nil, errors.New("socketcan is only supported on linux")
}
