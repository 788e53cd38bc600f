package tp

import (
	"fmt"
	"time"
)

// MaxClassicFrameSize is the largest payload a 12-bit First Frame can declare.
const MaxClassicFrameSize = 4095

// Config defines the configuration for the ISO-TP Transport.
type Config struct {
	// PaddingByte, if not nil, is used to pad frames to declared length (8 or next FD size).
	PaddingByte *byte

	// Transmitter Side Timeouts
	TimeoutN_As time.Duration // Time for transmission of N_PDU on sender side
	TimeoutN_Bs time.Duration // Time until reception of FlowControl
	TimeoutN_Cs time.Duration // Time until transmission of next CF

	// Receiver Side Timeouts
	TimeoutN_Ar time.Duration // Time for transmission of N_PDU on receiver side
	TimeoutN_Br time.Duration // Time until transmission of FlowControl
	TimeoutN_Cr time.Duration // Time until reception of next CF

	// Parameters advertised in our Flow Control frames
	BlockSize int
	StMin     time.Duration

	// MaxWaitFrame (WFTMax) is the number of consecutive FC.WAIT frames
	// tolerated while sending. 0 means a single WAIT aborts the transfer.
	MaxWaitFrame int

	// TxDataMinLength forces every transmitted frame to at least this length.
	TxDataMinLength int

	// MaxFrameSize bounds both directions. Larger First Frames are answered
	// with FC.OVERFLOW and larger sends are rejected before any frame is sent.
	MaxFrameSize int

	// CanFD selects 64 byte frames and length escapes.
	CanFD         bool
	BitrateSwitch bool
}

// DefaultConfig returns the standard ISO-15765-2 default values.
func DefaultConfig() Config {
	return Config{
		PaddingByte: nil,

		TimeoutN_As: 1000 * time.Millisecond,
		TimeoutN_Bs: 1000 * time.Millisecond,
		TimeoutN_Cs: 1000 * time.Millisecond,

		TimeoutN_Ar: 1000 * time.Millisecond,
		TimeoutN_Br: 1000 * time.Millisecond,
		TimeoutN_Cr: 1000 * time.Millisecond,

		BlockSize: 0, // BlockSize 0 means unlimited
		StMin:     0,

		MaxWaitFrame:    10,
		TxDataMinLength: 0,
		MaxFrameSize:    MaxClassicFrameSize,
	}
}

// Validate checks if the configuration parameters are valid.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"N_As": c.TimeoutN_As, "N_Bs": c.TimeoutN_Bs, "N_Cs": c.TimeoutN_Cs,
		"N_Ar": c.TimeoutN_Ar, "N_Br": c.TimeoutN_Br, "N_Cr": c.TimeoutN_Cr,
	} {
		if d <= 0 {
			return fmt.Errorf("timeout %s must be positive, got %v", name, d)
		}
	}
	if c.BlockSize < 0 || c.BlockSize > 0xFF {
		return fmt.Errorf("block size must be between 0x00 and 0xFF, got %d", c.BlockSize)
	}
	if c.StMin < 0 || c.StMin > 127*time.Millisecond {
		return fmt.Errorf("stmin must be between 0 and 127ms, got %v", c.StMin)
	}
	if c.MaxWaitFrame < 0 {
		return fmt.Errorf("max wait frame must not be negative")
	}
	maxLen := 8
	if c.CanFD {
		maxLen = 64
	}
	if c.TxDataMinLength < 0 || c.TxDataMinLength > maxLen {
		return fmt.Errorf("tx data min length must be between 0 and %d, got %d", maxLen, c.TxDataMinLength)
	}
	if c.TxDataMinLength > 8 && nearestCanFdSize(c.TxDataMinLength) != c.TxDataMinLength {
		return fmt.Errorf("tx data min length %d is not a valid CAN FD length", c.TxDataMinLength)
	}
	if c.MaxFrameSize < 1 {
		return fmt.Errorf("max frame size must be positive, got %d", c.MaxFrameSize)
	}
	if c.BitrateSwitch && !c.CanFD {
		return fmt.Errorf("bitrate switch requires CAN FD")
	}
	return nil
}
