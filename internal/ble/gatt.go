package ble

import (
	"fmt"

	"github.com/google/uuid"
)

// LED Button Service UUIDs.
var (
	LBSServiceUUID    = uuid.MustParse("00001523-1212-efde-1523-785feabcd123")
	LBSButtonCharUUID = uuid.MustParse("00001524-1212-efde-1523-785feabcd123") // read, notify
	LBSLEDCharUUID    = uuid.MustParse("00001525-1212-efde-1523-785feabcd123") // write
)

// ButtonNotifier sends Button State notifications to the connected peer.
type ButtonNotifier interface {
	// SendButtonState notifies the peer. It returns ErrNotConnected or
	// ErrNotSubscribed when there is nobody to notify.
	SendButtonState(pressed bool) error
}

// LBSCallbacks are the application hooks of the LED Button Service.
type LBSCallbacks struct {
	// LEDWrite is called once per valid write of the LED characteristic.
	LEDWrite func(on bool)
	// ButtonRead serves reads of the Button State characteristic.
	ButtonRead func() bool
}

// EncodeBool returns the 1-byte characteristic payload for b.
func EncodeBool(b bool) []byte {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeBool parses a 1-byte characteristic payload. Any non-zero byte is true.
func DecodeBool(payload []byte) (bool, error) {
	if len(payload) != 1 {
		return false, fmt.Errorf("ble: boolean payload must be 1 byte, got %d", len(payload))
	}
	return payload[0] != 0, nil
}
