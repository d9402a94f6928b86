package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// CoreBluetooth always advertises with an OS-managed address.
func setRandomAddress(a *bluetooth.Adapter, mac bluetooth.MAC) error {
	return fmt.Errorf("random address %s: %w", mac, ErrUnsupported)
}
