//go:build !darwin

package ble

import "tinygo.org/x/bluetooth"

func setRandomAddress(a *bluetooth.Adapter, mac bluetooth.MAC) error {
	return a.SetRandomAddress(mac)
}
