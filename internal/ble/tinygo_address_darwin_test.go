package ble

import (
	"errors"
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestSetRandomAddressUnsupported(t *testing.T) {
	mac, err := bluetooth.ParseMAC("C1:22:33:44:55:66")
	if err != nil {
		t.Fatalf("ParseMAC() error = %v", err)
	}
	if err := setRandomAddress(nil, mac); !errors.Is(err, ErrUnsupported) {
		t.Errorf("setRandomAddress() error = %v, want ErrUnsupported", err)
	}
}
