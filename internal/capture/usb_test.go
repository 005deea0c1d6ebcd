package capture

import (
	"context"
	"testing"
)

func TestDefaultUSBOptions(t *testing.T) {
	opts := DefaultUSBOptions()

	if opts.VendorID != VendorID {
		t.Errorf("expected vendor ID 0x%04X, got 0x%04X", VendorID, opts.VendorID)
	}
	if opts.ProductID != ProductID {
		t.Errorf("expected product ID 0x%04X, got 0x%04X", ProductID, opts.ProductID)
	}
	if opts.Config != 1 || opts.Endpoint != 1 {
		t.Errorf("unexpected endpoint selection %+v", opts)
	}
}

func TestUSBDevice_NotOpened(t *testing.T) {
	u := &USBDevice{cfg: testConfig()}

	if err := u.Start(context.Background()); err == nil {
		t.Error("expected Start to fail without an endpoint")
	}
	if err := u.Read(context.Background(), make([]float64, 8)); err == nil {
		t.Error("expected Read to fail without an endpoint")
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close() on unopened device error = %v", err)
	}
	if u.Name() != DriverUSB {
		t.Errorf("expected %s, got %s", DriverUSB, u.Name())
	}
}
