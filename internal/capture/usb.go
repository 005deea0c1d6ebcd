package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/gousb"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// XVF3800 USB identifiers
const (
	VendorID  = 0x38FB
	ProductID = 0x1001
)

// USBOptions selects the USB audio endpoint
type USBOptions struct {
	VendorID   uint16 `mapstructure:"vendor_id" json:"vendor_id"`
	ProductID  uint16 `mapstructure:"product_id" json:"product_id"`
	Config     int    `mapstructure:"config" json:"config" validate:"gte=1"`
	Interface  int    `mapstructure:"interface" json:"interface" validate:"gte=0"`
	AltSetting int    `mapstructure:"alt_setting" json:"alt_setting" validate:"gte=0"`
	Endpoint   int    `mapstructure:"endpoint" json:"endpoint" validate:"gte=1,lte=15"` // IN endpoint number without the direction bit
}

// DefaultUSBOptions targets the XVF3800 capture stream
func DefaultUSBOptions() USBOptions {
	return USBOptions{
		VendorID:   VendorID,
		ProductID:  ProductID,
		Config:     1,
		Interface:  1,
		AltSetting: 1,
		Endpoint:   1,
	}
}

// USBDriver reads PCM16 directly from a USB audio endpoint with gousb
type USBDriver struct{}

// Name returns "usb"
func (USBDriver) Name() string { return DriverUSB }

// Key identifies the device by vendor and product ID
func (USBDriver) Key(opts Options) string {
	return fmt.Sprintf("%s:%04x:%04x", DriverUSB, opts.USB.VendorID, opts.USB.ProductID)
}

// Available enumerates the bus without opening any device
func (USBDriver) Available(opts Options) error {
	ctx, err := newUSBContext()
	if err != nil {
		return err
	}
	defer ctx.Close()

	found := false
	_, err = ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(opts.USB.VendorID) && desc.Product == gousb.ID(opts.USB.ProductID) {
			found = true
		}
		return false
	})

	if !found {
		if err != nil {
			return fmt.Errorf("%w: usb enumerate: %w", sensing.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("%w: usb device %04x:%04x not found",
			sensing.ErrDeviceUnavailable, opts.USB.VendorID, opts.USB.ProductID)
	}
	return nil
}

// Open opens the device and claims the capture interface
func (USBDriver) Open(_ context.Context, cfg sensing.Config, opts Options, logger *slog.Logger) (Device, error) {
	usbCtx, err := newUSBContext()
	if err != nil {
		return nil, err
	}

	u := &USBDevice{
		cfg:    cfg,
		opts:   opts.USB,
		logger: logger,
		ctx:    usbCtx,
	}

	if err := u.open(); err != nil {
		u.Close()
		return nil, err
	}

	logger.Info("USB capture device opened",
		"vendor_id", fmt.Sprintf("0x%04X", opts.USB.VendorID),
		"product_id", fmt.Sprintf("0x%04X", opts.USB.ProductID),
		"interface", opts.USB.Interface,
		"endpoint", opts.USB.Endpoint,
	)
	return u, nil
}

// newUSBContext initialises libusb. gousb panics when libusb cannot start,
// for example in containers without usbfs.
func newUSBContext() (ctx *gousb.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: libusb init: %v", sensing.ErrDeviceUnavailable, r)
		}
	}()
	return gousb.NewContext(), nil
}

// USBDevice streams from one IN endpoint
type USBDevice struct {
	cfg    sensing.Config
	opts   USBOptions
	logger *slog.Logger

	mu      sync.Mutex
	ctx     *gousb.Context
	dev     *gousb.Device
	config  *gousb.Config
	intf    *gousb.Interface
	ep      *gousb.InEndpoint
	packet  []byte
	pending []byte
	running bool
}

func (u *USBDevice) open() error {
	dev, err := u.ctx.OpenDeviceWithVIDPID(gousb.ID(u.opts.VendorID), gousb.ID(u.opts.ProductID))
	if err != nil {
		return fmt.Errorf("%w: open usb device: %w", sensing.ErrDeviceUnavailable, err)
	}
	if dev == nil {
		return fmt.Errorf("%w: usb device %04x:%04x not found",
			sensing.ErrDeviceUnavailable, u.opts.VendorID, u.opts.ProductID)
	}
	u.dev = dev

	// Auto-detach kernel driver if attached
	if err := dev.SetAutoDetach(true); err != nil {
		u.logger.Debug("SetAutoDetach failed (non-fatal)", "error", err)
	}

	u.config, err = dev.Config(u.opts.Config)
	if err != nil {
		return fmt.Errorf("%w: usb config %d: %w", sensing.ErrDeviceUnavailable, u.opts.Config, err)
	}

	u.intf, err = u.config.Interface(u.opts.Interface, u.opts.AltSetting)
	if err != nil {
		return fmt.Errorf("%w: usb interface %d.%d: %w",
			sensing.ErrDeviceUnavailable, u.opts.Interface, u.opts.AltSetting, err)
	}

	u.ep, err = u.intf.InEndpoint(u.opts.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: usb endpoint %d: %w", sensing.ErrDeviceUnavailable, u.opts.Endpoint, err)
	}

	u.packet = make([]byte, max(u.ep.Desc.MaxPacketSize, 512))
	return nil
}

// Start enables reads
func (u *USBDevice) Start(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.ep == nil {
		return sensing.ErrClosed
	}
	u.running = true
	u.pending = u.pending[:0]
	return nil
}

// Read accumulates endpoint transfers until one frame of PCM16 is available
func (u *USBDevice) Read(ctx context.Context, buf []float64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.running || u.ep == nil {
		return fmt.Errorf("usb device not running")
	}

	need := len(buf) * 2
	for len(u.pending) < need {
		n, err := u.ep.ReadContext(ctx, u.packet)
		if err != nil {
			return fmt.Errorf("usb read: %w", err)
		}
		u.pending = append(u.pending, u.packet[:n]...)
	}

	sensing.DecodePCM16(u.pending[:need], buf[:0])
	u.pending = append(u.pending[:0], u.pending[need:]...)
	return nil
}

// Stop disables reads. In-flight transfers end with their context.
func (u *USBDevice) Stop() error {
	u.mu.Lock()
	u.running = false
	u.mu.Unlock()
	return nil
}

// Close releases the interface, configuration, device and context
func (u *USBDevice) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.running = false
	u.ep = nil

	if u.intf != nil {
		u.intf.Close()
		u.intf = nil
	}
	if u.config != nil {
		u.config.Close()
		u.config = nil
	}
	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}
	if u.ctx != nil {
		u.ctx.Close()
		u.ctx = nil
	}

	return nil
}

// Name returns "usb"
func (u *USBDevice) Name() string { return DriverUSB }
