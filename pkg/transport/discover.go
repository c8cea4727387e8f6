package transport

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// Kind tells how a discovered programmer is reached.
type Kind string

const (
	KindSerial Kind = "serial"
	KindUSB    Kind = "usb"
	KindSim    Kind = "simulator"
)

// Programmer describes a detected programmer endpoint.
type Programmer struct {
	Kind        Kind
	Description string
	VendorID    uint16
	ProductID   uint16
	Serial      string
	Path        string
}

// Label returns a user-friendly description for the programmer.
func (p Programmer) Label() string {
	label := p.Description
	if label == "" {
		label = fmt.Sprintf("%s (%04X:%04X)", string(p.Kind), p.VendorID, p.ProductID)
	}
	if p.Path != "" {
		label += " at " + p.Path
	}
	return label
}

// Discover lists programmers visible as serial ports and as raw USB devices.
// The simulator entry is always appended so commands can run without
// hardware attached.
func Discover(ctx context.Context) ([]Programmer, error) {
	var results []Programmer

	ports, err := enumerator.GetDetailedPortsList()
	if err == nil {
		for _, p := range ports {
			if prog, ok := classifyPort(p); ok {
				results = append(results, prog)
			}
		}
	}

	usb := gousb.NewContext()
	defer usb.Close()

	_, usbErr := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if prog, ok := classifyUSBDevice(desc); ok {
			results = append(results, prog)
		}
		return false
	})

	results = append(results, Programmer{
		Kind:        KindSim,
		Description: "Simulator (no hardware)",
	})

	if err != nil {
		return results, fmt.Errorf("transport: list serial ports: %w", err)
	}
	if usbErr != nil && usbErr != gousb.ErrorAccess {
		return results, fmt.Errorf("transport: list usb devices: %w", usbErr)
	}
	return results, nil
}

func classifyPort(p *enumerator.PortDetails) (Programmer, bool) {
	if p == nil || !p.IsUSB {
		return Programmer{}, false
	}
	vid, err := strconv.ParseUint(p.VID, 16, 16)
	if err != nil {
		return Programmer{}, false
	}
	pid, err := strconv.ParseUint(p.PID, 16, 16)
	if err != nil {
		return Programmer{}, false
	}
	if vid != VendorID || pid != ProductID {
		return Programmer{}, false
	}
	desc := p.Product
	if desc == "" {
		desc = "USB Flash/EPROM Programmer"
	}
	return Programmer{
		Kind:        KindSerial,
		Description: desc,
		VendorID:    uint16(vid),
		ProductID:   uint16(pid),
		Serial:      p.SerialNumber,
		Path:        p.Name,
	}, true
}

func classifyUSBDevice(desc *gousb.DeviceDesc) (Programmer, bool) {
	if uint16(desc.Vendor) != VendorID || uint16(desc.Product) != ProductID {
		return Programmer{}, false
	}
	return Programmer{
		Kind:        KindUSB,
		Description: "USB Flash/EPROM Programmer (bulk)",
		VendorID:    VendorID,
		ProductID:   ProductID,
		Path:        fmt.Sprintf("bus %d addr %d", desc.Bus, desc.Address),
	}, true
}
