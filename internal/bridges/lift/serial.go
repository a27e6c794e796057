package lift

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// OpenSerial is the production OpenFunc. It opens the port 8N1 at
// cfg.BaudRate and applies cfg.ReadTimeout so reads return (0, nil) when the
// line is idle.
func OpenSerial(cfg ChannelConfig) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w%s", ErrConnectFailed, cfg.Port, err, availablePorts(ListSerialPorts))
	}

	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: set read timeout: %w", ErrConnectFailed, err)
	}

	return p, nil
}

// ListSerialPorts returns the serial ports visible to the host.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// availablePorts renders the host's ports as an error suffix so a failed
// open names the alternatives. Listing failures add nothing.
func availablePorts(list func() ([]string, error)) string {
	ports, err := list()
	if err != nil {
		return ""
	}
	if len(ports) == 0 {
		return " (no serial ports found)"
	}
	return " (available: " + strings.Join(ports, ", ") + ")"
}
