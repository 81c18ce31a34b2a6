package radio

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens the driver's serial port from the shared device
// configuration. Drivers use this so every backend honors the same
// device.path/baudrate/flow_control settings.
func OpenSerial(cfg DeviceConfig) (serial.Port, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("radio: device.path is required")
	}
	baud := cfg.Baudrate
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	if cfg.FlowControl == "hardware" {
		// go.bug.st/serial has no portable RTS/CTS mode flag; assert the
		// lines explicitly so CC26x2-style adapters unstick.
		if err := port.SetRTS(true); err != nil {
			port.Close()
			return nil, fmt.Errorf("set rts on %s: %w", cfg.Path, err)
		}
	}
	return port, nil
}
