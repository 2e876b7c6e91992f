package phy

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig holds serial port configuration
type SerialConfig struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the link to the communication processor
	Baud int

	// Read timeout (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultSerialConfig returns a default configuration for device
func DefaultSerialConfig(device string) SerialConfig {
	return SerialConfig{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// SerialPort wraps a tarm/serial port
type SerialPort struct {
	port   *serial.Port
	config SerialConfig

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// OpenSerialPort opens a serial port towards the communication processor
func OpenSerialPort(config SerialConfig) (*SerialPort, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("device is required")
	}
	if config.Baud == 0 {
		config.Baud = DefaultSerialConfig(config.Device).Baud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        config.Device,
		Baud:        config.Baud,
		ReadTimeout: config.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Device, err)
	}

	return &SerialPort{port: port, config: config}, nil
}

// Read reads data from the serial port
func (p *SerialPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	p.bytesReceived.Add(uint64(n))
	return n, err
}

// Write writes data to the serial port
func (p *SerialPort) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	p.bytesSent.Add(uint64(n))
	return n, err
}

// Flush discards unread input
func (p *SerialPort) Flush() error {
	return p.port.Flush()
}

// Close closes the serial port
func (p *SerialPort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// String returns a string representation of the port
func (p *SerialPort) String() string {
	return fmt.Sprintf("SerialPort{Device=%s, Baud=%d, Tx=%d, Rx=%d}",
		p.config.Device, p.config.Baud, p.bytesSent.Load(), p.bytesReceived.Load())
}
