// Package transport provides osdp.Channel implementations: a real UART
// backed by a raw termios serial line, and an in-memory loopback used by
// the simulate subcommand and integration tests.
package transport

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	serial "github.com/daedaluz/goserial"
)

// pollInterval is how long SerialChannel.Recv waits for input before
// returning zero bytes. The engine's Refresh loop is expected to be
// called on its own tick (cmd/osdpd/serve.go), so this just bounds how
// long a single Recv call can block.
const pollInterval = 2 * time.Millisecond

var baudToCFlag = map[int]serial.CFlag{
	9600:   serial.B9600,
	38400:  serial.B38400,
	115200: serial.B115200,
}

// SerialChannel adapts a github.com/daedaluz/goserial *serial.Port to the
// osdp.Channel interface: raw mode, no flow control, 8N1, the baud rate
// spec.md §6 allows.
type SerialChannel struct {
	port *serial.Port
}

// OpenSerial opens path at baud and puts the line into raw mode. baud must
// be one of the rates osdp.ValidBaudRates enumerates.
func OpenSerial(path string, baud int) (*SerialChannel, error) {
	cflag, ok := baudToCFlag[baud]
	if !ok {
		return nil, fmt.Errorf("transport: unsupported baud rate %d", baud)
	}

	opts := serial.NewOptions().SetReadTimeout(pollInterval)
	port, err := serial.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: get attrs: %w", err)
	}
	attrs.MakeRaw()
	attrs.Cflag &^= serial.CBAUD
	attrs.Cflag |= cflag | serial.CS8 | serial.CLOCAL | serial.CREAD
	attrs.Iflag &^= serial.IXON | serial.IXOFF | serial.IXANY
	attrs.Cflag &^= serial.CRTSCTS

	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set attrs: %w", err)
	}

	return &SerialChannel{port: port}, nil
}

// Recv satisfies osdp.Channel: it waits up to pollInterval for bytes and
// returns zero (no error) on timeout, since the engine treats "nothing
// available yet" as a normal, non-blocking poll result.
func (s *SerialChannel) Recv(buf []byte) (int, error) {
	n, err := s.port.Read(buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ETIMEDOUT) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Send satisfies osdp.Channel.
func (s *SerialChannel) Send(buf []byte) (int, error) {
	return s.port.Write(buf)
}

// Flush satisfies osdp.Channel, discarding unread input and unsent output.
func (s *SerialChannel) Flush() error {
	return s.port.Flush(serial.TCIOFLUSH)
}

// Close releases the underlying file descriptor.
func (s *SerialChannel) Close() error {
	return s.port.Close()
}
