package sensor

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Opener opens a duplex channel to the device at the given address.
type Opener func(address string) (io.ReadWriteCloser, error)

// Attempt records the outcome of trying one candidate address.
type Attempt struct {
	Address string
	Err     error
}

// Result is the outcome of device discovery. Channel is nil when no
// candidate could be opened; Attempts lists every try in order.
type Result struct {
	Channel  io.ReadWriteCloser
	Address  string
	Attempts []Attempt
}

// Found reports whether a channel was opened.
func (r Result) Found() bool {
	return r.Channel != nil
}

// Discover tries candidates in order and keeps the first one that opens.
// Absence of a device is a normal outcome, not an error.
func Discover(candidates []string, open Opener) Result {
	var res Result
	for _, address := range candidates {
		ch, err := open(address)
		res.Attempts = append(res.Attempts, Attempt{Address: address, Err: err})
		if err != nil {
			continue
		}
		res.Channel = ch
		res.Address = address
		return res
	}
	return res
}

// SerialOpener opens serial ports at the given baud rate. readTimeout bounds
// every Read; settle waits for boards that reset when the port opens.
func SerialOpener(baud int, readTimeout, settle time.Duration) Opener {
	return func(address string) (io.ReadWriteCloser, error) {
		port, err := serial.Open(address, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", address, err)
		}
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", address, err)
		}
		if settle > 0 {
			time.Sleep(settle)
		}
		if err := port.ResetInputBuffer(); err != nil {
			port.Close()
			return nil, fmt.Errorf("reset input buffer on %s: %w", address, err)
		}
		return port, nil
	}
}
