package alert

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// outputPin is the part of gpio.PinIO a cue needs.
type outputPin interface {
	Out(l gpio.Level) error
}

// GPIOCue pulses a GPIO pin (LED, buzzer) for a fixed duration.
type GPIOCue struct {
	name  string
	pin   outputPin
	pulse time.Duration
	mu    sync.Mutex
}

// NewGPIOCue initializes the periph host drivers and claims the named pin.
func NewGPIOCue(pinName string, pulse time.Duration) (*GPIOCue, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", pinName)
	}
	return newGPIOCue(pinName, pin, pulse)
}

func newGPIOCue(name string, pin outputPin, pulse time.Duration) (*GPIOCue, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("set pin %s low: %w", name, err)
	}
	return &GPIOCue{name: name, pin: pin, pulse: pulse}, nil
}

func (g *GPIOCue) Name() string {
	return "gpio:" + g.name
}

// Play drives the pin high for the pulse duration. Overlapping pulses are serialized.
func (g *GPIOCue) Play() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("set pin %s high: %w", g.name, err)
	}
	time.Sleep(g.pulse)
	if err := g.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("set pin %s low: %w", g.name, err)
	}
	return nil
}
