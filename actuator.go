package main

import (
	"fmt"
	"log"
	"os"
	"time"
)

// FlashPin is the single digital output driving the dispenser trigger (the
// flash/relay line). Implementations must tolerate repeated On/Off calls.
type FlashPin interface {
	On() error
	Off() error
}

// Pin and timing configuration. GPIO 4 is the flash LED line on ESP32-CAM
// style boards; the on/off durations match the dispenser's expected pulse
// shape.
const (
	flashGPIO        = 4
	pulseOnDuration  = 200 * time.Millisecond
	pulseOffDuration = 300 * time.Millisecond
	bootIndicateHold = 3 * time.Second
)

// sysfsPin drives a GPIO line through the sysfs value file.
type sysfsPin struct {
	valuePath string
}

// NewSysfsPin returns a FlashPin for the given GPIO number. The line is
// assumed to be exported and set as an output by the platform.
func NewSysfsPin(gpio int) FlashPin {
	return &sysfsPin{valuePath: fmt.Sprintf("/sys/class/gpio/gpio%d/value", gpio)}
}

func (p *sysfsPin) On() error {
	if err := os.WriteFile(p.valuePath, []byte("1"), 0644); err != nil {
		return fmt.Errorf("pin on: %w", err)
	}
	return nil
}

func (p *sysfsPin) Off() error {
	if err := os.WriteFile(p.valuePath, []byte("0"), 0644); err != nil {
		return fmt.Errorf("pin off: %w", err)
	}
	return nil
}

// PulseDriver executes bounded pulse sequences on the output pin.
type PulseDriver struct {
	pin         FlashPin
	onDuration  time.Duration
	offDuration time.Duration
}

// NewPulseDriver creates a driver with the standard pulse timings.
func NewPulseDriver(pin FlashPin) *PulseDriver {
	return &PulseDriver{
		pin:         pin,
		onDuration:  pulseOnDuration,
		offDuration: pulseOffDuration,
	}
}

// Pulse drives count on/off cycles. Any pin error aborts the sequence and the
// whole run is reported as a failure; partial progress is not surfaced.
func (d *PulseDriver) Pulse(count int) error {
	for i := 0; i < count; i++ {
		if err := d.pin.On(); err != nil {
			return fmt.Errorf("pulse %d/%d: %w", i+1, count, err)
		}
		time.Sleep(d.onDuration)
		if err := d.pin.Off(); err != nil {
			return fmt.Errorf("pulse %d/%d: %w", i+1, count, err)
		}
		time.Sleep(d.offDuration)
	}
	return nil
}

// IndicateBoot holds the flash on for a few seconds so a watcher can see the
// device (re)started. Failures are logged only; boot continues regardless.
func (d *PulseDriver) IndicateBoot() {
	log.Println("INFO: Indicating reset with flash LED...")
	if err := d.pin.On(); err != nil {
		log.Printf("ERROR: Could not indicate reset with flash: %v", err)
		return
	}
	time.Sleep(bootIndicateHold)
	if err := d.pin.Off(); err != nil {
		log.Printf("ERROR: Could not indicate reset with flash: %v", err)
		return
	}
	log.Println("INFO: Reset indication complete")
}
