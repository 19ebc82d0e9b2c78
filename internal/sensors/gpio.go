// Package sensors polls GPIO lines for the PD's tamper and power inputs,
// feeding osdp.Engine.SetTamper/SetPower. This is recovered functionality
// (SPEC_FULL.md §6 "Tamper/power inputs"): spec.md's TAMPER/POWER flags
// otherwise have no producer anywhere in the module, since a PD engine
// running on a headless board learns its cabinet-tamper and AC-power
// state from real GPIO lines, not from the wire protocol.
package sensors

import (
	"fmt"
	"log/slog"

	"github.com/warthog618/go-gpiocdev"
)

// Engine is the subset of *osdp.Engine the monitor drives; defined here
// (rather than importing pkg/osdp directly) so this package stays
// testable against a fake without pulling in the protocol engine.
type Engine interface {
	SetTamper(active bool)
	SetPower(ok bool)
	SetReaderTamper(active bool)
}

// GPIOMonitor watches the configured tamper and power GPIO lines and
// forwards transitions to an Engine. Active-low wiring (the common case
// for tamper switches) is handled by gpiocdev.WithPullUp plus the edge
// direction: a falling edge means tamper active or power lost, a rising
// edge the reverse. Line values are never read directly.
type GPIOMonitor struct {
	tamperLine *gpiocdev.Line
	powerLine  *gpiocdev.Line
	engine     Engine
	logger     *slog.Logger
}

// Open requests the tamper and power lines (by offset) on chip and wires
// edge events straight to engine. Either offset may be negative to skip
// monitoring that input.
func Open(chip string, tamperOffset, powerOffset int, engine Engine, logger *slog.Logger) (*GPIOMonitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &GPIOMonitor{engine: engine, logger: logger}

	if tamperOffset >= 0 {
		line, err := gpiocdev.RequestLine(chip, tamperOffset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(m.onTamperEvent))
		if err != nil {
			return nil, fmt.Errorf("sensors: request tamper line %d: %w", tamperOffset, err)
		}
		m.tamperLine = line
	}

	if powerOffset >= 0 {
		line, err := gpiocdev.RequestLine(chip, powerOffset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(m.onPowerEvent))
		if err != nil {
			if m.tamperLine != nil {
				m.tamperLine.Close()
			}
			return nil, fmt.Errorf("sensors: request power line %d: %w", powerOffset, err)
		}
		m.powerLine = line
	}

	return m, nil
}

func (m *GPIOMonitor) onTamperEvent(evt gpiocdev.LineEvent) {
	active := evt.Type == gpiocdev.LineEventFallingEdge
	m.logger.Info("sensors: tamper line transition", "active", active)
	m.engine.SetTamper(active)
}

func (m *GPIOMonitor) onPowerEvent(evt gpiocdev.LineEvent) {
	// Power-good lines are typically high while mains power is present,
	// so a falling edge means power loss (ok=false).
	ok := evt.Type != gpiocdev.LineEventFallingEdge
	m.logger.Info("sensors: power line transition", "ok", ok)
	m.engine.SetPower(ok)
}

// Close releases both requested lines.
func (m *GPIOMonitor) Close() error {
	var firstErr error
	if m.tamperLine != nil {
		if err := m.tamperLine.Close(); err != nil {
			firstErr = err
		}
	}
	if m.powerLine != nil {
		if err := m.powerLine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
