// Package broker multiplexes external commands, job streaming, and the
// interactive console against a single attached printer. It owns the
// control thread: everything it touches on the Printer it holds is called
// from the same goroutine that runs Broker.Run.
package broker

import (
	"log"
	"time"

	"github.com/mfosse/marlinctl/console"
	"github.com/mfosse/marlinctl/core"
	"github.com/mfosse/marlinctl/link"
	"github.com/mfosse/marlinctl/protocol"
	"github.com/mfosse/marlinctl/sim"
)

// Printer is the operational contract shared by core.Core and sim.Sim, so
// the Broker can drive either one identically.
type Printer interface {
	Tick(now time.Time) error
	GetStatus() core.Status
	SetJobFile(path string) error
	Start() error
	Stop() error
	Pause() error
	Home(axes protocol.AxisSet) error
	MoveRelative(pos protocol.Position) error
	SetTemperature(t protocol.TemperatureTarget) error
	SetFanSpeed(t protocol.FanSpeedTarget) error
	OpenConsole() console.ClientChannels
	Info() map[string]string
	Close() error
}

// TickInterval is how often Broker.Run services the command queue and
// ticks the attached printer when there's nothing else to do.
const TickInterval = time.Millisecond

// DefaultDiscoveryInterval bounds how often Broker retries auto-discovery
// while no printer is attached.
const DefaultDiscoveryInterval = 2 * time.Second

// Broker owns at most one attached Printer and drives it from a single
// goroutine.
type Broker struct {
	cmdCh  <-chan Command
	respCh chan<- Response

	printer     Printer
	connectFunc func(path string, baud int) (Printer, error)

	discoveryInterval time.Duration
	lastDiscovery     time.Time
}

// New creates a Broker reading commands from cmdCh and writing responses
// to respCh. envelope bounds manual relative moves for whichever Printer
// gets attached, real or simulated.
func New(cmdCh <-chan Command, respCh chan<- Response, envelope core.MoveEnvelope) *Broker {
	return &Broker{
		cmdCh:  cmdCh,
		respCh: respCh,
		connectFunc: func(path string, baud int) (Printer, error) {
			if path == "sim" {
				return sim.New(envelope), nil
			}
			return core.Connect(path, baud, envelope)
		},
		discoveryInterval: DefaultDiscoveryInterval,
	}
}

// Run services the command queue and ticks the attached printer until
// shutdown reports true. Call it from its own goroutine.
func (b *Broker) Run(shutdown func() bool) {
	for !shutdown() {
		select {
		case cmd := <-b.cmdCh:
			b.respCh <- b.dispatch(cmd)
		default:
		}

		if b.printer != nil {
			if err := b.printer.Tick(time.Now()); err != nil {
				log.Printf("broker: tick error: %v", err)
			}
		} else if time.Since(b.lastDiscovery) >= b.discoveryInterval {
			b.lastDiscovery = time.Now()
			b.tryAutoDiscover()
		}

		time.Sleep(TickInterval)
	}
}

// SetDiscoveryInterval overrides the default auto-discovery retry cadence.
func (b *Broker) SetDiscoveryInterval(d time.Duration) {
	b.discoveryInterval = d
}

func (b *Broker) tryAutoDiscover() {
	ports, err := link.ListPorts()
	if err != nil {
		log.Printf("broker: listing ports: %v", err)
		return
	}
	for _, port := range ports {
		for _, baud := range link.BaudRates {
			p, err := b.connectFunc(port, baud)
			if err != nil {
				continue
			}
			b.printer = p
			log.Printf("broker: auto-discovered printer on %s @ %d baud", port, baud)
			return
		}
	}
}
