package broker

import (
	"fmt"
	"os"

	"github.com/mfosse/marlinctl/console"
	"github.com/mfosse/marlinctl/core"
	"github.com/mfosse/marlinctl/errs"
	"github.com/mfosse/marlinctl/protocol"
)

// CommandKind selects which operation a Command requests.
type CommandKind int

const (
	CmdConnect CommandKind = iota
	CmdDisconnect
	CmdSetJobFile
	CmdDeleteJobFile
	CmdStartPrint
	CmdPausePrint
	CmdStopPrint
	CmdHome
	CmdManualMove
	CmdSetTemperature
	CmdSetFanSpeed
	CmdGetStatus
	CmdOpenConsole
	CmdGetInfo
)

// Command is one request routed through the Broker's external command
// queue.
type Command struct {
	Kind CommandKind

	ConnectPath string
	ConnectBaud int

	JobFilePath string

	ManualMove  protocol.Position
	HomeAxes    protocol.AxisSet
	Temperature protocol.TemperatureTarget
	FanSpeed    protocol.FanSpeedTarget
}

// ResponseKind selects which payload field of a Response is populated.
type ResponseKind int

const (
	RespResult ResponseKind = iota
	RespStatus
	RespConsole
	RespInfo
)

// Response answers one Command.
type Response struct {
	Kind    ResponseKind
	Err     error
	Status  core.Status
	Console console.ClientChannels
	Info    map[string]string
}

func errResp(err error) Response                    { return Response{Kind: RespResult, Err: err} }
func okResp() Response                              { return Response{Kind: RespResult} }
func statusResp(s core.Status) Response             { return Response{Kind: RespStatus, Status: s} }
func consoleResp(c console.ClientChannels) Response { return Response{Kind: RespConsole, Console: c} }
func infoResp(i map[string]string) Response         { return Response{Kind: RespInfo, Info: i} }

func (b *Broker) dispatch(cmd Command) Response {
	switch cmd.Kind {
	case CmdConnect:
		return b.handleConnect(cmd)
	case CmdDisconnect:
		if b.printer != nil {
			b.printer.Close()
			b.printer = nil
		}
		return okResp()
	case CmdGetStatus:
		if b.printer == nil {
			return statusResp(core.Status{})
		}
		return statusResp(b.printer.GetStatus())
	case CmdOpenConsole:
		if b.printer == nil {
			return errResp(fmt.Errorf("broker: no printer attached: %w", errs.ErrNotFound))
		}
		return consoleResp(b.printer.OpenConsole())
	case CmdGetInfo:
		if b.printer == nil {
			return errResp(fmt.Errorf("broker: no printer attached: %w", errs.ErrNotFound))
		}
		return infoResp(b.printer.Info())
	case CmdSetJobFile:
		return b.withPrinter(func(p Printer) error { return p.SetJobFile(cmd.JobFilePath) })
	case CmdDeleteJobFile:
		if err := os.Remove(cmd.JobFilePath); err != nil {
			return errResp(fmt.Errorf("broker: deleting job file %s: %w", cmd.JobFilePath, err))
		}
		return okResp()
	case CmdStartPrint:
		return b.withPrinter(func(p Printer) error { return p.Start() })
	case CmdPausePrint:
		return b.withPrinter(func(p Printer) error { return p.Pause() })
	case CmdStopPrint:
		return b.withPrinter(func(p Printer) error { return p.Stop() })
	case CmdHome:
		return b.withPrinter(func(p Printer) error { return p.Home(cmd.HomeAxes) })
	case CmdManualMove:
		return b.withPrinter(func(p Printer) error { return p.MoveRelative(cmd.ManualMove) })
	case CmdSetTemperature:
		return b.withPrinter(func(p Printer) error { return p.SetTemperature(cmd.Temperature) })
	case CmdSetFanSpeed:
		return b.withPrinter(func(p Printer) error { return p.SetFanSpeed(cmd.FanSpeed) })
	default:
		return errResp(fmt.Errorf("broker: unknown command kind %d: %w", cmd.Kind, errs.ErrInvalidInput))
	}
}

func (b *Broker) handleConnect(cmd Command) Response {
	if b.printer != nil {
		return errResp(fmt.Errorf("broker: a printer is already attached: %w", errs.ErrAlreadyExists))
	}
	p, err := b.connectFunc(cmd.ConnectPath, cmd.ConnectBaud)
	if err != nil {
		return errResp(err)
	}
	b.printer = p
	return okResp()
}

func (b *Broker) withPrinter(fn func(Printer) error) Response {
	if b.printer == nil {
		return errResp(fmt.Errorf("broker: no printer attached: %w", errs.ErrNotFound))
	}
	if err := fn(b.printer); err != nil {
		return errResp(err)
	}
	return okResp()
}
