package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mfosse/marlinctl/broker"
	"github.com/mfosse/marlinctl/core"
	"github.com/mfosse/marlinctl/link"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	discover := flag.Bool("discover", false, "list serial ports and exit, without connecting")
	simulate := flag.Bool("sim", false, "attach the built-in simulator instead of a real printer")
	flag.Parse()

	if *discover {
		runDiscovery()
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Printf("config: using defaults, %v", err)
		cfg = DefaultConfig()
	}

	log.Printf("marlinctl starting")

	envelope := core.MoveEnvelope{MaxXYZ: cfg.Move.MaxXYZ, MaxE: cfg.Move.MaxE}

	cmdCh := make(chan broker.Command, 16)
	respCh := make(chan broker.Response, 16)
	b := broker.New(cmdCh, respCh, envelope)
	b.SetDiscoveryInterval(cfg.DiscoveryInterval())

	var shuttingDown atomic.Bool
	go b.Run(shuttingDown.Load)

	connectPath := cfg.Link.Path
	connectBaud := cfg.Link.Baud
	if *simulate {
		connectPath = "sim"
	}
	if connectPath != "" {
		cmdCh <- broker.Command{Kind: broker.CmdConnect, ConnectPath: connectPath, ConnectBaud: connectBaud}
		if resp := <-respCh; resp.Err != nil {
			log.Printf("WARNING: initial connect to %s failed: %v", connectPath, resp.Err)
			log.Printf("auto-discovery will keep retrying in the background")
		}
	} else {
		log.Printf("no link.path configured, relying on auto-discovery")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	cmdCh <- broker.Command{Kind: broker.CmdDisconnect}
	<-respCh

	shuttingDown.Store(true)
	time.Sleep(2 * broker.TickInterval)
}

func runDiscovery() {
	ports, err := link.ListPorts()
	if err != nil {
		log.Fatalf("listing ports: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return
	}
	fmt.Printf("Found %d serial port(s):\n", len(ports))
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
}
