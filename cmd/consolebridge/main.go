// Command consolebridge is a small reference demonstration of bridging a
// printer's console.ClientChannels over a websocket, the same shape the
// teacher's moonraker/websocket.go used for its status/notification hub.
// It is not part of the control surface: starting a real job, changing
// temperatures, and so on are still reached through the broker's own
// command queue, not through this bridge.
package main

import (
	"flag"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mfosse/marlinctl/console"
	"github.com/mfosse/marlinctl/core"
	"github.com/mfosse/marlinctl/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", "127.0.0.1:7126", "address to serve the console websocket on")
	path := flag.String("link", "", "serial device path; empty runs against the built-in simulator")
	baud := flag.Int("baud", 115200, "baud rate, ignored when -link is empty")
	flag.Parse()

	var printer interface {
		OpenConsole() console.ClientChannels
		Tick(now time.Time) error
		Close() error
	}

	if *path == "" {
		log.Printf("consolebridge: no -link given, bridging the simulator's console")
		printer = sim.New(core.DefaultMoveEnvelope)
	} else {
		c, err := core.Connect(*path, *baud, core.DefaultMoveEnvelope)
		if err != nil {
			log.Fatalf("consolebridge: connect: %v", err)
		}
		printer = c
	}
	defer printer.Close()

	// Console bridging only runs inside Tick, so drive the printer the same
	// way the broker's control loop would. mu keeps Tick and OpenConsole
	// from touching the printer from two goroutines at once.
	var mu sync.Mutex
	go func() {
		for {
			mu.Lock()
			err := printer.Tick(time.Now())
			mu.Unlock()
			if err != nil {
				log.Printf("consolebridge: tick: %v", err)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	http.HandleFunc("/console", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("consolebridge: upgrade: %v", err)
			return
		}
		defer conn.Close()

		mu.Lock()
		ch := printer.OpenConsole()
		mu.Unlock()
		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				select {
				case ch.TX <- console.Message{Line: string(msg)}:
				default:
					log.Printf("consolebridge: dropping console input, subscriber TX buffer full")
				}
			}
		}()

		for m := range ch.RX {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m.Line)); err != nil {
				return
			}
		}
	})

	log.Printf("consolebridge: serving ws://%s/console", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("consolebridge: %v", err)
	}
}
