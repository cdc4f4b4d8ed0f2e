package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the daemon's outbound frame {type, ts, data}.
type envelope struct {
	Type string          `json:"type"`
	TS   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data"`
}

// point decodes the fields the summary needs; non-finite values arrive as null.
type point struct {
	T  float64  `json:"t"`
	X  float64  `json:"x"`
	Y  float64  `json:"y"`
	VX *float64 `json:"vx"`
	VY *float64 `json:"vy"`
}

type seriesData struct {
	Reason   string          `json:"reason"`
	View     json.RawMessage `json:"view"`
	Rate     int             `json:"rate"`
	Raw      []point         `json:"raw"`
	Smoothed []point         `json:"smoothed"`
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:3010/ws", "motionscope websocket URL")
		raw     = flag.Bool("raw", false, "Print frames verbatim instead of summaries")
		command = flag.String("cmd", "", "Send one control envelope after connecting (e.g. '{\"type\":\"freeze\"}')")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	if *command != "" {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, []byte(*command))
		writeMu.Unlock()
		if err != nil {
			log.Fatalf("failed to send command: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			handleTextMessage(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints a one-line summary per frame.
func handleTextMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "series_init", "series_reset", "series_append":
		var d seriesData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fmt.Printf("[%s] undecodable: %v\n", env.Type, err)
			return
		}
		label := env.Type
		if d.Reason != "" {
			label += " (" + d.Reason + ")"
		}
		fmt.Printf("[%s] rate=%d/s raw=%d smoothed=%d%s\n", label, d.Rate, len(d.Raw), len(d.Smoothed), lastPoint(d.Smoothed))

	case "view_state":
		fmt.Printf("[VIEW] %s\n", string(env.Data))

	case "error":
		fmt.Printf("[ERROR] %s\n", string(env.Data))

	default:
		fmt.Printf("[%s] %s\n", env.Type, string(env.Data))
	}
}

func lastPoint(pts []point) string {
	if len(pts) == 0 {
		return ""
	}
	p := pts[len(pts)-1]
	speed := "n/a"
	if p.VX != nil && p.VY != nil {
		speed = fmt.Sprintf("%.1f", math.Hypot(*p.VX, *p.VY))
	}
	return fmt.Sprintf(" last=(t=%.3f x=%.1f y=%.1f speed=%s)", p.T, p.X, p.Y, speed)
}
