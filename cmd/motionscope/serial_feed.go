package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.bug.st/serial"
)

// ============================================================================
// Serial sample feed
// ============================================================================
//
// A microcontroller (or any line-oriented producer) can stream motion samples
// over a serial port as one JSON object per line:
//
//	{"t": 1234.5, "dx": 3, "dy": -1}
//
// t is in milliseconds on the producer's clock. Samples bypass the evdev
// assembler and go straight into the capture buffer.

// sampleSink receives normalized samples from line-oriented feeds.
type sampleSink interface {
	pushSample(s RawSample)
}

// parseWireSample decodes one JSON line into an engine sample.
func parseWireSample(line []byte) (RawSample, error) {
	var w WireSample
	if err := json.Unmarshal(line, &w); err != nil {
		return RawSample{}, fmt.Errorf("decode sample: %w", err)
	}
	return w.Raw(), nil
}

// readSampleLines reads JSON sample lines from r until EOF or ctx cancellation.
// Malformed lines are logged and skipped.
func readSampleLines(ctx context.Context, r io.Reader, sink sampleSink, logger *slog.Logger) error {
	scan := bufio.NewScanner(r)
	var bad int
	for scan.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}

		s, err := parseWireSample(line)
		if err != nil {
			bad++
			logger.Debug("skipping malformed sample line", "error", err, "bad_lines", bad)
			continue
		}
		sink.pushSample(s)
	}
	if err := scan.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// openSerialFeed opens the port with 8N1 framing.
func openSerialFeed(port string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return p, nil
}

// runSerialFeed streams samples from a serial port into sink until ctx is done.
func runSerialFeed(ctx context.Context, port string, baud int, sink sampleSink, logger *slog.Logger) error {
	if port == "" {
		return errors.New("serial feed enabled but no port configured")
	}

	p, err := openSerialFeed(port, baud)
	if err != nil {
		return err
	}

	// Closing the port unblocks the scanner.
	go func() {
		<-ctx.Done()
		_ = p.Close()
	}()

	logger.Info("serial feed started", "port", port, "baud", baud)
	err = readSampleLines(ctx, p, sink, logger)
	logger.Info("serial feed stopped", "port", port)
	return err
}
