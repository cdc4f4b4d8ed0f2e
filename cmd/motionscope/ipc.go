package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// External clients (motionscope-ctl, scripts, sample producers) talk to the
// daemon over a Unix domain socket.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
//
// Control types map to Events (see UnmarshalEvent). Request types (snapshot,
// stats, export, import) round-trip through the daemon loop and carry a result.
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // error message if status == "error"
	Data   json.RawMessage `json:"data,omitempty"`
}

// maxIPCLine bounds one request line; import documents are sent inline.
const maxIPCLine = 64 << 20

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxIPCLine)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "bytes", len(line))

		resp := handleIPCRequest(ctx, line, events)
		if encErr := encoder.Encode(resp); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("IPC read error", "error", err)
	}

	logger.Debug("IPC connection closed")
}

func ipcError(format string, args ...any) IPCResponse {
	return IPCResponse{Status: "error", Error: fmt.Sprintf(format, args...)}
}

func ipcOK(v any) IPCResponse {
	if v == nil {
		return IPCResponse{Status: "ok"}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ipcError("marshal response: %v", err)
	}
	return IPCResponse{Status: "ok", Data: data}
}

// handleIPCRequest processes one request line.
func handleIPCRequest(ctx context.Context, line []byte, events chan<- Event) IPCResponse {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return ipcError("parse event: unmarshal envelope: %v", err)
	}

	timeout := requestTimeoutMS * time.Millisecond

	switch env.Type {
	case "snapshot":
		snap, err := requestSnapshot(ctx, events, timeout)
		if err != nil {
			return ipcError("snapshot: %v", err)
		}
		return ipcOK(seriesPayload(snap, ""))

	case "stats":
		snap, err := requestSnapshot(ctx, events, timeout)
		if err != nil {
			return ipcError("stats: %v", err)
		}
		return ipcOK(buildStatsReport(snap.View.Session, snap.Log))

	case "export":
		data, err := requestExport(ctx, events, timeout)
		if err != nil {
			return ipcError("export: %v", err)
		}
		return IPCResponse{Status: "ok", Data: json.RawMessage(data)}

	case "import":
		if len(env.Data) == 0 {
			return ipcError("import: missing document")
		}
		if err := requestImport(ctx, events, env.Data, timeout); err != nil {
			return ipcError("%v", err)
		}
		return ipcOK(nil)
	}

	ev, err := decodeEnvelope(env)
	if err != nil {
		return ipcError("parse event: %v", err)
	}

	select {
	case events <- ev:
		return ipcOK(nil)
	default:
		return ipcError("event queue full")
	}
}

// requestExport round-trips a RequestExport through the daemon loop.
func requestExport(ctx context.Context, events chan<- Event, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan ExportReply, 1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case events <- RequestExport{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		return r.Data, r.Err
	}
}

// requestImport round-trips an ImportSeries through the daemon loop.
func requestImport(ctx context.Context, events chan<- Event, doc []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan error, 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- ImportSeries{Data: doc, Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

// ============================================================================
// IPC Client Utility Functions
// ============================================================================

// SendIPCRequest sends one raw envelope line to the daemon and returns the response.
func SendIPCRequest(socketPath string, line []byte) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(line))); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}

// SendIPCEvent sends a control event to the daemon via IPC.
func SendIPCEvent(socketPath string, ev Event) error {
	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = SendIPCRequest(socketPath, data)
	return err
}
