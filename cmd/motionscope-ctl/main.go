package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// motionscope-ctl - Command-line IPC Client
// ============================================================================
// This tool sends control events and queries to the motionscope daemon via IPC.
//
// Usage:
//   motionscope-ctl start
//   motionscope-ctl fps 60
//   motionscope-ctl push 1000 3 -2
//   motionscope-ctl export /tmp/session.json
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/motionscope.sock)
// ============================================================================

// EventEnvelope wraps requests for JSON (duplicated from the daemon for a standalone binary)
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type wireSample struct {
	T  float64 `json:"t"`
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// simple maps no-argument commands to envelope types.
var simple = map[string]string{
	"start":  "start_capture",
	"stop":   "stop_capture",
	"freeze": "freeze",
	"resume": "resume",
	"toggle": "toggle_freeze",
	"flush":  "flush",
	"clear":  "clear",
}

func main() {
	socketPath := "/tmp/motionscope.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return
	}

	env, outFile, err := buildRequest(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := sendRequest(socketPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case outFile != "":
		if err := os.WriteFile(outFile, resp.Data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "error: write %s: %v\n", outFile, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (%d bytes)\n", outFile, len(resp.Data))
	case len(resp.Data) > 0 && string(resp.Data) != "null":
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, resp.Data, "", "  "); err != nil {
			fmt.Println(string(resp.Data))
			return
		}
		fmt.Println(pretty.String())
	default:
		fmt.Println("ok")
	}
}

// buildRequest parses a command line into an envelope. outFile is set for export.
func buildRequest(args []string) (env EventEnvelope, outFile string, err error) {
	cmd := args[0]
	if t, ok := simple[cmd]; ok {
		return EventEnvelope{Type: t}, "", nil
	}

	switch cmd {
	case "snapshot", "stats":
		return EventEnvelope{Type: cmd}, "", nil

	case "fps":
		v, err := floatArg(args, 1, "fps")
		if err != nil {
			return env, "", err
		}
		return withData("set_smooth_fps", map[string]float64{"fps": v})

	case "retention":
		v, err := floatArg(args, 1, "seconds")
		if err != nil {
			return env, "", err
		}
		return withData("set_retention", map[string]float64{"seconds": v})

	case "policy":
		if len(args) < 2 {
			return env, "", fmt.Errorf("policy requires immediate or staged")
		}
		return withData("set_ingest_policy", map[string]string{"policy": args[1]})

	case "push":
		if len(args) < 4 {
			return env, "", fmt.Errorf("push requires <t_ms> <dx> <dy>")
		}
		var s wireSample
		for i, dst := range []*float64{&s.T, &s.DX, &s.DY} {
			v, err := strconv.ParseFloat(args[i+1], 64)
			if err != nil {
				return env, "", fmt.Errorf("invalid number %q: %w", args[i+1], err)
			}
			*dst = v
		}
		return withData("push_samples", map[string][]wireSample{"samples": {s}})

	case "export":
		if len(args) < 2 {
			return env, "", fmt.Errorf("export requires an output file")
		}
		return EventEnvelope{Type: "export"}, args[1], nil

	case "import":
		if len(args) < 2 {
			return env, "", fmt.Errorf("import requires an input file")
		}
		doc, err := os.ReadFile(args[1])
		if err != nil {
			return env, "", fmt.Errorf("read %s: %w", args[1], err)
		}
		// The document travels inline on one line.
		var compact bytes.Buffer
		if err := json.Compact(&compact, doc); err != nil {
			return env, "", fmt.Errorf("%s is not valid JSON: %w", args[1], err)
		}
		return EventEnvelope{Type: "import", Data: compact.Bytes()}, "", nil
	}

	return env, "", fmt.Errorf("unknown command: %s", cmd)
}

func floatArg(args []string, i int, name string) (float64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%s requires a %s value", args[0], name)
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", name, err)
	}
	return v, nil
}

func withData(typ string, v any) (EventEnvelope, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return EventEnvelope{}, "", fmt.Errorf("marshal %s: %w", typ, err)
	}
	return EventEnvelope{Type: typ, Data: data}, "", nil
}

func sendRequest(socketPath string, env EventEnvelope) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `motionscope-ctl - Control the motionscope daemon via IPC

Usage:
  motionscope-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/motionscope.sock)

Commands:
  start                   Clear the session and start capturing
  stop                    Stop capturing and freeze the view
  freeze | resume         Freeze or resume the live view
  toggle                  Toggle the view freeze
  flush                   Flush staged points into the visible series
  clear                   Drop all samples and start a new session
  fps <n>                 Set the smoothed series rate (buckets per second)
  retention <seconds>     Set the retention horizon (0 keeps only the newest timestamp)
  policy <p>              Set the ingest policy: immediate|staged
  push <t_ms> <dx> <dy>   Push one raw sample
  snapshot                Print the visible series
  stats                   Print per-series statistics
  export <file>           Write the raw series to a JSON file
  import <file>           Replace the session with an exported JSON file
  help, -h, --help        Show this help message

Examples:
  motionscope-ctl fps 60
  motionscope-ctl export /tmp/session.json
  motionscope-ctl -socket /run/motionscope.sock stats
`)
}
