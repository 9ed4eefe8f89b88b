package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/ipc"
	"github.com/mtzanidakis/nimbus/internal/natsbus"
	"github.com/nats-io/nats.go"
)

const (
	requestTimeout  = 10 * time.Second
	dispatchTimeout = 5 * time.Minute
)

func sendIPC(natsURL, cmdType string, payload any, timeout time.Duration) (*ipc.Response, error) {
	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	cmd := ipc.Command{Type: cmdType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		cmd.Payload = data
	}

	var resp ipc.Response
	if err := client.RequestJSON(natsbus.TopicIPCDispatch, cmd, &resp, timeout); err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

// splitAgents parses a comma separated agent list.
func splitAgents(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  nimbusctl dispatch "[@agent ...] directive"`)
	fmt.Fprintln(os.Stderr, "  nimbusctl current")
	fmt.Fprintln(os.Stderr, "  nimbusctl agents")
	fmt.Fprintln(os.Stderr, "  nimbusctl watch")
	fmt.Fprintln(os.Stderr, `  nimbusctl schedule create --name "..." --schedule "..." --directive "..." --agents a,b`)
	fmt.Fprintln(os.Stderr, "  nimbusctl schedule list")
	fmt.Fprintln(os.Stderr, `  nimbusctl schedule delete --id "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func must(resp *ipc.Response, err error) *ipc.Response {
	if err != nil {
		fatal("%v", err)
	}
	if resp.Error != "" {
		fatal("%s", resp.Error)
	}
	return resp
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "dispatch":
		message := strings.TrimSpace(strings.Join(rest, " "))
		if message == "" {
			fatal("a directive is required")
		}
		resp := must(sendIPC(natsURL, ipc.CmdDispatch, ipc.DispatchPayload{Message: message}, dispatchTimeout))
		if resp.Superseded {
			fmt.Fprintln(os.Stderr, "Run was superseded by a newer run; partial results:")
		}
		if resp.Run != nil {
			printRun(*resp.Run)
		}

	case "current":
		resp := must(sendIPC(natsURL, ipc.CmdCurrent, nil, requestTimeout))
		if resp.Run != nil {
			printRun(*resp.Run)
		}

	case "agents":
		resp := must(sendIPC(natsURL, ipc.CmdAgents, nil, requestTimeout))
		for _, a := range resp.Agents {
			fmt.Printf("  %-12s %s\n", a.ID, a.Name)
		}

	case "watch":
		watch(natsURL)

	case "schedule":
		if len(rest) == 0 {
			usage()
		}
		runSchedule(natsURL, rest[0], parseArgs(rest[1:]))

	default:
		fatal("unknown command: %s", command)
	}
}

func runSchedule(natsURL, sub string, args map[string]string) {
	switch sub {
	case "create":
		if args["name"] == "" || args["schedule"] == "" || args["directive"] == "" {
			fatal("--name, --schedule, and --directive are required")
		}
		resp := must(sendIPC(natsURL, ipc.CmdCreateSchedule, ipc.SchedulePayload{
			Name:      args["name"],
			Schedule:  args["schedule"],
			Directive: args["directive"],
			Agents:    splitAgents(args["agents"]),
		}, requestTimeout))
		fmt.Printf("Schedule created: %s\n", resp.ID)

	case "list":
		resp := must(sendIPC(natsURL, ipc.CmdListSchedules, nil, requestTimeout))
		if len(resp.Schedules) == 0 {
			fmt.Println("No schedules found.")
			return
		}
		for _, s := range resp.Schedules {
			fmt.Printf("  %s  %s  %s  [%s] %s\n", s.ID, s.Status, s.Name, s.Schedule, strings.Join(s.Agents, ","))
		}

	case "delete":
		if args["id"] == "" {
			fatal("--id is required")
		}
		must(sendIPC(natsURL, ipc.CmdDeleteSchedule, ipc.SchedulePayload{ID: args["id"]}, requestTimeout))
		fmt.Println("Schedule deleted.")

	default:
		fatal("unknown schedule command: %s", sub)
	}
}

func printRun(run dispatch.RunState) {
	ok, failed, pending := run.Counts()
	fmt.Printf("Run %s: %d succeeded, %d failed, %d pending\n\n", run.ID, ok, failed, pending)
	for _, o := range run.Ordered() {
		switch o.Status {
		case dispatch.StatusSuccess:
			fmt.Printf("[%s]\n%s\n\n", o.AgentID, o.Text)
		case dispatch.StatusFailure:
			fmt.Printf("[%s] failed (%s): %s\n\n", o.AgentID, o.ErrorKind, o.Error)
		default:
			fmt.Printf("[%s] pending\n\n", o.AgentID)
		}
	}
}

// watch prints gateway events until interrupted.
func watch(natsURL string) {
	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		fatal("%v", err)
	}
	defer client.Close()

	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		fmt.Println(formatEvent(msg.Data))
	})
	if err != nil {
		fatal("subscribe: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func formatEvent(data []byte) string {
	var ev natsbus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return string(data)
	}
	if ev.RunID == "" {
		return fmt.Sprintf("%s %s", ev.Timestamp, ev.Type)
	}
	return fmt.Sprintf("%s %s run=%s", ev.Timestamp, ev.Type, ev.RunID)
}
