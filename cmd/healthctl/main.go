package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// healthctl is the operator CLI for the collection pipeline. It talks to
// the daemon's HTTP API; every subcommand supports --json for raw output
// and exits non-zero on operational errors.

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() string {
	return `usage: healthctl [--addr URL] [--json] <command> [args]

commands:
  status                         per-source health, breaker states, alert summary
  gaps [--threshold-hours N]     run the collection gap detector
  dead-tuples                    run the dead tuple detector
  circuit-breakers               show per-source circuit breaker states
  alerts [--source S] [--severity S]   list active alerts
  resolve-alert <id> [--notes TEXT]    resolve one alert
  test-connection <source>       probe one source
  reset-circuit-breaker <source> force a breaker closed
  history <source> [--hours N]   health snapshot history`
}

type cli struct {
	addr   string
	asJSON bool
	client *http.Client
}

func run(args []string) error {
	fs := flag.NewFlagSet("healthctl", flag.ContinueOnError)
	addr := fs.String("addr", envOr("PIPELINE_ADDR", "http://localhost:3200"), "pipeline API address")
	asJSON := fs.Bool("json", false, "raw JSON output")
	fs.Usage = func() { fmt.Fprintln(os.Stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, usage())
		return fmt.Errorf("missing command")
	}

	c := &cli{addr: strings.TrimSuffix(*addr, "/"), asJSON: *asJSON,
		client: &http.Client{Timeout: 16 * time.Minute}}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "status":
		return c.status()
	case "gaps":
		return c.gaps(cmdArgs)
	case "dead-tuples":
		return c.deadTuples()
	case "circuit-breakers":
		return c.circuitBreakers()
	case "alerts":
		return c.alerts(cmdArgs)
	case "resolve-alert":
		return c.resolveAlert(cmdArgs)
	case "test-connection":
		return c.testConnection(cmdArgs)
	case "reset-circuit-breaker":
		return c.resetBreaker(cmdArgs)
	case "history":
		return c.history(cmdArgs)
	default:
		fmt.Fprintln(os.Stderr, usage())
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *cli) get(path string, out any) error {
	resp, err := c.client.Get(c.addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *cli) post(path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		blob, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(blob)
	}
	resp, err := c.client.Post(c.addr+path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) status() error {
	var metrics map[string]any
	if err := c.get("/metrics", &metrics); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(metrics)
	}

	sources, _ := metrics["sources"].(map[string]any)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tSUCCESS\tCONFIDENCE\tCONSEC FAIL\tGAP(H)\tLAST SUCCESS")
	for _, name := range sortedKeys(sources) {
		s, _ := sources[name].(map[string]any)
		fmt.Fprintf(w, "%s\t%v\t%.2f\t%.2f\t%v\t%.1f\t%v\n",
			name, s["status"], num(s["success_rate"]), num(s["confidence_score"]),
			s["consecutive_failures"], num(s["gap_hours"]), orDash(s["last_success"]))
	}
	w.Flush()

	if summary, ok := metrics["alert_summary"].(map[string]any); ok && len(summary) > 0 {
		fmt.Println()
		fmt.Print("active alerts:")
		for _, sev := range sortedKeys(summary) {
			fmt.Printf(" %s=%v", sev, summary[sev])
		}
		fmt.Println()
	}
	return nil
}

func (c *cli) gaps(args []string) error {
	fs := flag.NewFlagSet("gaps", flag.ContinueOnError)
	threshold := fs.Float64("threshold-hours", 4, "gap threshold in hours")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var out struct {
		ThresholdHours float64          `json:"threshold_hours"`
		Alerts         []map[string]any `json:"alerts"`
	}
	if err := c.get(fmt.Sprintf("/alerts/gaps?threshold_hours=%g", *threshold), &out); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(out)
	}
	if len(out.Alerts) == 0 {
		fmt.Printf("no collection gaps over %.1fh\n", out.ThresholdHours)
		return nil
	}
	for _, a := range out.Alerts {
		fmt.Printf("[%v] %v: %v\n", a["severity"], a["source"], a["message"])
	}
	return nil
}

func (c *cli) deadTuples() error {
	var out struct {
		Alerts []map[string]any `json:"alerts"`
	}
	if err := c.get("/alerts/dead-tuples", &out); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(out)
	}
	if len(out.Alerts) == 0 {
		fmt.Println("no tables over the dead-tuple thresholds")
		return nil
	}
	for _, a := range out.Alerts {
		fmt.Printf("[%v] %v: %v\n", a["severity"], a["source"], a["message"])
	}
	return nil
}

func (c *cli) circuitBreakers() error {
	var metrics map[string]any
	if err := c.get("/metrics", &metrics); err != nil {
		return err
	}
	breakers, _ := metrics["circuit_breakers"].(map[string]any)
	if c.asJSON {
		return c.printJSON(breakers)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATE\tCALLS\tFAILURES\tSUCCESS\tAVG MS")
	for _, name := range sortedKeys(breakers) {
		b, _ := breakers[name].(map[string]any)
		fmt.Fprintf(w, "%s\t%v\t%v\t%v\t%.2f\t%.1f\n",
			name, b["state"], b["total_calls"], b["total_failures"],
			num(b["success_rate"]), num(b["avg_latency_ms"]))
	}
	return w.Flush()
}

func (c *cli) alerts(args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ContinueOnError)
	source := fs.String("source", "", "filter by source")
	severity := fs.String("severity", "", "filter by severity")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := fmt.Sprintf("/alerts/?source=%s&severity=%s", *source, *severity)
	var out struct {
		Alerts []map[string]any `json:"alerts"`
		Count  int              `json:"count"`
	}
	if err := c.get(path, &out); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(out)
	}
	if out.Count == 0 {
		fmt.Println("no active alerts")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tSOURCE\tTYPE\tCREATED\tMESSAGE")
	for _, a := range out.Alerts {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
			a["id"], a["severity"], a["source"], a["type"], a["created_at"], a["message"])
	}
	return w.Flush()
}

func (c *cli) resolveAlert(args []string) error {
	fs := flag.NewFlagSet("resolve-alert", flag.ContinueOnError)
	notes := fs.String("notes", "", "resolution notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("resolve-alert requires an alert id")
	}
	id := fs.Arg(0)

	var out map[string]any
	if err := c.post("/alerts/"+id+"/resolve", map[string]string{"notes": *notes}, &out); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(out)
	}
	fmt.Println("resolved", id)
	return nil
}

func (c *cli) testConnection(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("test-connection requires a source name")
	}
	source := args[0]

	var out struct {
		Source    string `json:"source"`
		Connected bool   `json:"connected"`
	}
	if err := c.get("/sources/"+source+"/test", &out); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(out)
	}
	if !out.Connected {
		return fmt.Errorf("%s: connection failed", source)
	}
	fmt.Printf("%s: connected\n", source)
	return nil
}

func (c *cli) resetBreaker(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("reset-circuit-breaker requires a source name")
	}
	source := args[0]

	var out map[string]any
	if err := c.post("/sources/"+source+"/reset-breaker", nil, &out); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(out)
	}
	fmt.Printf("%s: breaker reset to closed\n", source)
	return nil
}

func (c *cli) history(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	hours := fs.Float64("hours", 24, "lookback window in hours")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("history requires a source name")
	}
	source := fs.Arg(0)

	var out struct {
		Source    string           `json:"source"`
		Snapshots []map[string]any `json:"snapshots"`
	}
	if err := c.get(fmt.Sprintf("/sources/%s/history?hours=%g", source, *hours), &out); err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(out)
	}
	if len(out.Snapshots) == 0 {
		fmt.Printf("no snapshots for %s in the last %.0fh\n", source, *hours)
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tSUCCESS\tCONFIDENCE\tCONSEC FAIL\tLEVEL")
	for _, s := range out.Snapshots {
		fmt.Fprintf(w, "%v\t%.2f\t%.2f\t%v\t%v\n",
			s["updated_at"], num(s["success_rate"]), num(s["confidence_score"]),
			s["consecutive_failures"], s["alert_level"])
	}
	return w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func orDash(v any) any {
	if v == nil {
		return "-"
	}
	return v
}
