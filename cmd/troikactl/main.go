package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
)

var version = "dev"

var (
	apiClient = &http.Client{Timeout: 30 * time.Second}
	// SSE tails and reasoner streams outlive any sane request timeout.
	streamClient = &http.Client{}
)

func main() {
	// .env is optional; explicit environment variables take precedence.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("troikactl %s\n", version)
	case "status":
		doStatus()
	case "snapshot":
		doSnapshot()
	case "send":
		doSend(args)
	case "deliberate":
		doDeliberate(args)
	case "deliberations":
		doDeliberations(args)
	case "enrich":
		doEnrich(args)
	case "purge":
		doPurge(args)
	case "outcomes":
		doOutcomes(args)
	case "events":
		doEvents(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `troikactl - CLI for the troika orchestration API

Usage: troikactl <command> [arguments]

Environment:
  TROIKA_URL   Base URL (default: http://localhost:8080)

  A .env file in the working directory is auto-loaded; explicit
  environment variables take precedence.

Commands:
  status                      Show health, provider pools, and lifetime totals
  snapshot                    Dump the full operational snapshot as JSON

  send <provider> <prompt>    Dispatch one request
      --task <type>             task type hint (analyze, review, research, ...)
      --stream                  stream reasoning/content deltas (reasoner only)
      --strict                  fail instead of degrading on cost guards
      --json                    print the raw response object

  deliberate <question>       Run a council deliberation
      --agents a,b,c            subset of deepseek,qwen,perplexity (default all)
      --rounds N                maximum rounds (default 3)
      --min-confidence F        consensus confidence floor
      --strategy <name>         majority | weighted | unanimous
      --symbol <sym>            market symbol for context enrichment
      --type <strategy-type>    strategy type passed to enrichment
      --durable                 execute through the Temporal workflow path
      --json                    print the raw result object

  deliberations [--limit N]   List persisted deliberation summaries
  enrich <symbol> [type]      Fetch market context for a symbol
  purge [symbol]              Invalidate cached market context (all if omitted)
  outcomes [--limit N]        Show recent request outcomes
  events [--type a,b]         Stream live service events (SSE), optionally
                              filtered to the listed event types

  version                     Show version
  help                        Show this help

Examples:
  troikactl status
  troikactl send deepseek "What broke the BTC rally this week?"
  troikactl send --stream deepseek "Walk through the funding-rate math"
  troikactl deliberate --symbol BTC-USDT --durable "Add to the position?"
  troikactl outcomes --limit 20
  troikactl events
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("TROIKA_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func doRequest(client *http.Client, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return client.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest(apiClient, "GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path string, body any) map[string]any {
	b, err := json.Marshal(body)
	fatal(err)
	resp, err := doRequest(apiClient, "POST", path, strings.NewReader(string(b)))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path string) map[string]any {
	resp, err := doRequest(apiClient, "DELETE", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		// Might be an array; wrap it.
		var arr []any
		if err2 := json.Unmarshal(data, &arr); err2 == nil {
			return map[string]any{"items": arr}
		}
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseLimit(args []string) int {
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			if n > 0 {
				return n
			}
		}
	}
	return 50
}

// --- Commands ---

func doStatus() {
	healthResp, err := doRequest(apiClient, "GET", "/healthz", nil)
	fatal(err)
	hData, _ := io.ReadAll(healthResp.Body)
	_ = healthResp.Body.Close()
	var h map[string]any
	_ = json.Unmarshal(hData, &h)

	status := "unknown"
	if s, ok := h["status"].(string); ok {
		status = s
	}

	snap := doGet("/v1/snapshot")

	fmt.Printf("Server:  %s\n", baseURL())
	fmt.Printf("Status:  %s\n", status)
	fmt.Printf("Uptime:  %s\n", fmtUptime(snap["uptime_s"]))
	fmt.Println()

	providers, _ := snap["providers"].(map[string]any)
	if len(providers) == 0 {
		fmt.Println("No providers registered.")
		return
	}

	totals, _ := digMap(snap, "stats", "totals")

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tKEYS\tHEALTHY\tCOOLING\tDISABLED\tBREAKER\tREQUESTS\tERRORS\tCOST")
	for _, name := range sortedKeys(providers) {
		p, _ := providers[name].(map[string]any)
		pool, _ := p["pool"].(map[string]any)
		breaker, _ := p["breaker"].(string)
		tot, _ := totals[name].(map[string]any)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			name,
			fmtNum(pool["total"]),
			fmtNum(pool["healthy"]),
			fmtNum(pool["cooling"]),
			fmtNum(pool["disabled"]),
			breaker,
			fmtNum(tot["requests"]),
			fmtNum(tot["errors"]),
			fmtCost(tot["cost_usd"]),
		)
	}
	_ = tw.Flush()

	alerts, _ := snap["recent_pressure_alerts"].([]any)
	if len(alerts) > 0 {
		fmt.Printf("\nRecent pressure alerts: %d (latest: %s)\n",
			len(alerts), describeAlert(alerts[0]))
	}
}

func describeAlert(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return "-"
	}
	prov, _ := m["provider"].(string)
	return fmt.Sprintf("%s %s/%s cooling at %s",
		prov, fmtNum(m["cooling"]), fmtNum(m["total"]), fmtTime(m["timestamp"]))
}

func doSnapshot() {
	fmt.Println(prettyJSON(doGet("/v1/snapshot")))
}

func doSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	task := fs.String("task", "", "task type hint")
	stream := fs.Bool("stream", false, "stream deltas")
	strict := fs.Bool("strict", false, "strict mode")
	rawJSON := fs.Bool("json", false, "print raw response")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: troikactl send [flags] <provider> <prompt...>")
		os.Exit(1)
	}
	body := map[string]any{
		"provider":    rest[0],
		"prompt":      strings.Join(rest[1:], " "),
		"task_type":   *task,
		"strict_mode": *strict,
	}

	if *stream {
		streamSend(body)
		return
	}

	result := doPost("/v1/requests", body)
	if *rawJSON {
		fmt.Println(prettyJSON(result))
		return
	}
	if result["success"] != true {
		fmt.Fprintf(os.Stderr, "request failed (%v): %v\n", result["error_kind"], result["error"])
		os.Exit(1)
	}
	fmt.Println(result["content"])
	if usage, ok := result["token_usage"].(map[string]any); ok {
		fmt.Fprintf(os.Stderr, "[%s tokens, %s, %s]\n",
			fmtNum(usage["total_tokens"]), fmtDuration(result["latency_ms"]), fmtCost(usageCost(usage)))
	}
}

func usageCost(usage map[string]any) any {
	if c, ok := usage["cost_usd"]; ok {
		return c
	}
	return nil
}

// streamSend tails the SSE variant: reasoning deltas go to stderr, content
// to stdout, and the terminal result event decides the exit code.
func streamSend(body map[string]any) {
	b, err := json.Marshal(body)
	fatal(err)
	resp, err := doRequest(streamClient, "POST", "/v1/requests/stream", strings.NewReader(string(b)))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "reasoning":
				fmt.Fprint(os.Stderr, deltaText(payload))
			case "content":
				fmt.Print(deltaText(payload))
			case "result":
				fmt.Println()
				var result map[string]any
				if json.Unmarshal([]byte(payload), &result) == nil && result["success"] != true {
					fmt.Fprintf(os.Stderr, "request failed (%v): %v\n", result["error_kind"], result["error"])
					os.Exit(1)
				}
			}
		}
	}
}

func deltaText(payload string) string {
	var delta struct {
		Text string `json:"text"`
	}
	if json.Unmarshal([]byte(payload), &delta) == nil {
		return delta.Text
	}
	return ""
}

func doDeliberate(args []string) {
	fs := flag.NewFlagSet("deliberate", flag.ExitOnError)
	agents := fs.String("agents", "", "comma-separated agent subset")
	rounds := fs.Int("rounds", 0, "maximum rounds")
	minConf := fs.Float64("min-confidence", 0, "consensus confidence floor")
	strategy := fs.String("strategy", "", "voting strategy")
	symbol := fs.String("symbol", "", "market symbol for enrichment")
	sType := fs.String("type", "", "strategy type for enrichment")
	durable := fs.Bool("durable", false, "execute through Temporal")
	rawJSON := fs.Bool("json", false, "print raw result")
	_ = fs.Parse(args)

	question := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(question) == "" {
		fmt.Fprintln(os.Stderr, "usage: troikactl deliberate [flags] <question...>")
		os.Exit(1)
	}

	body := map[string]any{
		"question":       question,
		"max_rounds":     *rounds,
		"min_confidence": *minConf,
		"strategy":       *strategy,
		"symbol":         *symbol,
		"strategy_type":  *sType,
	}
	if *agents != "" {
		body["agents"] = strings.Split(*agents, ",")
	}

	path := "/v1/deliberations"
	if *durable {
		path += "?durable=true"
	}
	result := doPost(path, body)
	if *rawJSON {
		fmt.Println(prettyJSON(result))
		return
	}

	fmt.Printf("Decision:    %v\n", result["decision"])
	fmt.Printf("Confidence:  %s\n", fmtNum(result["confidence"]))
	if rounds, ok := result["rounds"].([]any); ok {
		fmt.Printf("Rounds:      %d\n", len(rounds))
	}

	votes, _ := result["final_votes"].([]any)
	if len(votes) > 0 {
		fmt.Println()
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "AGENT\tPOSITION\tCONFIDENCE\tREASONING")
		for _, v := range votes {
			m, _ := v.(map[string]any)
			agent, _ := m["agent"].(string)
			pos, _ := m["position"].(string)
			reason, _ := m["reasoning"].(string)
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", agent, pos, fmtNum(m["confidence"]), truncate(reason, 60))
		}
		_ = tw.Flush()
	}

	dissents, _ := result["dissenting_opinions"].([]any)
	for _, d := range dissents {
		m, _ := d.(map[string]any)
		agent, _ := m["agent"].(string)
		reason, _ := m["reasoning"].(string)
		fmt.Printf("\nDissent (%s): %s\n", agent, truncate(reason, 120))
	}
}

func doDeliberations(args []string) {
	data := doGet(fmt.Sprintf("/v1/deliberations?limit=%d", parseLimit(args)))
	items, _ := data["items"].([]any)
	if len(items) == 0 {
		fmt.Println("No deliberations recorded.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tDECISION\tCONFIDENCE\tROUNDS\tSTRATEGY\tQUESTION")
	for _, it := range items {
		m, _ := it.(map[string]any)
		question, _ := m["question"].(string)
		decision, _ := m["decision"].(string)
		strategy, _ := m["strategy"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			fmtTime(m["timestamp"]), decision, fmtNum(m["confidence"]),
			fmtNum(m["rounds"]), strategy, truncate(question, 48))
	}
	_ = tw.Flush()
}

func doEnrich(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: troikactl enrich <symbol> [strategy-type]")
		os.Exit(1)
	}
	body := map[string]any{"symbol": args[0]}
	if len(args) > 1 {
		body["strategy_type"] = args[1]
	}
	fmt.Println(prettyJSON(doPost("/v1/enrich", body)))
}

func doPurge(args []string) {
	path := "/v1/enrich/cache"
	if len(args) > 0 {
		path += "?symbol=" + args[0]
	}
	result := doDelete(path)
	fmt.Printf("Invalidated %s cached context(s).\n", fmtNum(result["invalidated"]))
}

func doOutcomes(args []string) {
	data := doGet(fmt.Sprintf("/v1/outcomes?limit=%d", parseLimit(args)))
	items, _ := data["items"].([]any)
	if len(items) == 0 {
		fmt.Println("No request outcomes recorded.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tPROVIDER\tTASK\tOK\tKIND\tLATENCY\tTOKENS\tCOST")
	for _, it := range items {
		m, _ := it.(map[string]any)
		prov, _ := m["provider"].(string)
		task, _ := m["task_type"].(string)
		ok := "yes"
		kind := "-"
		if m["success"] != true {
			ok = "no"
			if k, kOk := m["error_kind"].(string); kOk && k != "" {
				kind = k
			}
		}
		tokens := num(m["prompt_tokens"]) + num(m["completion_tokens"])
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			fmtTime(m["timestamp"]), prov, task, ok, kind,
			fmtDuration(m["latency_ms"]), tokens, fmtCost(m["cost_usd"]))
	}
	_ = tw.Flush()
}

func doEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	types := fs.String("type", "", "")
	_ = fs.Parse(args)

	path := "/v1/events"
	if *types != "" {
		path += "?type=" + url.QueryEscape(*types)
	}
	resp, err := doRequest(streamClient, "GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event == "connected" {
				event = ""
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var evt map[string]any
			if json.Unmarshal([]byte(payload), &evt) != nil {
				continue
			}
			printEvent(evt)
		}
	}
	fmt.Println("Event stream closed.")
}

func printEvent(evt map[string]any) {
	evtType, _ := evt["type"].(string)
	parts := []string{}
	for _, key := range []string{"provider", "task_type", "secret_name", "reason", "decision", "error_kind", "old_state", "new_state"} {
		if v, ok := evt[key].(string); ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", key, v))
		}
	}
	if v, ok := evt["latency_ms"].(float64); ok && v > 0 {
		parts = append(parts, "latency="+fmtDuration(v))
	}
	if v, ok := evt["cost_usd"].(float64); ok && v > 0 {
		parts = append(parts, "cost="+fmtCost(v))
	}
	if v, ok := evt["cooling"].(float64); ok && v > 0 {
		parts = append(parts, fmt.Sprintf("cooling=%s/%s", fmtNum(v), fmtNum(evt["total"])))
	}
	fmt.Printf("[%s] %-22s %s\n", time.Now().Format("15:04:05"), evtType, strings.Join(parts, " "))
}

// --- formatting helpers ---

func digMap(m map[string]any, keys ...string) (map[string]any, bool) {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func num(v any) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return strconv.Itoa(int(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtCost(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f == 0 {
			return "free"
		}
		return fmt.Sprintf("$%.4f", f)
	}
	return fmt.Sprintf("%v", v)
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func fmtUptime(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "-"
	}
	return time.Duration(f * float64(time.Second)).Round(time.Second).String()
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func init() {
	http.DefaultTransport.(*http.Transport).DisableKeepAlives = true
}
