package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fabricmon/pkg/model"
	"fabricmon/pkg/version"
)

const usage = `fabricctl [flags] <command> [args]

Commands:
  status                              control loop status
  health [link]                       health records, one link or all
  kpis [-history N]                   latest KPI snapshot or recent history
  jobs list                           list jobs
  jobs create <source> <dest> <gbps>  admit a job
  jobs reroute <id>                   force a reroute
  jobs delete <id>                    remove a job
  chaos list                          list chaos events
  chaos inject [flags]                inject a fault
  chaos cancel <id>                   cancel an active fault
  topology                            topology snapshot
  feed [-links a,b] [-interval D] [-count N]
                                      post synthetic telemetry batches
  watch                               stream tick summaries over WebSocket
`

type client struct {
	http  *http.Client
	base  string
	token string
}

func main() {
	defaultController := os.Getenv("FABRICMON_CONTROLLER")
	if defaultController == "" {
		defaultController = "http://127.0.0.1:8080"
	}
	defaultToken := os.Getenv("FABRICMON_TOKEN")

	controller := flag.String("controller", defaultController, "controller base URL (env FABRICMON_CONTROLLER)")
	token := flag.String("token", defaultToken, "auth token matching controller --token (env FABRICMON_TOKEN)")
	caFile := flag.String("ca", "", "CA file for controller TLS (optional)")
	certFile := flag.String("cert", "", "client TLS certificate (for mTLS)")
	keyFile := flag.String("key", "", "client TLS key (for mTLS)")
	insecure := flag.Bool("insecure", false, "skip TLS verify for controller (not recommended)")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("fabricctl version=%s\n", version.Build)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	httpClient, err := buildHTTPClient(*caFile, *certFile, *keyFile, *insecure)
	if err != nil {
		log.Fatalf("http client build failed: %v", err)
	}
	c := &client{
		http:  httpClient,
		base:  strings.TrimRight(*controller, "/"),
		token: *token,
	}

	switch args[0] {
	case "status":
		c.get("/api/system/status")
	case "health":
		if len(args) > 1 {
			c.get("/api/health/" + args[1])
		} else {
			c.get("/api/health")
		}
	case "kpis":
		fs := flag.NewFlagSet("kpis", flag.ExitOnError)
		history := fs.Int("history", 0, "show the last N snapshots instead of the latest")
		_ = fs.Parse(args[1:])
		if *history > 0 {
			c.get("/api/kpis/history?limit=" + strconv.Itoa(*history))
		} else {
			c.get("/api/kpis")
		}
	case "jobs":
		runJobs(c, args[1:])
	case "chaos":
		runChaos(c, args[1:])
	case "topology":
		c.get("/api/topology")
	case "feed":
		runFeed(c, args[1:])
	case "watch":
		runWatch(c)
	default:
		log.Printf("unknown command %q", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

func runJobs(c *client, args []string) {
	if len(args) == 0 {
		log.Fatal("jobs needs a subcommand: list|create|reroute|delete")
	}
	switch args[0] {
	case "list":
		c.get("/api/jobs")
	case "create":
		if len(args) != 4 {
			log.Fatal("usage: jobs create <source> <dest> <bandwidthGbps>")
		}
		bw, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			log.Fatalf("invalid bandwidth %q: %v", args[3], err)
		}
		c.post("/api/jobs", map[string]interface{}{
			"source":        args[1],
			"dest":          args[2],
			"bandwidthGbps": bw,
		})
	case "reroute":
		if len(args) != 2 {
			log.Fatal("usage: jobs reroute <id>")
		}
		c.post("/api/jobs/"+args[1]+"/reroute", nil)
	case "delete":
		if len(args) != 2 {
			log.Fatal("usage: jobs delete <id>")
		}
		c.del("/api/jobs/" + args[1])
	default:
		log.Fatalf("unknown jobs subcommand %q", args[0])
	}
}

func runChaos(c *client, args []string) {
	if len(args) == 0 {
		log.Fatal("chaos needs a subcommand: list|inject|cancel")
	}
	switch args[0] {
	case "list":
		c.get("/api/chaos")
	case "inject":
		fs := flag.NewFlagSet("chaos inject", flag.ExitOnError)
		typ := fs.String("type", model.ChaosCongestionStorm, "link_failure|congestion_storm|cascading_degradation")
		target := fs.String("target", "", "target link id")
		targets := fs.String("targets", "", "comma separated link ids")
		multiplier := fs.Float64("multiplier", 2, "congestion multiplier (congestion_storm)")
		factor := fs.Float64("factor", 0.5, "degradation factor at the seed link (cascading_degradation)")
		hops := fs.Int("hops", 2, "cascade spread in hops (cascading_degradation)")
		duration := fs.Duration("duration", time.Minute, "event lifetime")
		_ = fs.Parse(args[1:])
		c.post("/api/chaos", model.ChaosRequest{
			Type:        *typ,
			Target:      *target,
			Targets:     splitAndTrim(*targets),
			Multiplier:  *multiplier,
			Factor:      *factor,
			Hops:        *hops,
			DurationSec: duration.Seconds(),
		})
	case "cancel":
		if len(args) != 2 {
			log.Fatal("usage: chaos cancel <id>")
		}
		c.del("/api/chaos/" + args[1])
	default:
		log.Fatalf("unknown chaos subcommand %q", args[0])
	}
}

// runFeed posts synthetic telemetry batches so the ingestion path can be
// exercised without real collectors attached.
func runFeed(c *client, args []string) {
	fs := flag.NewFlagSet("feed", flag.ExitOnError)
	links := fs.String("links", "", "comma separated link ids (default: every link)")
	interval := fs.Duration("interval", time.Second, "time between batches")
	count := fs.Int("count", 0, "number of batches, 0 runs until interrupted")
	_ = fs.Parse(args)

	var snap model.TopologySnapshot
	if err := c.getInto("/api/topology", &snap); err != nil {
		log.Fatalf("load topology: %v", err)
	}
	byID := make(map[string]model.Link, len(snap.Links))
	for _, l := range snap.Links {
		byID[l.ID] = l
	}

	ids := splitAndTrim(*links)
	if len(ids) == 0 {
		for _, l := range snap.Links {
			ids = append(ids, l.ID)
		}
	}
	if len(ids) == 0 {
		log.Fatal("no links to feed")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; ; i++ {
		now := time.Now()
		batch := make([]model.TelemetryBatchItem, 0, len(ids))
		for _, id := range ids {
			lat := 1.0
			if l, ok := byID[id]; ok && l.BaseLatencyUs > 0 {
				lat = l.BaseLatencyUs
			}
			batch = append(batch, model.TelemetryBatchItem{
				LinkID: id,
				Sample: model.TelemetrySample{
					Timestamp:   now,
					LatencyUs:   lat * (1 + 0.1*rng.Float64()),
					Utilization: 0.2 + 0.4*rng.Float64(),
					BER:         1e-12 * (1 + rng.Float64()),
					TempC:       42 + 6*rng.Float64(),
					CRCErrors:   0,
				},
			})
		}
		var results []model.TelemetryBatchResult
		if err := c.postInto("/api/telemetry", batch, &results); err != nil {
			log.Printf("feed batch failed: %v", err)
		} else {
			rejected := 0
			for _, r := range results {
				if !r.Accepted {
					rejected++
				}
			}
			log.Printf("fed %d samples, %d rejected", len(results), rejected)
		}
		if *count > 0 && i+1 >= *count {
			return
		}
		time.Sleep(*interval)
	}
}

// runWatch streams tick summaries to stdout, one JSON document per line.
func runWatch(c *client) {
	u, err := url.Parse(c.base)
	if err != nil {
		log.Fatalf("invalid controller URL: %v", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws/updates"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Fatalf("ws dial failed: %v (url=%s status=%d)", err, u.String(), status)
	}
	defer conn.Close()
	log.Printf("watching %s", u.String())
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("ws read failed: %v", err)
		}
		fmt.Println(string(bytes.TrimSpace(msg)))
	}
}

func (c *client) do(method, path string, body interface{}) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	return data, nil
}

func (c *client) get(path string) { c.print(http.MethodGet, path, nil) }

func (c *client) post(path string, body interface{}) { c.print(http.MethodPost, path, body) }

func (c *client) del(path string) { c.print(http.MethodDelete, path, nil) }

func (c *client) print(method, path string, body interface{}) {
	data, err := c.do(method, path, body)
	if err != nil {
		log.Fatal(err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		os.Stdout.Write(data)
		return
	}
	fmt.Println(buf.String())
}

func (c *client) getInto(path string, out interface{}) error {
	data, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *client) postInto(path string, body, out interface{}) error {
	data, err := c.do(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func buildHTTPClient(caFile, certFile, keyFile string, insecure bool) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec
	if caFile != "" {
		caCertPool := x509.NewCertPool()
		caData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		caCertPool.AppendCertsFromPEM(caData)
		tlsConfig.RootCAs = caCertPool
	}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

func splitAndTrim(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
