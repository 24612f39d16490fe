package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"xornet/internal/metrics"
	"xornet/internal/node"
	"xornet/internal/pprofutil"
	"xornet/internal/xorname"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runNode(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: xornet-node <run|status> [args]")
	fmt.Fprintln(w, "  run    --addr <ip:port> [--data <dir>] [--bootstrap <addr,...>] [--max-chunks n] [--debug]")
	fmt.Fprintln(w, "  status [--data <dir>]")
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".xornet-node")
}

func metricsPath(dataDir string) string {
	return filepath.Join(dataDir, "metrics.json")
}

func banner(w io.Writer, id, addr string, bootstrap []string) {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgWhite, color.Bold)
	title.Fprintln(w, "xornet storage node")
	label.Fprint(w, "Node: ")
	fmt.Fprintln(w, id)
	label.Fprint(w, "Listen: ")
	fmt.Fprintln(w, addr)
	label.Fprint(w, "Group: ")
	fmt.Fprintf(w, "size=%d majority=%d\n", xorname.CloseGroupSize, xorname.Majority(xorname.CloseGroupSize))
	label.Fprint(w, "Bootstrap: ")
	if len(bootstrap) == 0 {
		fmt.Fprintln(w, "(none, first node)")
	} else {
		fmt.Fprintln(w, strings.Join(bootstrap, ", "))
	}
}

func runNode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "listen addr (host:port)")
	data := fs.String("data", homeDir(), "data directory")
	bootstrap := fs.String("bootstrap", "", "comma-separated seed peer addresses")
	maxChunks := fs.Int("max-chunks", 0, "chunk capacity (0 = unbounded)")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}
	if *debug {
		_ = os.Setenv("XORNET_DEBUG", "1")
	}
	if err := pprofutil.StartFromEnv(stderr); err != nil {
		fmt.Fprintf(stderr, "pprof: %v\n", err)
		return 1
	}

	var seeds []string
	for _, s := range strings.Split(*bootstrap, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}
	n, err := node.New(node.Config{
		DataDir:     *data,
		ListenAddr:  *addr,
		Bootstrap:   seeds,
		MaxChunks:   *maxChunks,
		MetricsPath: metricsPath(*data),
	})
	if err != nil {
		fmt.Fprintf(stderr, "load node failed: %v\n", err)
		return 1
	}
	banner(stdout, n.ID().String(), *addr, seeds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	return 0
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	data := fs.String("data", homeDir(), "data directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	raw, err := os.ReadFile(metricsPath(*data))
	if err != nil {
		fmt.Fprintf(stdout, "status: no snapshot (is the node running?): %v\n", err)
		return 1
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		fmt.Fprintf(stderr, "bad snapshot: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "generated_at=%s\n", snap.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(stdout, "requests served=%d rejected=%d\n", snap.Requests.Served, snap.Requests.Rejected)
	fmt.Fprintf(stdout, "chunks stored=%d served=%d\n", snap.Storage.ChunksStored, snap.Storage.ChunksServed)
	fmt.Fprintf(stdout, "spends accepted=%d double_spends=%d\n", snap.Storage.SpendsAccepted, snap.Storage.DoubleSpendsCaught)
	fmt.Fprintf(stdout, "replicas applied=%d register_ops=%d\n", snap.Storage.ReplicasApplied, snap.Storage.RegisterOpsAccepted)
	return 0
}
