package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"xornet/internal/client"
	"xornet/internal/crypto"
	"xornet/internal/files"
	"xornet/internal/network"
	"xornet/internal/protocol"
	"xornet/internal/transfers"
	"xornet/internal/wallet"
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
	case "files":
		return runFiles(args[1:], stdout, stderr)
	case "wallet":
		return runWallet(args[1:], stdout, stderr)
	case "spend":
		return runSpend(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: xornet <files|wallet|spend> [args]")
	fmt.Fprintln(w, "  files put --peers <addr,...> <path>")
	fmt.Fprintln(w, "  files get --peers <addr,...> --map <hex> <out-path>")
	fmt.Fprintln(w, "  wallet deposit --amount <n>")
	fmt.Fprintln(w, "  wallet list [--all]")
	fmt.Fprintln(w, "  wallet balance")
	fmt.Fprintln(w, "  spend send --peers <addr,...> --coin <id>")
	fmt.Fprintln(w, "  spend get --peers <addr,...> --id <hex>")
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".xornet")
}

func walletPath() string {
	dir := homeDir()
	_ = os.MkdirAll(dir, 0700)
	return filepath.Join(dir, "wallet.db")
}

// connect builds a client-mode network, dials the seed peers, and
// waits for the session to consider itself connected.
func connect(ctx context.Context, peers string, stderr io.Writer) (*client.Client, *network.Network, error) {
	seeds := splitPeers(peers)
	if len(seeds) == 0 {
		return nil, nil, fmt.Errorf("missing --peers")
	}
	pub, _, err := crypto.GenKeypair()
	if err != nil {
		return nil, nil, err
	}
	net := network.New(network.Config{
		Self:     network.Contact{ID: protocol.DerivePeerID(pub)},
		Insecure: true,
	})
	c, err := client.New(ctx, client.Config{
		Net: net,
		Bootstrap: func(ctx context.Context) {
			for _, addr := range seeds {
				if err := net.Dial(ctx, network.Contact{Addr: addr}); err != nil {
					fmt.Fprintf(stderr, "dial %s: %v\n", addr, err)
				}
			}
		},
	})
	if err != nil {
		net.Close()
		return nil, nil, err
	}
	return c, net, nil
}

func splitPeers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runFiles(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "put":
		return runFilesPut(args[1:], stdout, stderr)
	case "get":
		return runFilesGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown files command: %s\n", args[0])
		return 1
	}
}

func runFilesPut(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("files put", flag.ContinueOnError)
	fs.SetOutput(stderr)
	peers := fs.String("peers", "", "comma-separated seed peer addresses")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "missing file path")
		return 1
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "read file: %v\n", err)
		return 1
	}
	dm, chunks, err := files.Split(data)
	if err != nil {
		fmt.Fprintf(stderr, "split: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	c, net, err := connect(ctx, *peers, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer net.Close()

	for i := range chunks {
		if err := c.StoreChunk(ctx, &chunks[i]); err != nil {
			fmt.Fprintf(stderr, "store piece %d/%d: %v\n", i+1, len(chunks), err)
			return 1
		}
	}
	encoded, err := files.EncodeMap(dm)
	if err != nil {
		fmt.Fprintf(stderr, "encode map: %v\n", err)
		return 1
	}
	mapChunk := protocol.NewChunk(encoded)
	if err := c.StoreChunk(ctx, &mapChunk); err != nil {
		fmt.Fprintf(stderr, "store map: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "stored %d bytes in %d pieces\n", len(data), len(chunks))
	fmt.Fprintf(stdout, "map=%s\n", mapChunk.Name())
	return 0
}

func runFilesGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("files get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	peers := fs.String("peers", "", "comma-separated seed peer addresses")
	mapHex := fs.String("map", "", "data map address (hex)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 || *mapHex == "" {
		fmt.Fprintln(stderr, "need --map and an output path")
		return 1
	}
	name, err := xorname.FromHex(*mapHex)
	if err != nil {
		fmt.Fprintf(stderr, "bad map address: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	c, net, err := connect(ctx, *peers, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer net.Close()

	mapChunk, err := c.GetChunk(ctx, protocol.ChunkAddress(name))
	if err != nil {
		fmt.Fprintf(stderr, "fetch map: %v\n", err)
		return 1
	}
	dm, err := files.DecodeMap(mapChunk.Value)
	if err != nil {
		fmt.Fprintf(stderr, "decode map: %v\n", err)
		return 1
	}
	data, err := files.Assemble(dm, func(addr protocol.ChunkAddress) (*protocol.Chunk, error) {
		return c.GetChunk(ctx, addr)
	})
	if err != nil {
		fmt.Fprintf(stderr, "assemble: %v\n", err)
		return 1
	}
	if err := os.WriteFile(fs.Arg(0), data, 0600); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "fetched %d bytes\n", len(data))
	return 0
}

func runWallet(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	w, err := wallet.Open(walletPath())
	if err != nil {
		fmt.Fprintf(stderr, "open wallet: %v\n", err)
		return 1
	}
	defer w.Close()

	switch args[0] {
	case "deposit":
		fs := flag.NewFlagSet("wallet deposit", flag.ContinueOnError)
		fs.SetOutput(stderr)
		amount := fs.Uint64("amount", 0, "coin value")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if *amount == 0 {
			fmt.Fprintln(stderr, "missing --amount")
			return 1
		}
		coin, err := w.Deposit(*amount)
		if err != nil {
			fmt.Fprintf(stderr, "deposit: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "coin=%s amount=%d\n", coin.ID, coin.Amount)
		return 0
	case "list":
		fs := flag.NewFlagSet("wallet list", flag.ContinueOnError)
		fs.SetOutput(stderr)
		all := fs.Bool("all", false, "include spent coins")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		coins, err := w.List(*all)
		if err != nil {
			fmt.Fprintf(stderr, "list: %v\n", err)
			return 1
		}
		for _, c := range coins {
			state := "unspent"
			if c.Spent {
				state = "spent"
			}
			fmt.Fprintf(stdout, "%s amount=%d %s\n", c.ID, c.Amount, state)
		}
		return 0
	case "balance":
		balance, err := w.Balance()
		if err != nil {
			fmt.Fprintf(stderr, "balance: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "balance=%d\n", balance)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown wallet command: %s\n", args[0])
		return 1
	}
}

func runSpend(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "send":
		return runSpendSend(args[1:], stdout, stderr)
	case "get":
		return runSpendGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown spend command: %s\n", args[0])
		return 1
	}
}

func runSpendSend(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("spend send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	peers := fs.String("peers", "", "comma-separated seed peer addresses")
	coinID := fs.String("coin", "", "coin id to spend")
	reasonHex := fs.String("reason", "", "destination commitment (hex, optional)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *coinID == "" {
		fmt.Fprintln(stderr, "missing --coin")
		return 1
	}
	w, err := wallet.Open(walletPath())
	if err != nil {
		fmt.Fprintf(stderr, "open wallet: %v\n", err)
		return 1
	}
	defer w.Close()
	signer, amount, err := w.SignerFor(*coinID)
	if err != nil {
		fmt.Fprintf(stderr, "load coin: %v\n", err)
		return 1
	}
	var reason xorname.XorName
	if *reasonHex != "" {
		reason, err = xorname.FromHex(*reasonHex)
		if err != nil {
			fmt.Fprintf(stderr, "bad --reason: %v\n", err)
			return 1
		}
	}
	ss, err := signer.SignSpend(transfers.Spend{Amount: amount, Reason: reason})
	if err != nil {
		fmt.Fprintf(stderr, "sign spend: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	c, net, err := connect(ctx, *peers, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer net.Close()

	if err := c.SendSpend(ctx, &ss, nil); err != nil {
		fmt.Fprintf(stderr, "send spend: %v\n", err)
		return 1
	}
	if err := w.MarkSpent(*coinID); err != nil {
		fmt.Fprintf(stderr, "warning: spend accepted but not marked locally: %v\n", err)
	}
	fmt.Fprintf(stdout, "spent coin=%s amount=%d id=%s\n", *coinID, amount, ss.ID())
	return 0
}

func runSpendGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("spend get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	peers := fs.String("peers", "", "comma-separated seed peer addresses")
	idHex := fs.String("id", "", "spend id (hex)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *idHex == "" {
		fmt.Fprintln(stderr, "missing --id")
		return 1
	}
	name, err := xorname.FromHex(*idHex)
	if err != nil {
		fmt.Fprintf(stderr, "bad --id: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	c, net, err := connect(ctx, *peers, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer net.Close()

	ss, err := c.GetSpend(ctx, protocol.NameOfSpendID(name))
	if err != nil {
		fmt.Fprintf(stderr, "get spend: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "id=%s amount=%d key=%s\n",
		ss.ID(), ss.Spend.Amount, hex.EncodeToString(ss.Spend.UniquePubKey))
	return 0
}
