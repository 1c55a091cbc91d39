// Command predictx-cli signs and submits invocations to a predictx server and
// prints markets, balances and positions.
//
// Usage:
//
//	predictx-cli [global flags] <command> [command flags]
//
// Commands: keygen, encrypt-key, create, deposit, buy, resolve, payout,
// reclaim, markets, market, balance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/engine"
)

// globals carries the flags shared by every command.
type globals struct {
	api         string
	apiKey      string
	key         string
	keyFile     string
	keyPassword string
	engine      string
	token       string
	decimals    int
	out         io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, g *globals, args []string) error
}

var commands = map[string]command{
	"keygen":      {"generate a new private key", runKeygen},
	"encrypt-key": {"encrypt a private key into a password-protected file", runEncryptKey},
	"create":      {"create a market", runCreate},
	"deposit":     {"deposit tokens as pending credit on a market side", runDeposit},
	"buy":         {"buy yes or no shares", runBuy},
	"resolve":     {"ask the oracle to resolve a market", runResolve},
	"payout":      {"distribute the pool of a resolved market", runPayout},
	"reclaim":     {"return unconsumed credit on a market side", runReclaim},
	"markets":     {"list markets", runMarkets},
	"market":      {"show one market with its probability and resolution", runMarket},
	"balance":     {"show a token balance", runBalance},
}

func main() {
	g := &globals{out: os.Stdout}
	fs := flag.NewFlagSet("predictx-cli", flag.ExitOnError)
	fs.StringVar(&g.api, "api", envOr("PREDICTX_API", "http://localhost:8000"), "API base URL")
	fs.StringVar(&g.apiKey, "api-key", os.Getenv("PREDICTX_API_KEY"), "API key")
	fs.StringVar(&g.key, "key", os.Getenv("PREDICTX_KEY"), "hex private key")
	fs.StringVar(&g.keyFile, "key-file", os.Getenv("PREDICTX_KEY_FILE"), "encrypted key file")
	fs.StringVar(&g.keyPassword, "key-password", os.Getenv("PREDICTX_KEY_PASSWORD"), "password of the encrypted key file")
	fs.StringVar(&g.engine, "engine", envOr("PREDICTX_ENGINE_ADDRESS", engine.DefaultAddress().Hex()), "engine contract address")
	fs.StringVar(&g.token, "token", envOr("PREDICTX_TOKEN_ADDRESS", "0xd2a4cff31913016155e38e474a2c06d08be276cf"), "token contract address")
	fs.IntVar(&g.decimals, "decimals", 8, "token decimals")
	fs.Usage = func() { usage(fs) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		usage(fs)
		os.Exit(2)
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage(fs)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, g, fs.Args()[1:]); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "error: %s\n", apiErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: predictx-cli [global flags] <command> [flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", n, commands[n].summary)
	}
	fmt.Fprintf(os.Stderr, "\nGlobal flags:\n")
	fs.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// signer resolves the operator key from -key or -key-file.
func (g *globals) signer() (*crypto.Signer, error) {
	hexKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    g.key,
		EncryptedKeyPath: g.keyFile,
		KeyPassword:      g.keyPassword,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(hexKey)
}

func (g *globals) client() *apiClient {
	return newAPIClient(g.api, g.apiKey)
}
