package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/contractrpc/internal/calc"
	"github.com/danmuck/contractrpc/internal/config"
	"github.com/danmuck/contractrpc/internal/domain"
	"github.com/danmuck/contractrpc/internal/host"
	"github.com/danmuck/contractrpc/internal/lifecycle"
	"github.com/danmuck/contractrpc/internal/observability"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/rs/zerolog/log"
)

type options struct {
	config  string
	domain  string
	host    string
	port    int
	mode    string
	metaURL string
	timeout time.Duration
}

const usage = `usage: contractctl [flags] <command> [args]

commands:
  ping
  add A B
  divide A B
  echo TEXT
  stats N [N...]
  whoami USER PASSWORD
  upload USER PASSWORD LABEL FILE [FILE...]
  describe [CONTRACT]
  modes
`

func main() {
	opts := parseFlags()
	observability.InitLogger("contractctl")
	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if err := run(ctx, opts, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "contractctl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.config, "config", "", "client config (.toml, .yaml)")
	flag.StringVar(&opts.domain, "domain", "", "domain name from the config (default entry when empty)")
	flag.StringVar(&opts.host, "host", "127.0.0.1", "host when no config is given")
	flag.IntVar(&opts.port, "port", 7300, "port when no config is given")
	flag.StringVar(&opts.mode, "mode", lifecycle.ModeSocket, "socket | websocket | http, when no config is given")
	flag.StringVar(&opts.metaURL, "meta", "http://127.0.0.1:7380"+host.MetaPath, "metadata endpoint for describe")
	flag.DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opts
}

func run(ctx context.Context, opts options, cmd string, args []string) error {
	switch cmd {
	case "modes":
		fmt.Println(strings.Join(lifecycle.Modes(), "\n"))
		return nil
	case "describe":
		list := host.ListArgs{}
		if len(args) > 0 {
			list.Contract = args[0]
		}
		reply, err := host.FetchContracts(ctx, http.DefaultClient, opts.metaURL, list)
		if err != nil {
			return err
		}
		return printJSON(reply)
	}

	d, keepAlive, err := openDomain(opts)
	if err != nil {
		return err
	}
	c, err := calc.NewClient(d, keepAlive)
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case "ping":
		start := time.Now()
		if err := c.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("pong from %s in %s\n", d.Config().Address(), time.Since(start).Round(time.Microsecond))
	case "add":
		a, b, err := twoInts(args)
		if err != nil {
			return err
		}
		sum, err := c.Add(ctx, a, b)
		if err != nil {
			return err
		}
		fmt.Println(sum)
	case "divide":
		a, b, err := twoInts(args)
		if err != nil {
			return err
		}
		var rem int
		q, err := c.Divide(ctx, a, b, &rem)
		if err != nil {
			return err
		}
		fmt.Printf("%d remainder %d\n", q, rem)
	case "echo":
		r := c.Echo(ctx, strings.Join(args, " "))
		if !r.Succeeded() {
			return r.Err()
		}
		fmt.Println(r.Value)
	case "stats":
		values := make([]float64, 0, len(args))
		for _, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			values = append(values, v)
		}
		r := c.Stats(ctx, values)
		if !r.Succeeded() {
			return r.Err()
		}
		return printJSON(r.Value)
	case "whoami":
		if len(args) != 2 {
			return errors.New("whoami needs USER PASSWORD")
		}
		if r := c.Login(ctx, args[0], args[1]); !r.Succeeded() {
			return r.Err()
		}
		who, err := c.Whoami(ctx)
		if err != nil {
			return err
		}
		fmt.Println(who)
	case "upload":
		if len(args) < 4 {
			return errors.New("upload needs USER PASSWORD LABEL FILE...")
		}
		if r := c.Login(ctx, args[0], args[1]); !r.Succeeded() {
			return r.Err()
		}
		files, err := readFiles(args[3:])
		if err != nil {
			return err
		}
		total, receipts, err := c.Upload(ctx, args[2], files...)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %d bytes\n", total)
		for _, f := range receipts {
			fmt.Printf("--- %s (%s)\n%s", f.Name, f.ContentType, f.Data)
		}
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func openDomain(opts options) (*domain.Domain, bool, error) {
	if opts.config == "" {
		d, err := domain.New(domain.Config{Name: "cli", Host: opts.host, Port: opts.port, Mode: opts.mode})
		return d, false, err
	}
	cfg, err := config.LoadClientConfig(opts.config)
	if err != nil {
		return nil, false, err
	}
	entry, err := cfg.Domain(opts.domain)
	if err != nil {
		return nil, false, err
	}
	dc, err := entry.Config()
	if err != nil {
		return nil, false, err
	}
	d, err := domain.New(dc)
	if err != nil {
		return nil, false, err
	}
	log.Debug().Str("domain", d.Name()).Str("mode", dc.Mode).Str("addr", dc.Address()).Msg("domain ready")
	return d, *entry.KeepAlive, nil
}

func twoInts(args []string) (int, int, error) {
	if len(args) != 2 {
		return 0, 0, errors.New("expected two integers")
	}
	a, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func readFiles(paths []string) ([]protocol.File, error) {
	files := make([]protocol.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		ct := mime.TypeByExtension(filepath.Ext(p))
		if ct == "" {
			ct = "application/octet-stream"
		}
		files = append(files, protocol.File{Name: filepath.Base(p), ContentType: ct, Data: data})
	}
	return files, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
