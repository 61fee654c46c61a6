package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/contractrpc/internal/calc"
	"github.com/danmuck/contractrpc/internal/config"
	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/host"
	"github.com/danmuck/contractrpc/internal/observability"
	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "host config (.toml, .yaml); defaults apply when empty")
	flag.Parse()

	observability.InitLogger("contractd")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "contractd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.DefaultHostConfig()
	if configPath != "" {
		loaded, err := config.LoadHostConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		log.Info().Str("path", configPath).Msg("loaded host config")
	}
	tlsCfg, err := cfg.TLS.ServerTLS()
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	svc := calc.NewService(cfg.Users)
	contracts := contract.NewRegistry(wire.NewTypeRegistry())
	info, err := calc.Define(contracts, svc.SessionFilter())
	if err != nil {
		return err
	}
	h := host.New(append(cfg.HostOptions(), host.WithContracts(contracts))...)
	if err := h.Register(info, svc); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.SocketAddr != "" {
		ln, err := listen(cfg.SocketAddr, tlsCfg)
		if err != nil {
			return err
		}
		g.Go(func() error { return h.ServeSocket(ctx, ln, cfg.Limits()) })
	}
	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h.Handler(cfg.HTTPOptions()),
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("host", h.Name()).Str("addr", srv.Addr).Bool("tls", tlsCfg != nil).Msg("http listener started")
			var err error
			if tlsCfg != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err = g.Wait()
	log.Info().Str("host", h.Name()).Msg("host stopped")
	return err
}

func listen(addr string, tlsCfg *tls.Config) (net.Listener, error) {
	if tlsCfg != nil {
		return tls.Listen("tcp", addr, tlsCfg)
	}
	return net.Listen("tcp", addr)
}
