package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Ratio1/r1-hashfield/hashfield"
	"github.com/Ratio1/r1-hashfield/internal/config"
	"github.com/Ratio1/r1-hashfield/internal/devseed"
	"github.com/Ratio1/r1-hashfield/internal/logging"
	"github.com/Ratio1/r1-hashfield/kvstore"
)

const hashfieldURLEnv = "HASHFIELD_API_URL"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("close store")
		}
	}()

	if cfg.Seed != "" {
		entries, err := devseed.Load(cfg.Seed)
		if err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		if err := kvstore.Seed(ctx, store, entries); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info().Int("entries", len(entries)).Str("path", cfg.Seed).Msg("seed applied")
	}

	failCfg, err := parseFailConfig(cfg.Fail)
	if err != nil {
		return fmt.Errorf("parse fail flag: %w", err)
	}

	events := hashfield.NewRecorder(cfg.EventBuffer)
	layer := hashfield.New(store,
		hashfield.WithLogger(logger),
		hashfield.WithObserver(hashfield.Observers(events, hashfield.LogObserver{Logger: logger})),
	)

	a := &api{layer: layer, store: store, events: events, log: logger}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.routes(cfg.Latency, failCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Print(Logo)
	fmt.Println()
	fmt.Println("Ratio1 Hashfield")
	fmt.Println()
	logger.Info().Str("addr", cfg.HTTPAddr).Str("backend", cfg.Backend).Msg("http api listening")
	if cfg.RESPAddr != "" {
		logger.Info().Str("addr", cfg.RESPAddr).Msg("resp api listening")
	}
	fmt.Println()
	fmt.Printf("export %s=http://%s\n", hashfieldURLEnv, hostFromAddr(cfg.HTTPAddr))
	fmt.Println()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ln, err := net.Listen("tcp", httpServer.Addr)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn().Err(err).Msg("http shutdown")
			}
		}()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if cfg.RESPAddr != "" {
		rs := &respServer{ctx: ctx, layer: layer, log: logger}
		g.Go(func() error {
			ln, err := net.Listen("tcp", cfg.RESPAddr)
			if err != nil {
				return fmt.Errorf("resp listen: %w", err)
			}
			go func() {
				<-ctx.Done()
				_ = ln.Close()
			}()
			if err := rs.serve(ln); err != nil {
				return fmt.Errorf("resp serve: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (kvstore.Store, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		return kvstore.OpenLevelDB(cfg.DataDir)
	case config.BackendBadger:
		return kvstore.OpenBadger(cfg.DataDir)
	case config.BackendRedis:
		return kvstore.DialRedis(ctx, cfg.RedisAddr)
	}
	return kvstore.NewMemory(), nil
}

func hostFromAddr(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		return "localhost"
	}
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return host
}

const Logo = `
                              .---.    +##:
                              .*#*.    -==.
                              .*#*.
---. .:-==:   .-=++++=-.    :--*#*---..-==.      :-=++++++++++++++++++++++++++++
###:+#####- .=*##*++*###+:  =#######*. +##:    :+##**++**##############++++++*##
*##*#+-:....*##=:.   .=##*. ..:*#*:... +##:  .=##*-.    .-*###########*.     +##
*##*:      .**+.       *##:   .*#*.    +##:  -##+.        .+###########+++.  +##
*##-       ...  ....:-+###:   .*#*.    +##: .*##:          :##############:  +##
*#*.        .:=+**####**##:   .*#*.    +##: .*#*.          .*#############:  +##
*#*.       :+##+=--::..+##:   .*#*.    +##: .*#*.          :##############:  +##
*#*.      .*#*:       .*##:   .*#*.    +##:  =##=          =##############:  +##
*#*.      .*#*:     .:+###:   .*#*.    +##:  .+##=.      .=###############:  +##
*#*.       -*##+=-==*##*##*+. .+##*++. +##:   .=*#*+---=+*################-::+##
***.        .=+*####*=:.-+**:  .=****. +**:     .-+*############################
`
