package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imagvfx/jobq"
	"github.com/imagvfx/jobq/config"
	"github.com/imagvfx/jobq/events"
	"github.com/imagvfx/jobq/rpc"
)

func main() {
	var (
		cfgPath    string
		rpcAddr    string
		eventsAddr string
		watch      bool
	)
	defaultCfg := os.Getenv("JOBQ_CONFIG")
	if defaultCfg == "" {
		defaultCfg = "jobq.toml"
	}
	flag.StringVar(&cfgPath, "config", defaultCfg, "toml config file, it is ok not to exist")
	flag.StringVar(&rpcAddr, "rpc", "", "address to serve gRPC, overrides rpc.addr")
	flag.StringVar(&eventsAddr, "events", "", "address to serve http, overrides events.addr")
	flag.BoolVar(&watch, "watch", true, "reload the config file when it changes")
	flag.Parse()

	env := config.EnvSource{Prefix: "JOBQ_"}
	s, kinds, err := loadConfig(cfgPath, env)
	if err != nil {
		log.Fatal(err)
	}
	if rpcAddr != "" {
		s.RPCAddr = rpcAddr
	}
	if eventsAddr != "" {
		s.EventsAddr = eventsAddr
	}

	lg, err := openLogger(s)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Close()

	e := jobq.NewEngine(s, lg.Logger)
	for _, k := range kinds {
		if err := e.Limiter.Register(k.Kind, k.Parent); err != nil {
			log.Fatal(err)
		}
		if k.Max > 0 {
			e.Limiter.SetLimit(k.Kind, k.Max, k.Exclusive)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch {
		w, err := config.Watch(cfgPath, env, func(ns config.Settings) {
			// addresses and log destinations are fixed once the daemon runs.
			ns.RPCAddr = s.RPCAddr
			ns.EventsAddr = s.EventsAddr
			e.Apply(ns)
			lg.Info("config reloaded from %s", cfgPath)
		})
		if err != nil {
			lg.Warn("config won't be reloaded: %v", err)
		} else {
			defer w.Close()
		}
	}

	lis, err := net.Listen("tcp", s.RPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	srv := rpc.NewServer(e, lg.Logger)
	srv.Allow, err = rpc.ParseAllowList(s.RPCAllow)
	if err != nil {
		log.Fatalf("invalid rpc.allow: %v", err)
	}
	go func() {
		if err := srv.Serve(ctx, lis); err != nil {
			log.Fatalf("failed to serve: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/events", events.NewHandler(e.Events, lg.Logger))
	mux.Handle("/api/logs", &logsHandler{store: lg.Store})
	hs := &http.Server{Addr: s.EventsAddr, Handler: mux}
	go func() {
		lg.Info("http: serving at %v", s.EventsAddr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to serve http: %v", err)
		}
	}()

	e.Run(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hs.Shutdown(shutdownCtx)
	lg.Info("bye")
}

// loadConfig reads settings and kind limits.
// Environment variables take precedence over the file.
func loadConfig(path string, env config.Source) (config.Settings, []config.KindLimit, error) {
	file, err := config.LoadTOML(path)
	if err != nil {
		if _, serr := os.Stat(path); serr == nil {
			return config.Settings{}, nil, err
		}
		log.Printf("config file %s not found, using defaults", path)
		s, err := config.Read(env)
		return s, nil, err
	}
	s, err := config.Read(config.Chain{env, file})
	if err != nil {
		return s, nil, err
	}
	kinds, err := file.KindLimits()
	return s, kinds, err
}
