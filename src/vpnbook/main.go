package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/ICKelin/vpnbook/src/internal/store"
	"github.com/ICKelin/vpnbook/src/vpnbook/api"
	"github.com/ICKelin/vpnbook/src/vpnbook/backend"
	"github.com/ICKelin/vpnbook/src/vpnbook/config"
	"github.com/ICKelin/vpnbook/src/vpnbook/event"
	"github.com/ICKelin/vpnbook/src/vpnbook/probe"
	"github.com/ICKelin/vpnbook/src/vpnbook/scrape"
	"github.com/ICKelin/vpnbook/src/vpnbook/session"
)

func main() {
	flgConf := flag.String("c", "", "config file")
	flag.Parse()

	conf := config.Default()
	if *flgConf != "" {
		var err error
		conf, err = config.Parse(*flgConf)
		if err != nil {
			fmt.Printf("load config fail: %v\n", err)
			return
		}
	}
	logs.Init(conf.Log.Path, conf.Log.Level, conf.Log.Days)
	defer logs.Flush()

	st, err := store.New(conf.Store.Driver, conf.Store.Path)
	if err != nil {
		logs.Error("open store %s fail: %v", conf.Store.Path, err)
		return
	}
	defer st.Close()

	var be backend.Backend
	switch conf.Backend {
	case config.BackendRasdial:
		be = backend.NewRasdial(conf.ConnectionName)
	default:
		logs.Warn("dry run backend, no tunnel will be created")
		be = backend.NewNoop()
	}

	prober := probe.NewProber(probe.CommandPinger{TimeoutSec: conf.Probe.Timeout}, conf.ProbeTimeout(), conf.Probe.Concurrency)

	httpSession := scrape.NewSession(scrape.SessionConfig{
		UserAgent:         conf.Resolver.UserAgent,
		AcceptLanguage:    conf.Resolver.AcceptLanguage,
		RequestsPerSecond: conf.Resolver.Rate,
	})
	resolver := scrape.NewResolver(httpSession, scrape.Config{
		PageURL:          conf.PageURL,
		PageTimeout:      conf.PageTimeout(),
		ImageTimeout:     conf.ImageTimeout(),
		DefaultImagePath: conf.Resolver.DefaultImagePath,
	})

	events := event.NewChannel()
	orch := session.New(session.Config{
		Identifier:      conf.Identifier,
		SplitTunneling:  conf.SplitTunneling,
		MonitorInterval: conf.MonitorInterval(),
		CommandTimeout:  conf.CommandTimeout(),
	}, conf.Catalog(), session.Deps{
		Backend:  be,
		Prober:   prober,
		Resolver: resolver,
		Store:    st,
		Events:   events,
	})

	hub := api.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		event.Pump(ctx, events, event.DefaultTick, logEvent, hub.Publish)
	}()

	orch.StartRefresh()
	if orch.Credential() == "" {
		orch.StartResolve()
	}

	srv := api.NewServer(conf.API.Listen, orch, prober, hub)
	go func() {
		if err := srv.Run(); err != nil {
			logs.Error("api serve fail: %v", err)
		}
	}()

	if *flgConf != "" {
		w, err := config.Watch(*flgConf, config.DefaultWatchInterval, func(c *config.Config) {
			orch.SetCatalog(c.Catalog())
		})
		if err != nil {
			logs.Warn("watch %s fail: %v", *flgConf, err)
		} else {
			defer w.Close()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logs.Info("receive signal %s, exit", s)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	orch.Close()
	cancel()
	wg.Wait()
}

func logEvent(e event.Event) {
	switch e.Kind {
	case event.KindStateChanged:
		if e.Reason != "" {
			logs.Info("state %s server[%s]: %s", e.State, e.Server.Label(), e.Reason)
			return
		}
		logs.Info("state %s server[%s]", e.State, e.Server.Label())
	case event.KindLatency:
		logs.Debug("latency %s", e.Latency)
	case event.KindRanking:
		for _, m := range e.Ranking {
			logs.Info("server %s", m)
		}
	case event.KindCredential:
		logs.Info("credential updated, %d chars", len(e.Credential))
	case event.KindNotice:
		switch e.Level {
		case event.LevelError:
			logs.Error("%s", e.Message)
		case event.LevelWarn:
			logs.Warn("%s", e.Message)
		default:
			logs.Info("%s", e.Message)
		}
	}
}
