// Command ringstore is a minimal, manual-exercise CLI over the ring
// engine: it loads a TOML config, opens (creating if needed) every ring
// it names, and on SIGINT/SIGTERM closes them in turn and exits. It is not
// a daemon in its own right — just enough wiring to create a store file
// with its rings and run the replicator; it does no put, get or
// consolidation of its own.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SystemGarden/habitat-sub003/config"
	"github.com/SystemGarden/habitat-sub003/replicate"
	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/store/bolt"
)

// Exit codes per spec §6: 0 success, non-zero on configuration error,
// lock contention exhausted, or unrecoverable I/O.
const (
	exitOK          = 0
	exitConfigError = 1
	exitLockBusy    = 2
	exitIOError     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "ringstore.toml", "path to the ringstore TOML config")
	flag.Parse()

	log.Printf("ringstore: loading config %s", *cfgPath)
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Printf("ringstore: config error: %v", err)
		return exitConfigError
	}

	backend := bolt.New()
	engine := ring.NewEngine(backend)
	defer engine.CloseAll()

	handles := make(map[string]*ring.Handle, len(cfg.Rings))
	for _, rc := range cfg.Rings {
		log.Printf("ringstore: opening ring %q (duration=%d slots=%d)", rc.Name, rc.Duration, rc.SlotCapacity)
		h, err := engine.Open(ring.OpenOptions{
			Path:         cfg.DataPath,
			Perm:         os.FileMode(cfg.Perm),
			Name:         rc.Name,
			Long:         rc.Long,
			About:        rc.About,
			SlotCapacity: rc.SlotCapacity,
			Duration:     rc.Duration,
			Create:       true,
		})
		if err != nil {
			if store.Is(err, store.KindLocked) {
				log.Printf("ringstore: lock contention opening %q: %v", rc.Name, err)
				return exitLockBusy
			}
			log.Printf("ringstore: I/O error opening %q: %v", rc.Name, err)
			return exitIOError
		}
		handles[rc.Name] = h
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(cfg.Replication.Directives) > 0 {
		directives := make([]replicate.Directive, 0, len(cfg.Replication.Directives))
		for _, raw := range cfg.Replication.Directives {
			d, err := replicate.ParseDirective(raw)
			if err != nil {
				log.Printf("ringstore: config error: %v", err)
				return exitConfigError
			}
			directives = append(directives, d)
		}

		statePath := cfg.DataPath
		state, err := engine.Open(ring.OpenOptions{
			Path:         statePath,
			Perm:         os.FileMode(cfg.Perm),
			Name:         "replication_state",
			SlotCapacity: 1,
			Duration:     1,
			Create:       true,
		})
		if err != nil {
			log.Printf("ringstore: I/O error opening replication state: %v", err)
			return exitIOError
		}

		repl := replicate.New(state, engine, cfg.DataPath, replicate.NewWSTransport())

		interval := time.Duration(cfg.Replication.TickInterval) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Printf("ringstore: replicating %d directive(s) every %s", len(directives), interval)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for _, err := range repl.Tick(directives) {
						log.Printf("ringstore: replication error: %v", err)
					}
				}
			}
		}()
	}

	log.Printf("ringstore: running, %d ring(s) open; ctrl-C to stop", len(handles))
	<-ctx.Done()

	log.Printf("ringstore: shutting down")
	for name, h := range handles {
		if err := h.Close(); err != nil {
			log.Printf("ringstore: closing %q: %v", name, err)
		}
	}
	return exitOK
}
