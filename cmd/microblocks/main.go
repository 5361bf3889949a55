// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command microblocks is the device entrypoint: it wires the object
// heap, persistent code store, primitive registry, interpreter, task
// scheduler, host-IDE transports, debug/metrics surface, and
// background maintenance into one running process, the same role
// cmd/cc-backend/main.go plays for the teacher's own server, replacing
// its hand-rolled flag.BoolVar/flag.StringVar parsing with
// github.com/urfave/cli/v2's Flags/Action idiom.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"

	"github.com/microblocks-fw/vm/internal/config"
	"github.com/microblocks-fw/vm/internal/debugsrv"
	"github.com/microblocks-fw/vm/internal/interp"
	"github.com/microblocks-fw/vm/internal/maint"
	"github.com/microblocks-fw/vm/internal/primitive"
	"github.com/microblocks-fw/vm/internal/proto"
	"github.com/microblocks-fw/vm/internal/sched"
	"github.com/microblocks-fw/vm/internal/store"
	"github.com/microblocks-fw/vm/internal/vm"
	"github.com/microblocks-fw/vm/pkg/log"
)

const (
	natsInSubject  = "microblocks.host.out" // host->VM frames
	natsOutSubject = "microblocks.host.in"  // VM->host frames
)

func main() {
	app := &cli.App{
		Name:  "microblocks",
		Usage: "run the MicroBlocks VM: object memory, scheduler, and host-IDE protocol",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./config.json", Usage: "device configuration file"},
			&cli.StringFlag{Name: "env", Value: "./.env", Usage: "optional .env overlay for config values"},
			&cli.StringFlag{Name: "addr", Usage: "override the websocket listen address"},
			&cli.StringFlag{Name: "debug-addr", Usage: "override the debug/metrics listen address"},
			&cli.StringFlag{Name: "nats-url", Usage: "override the NATS transport URL (empty disables it)"},
			&cli.StringFlag{Name: "flash-image", Usage: "override the on-disk flash image path (empty uses RAM)"},
			&cli.StringFlag{Name: "serial-device", Usage: "reserved for a future board-attached serial transport"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if err := config.Load(c.String("config"), c.String("env")); err != nil {
		return fmt.Errorf("microblocks: %w", err)
	}
	applyFlagOverrides(c)

	log.Infof("[MAIN]> starting, websocket=%s debug=%s nats=%q", config.Keys.Addr, config.Keys.DebugAddr, config.Keys.NATSURL)

	flash, err := openFlash()
	if err != nil {
		return fmt.Errorf("microblocks: %w", err)
	}

	st, err := store.Open(flash, store.Options{
		HalfSpaceSize: config.Keys.Flash.HalfSpaceSize,
		EraseUnit:     config.Keys.Flash.EraseUnit,
	})
	if err != nil {
		return fmt.Errorf("microblocks: open store: %w", err)
	}

	heap := vm.NewHeap(config.Keys.HeapWords, true)
	chunks := sched.NewChunkTable()
	primitives := primitive.NewRegistry()
	outbuf := proto.NewOutputBuffer(heap, proto.DefaultOutputBufferSize)
	clock := interp.NewSystemClock(time.Now())

	in := interp.New(interp.Config{
		Heap:        heap,
		GlobalCount: 256,
		Primitives:  primitives,
		Chunks:      chunks,
		Clock:       clock,
		Output:      outbuf,
	})

	scheduler := sched.New(sched.Config{
		Interp:      in,
		Chunks:      chunks,
		Clock:       clock,
		Persistence: st,
	})

	if err := scheduler.Bootstrap(); err != nil {
		return fmt.Errorf("microblocks: bootstrap chunk table: %w", err)
	}
	scheduler.StartAll()

	maintainer, err := newMaintainer(scheduler)
	if err != nil {
		return fmt.Errorf("microblocks: %w", err)
	}
	if err := maintainer.Start(); err != nil {
		return fmt.Errorf("microblocks: start maintenance: %w", err)
	}
	defer maintainer.Shutdown()

	debugServer := debugsrv.New(debugsrv.Config{
		Scheduler: scheduler,
		Heap:      heap,
		Store:     st,
		Addr:      config.Keys.DebugAddr,
	})
	go func() {
		if err := debugServer.ListenAndServe(); err != nil {
			log.Errorf("[MAIN]> debug server: %v", err)
		}
	}()
	defer debugServer.Shutdown()

	var natsConn *nats.Conn
	if config.Keys.NATSURL != "" {
		natsConn, err = nats.Connect(config.Keys.NATSURL)
		if err != nil {
			return fmt.Errorf("microblocks: connect nats %s: %w", config.Keys.NATSURL, err)
		}
		defer natsConn.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsServer := startWebsocketServer(ctx, scheduler, outbuf)
	defer wsServer.Shutdown(context.Background())

	if natsConn != nil {
		session, err := startNATSSession(ctx, natsConn, scheduler, outbuf)
		if err != nil {
			return fmt.Errorf("microblocks: %w", err)
		}
		defer session.Close()
	}

	go runScheduler(ctx, scheduler)

	waitForShutdown()
	log.Infof("[MAIN]> shutting down")
	return nil
}

// applyFlagOverrides layers CLI flags over whatever config.Load already
// populated Keys with, the same "flag beats file" precedence the
// teacher's own flag.StringVar-then-config.json load order gives its
// own command-line overrides.
func applyFlagOverrides(c *cli.Context) {
	if v := c.String("addr"); v != "" {
		config.Keys.Addr = v
	}
	if v := c.String("debug-addr"); v != "" {
		config.Keys.DebugAddr = v
	}
	if c.IsSet("nats-url") {
		config.Keys.NATSURL = c.String("nats-url")
	}
	if v := c.String("flash-image"); v != "" {
		config.Keys.FlashFile = v
	}
	if v := c.String("serial-device"); v != "" {
		config.Keys.SerialDevice = v
	}
	if config.Keys.SerialDevice != "" {
		log.Warnf("[MAIN]> serial-device %q configured but no serial transport is implemented; ignoring", config.Keys.SerialDevice)
	}
}

func openFlash() (store.Flash, error) {
	totalBytes := 2 * config.Keys.Flash.HalfSpaceSize
	if config.Keys.FlashFile == "" {
		return store.NewRAMFlash(totalBytes), nil
	}
	log.Infof("[MAIN]> flash image %s (%d bytes)", config.Keys.FlashFile, totalBytes)
	return store.OpenFileFlash(config.Keys.FlashFile, totalBytes)
}

func newMaintainer(scheduler *sched.Scheduler) (*maint.Maintainer, error) {
	compactEvery, err := parseDurationOrDefault(config.Keys.Maintenance.CompactionCheckInterval, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	collectEvery, err := parseDurationOrDefault(config.Keys.Maintenance.CollectionCheckInterval, time.Minute)
	if err != nil {
		return nil, err
	}
	return maint.New(maint.Config{
		Scheduler:               scheduler,
		CompactionCheckInterval: compactEvery,
		CollectionCheckInterval: collectEvery,
	})
}

func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

// startWebsocketServer mounts a single upgrade endpoint and spins up a
// Session per connection, mirroring the teacher's own one-mux.Router-
// per-listener shape (cmd/cc-backend/main.go's r := mux.NewRouter()).
func startWebsocketServer(ctx context.Context, scheduler *sched.Scheduler, outbuf *proto.OutputBuffer) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/vm", func(w http.ResponseWriter, req *http.Request) {
		transport, err := proto.NewWebsocketTransport(w, req)
		if err != nil {
			log.Warnf("[MAIN]> websocket upgrade failed: %v", err)
			return
		}
		session := proto.NewSession(proto.SessionConfig{
			Transport: transport,
			Scheduler: scheduler,
			Output:    outbuf,
		})
		go session.ReadLoop(ctx)
		go session.WriteLoop(ctx)
	})

	srv := &http.Server{Addr: config.Keys.Addr, Handler: r}
	go func() {
		log.Infof("[MAIN]> websocket listening at %s/vm", config.Keys.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("[MAIN]> websocket server: %v", err)
		}
	}()
	return srv
}

// startNATSSession bridges one Scheduler to a pair of NATS subjects, for
// multi-board test harnesses that want to observe or drive the VM
// without a websocket client (SPEC_FULL.md's nats.go wiring).
func startNATSSession(ctx context.Context, nc *nats.Conn, scheduler *sched.Scheduler, outbuf *proto.OutputBuffer) (*proto.Session, error) {
	transport, err := proto.NewNATSTransport(nc, natsInSubject, natsOutSubject)
	if err != nil {
		return nil, fmt.Errorf("nats transport: %w", err)
	}
	session := proto.NewSession(proto.SessionConfig{
		Transport: transport,
		Scheduler: scheduler,
		Output:    outbuf,
	})
	go session.ReadLoop(ctx)
	go session.WriteLoop(ctx)
	return session, nil
}

// runScheduler drives RunSlice in a tight loop, backing off briefly
// whenever a whole rotation finds no due work, so an idle VM does not
// spin a core at 100% (spec.md's "main loop" of §2, run here as its own
// goroutine rather than blocking main so shutdown can still observe
// ctx.Done()).
func runScheduler(ctx context.Context, scheduler *sched.Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scheduler.RunSlice() {
			time.Sleep(time.Millisecond)
		}
	}
}

func waitForShutdown() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}
