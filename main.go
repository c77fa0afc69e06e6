// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// axe is a userspace daemon exposing a memory backed block device through
// BUSE. The whole device content lives in one anonymous memory mapping and is
// lost when the daemon exits.
//
// Project structure is following:
//
// - internal/axe contains the device lifecycle and its subpackages the backing
// store, translation of scatter-gather requests into store copies and
// serialization of requests coming from multiple host threads.
//
// - internal/host defines what the device needs from the environment exposing
// it and internal/host/busehost implements it with the BUSE kernel module.
//
// - internal/null contains trivial request handler which does nothing but
// correctly. It can be used for benchmarking underlying buse library and
// kernel module.
//
// - internal/config contains configuration package.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asch/axe/internal/axe"
	"github.com/asch/axe/internal/axe/store"
	"github.com/asch/axe/internal/config"
	"github.com/asch/axe/internal/host"
	"github.com/asch/axe/internal/host/busehost"
	"github.com/asch/axe/internal/null"
)

// Parse configuration from file and environment variables, creates the
// device and registers it with BUSE. The device is ran until it is signaled
// by SIGINT or SIGTERM to gracefully finish.
func main() {
	err := config.Configure()
	if err != nil {
		log.Panic().Err(err).Send()
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level)

	if config.Cfg.Profiler {
		runProfiler(config.Cfg.ProfilerPort)
	}

	buseHost := busehost.New(busehost.Options{
		Major:          config.Cfg.Major,
		Threads:        config.Cfg.Threads,
		QueueDepth:     config.Cfg.QueueDepth,
		Scheduler:      config.Cfg.Scheduler,
		Durable:        config.Cfg.Write.Durable,
		WriteChunkSize: config.Cfg.Write.ChunkSize,
		WriteShmSize:   config.Cfg.Write.BufSize,
		ReadShmSize:    config.Cfg.Read.BufSize,
		CollisionArea:  config.Cfg.Write.CollisionSize,
	})

	if config.Cfg.Null {
		runNull(buseHost)
		return
	}

	dev, err := axe.Create(axe.Config{
		Name:          config.Cfg.Name,
		CapacityBytes: config.Cfg.CapacityBytes,
		SectorSize:    int64(config.Cfg.SectorSize),
	}, store.MmapAllocator{Lock: config.Cfg.LockMemory})
	if err != nil {
		log.Panic().Err(err).Send()
	}

	if err := dev.Register(buseHost); err != nil {
		log.Panic().Err(err).Send()
	}

	registerSigHandlers(dev.Stop)

	if err := dev.Serve(); err != nil {
		log.Error().Err(err).Send()
	}

	log.Info().Int64("requests", dev.Requests()).Msg("device stopped")
	dev.Destroy()
}

// Serves the null handler instead of the device. There is no backing store,
// hence nothing to allocate and release.
func runNull(h host.Host) {
	handle, err := h.Register(host.Registration{
		Geometry: host.Geometry{
			Name:          config.Cfg.Name,
			CapacityBytes: config.Cfg.CapacityBytes,
			SectorSize:    int64(config.Cfg.SectorSize),
		},
		Handler: null.NewNull(int64(config.Cfg.SectorSize)),
	})
	if err != nil {
		log.Panic().Err(err).Send()
	}

	registerSigHandlers(func() error {
		handle.Stop()
		return nil
	})

	handle.Serve()

	if err := handle.Unregister(); err != nil {
		log.Error().Err(err).Send()
	}
}

// Register handler for graceful stop when SIGINT or SIGTERM came in.
func registerSigHandlers(stop func() error) {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msgf("Received interrupt, stopping %s device!", config.Cfg.Name)
		if err := stop(); err != nil {
			log.Error().Err(err).Send()
		}
	}()
}

func loggerSetup(pretty bool, level int) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling support. Useful for perfomance debugging.
func runProfiler(port int) {
	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}
