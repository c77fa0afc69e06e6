// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values. Only the main package reads it, the device itself
// gets explicit configuration structures.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// Default config path. It does not need to exist, default values for all parameters will be
	// used instead.
	defaultConfig = "/etc/axe/config.toml"
)

var Cfg Config

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	ConfigPath string

	// Capacity parsed into bytes.
	CapacityBytes int64

	Name       string `toml:"name" env:"AXE_NAME" env-default:"axe_test" env-description:"Device name used at registration."`
	Capacity   string `toml:"capacity" env:"AXE_CAPACITY" env-default:"100 MiB" env-description:"Device size, e.g. 1 GiB or 512MB. Multiple of sector size."`
	SectorSize int    `toml:"sector_size" env:"AXE_SECTORSIZE" env-default:"512" env-description:"Sector size. 512 or 4096."`
	LockMemory bool   `toml:"lock_memory" env:"AXE_LOCKMEMORY" env-default:"false" env-description:"Lock the device memory in RAM so it is never swapped."`

	Null       bool  `toml:"null" env:"AXE_NULL" env-default:"false" env-description:"Use null handler, i.e. immediate acknowledge to read or write. For testing BUSE raw performance."`
	Major      int64 `toml:"major" env:"AXE_MAJOR" env-default:"0" env-description:"Device major. Decimal part of /dev/buse%d."`
	Threads    int   `toml:"threads" env:"AXE_THREADS" env-default:"0" env-description:"Number of user-space threads for serving queues."`
	Scheduler  bool  `toml:"scheduler" env:"AXE_SCHEDULER" env-default:"false" env-description:"Use block layer scheduler."`
	QueueDepth int64 `toml:"queue_depth" env:"AXE_QUEUEDEPTH" env-default:"128" env-description:"Device IO queue depth."`

	Write struct {
		Durable       bool  `toml:"durable" env:"AXE_WRITE_DURABLE" env-description:"Flush semantics. True means durable, false means barrier only." env-default:"false"`
		BufSize       int64 `toml:"shared_buffer_size" env:"AXE_WRITE_BUFSIZE" env-description:"Write shared memory size in MB." env-default:"32"`
		ChunkSize     int64 `toml:"chunk_size" env:"AXE_WRITE_CHUNKSIZE" env-description:"Chunk size in MB." env-default:"4"`
		CollisionSize int64 `toml:"collision_chunk_size" env:"AXE_WRITE_COLSIZE" env-description:"Collision size in MB." env-default:"1"`
	} `toml:"write"`

	Read struct {
		BufSize int64 `toml:"shared_buffer_size" env:"AXE_READ_BUFSIZE" env-description:"Read shared memory size in MB." env-default:"32"`
	} `toml:"read"`

	Log struct {
		Level  int  `toml:"level" env:"AXE_LOG_LEVEL" env-description:"Log level." env-default:"-1"`
		Pretty bool `toml:"pretty" env:"AXE_LOG_PRETTY" env-description:"Pretty logging." env-default:"true"`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"AXE_PROFILER" env-description:"Enable golang web profiler." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"AXE_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`
}

// Configure reads commandline flags and handles the configuration. The
// configuration file has the lower priotiry and the environment variables have
// the highest priority. It is perfetcly to fine to use just one of these or to
// combine them.
func Configure() error {
	flagSetup()
	err := parse(&Cfg)

	return err
}

// Parse the configuration file and reads the environment variable. After that
// it does some values postprocessing and fills the cfg structure.
func parse(cfg *Config) error {
	if err := cleanenv.ReadConfig(cfg.ConfigPath, cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return err
		}
	}

	return postprocess(cfg)
}

// Converts human readable and MB values to bytes and checks the device
// geometry.
func postprocess(cfg *Config) error {
	capacity, err := humanize.ParseBytes(cfg.Capacity)
	if err != nil {
		return fmt.Errorf("capacity %q: %w", cfg.Capacity, err)
	}
	cfg.CapacityBytes = int64(capacity)

	cfg.Write.BufSize *= 1024 * 1024
	cfg.Write.ChunkSize *= 1024 * 1024
	cfg.Write.CollisionSize *= 1024 * 1024
	cfg.Read.BufSize *= 1024 * 1024

	if cfg.SectorSize != 4096 {
		cfg.SectorSize = 512
	}

	if cfg.CapacityBytes == 0 || cfg.CapacityBytes%int64(cfg.SectorSize) != 0 {
		return fmt.Errorf("capacity %d is not a positive multiple of sector size %d",
			cfg.CapacityBytes, cfg.SectorSize)
	}

	return nil
}

// Handle program flags.
func flagSetup() {
	f := flag.NewFlagSet("axe", flag.ExitOnError)
	f.StringVar(&Cfg.ConfigPath, "c", defaultConfig, "Path to configuration file")
	f.Usage = cleanenv.FUsage(f.Output(), &Cfg, nil, f.Usage)
	f.Parse(os.Args[1:])
}
