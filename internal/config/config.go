// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config is device configuration: a JSON file validated against
// an embedded JSON Schema, with a .env overlay for the handful of
// values an operator would rather not commit to the config file (the
// NATS URL, most often). It resolves spec.md §9's Open Question —
// flash geometry (half-space size, erase unit) is a config value, not a
// compiled-in constant — the same way the teacher resolves its own
// deployment-specific values through config.json plus `.env`.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/microblocks-fw/vm/pkg/log"
)

// Flash configures the persistent store's geometry (internal/store.Options).
type Flash struct {
	HalfSpaceSize uint32 `json:"half-space-size"`
	EraseUnit     uint32 `json:"erase-unit"`
}

// Maintenance configures internal/maint's proactive check intervals, as
// duration strings (e.g. "5m", parsed with time.ParseDuration).
type Maintenance struct {
	CompactionCheckInterval string `json:"compaction-check-interval"`
	CollectionCheckInterval string `json:"collection-check-interval"`
}

// Config is the whole-device configuration.
type Config struct {
	Flash     Flash  `json:"flash"`
	FlashFile string `json:"flash-file"` // empty uses a RAM-backed image instead of a host file
	Addr      string `json:"addr"`       // websocket Transport listen address
	NATSURL   string `json:"nats-url"`   // empty disables the NATS Transport
	DebugAddr string `json:"debug-addr"` // internal/debugsrv listen address
	// SerialDevice names a board-attached serial port for the host link.
	// No serial Transport exists: cmd/microblocks accepts and logs the
	// value and never opens it.
	SerialDevice string      `json:"serial-device"`
	HeapWords    int         `json:"heap-words"` // internal/vm.NewHeap capacity
	Maintenance  Maintenance `json:"maintenance"`
}

// Keys is the package-level configuration instance, the same
// load-into-a-package-var shape as the teacher's own config.Keys /
// metricstore.Keys. It starts out holding sensible out-of-box defaults
// for the RAM-backed test double (spec.md §9: no compiled-in default
// beyond that), then Load overwrites it from a real file.
var Keys = Config{
	Flash: Flash{
		HalfSpaceSize: 64 * 1024,
		EraseUnit:     4096,
	},
	Addr:      ":5050",
	DebugAddr: ":6060",
	HeapWords: 16 * 1024,
	Maintenance: Maintenance{
		CompactionCheckInterval: "5m",
		CollectionCheckInterval: "1m",
	},
}

func (c Config) validate() error {
	if c.Flash.HalfSpaceSize == 0 || c.Flash.EraseUnit == 0 {
		return fmt.Errorf("config: flash half-space-size and erase-unit must be non-zero")
	}
	if c.Flash.HalfSpaceSize%c.Flash.EraseUnit != 0 {
		return fmt.Errorf("config: flash half-space-size %d is not a multiple of erase-unit %d",
			c.Flash.HalfSpaceSize, c.Flash.EraseUnit)
	}
	if c.HeapWords <= 0 {
		return fmt.Errorf("config: heap-words must be positive")
	}
	return nil
}

// envOverlay is a minimal set of process-env overrides applied after the
// file is decoded, the same "a field can be supplied by the
// environment instead of committed to the file" posture the teacher's
// own `"env:VARNAME"` DB-field convention gives its database DSN.
type envOverlay struct {
	envVar string
	apply  func(c *Config, value string)
}

var overlays = []envOverlay{
	{"MICROBLOCKS_ADDR", func(c *Config, v string) { c.Addr = v }},
	{"MICROBLOCKS_NATS_URL", func(c *Config, v string) { c.NATSURL = v }},
	{"MICROBLOCKS_DEBUG_ADDR", func(c *Config, v string) { c.DebugAddr = v }},
}

// Load reads envFile (via godotenv, missing is not an error) into the
// process environment, reads configFile, validates it against the
// embedded schema plus the HalfSpaceSize/EraseUnit invariant, decodes it
// over Keys's defaults, and applies any environment overlay. A missing
// configFile is not an error: Keys keeps its compiled-in defaults, for
// the RAM-backed test double and for a from-scratch first run.
func Load(configFile, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("config: read %s: %w", configFile, err)
			}
		} else {
			if err := validateSchema(raw); err != nil {
				return err
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&Keys); err != nil {
				return fmt.Errorf("config: decode %s: %w", configFile, err)
			}
		}
	}

	for _, o := range overlays {
		if v := os.Getenv(o.envVar); v != "" {
			log.Infof("[CONFIG]> overriding from %s", o.envVar)
			o.apply(&Keys, v)
		}
	}

	return Keys.validate()
}
