// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package maint is the wall-clock background maintenance scheduler: a
// proactive counterpart to the reactive triggers spec.md already
// defines (compaction on a full half-space, collection on a failed
// allocation). It never touches the heap or store directly — every
// check it runs is posted through Scheduler.Enqueue as an internal host
// command and applied from the cooperative scheduler's own dispatch
// loop, the same place every real host command is applied, so
// maintenance work never races a running task.
package maint

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/microblocks-fw/vm/internal/sched"
	"github.com/microblocks-fw/vm/pkg/log"
)

// Scheduler is the subset of internal/sched's Scheduler this package
// needs: just enough to post maintenance ticks. Defined here, not
// imported as a concrete type, the same decoupling-by-interface idiom
// internal/proto uses for its own Scheduler dependency.
type Scheduler interface {
	Enqueue(sched.HostCommand)
}

// Config controls how often each proactive check runs. A zero or
// negative interval is replaced by that check's default in New, so both
// checks run once Start is called.
type Config struct {
	Scheduler Scheduler

	// CompactionCheckInterval is how often MsgMaintCompact is posted.
	// Defaults to 5 minutes.
	CompactionCheckInterval time.Duration

	// CollectionCheckInterval is how often MsgMaintGC is posted.
	// Defaults to 1 minute.
	CollectionCheckInterval time.Duration
}

// Maintainer owns the gocron.Scheduler running the proactive jobs.
// Grounded on internal/taskManager's package-level gocron.Scheduler
// plus Register*/Start/Shutdown lifecycle, adapted to an instance
// rather than package-level so more than one device instance can run
// in the same process (the debug server's test harness, for instance).
type Maintainer struct {
	cron gocron.Scheduler
	cfg  Config
}

// New builds a Maintainer. It does not start any jobs; call Start.
func New(cfg Config) (*Maintainer, error) {
	if cfg.CompactionCheckInterval <= 0 {
		cfg.CompactionCheckInterval = 5 * time.Minute
	}
	if cfg.CollectionCheckInterval <= 0 {
		cfg.CollectionCheckInterval = time.Minute
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Maintainer{cron: cron, cfg: cfg}, nil
}

// Start registers the compaction-readiness and collection jobs and
// starts the underlying gocron scheduler.
func (m *Maintainer) Start() error {
	if err := m.registerCompactionCheck(); err != nil {
		return err
	}
	if err := m.registerCollectionCheck(); err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Shutdown stops the underlying gocron scheduler. It blocks until every
// in-flight job finishes, the same guarantee gocron.Scheduler.Shutdown
// gives the teacher's own taskManager.Shutdown.
func (m *Maintainer) Shutdown() error {
	return m.cron.Shutdown()
}

func (m *Maintainer) registerCompactionCheck() error {
	log.Infof("[MAINT]> register compaction-readiness check with %s interval", m.cfg.CompactionCheckInterval)
	_, err := m.cron.NewJob(
		gocron.DurationJob(m.cfg.CompactionCheckInterval),
		gocron.NewTask(func() {
			m.cfg.Scheduler.Enqueue(sched.HostCommand{Type: sched.MsgMaintCompact})
		}),
	)
	return err
}

func (m *Maintainer) registerCollectionCheck() error {
	log.Infof("[MAINT]> register collection-readiness check with %s interval", m.cfg.CollectionCheckInterval)
	_, err := m.cron.NewJob(
		gocron.DurationJob(m.cfg.CollectionCheckInterval),
		gocron.NewTask(func() {
			m.cfg.Scheduler.Enqueue(sched.HostCommand{Type: sched.MsgMaintGC})
		}),
	)
	return err
}
