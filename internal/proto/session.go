// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/microblocks-fw/vm/internal/sched"
	"github.com/microblocks-fw/vm/pkg/log"
)

// drainChunkBytes caps how much of the output buffer one write-loop
// iteration sends, emulating a bounded-baud serial link the way
// spec.md §4.5 "Buffering" describes the real hardware's link.
const drainChunkBytes = 256

// Session binds one Transport to the scheduler's host-command inbox and
// to an OutputBuffer, running the read and write loops that make the
// pairing act like spec.md's "one abstract duplex channel". Each
// Session gets its own rate limiter, which paces the bytes its WriteLoop
// sends; commands read by ReadLoop are not rate-limited.
type Session struct {
	id        string
	transport Transport
	sched     Scheduler
	out       *OutputBuffer
	decoder   *Decoder
	limiter   *rate.Limiter
}

// Scheduler is the subset of internal/sched's Scheduler a Session needs:
// just enough to hand off decoded commands. Defined here, not imported
// from internal/sched's own type, so internal/proto never needs to know
// about task tables or chunk tables, only about HostCommand.
type Scheduler interface {
	Enqueue(sched.HostCommand)
}

// SessionConfig groups a Session's collaborators.
type SessionConfig struct {
	Transport      Transport
	Scheduler      Scheduler
	Output         *OutputBuffer
	BytesPerSecond float64 // 0 uses a sensible default for a ~9600 baud-ish link
	BurstBytes     int
}

// NewSession wires a Transport to a Scheduler and OutputBuffer.
func NewSession(cfg SessionConfig) *Session {
	bps := cfg.BytesPerSecond
	if bps <= 0 {
		bps = 960 // roughly a 9600-baud serial link's byte rate
	}
	burst := cfg.BurstBytes
	if burst <= 0 {
		burst = DefaultOutputBufferSize
	}
	return &Session{
		id:        cfg.Transport.SessionID(),
		transport: cfg.Transport,
		sched:     cfg.Scheduler,
		out:       cfg.Output,
		decoder:   NewDecoder(),
		limiter:   rate.NewLimiter(rate.Limit(bps), burst),
	}
}

// ReadLoop blocks, decoding host->VM frames off the transport and
// enqueuing them, until ctx is cancelled or the transport closes.
func (s *Session) ReadLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		data, err := s.transport.Recv()
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				log.Infof("[PROTO]> session %s closed", s.id)
				return
			}
			log.Warnf("[PROTO]> session %s recv error: %v", s.id, err)
			return
		}
		for _, f := range s.decoder.Feed(data, time.Now()) {
			s.sched.Enqueue(ToHostCommand(f))
		}
	}
}

// WriteLoop blocks, draining the output buffer onto the transport at a
// rate-limited pace, until ctx is cancelled.
func (s *Session) WriteLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			chunk := s.out.Drain(drainChunkBytes)
			if len(chunk) == 0 {
				continue
			}
			if err := s.limiter.WaitN(ctx, len(chunk)); err != nil {
				return
			}
			if err := s.transport.Send(chunk); err != nil {
				log.Warnf("[PROTO]> session %s send error: %v", s.id, err)
				return
			}
		}
	}
}

// Close releases the underlying transport.
func (s *Session) Close() error {
	return s.transport.Close()
}
