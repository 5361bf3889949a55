// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microblocks-fw/vm/internal/interp"
	"github.com/microblocks-fw/vm/internal/sched"
)

type fakeTransport struct {
	id string

	mu      sync.Mutex
	toRecv  [][]byte
	sent    [][]byte
	closed  bool
	closeCh chan struct{}
}

func newFakeTransport(chunks ...[]byte) *fakeTransport {
	return &fakeTransport{id: "fake-session", toRecv: chunks, closeCh: make(chan struct{})}
}

func (f *fakeTransport) Recv() ([]byte, error) {
	f.mu.Lock()
	if len(f.toRecv) > 0 {
		next := f.toRecv[0]
		f.toRecv = f.toRecv[1:]
		f.mu.Unlock()
		return next, nil
	}
	f.mu.Unlock()
	<-f.closeCh
	return nil, ErrTransportClosed
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) SessionID() string { return f.id }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

type fakeScheduler struct {
	mu       sync.Mutex
	commands []sched.HostCommand
}

func (f *fakeScheduler) Enqueue(cmd sched.HostCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeScheduler) snapshot() []sched.HostCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sched.HostCommand(nil), f.commands...)
}

func TestSessionReadLoopDecodesAndEnqueues(t *testing.T) {
	transport := newFakeTransport([]byte{0xFA, byte(sched.MsgStartAll), 0})
	s := NewSession(SessionConfig{Transport: transport, Scheduler: &fakeScheduler{}})
	fs := s.sched.(*fakeScheduler)

	ctx, cancel := context.WithCancel(context.Background())
	go s.ReadLoop(ctx)

	require.Eventually(t, func() bool {
		return len(fs.snapshot()) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, sched.MsgStartAll, fs.snapshot()[0].Type)

	cancel()
	transport.Close()
}

func TestSessionReadLoopStopsOnTransportClose(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(SessionConfig{Transport: transport, Scheduler: &fakeScheduler{}})

	done := make(chan struct{})
	go func() {
		s.ReadLoop(context.Background())
		close(done)
	}()
	transport.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadLoop did not return after transport closed")
	}
}

func TestSessionWriteLoopDrainsOutputBuffer(t *testing.T) {
	transport := newFakeTransport()
	out := NewOutputBuffer(nil, 64)
	s := NewSession(SessionConfig{Transport: transport, Scheduler: &fakeScheduler{}, Output: out, BytesPerSecond: 1 << 20})

	require.True(t, out.TryEmit(interp.OutMessage{Kind: interp.TaskStarted, ChunkID: 3}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.WriteLoop(ctx)

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.sent) > 0
	}, time.Second, 2*time.Millisecond)
}
