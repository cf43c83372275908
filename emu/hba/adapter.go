/*
 * scsihba - Host adapter engine
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package hba is the host side of the adapter. It hands commands to the
// sequencer through shared memory queues, services its interrupts and
// runs negotiation and error recovery. All entry points must be called
// from a single goroutine.
package hba

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rcornwell/scsihba/config/quirks"
	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/event"
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/metrics"
	"github.com/rcornwell/scsihba/emu/nego"
	"github.com/rcornwell/scsihba/emu/registry"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/task"
)

// Register file of the sequencer.
type Sequencer interface {
	ReadReg(r script.Reg) uint32
	WriteReg(r script.Reg, v uint32)
	Barrier()
}

// Upstream layer.
type Host interface {
	Complete(h Handle, c Completion)
	BusReset()
	DeviceReset(target int)
}

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

func WithQuirks(t *quirks.Table) Option {
	return func(a *Adapter) { a.quirks = t }
}

func WithID(id uuid.UUID) Option {
	return func(a *Adapter) { a.id = id }
}

type completion struct {
	rec *task.Record
	c   Completion
}

type Adapter struct {
	id      uuid.UUID
	log     *slog.Logger
	cfg     *settings.Settings
	debug   int
	mem     *memory.Memory
	seq     Sequencer
	host    Host
	metrics *metrics.Metrics
	quirks  *quirks.Table
	chip    quirks.Chip
	nego    *nego.Engine
	pool    *task.Pool
	reg     *registry.Registry
	events  *event.List

	hcb    memory.Region // Adapter block shared with sequencer.
	squeue memory.Region
	dqueue memory.Region
	qlen   int // Words in each queue.
	put    int // Next start queue word to fill.
	get    int // Next done queue word to read.
	idle   uint32
	sem    uint32 // IstatSEM while recovery is wanted.
	mode   uint32

	timeout int
	started bool
	pending []completion
	fault   string // Reset wanted once the current entry point is done.

	// Upstream notices held until the entry point returns.
	busReset  bool
	devResets []int
}

// Create adapter. Settings are read once, later changes have no effect.
func New(cfg *settings.Settings, mem *memory.Memory, seq Sequencer, host Host, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		id:      uuid.New(),
		cfg:     cfg,
		debug:   cfg.Debug,
		mem:     mem,
		seq:     seq,
		host:    host,
		timeout: cfg.Timeout,
		events:  event.NewList(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	a.log = a.log.With("adapter", a.id.String())

	var err error
	if a.quirks == nil {
		if cfg.QuirkFile != "" {
			a.quirks, err = quirks.Load(cfg.QuirkFile)
		} else {
			a.quirks, err = quirks.Default()
		}
		if err != nil {
			return nil, err
		}
	}
	a.chip, err = a.quirks.Lookup(cfg.Chip, cfg.Revision)
	if err != nil {
		return nil, err
	}
	a.nego = nego.New(a.chip, cfg.Clock)

	if a.pool, err = task.NewPool(mem, cfg.Tasks); err != nil {
		return nil, fmt.Errorf("task pool: %w", err)
	}
	if a.reg, err = registry.New(mem, cfg); err != nil {
		return nil, fmt.Errorf("target registry: %w", err)
	}
	if a.hcb, err = mem.Alloc(script.HcbSize, 64); err != nil {
		return nil, err
	}
	a.qlen = 2 * (cfg.Tasks + 2)
	if a.squeue, err = mem.Alloc(4*a.qlen, 64); err != nil {
		return nil, err
	}
	if a.dqueue, err = mem.Alloc(4*a.qlen, 64); err != nil {
		return nil, err
	}
	a.idle = a.hcb.Bus + script.HcbIdle

	memory.SetWord(a.hcb.Data, script.HcbSqueue, a.squeue.Bus)
	memory.SetWord(a.hcb.Data, script.HcbDqueue, a.dqueue.Bus)
	memory.SetWord(a.hcb.Data, script.HcbQueueLen, uint32(a.qlen))
	memory.SetWord(a.hcb.Data, script.HcbIdle, script.Idle)
	memory.SetWord(a.hcb.Data, script.HcbAbrtTbl+4, a.hcb.Bus+script.HcbAbrtMsg)
	for _, t := range a.reg.Targets() {
		memory.SetWord(a.hcb.Data, script.HcbTargets+4*t.ID, t.HeadBus())
	}
	return a, nil
}

func (a *Adapter) ID() uuid.UUID {
	return a.id
}

func (a *Adapter) Chip() quirks.Chip {
	return a.chip
}

// Load the script and start the sequencer.
func (a *Adapter) Start() error {
	if a.started {
		return nil
	}
	a.initChip()
	a.started = true
	a.log.Info("adapter started", "chip", a.chip.Name, "host_id", a.cfg.HostID,
		"tasks", a.cfg.Tasks, "mode", modeName(a.mode))
	return nil
}

// Bring chip, queues and targets to power on state. No task may be busy.
func (a *Adapter) initChip() {
	a.seq.WriteReg(script.ISTAT, script.IstatSRST)
	a.seq.WriteReg(script.ISTAT, 0)
	a.sem = 0
	a.mode = a.seq.ReadReg(script.STEST4) & script.ModeMsk
	a.nego.SetMode(a.mode)
	a.initTargets()
	a.initQueues()
	a.setMsgOut(nil)
	a.seq.WriteReg(script.HCBA, a.hcb.Bus)
	a.seq.WriteReg(script.SCRATCHA, a.squeue.Bus)
	a.seq.WriteReg(script.DSA, 0)
	a.seq.WriteReg(script.DSP, script.Start)
}

// Derive goals from user limits and forget any agreement.
func (a *Adapter) initTargets() {
	for _, t := range a.reg.Targets() {
		u := a.cfg.Targets[t.ID]
		user := registry.Trans{Period: uint8(u.Period), Offset: uint8(u.Offset), DT: u.DT}
		if u.Wide {
			user.Width = 1
		}
		goal, user := a.nego.CheckGoals(user)
		t.User = user
		t.ResetTransfer()
		t.SetGoal(goal)
	}
}

func modeName(mode uint32) string {
	switch mode & script.ModeMsk {
	case script.ModeSE:
		return "se"
	case script.ModeLVD:
		return "lvd"
	case script.ModeHVD:
		return "hvd"
	}
	return "unknown"
}
