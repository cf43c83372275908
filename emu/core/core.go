/*
 * scsihba - Simulation main loop
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

package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/hba"
	"github.com/rcornwell/scsihba/emu/master"
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/metrics"
	"github.com/rcornwell/scsihba/emu/sequencer"
	"github.com/rcornwell/scsihba/emu/target"
)

const (
	history    = 64        // Completions remembered.
	BufferSize = 256 << 10 // Data buffer for console commands.
	memSize    = 1 << 20   // Control blocks and queues.
)

// Completion as seen by the upstream layer.
type Result struct {
	Handle hba.Handle
	hba.Completion
	At uint64
}

type Core struct {
	wg      sync.WaitGroup
	done    chan struct{} // Signal to shutdown simulator.
	running bool          // Indicate when simulator should run or not.
	Master  chan master.Packet

	log       *slog.Logger
	mem       *memory.Memory
	buf       memory.Region
	seq       *sequencer.Sequencer
	devices   []*target.Device
	adapter   *hba.Adapter
	results   []Result
	busResets int
	devResets map[int]int
}

// Build memory, sequencer, devices and adapter from settings and start
// the adapter.
func New(cfg *settings.Settings, log *slog.Logger, m *metrics.Metrics) (*Core, error) {
	if log == nil {
		log = slog.Default()
	}
	core := &Core{
		Master:    make(chan master.Packet),
		done:      make(chan struct{}),
		log:       log,
		devResets: map[int]int{},
	}
	core.mem = memory.New(memSize+BufferSize, 0)
	var err error
	if core.buf, err = core.mem.Alloc(BufferSize, 512); err != nil {
		return nil, err
	}
	core.seq = sequencer.New(core.mem, cfg.Debug)
	for _, d := range cfg.Devices {
		dev := target.New(d, cfg.Debug)
		core.devices = append(core.devices, dev)
		core.seq.Attach(dev)
	}
	core.adapter, err = hba.New(cfg, core.mem, core.seq, core, hba.WithLogger(log), hba.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}
	if err := core.adapter.Start(); err != nil {
		return nil, err
	}
	return core, nil
}

func (core *Core) Adapter() *hba.Adapter {
	return core.adapter
}

func (core *Core) Sequencer() *sequencer.Sequencer {
	return core.seq
}

func (core *Core) Devices() []*target.Device {
	return core.devices
}

// Buffer for console data transfers.
func (core *Core) Buffer() memory.Region {
	return core.buf
}

// Most recent completions, oldest first.
func (core *Core) Results() []Result {
	return append([]Result(nil), core.results...)
}

func (core *Core) BusResets() int {
	return core.busResets
}

func (core *Core) DeviceResets(target int) int {
	return core.devResets[target]
}

// Upstream callbacks from the adapter.
func (core *Core) Complete(h hba.Handle, c hba.Completion) {
	core.log.Debug("command complete", "handle", h.String(), "status", c.Status.String(),
		"scsi_status", c.SCSIStatus, "residual", c.Residual)
	if len(core.results) == history {
		core.results = core.results[1:]
	}
	core.results = append(core.results, Result{Handle: h, Completion: c, At: core.seq.Now()})
}

func (core *Core) BusReset() {
	core.busResets++
	core.log.Warn("bus reset reported")
}

func (core *Core) DeviceReset(target int) {
	core.devResets[target]++
	core.log.Warn("device reset reported", "target", target)
}

// One sequencer step, one timer tick, and the interrupt if raised.
func (core *Core) cycle() {
	core.seq.Step()
	core.adapter.Tick(1)
	if core.seq.IRQ() {
		core.adapter.Interrupt()
	}
}

// Run n cycles. Only call from the core goroutine, or before Start.
func (core *Core) Run(n int) {
	for range n {
		core.cycle()
	}
}

// Run until nothing is busy or limit cycles pass. Returns cycles run.
func (core *Core) RunIdle(limit int) int {
	n := 0
	for ; n < limit && (core.adapter.Busy() != 0 || core.seq.IRQ()); n++ {
		core.cycle()
	}
	return n
}

// Start simulation loop.
func (core *Core) Start() {
	core.wg.Add(1)
	defer core.wg.Done()
	for {
		if core.running && (core.adapter.Busy() != 0 || core.seq.IRQ()) {
			core.cycle()
			select {
			case <-core.done:
				return
			case packet := <-core.Master:
				core.processPacket(packet)
			default:
			}
			continue
		}
		// Nothing to do, wait for work.
		select {
		case <-core.done:
			return
		case packet := <-core.Master:
			core.processPacket(packet)
		}
	}
}

// Stop a running server.
func (core *Core) Stop() {
	slog.Info("Shutting down simulation")
	close(core.done)
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for simulation to finish.")
		return
	}
}

func (core *Core) send(p master.Packet) master.Reply {
	p.Reply = make(chan master.Reply, 1)
	core.Master <- p
	return <-p.Reply
}

// Queue command on adapter.
func (core *Core) SendSubmit(req hba.Request) (hba.Handle, error) {
	r := core.send(master.Packet{Msg: master.Submit, Request: req})
	return r.Handle, r.Err
}

func (core *Core) SendCancel(h hba.Handle) error {
	return core.send(master.Packet{Msg: master.Cancel, Handle: h}).Err
}

func (core *Core) SendResetDevice(target int) error {
	return core.send(master.Packet{Msg: master.ResetDevice, Target: target}).Err
}

func (core *Core) SendResetBus() {
	core.send(master.Packet{Msg: master.ResetBus})
}

func (core *Core) SendStep(n int) {
	core.send(master.Packet{Msg: master.Step, Count: n})
}

// Start running.
func (core *Core) SendStart() {
	core.send(master.Packet{Msg: master.Start})
}

// Stop running.
func (core *Core) SendStop() {
	core.send(master.Packet{Msg: master.Stop})
}

// Run fn on the core goroutine and wait for it.
func (core *Core) Do(fn func(*Core)) {
	core.send(master.Packet{Msg: master.Query, Fn: func() { fn(core) }})
}

// Process a packet sent to system simulation.
func (core *Core) processPacket(packet master.Packet) {
	var reply master.Reply
	switch packet.Msg {
	case master.Submit:
		reply.Handle, reply.Err = core.adapter.Submit(packet.Request)
	case master.Cancel:
		reply.Err = core.adapter.Cancel(packet.Handle)
	case master.ResetDevice:
		reply.Err = core.adapter.ResetDevice(packet.Target)
	case master.ResetBus:
		core.adapter.Reset()
	case master.Step:
		core.Run(packet.Count)
	case master.Start:
		core.running = true
	case master.Stop:
		core.running = false
	case master.Query:
		if packet.Fn != nil {
			packet.Fn()
		}
	default:
		reply.Err = fmt.Errorf("unknown request %d", packet.Msg)
	}
	if packet.Reply != nil {
		packet.Reply <- reply
	}
}
