/*
 * scsihba - Adapter test bench
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

package hba

import (
	"io"
	"log/slog"
	"testing"

	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/sequencer"
	"github.com/rcornwell/scsihba/emu/target"
)

type testHost struct {
	done      map[Handle]Completion
	order     []Handle
	busResets int
	devResets []int
}

func (h *testHost) Complete(hd Handle, c Completion) {
	if _, ok := h.done[hd]; ok {
		panic("handle completed twice: " + hd.String())
	}
	h.done[hd] = c
	h.order = append(h.order, hd)
}

func (h *testHost) BusReset() {
	h.busResets++
}

func (h *testHost) DeviceReset(target int) {
	h.devResets = append(h.devResets, target)
}

type bench struct {
	t    *testing.T
	mem  *memory.Memory
	seq  *sequencer.Sequencer
	devs map[int]*target.Device
	a    *Adapter
	host *testHost
	buf  memory.Region
}

// Settings with short timeouts and the given devices on the bus.
func testConfig(devs ...settings.Device) *settings.Settings {
	cfg := settings.Default()
	cfg.Timeout = 3000
	cfg.Tasks = 16
	cfg.Devices = devs
	return cfg
}

func disk(id int) settings.Device {
	return settings.Device{ID: id, Luns: 1, Blocks: 64, Period: 25, Offset: 8, Wide: true, Latency: 5}
}

func newBench(t *testing.T, cfg *settings.Settings) *bench {
	t.Helper()
	b := &bench{t: t, devs: map[int]*target.Device{}}
	b.mem = memory.New(1<<20, 0)
	var err error
	if b.buf, err = b.mem.Alloc(64<<10, 512); err != nil {
		t.Fatalf("buffer: %v", err)
	}
	b.seq = sequencer.New(b.mem, 0)
	for _, d := range cfg.Devices {
		dev := target.New(d, 0)
		b.devs[d.ID] = dev
		b.seq.Attach(dev)
	}
	b.host = &testHost{done: map[Handle]Completion{}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b.a, err = New(cfg, b.mem, b.seq, b.host, WithLogger(log))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := b.a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return b
}

func (b *bench) run(n int) {
	for range n {
		b.seq.Step()
		b.a.Tick(1)
		if b.seq.IRQ() {
			b.a.Interrupt()
		}
	}
}

// Run until h completes.
func (b *bench) wait(h Handle, limit int) Completion {
	b.t.Helper()
	for range limit {
		if c, ok := b.host.done[h]; ok {
			return c
		}
		b.run(1)
	}
	if c, ok := b.host.done[h]; ok {
		return c
	}
	b.t.Fatalf("handle %s did not complete in %d steps", h, limit)
	return Completion{}
}

func (b *bench) submit(req Request) Handle {
	b.t.Helper()
	h, err := b.a.Submit(req)
	if err != nil {
		b.t.Fatalf("Submit failed: %v", err)
	}
	return h
}

// Segment of the test buffer.
func (b *bench) seg(off, size int) Segment {
	return Segment{Addr: b.buf.Bus + uint32(off), Size: uint32(size)}
}

func inquiry(target int, segs ...Segment) Request {
	return Request{Target: target, CDB: []byte{0x12, 0, 0, 0, 36, 0}, Dir: DirIn, Segs: segs}
}

func testUnitReady(target int) Request {
	return Request{Target: target, CDB: make([]byte, 6), Tagged: true}
}

func read10(target int, lba, blocks int, segs ...Segment) Request {
	return Request{Target: target, Dir: DirIn, Segs: segs, Tagged: true,
		CDB: []byte{0x28, 0, 0, 0, 0, byte(lba), 0, 0, byte(blocks), 0}}
}

func write10(target int, lba, blocks int, segs ...Segment) Request {
	return Request{Target: target, Dir: DirOut, Segs: segs, Tagged: true,
		CDB: []byte{0x2a, 0, 0, 0, 0, byte(lba), 0, 0, byte(blocks), 0}}
}

// Discover lun 0 so later commands may disconnect and use tags.
func (b *bench) discover(target int) {
	b.t.Helper()
	c := b.wait(b.submit(inquiry(target, b.seg(0, 36))), 2000)
	if c.Status != StatusOK {
		b.t.Fatalf("discovery of %d got: %s expected: ok", target, c.Status)
	}
}
