/*
 * scsihba - Target and logical unit registry tests
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

package registry

import (
	"errors"
	"testing"

	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/task"
)

type fixture struct {
	mem  *memory.Memory
	pool *task.Pool
	reg  *Registry
}

func newFixture(t *testing.T, tags int) *fixture {
	t.Helper()
	cfg := settings.Default()
	for i := range cfg.Targets {
		cfg.Targets[i].Tags = tags
	}
	mem := memory.New(256*1024, 0)
	pool, err := task.NewPool(mem, 32)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	reg, err := New(mem, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{mem: mem, pool: pool, reg: reg}
}

func (f *fixture) reserve(t *testing.T, tgt *Target, lun int, tagged bool) (*task.Record, error) {
	t.Helper()
	rec, err := f.pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	tag, err := tgt.Reserve(lun, tagged, rec)
	if err != nil {
		f.pool.Release(rec)
		return nil, err
	}
	rec.SetNexus(tgt.ID, lun, tag)
	return rec, nil
}

func TestTargetLookup(t *testing.T) {
	f := newFixture(t, 4)
	if _, err := f.reg.Target(7); !errors.Is(err, ErrNoTarget) {
		t.Errorf("Host id returned as target")
	}
	if _, err := f.reg.Target(16); !errors.Is(err, ErrNoTarget) {
		t.Errorf("Target 16 returned")
	}
	if len(f.reg.Targets()) != 15 {
		t.Errorf("Target count got: %d expected: %d", len(f.reg.Targets()), 15)
	}
}

// Four tagged jobs fill a depth of four, a fifth waits for one to finish.
func TestTagDepth(t *testing.T) {
	f := newFixture(t, 4)
	tgt, _ := f.reg.Target(2)
	lp, err := tgt.Discover(0)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	recs := []*task.Record{}
	for range 4 {
		rec, err := f.reserve(t, tgt, 0, true)
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		recs = append(recs, rec)
	}
	if _, err := f.reserve(t, tgt, 0, true); !errors.Is(err, ErrBusy) {
		t.Errorf("Fifth tagged job got: %v", err)
	}
	if lp.BusyTagged != 4 {
		t.Errorf("Busy count got: %d expected: %d", lp.BusyTagged, 4)
	}
	if err := tgt.Free(recs[2]); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if _, err := f.reserve(t, tgt, 0, true); err != nil {
		t.Errorf("Reserve after free failed: %v", err)
	}
}

// A tag is not handed out again while a job holds it.
func TestTagRoundTrip(t *testing.T) {
	f := newFixture(t, 8)
	tgt, _ := f.reg.Target(1)
	lp, _ := tgt.Discover(0)
	held := map[int]bool{}
	var recs []*task.Record
	for i := range 200 {
		if len(recs) == 8 || (i%3 == 0 && len(recs) > 0) {
			r := recs[0]
			recs = recs[1:]
			delete(held, r.Tag)
			if err := tgt.Free(r); err != nil {
				t.Fatalf("Free failed: %v", err)
			}
			f.pool.Release(r)
		}
		r, err := f.reserve(t, tgt, 0, true)
		if err != nil {
			t.Fatalf("Reserve %d failed: %v", i, err)
		}
		if held[r.Tag] {
			t.Fatalf("Tag %d handed out twice", r.Tag)
		}
		if lp.Task(r.Tag) != r.Handle() {
			t.Errorf("Tag table does not name task")
		}
		if memory.Word(lp.table.Data, 4*r.Tag) != r.Bus {
			t.Errorf("Sequencer tag table not written")
		}
		held[r.Tag] = true
		recs = append(recs, r)
	}
}

// One untagged job per nexus, and it excludes tagged jobs.
func TestUntagged(t *testing.T) {
	f := newFixture(t, 4)
	tgt, _ := f.reg.Target(3)
	tgt.Discover(0)
	a, err := f.reserve(t, tgt, 0, false)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if a.Tag != script.NoTag {
		t.Errorf("Untagged job got tag %d", a.Tag)
	}
	if _, err := f.reserve(t, tgt, 0, false); !errors.Is(err, ErrBusy) {
		t.Errorf("Second untagged job got: %v", err)
	}
	if _, err := f.reserve(t, tgt, 0, true); !errors.Is(err, ErrBusy) {
		t.Errorf("Tagged job beside untagged got: %v", err)
	}
	tgt.Free(a)
	b, _ := f.reserve(t, tgt, 0, true)
	if _, err := f.reserve(t, tgt, 0, false); !errors.Is(err, ErrBusy) {
		t.Errorf("Untagged job beside tagged got: %v", err)
	}
	if err := tgt.Free(b); err != nil {
		t.Errorf("Free failed: %v", err)
	}
	if err := tgt.Free(b); !errors.Is(err, ErrLogicFault) {
		t.Errorf("Double free got: %v", err)
	}
}

// Undiscovered units run one untagged job.
func TestDiscovery(t *testing.T) {
	f := newFixture(t, 4)
	tgt, _ := f.reg.Target(4)
	a, err := f.reserve(t, tgt, 2, true)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if a.Tag != script.NoTag {
		t.Errorf("Discovery job tagged")
	}
	if _, err := f.reserve(t, tgt, 2, false); !errors.Is(err, ErrBusy) {
		t.Errorf("Second discovery got: %v", err)
	}
	if _, err := f.reserve(t, tgt, 3, false); err != nil {
		t.Errorf("Discovery of other lun failed: %v", err)
	}
	if err := tgt.Free(a); err != nil {
		t.Errorf("Free of discovery job failed: %v", err)
	}
	lp, _ := tgt.Discover(2)
	if memory.Word(tgt.head.Data, script.TgtLuns+8) != lp.head.Bus {
		t.Errorf("Lun head not linked into target")
	}
	if !tgt.Tagged(2) {
		t.Errorf("Discovered lun not tagged")
	}
}

func TestThrottle(t *testing.T) {
	f := newFixture(t, 8)
	tgt, _ := f.reg.Target(5)
	lp, _ := tgt.Discover(0)
	for range 3 {
		f.reserve(t, tgt, 0, true)
	}
	if lp.Throttle() != 3 {
		t.Errorf("Depth got: %d expected: %d", lp.Depth, 3)
	}
	if _, err := f.reserve(t, tgt, 0, true); !errors.Is(err, ErrBusy) {
		t.Errorf("Reserve above lowered depth got: %v", err)
	}
	f.reg.Reset()
	if lp.Depth != 8 || lp.Outstanding() != 0 || lp.FreeTags() != script.MaxTags {
		t.Errorf("Reset did not restore lun: depth %d busy %d", lp.Depth, lp.Outstanding())
	}
}

func TestNegoSlot(t *testing.T) {
	f := newFixture(t, 4)
	tgt, _ := f.reg.Target(1)
	a, _ := f.pool.Acquire()
	b, _ := f.pool.Acquire()
	if !tgt.ClaimNego(a.Handle()) {
		t.Errorf("First claim failed")
	}
	if tgt.ClaimNego(b.Handle()) {
		t.Errorf("Second negotiation allowed")
	}
	tgt.ReleaseNego(b.Handle())
	if tgt.NegoTask != a.Handle() {
		t.Errorf("Release by other task freed slot")
	}
	tgt.ReleaseNego(a.Handle())
	if !tgt.ClaimNego(b.Handle()) {
		t.Errorf("Claim after release failed")
	}
}

func TestCheckNego(t *testing.T) {
	f := newFixture(t, 4)
	tgt, _ := f.reg.Target(1)
	tgt.SetGoal(Trans{Period: 10, Offset: 31, Width: 1})
	if !tgt.CheckNego {
		t.Errorf("Goal change did not request negotiation")
	}
	tgt.SetCurrent(tgt.Goal)
	if tgt.CheckNego {
		t.Errorf("Negotiation requested after agreement")
	}
	tgt.SetSync(31, 0x18, 0)
	if tgt.head.Data[script.TgtWval] != 0x18 {
		t.Errorf("Wval not written to head")
	}
	tgt.ResetTransfer()
	if tgt.Cur != (Trans{}) || !tgt.CheckNego || tgt.head.Data[script.TgtSval] != 0 {
		t.Errorf("Reset transfer left %s", tgt.Cur)
	}
}
