/*
 * scsihba - Target and logical unit registry
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

// Package registry keeps what the adapter knows about each target and
// logical unit: agreed transfer settings, tag pools and the tables the
// sequencer reads when a device reselects.
package registry

import (
	"errors"
	"fmt"

	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/ring"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/task"
)

var (
	ErrBusy       = errors.New("nexus busy")
	ErrNoTarget   = errors.New("no such target")
	ErrLogicFault = errors.New("nexus counters inconsistent")
)

// Transfer settings.
type Trans struct {
	Period uint8 // Period factor, 0 asynchronous.
	Offset uint8
	Width  uint8 // Width exponent, 0 narrow, 1 wide.
	DT     bool
}

func (t Trans) String() string {
	if t.Offset == 0 {
		return fmt.Sprintf("async width %d", 8<<t.Width)
	}
	dt := ""
	if t.DT {
		dt = " dt"
	}
	return fmt.Sprintf("period %d offset %d width %d%s", t.Period, t.Offset, 8<<t.Width, dt)
}

// Async narrow.
func (t Trans) Basic() bool {
	return t.Offset == 0 && t.Width == 0
}

type Target struct {
	ID         int
	Cur        Trans // Agreed with device.
	Goal       Trans // What we want.
	User       Trans // User ceiling.
	CheckNego  bool  // Goal differs from current.
	NegoTask   task.Handle
	ToReset    bool
	Disconnect bool // User allows disconnect.
	Tags       int  // User tag depth.

	// Encoded settings written into every selection.
	Sval uint8
	Wval uint8
	Uval uint8

	head     memory.Region
	mem      *memory.Memory
	lun0     *Lun
	luns     []*Lun
	discover [script.MaxLun]task.Handle // Untagged job finding a new lun.
}

type Lun struct {
	Lun        int
	Busy       int // Untagged jobs, 0 or 1.
	BusyTagged int
	Depth      int // Tagged jobs allowed.
	ToClear    bool
	tags       *ring.Ring[int]
	head       memory.Region
	table      memory.Region
	itl        task.Handle
	itlq       [script.MaxTags]task.Handle
}

// Registry for one adapter.
type Registry struct {
	mem     *memory.Memory
	hostID  int
	targets [script.MaxTarget]*Target
}

// Build registry, allocating a head block for every target.
func New(mem *memory.Memory, cfg *settings.Settings) (*Registry, error) {
	r := &Registry{mem: mem, hostID: cfg.HostID}
	for i := range r.targets {
		head, err := mem.Alloc(script.TgtSize, 16)
		if err != nil {
			return nil, err
		}
		u := cfg.Targets[i]
		t := &Target{
			ID:         i,
			NegoTask:   task.NoHandle,
			Disconnect: u.Disconnect,
			Tags:       min(u.Tags, script.MaxTags),
			head:       head,
			mem:        mem,
		}
		t.User = Trans{Period: uint8(u.Period), Offset: uint8(u.Offset), DT: u.DT}
		if u.Wide {
			t.User.Width = 1
		}
		for l := range t.discover {
			t.discover[l] = task.NoHandle
		}
		r.targets[i] = t
	}
	return r, nil
}

// Look up target.
func (r *Registry) Target(id int) (*Target, error) {
	if id < 0 || id >= script.MaxTarget || id == r.hostID {
		return nil, fmt.Errorf("%w: %d", ErrNoTarget, id)
	}
	return r.targets[id], nil
}

// Every target except the adapter itself.
func (r *Registry) Targets() []*Target {
	out := make([]*Target, 0, script.MaxTarget-1)
	for i, t := range r.targets {
		if i != r.hostID {
			out = append(out, t)
		}
	}
	return out
}

// Bus address of target head block.
func (t *Target) HeadBus() uint32 {
	return t.head.Bus
}

// Discovered logical unit.
func (t *Target) Lun(lun int) (*Lun, bool) {
	if lun == 0 {
		return t.lun0, t.lun0 != nil
	}
	if lun < 0 || lun >= script.MaxLun || t.luns == nil || t.luns[lun] == nil {
		return nil, false
	}
	return t.luns[lun], true
}

// All discovered logical units.
func (t *Target) Luns() []*Lun {
	out := []*Lun{}
	for l := range script.MaxLun {
		if lp, ok := t.Lun(l); ok {
			out = append(out, lp)
		}
	}
	return out
}

// Record a logical unit as present. Its tables are allocated and linked
// into the target head.
func (t *Target) Discover(lun int) (*Lun, error) {
	if lp, ok := t.Lun(lun); ok {
		return lp, nil
	}
	if lun < 0 || lun >= script.MaxLun {
		return nil, fmt.Errorf("lun %d out of range", lun)
	}
	head, err := t.mem.Alloc(script.LunSize, 8)
	if err != nil {
		return nil, err
	}
	table, err := t.mem.Alloc(script.TagsSize, 16)
	if err != nil {
		return nil, err
	}
	lp := &Lun{
		Lun:   lun,
		Depth: t.Tags,
		tags:  ring.Sequence(script.MaxTags),
		head:  head,
		table: table,
		itl:   task.NoHandle,
	}
	for i := range lp.itlq {
		lp.itlq[i] = task.NoHandle
	}
	memory.SetWord(head.Data, script.LunItlq, table.Bus)
	memory.SetWord(t.head.Data, script.TgtLuns+4*lun, head.Bus)
	if lun == 0 {
		t.lun0 = lp
	} else {
		if t.luns == nil {
			t.luns = make([]*Lun, script.MaxLun)
		}
		t.luns[lun] = lp
	}
	return lp, nil
}

// True when tagged commands may be issued to lun.
func (t *Target) Tagged(lun int) bool {
	lp, ok := t.Lun(lun)
	return ok && lp.Depth > 0 && t.Tags > 0
}

// Reserve nexus for a task. Returns the tag to use, script.NoTag when
// untagged. Undiscovered units allow one untagged job at a time.
func (t *Target) Reserve(lun int, tagged bool, rec *task.Record) (int, error) {
	lp, ok := t.Lun(lun)
	if !ok {
		if lun < 0 || lun >= script.MaxLun {
			return script.NoTag, fmt.Errorf("lun %d out of range", lun)
		}
		if t.discover[lun] != task.NoHandle {
			return script.NoTag, ErrBusy
		}
		t.discover[lun] = rec.Handle()
		return script.NoTag, nil
	}

	if tagged && t.Tagged(lun) {
		if lp.Busy != 0 || lp.BusyTagged >= lp.Depth {
			return script.NoTag, ErrBusy
		}
		tag, err := lp.tags.Get()
		if err != nil {
			return script.NoTag, ErrBusy
		}
		if lp.itlq[tag] != task.NoHandle {
			return script.NoTag, fmt.Errorf("%w: tag %d already in use", ErrLogicFault, tag)
		}
		lp.BusyTagged++
		lp.itlq[tag] = rec.Handle()
		memory.SetWord(lp.table.Data, 4*tag, rec.Bus)
		return tag, nil
	}

	if lp.Busy != 0 || lp.BusyTagged != 0 {
		return script.NoTag, ErrBusy
	}
	lp.Busy = 1
	lp.itl = rec.Handle()
	memory.SetWord(lp.head.Data, script.LunItl, rec.Bus)
	return script.NoTag, nil
}

// Free nexus held by task.
func (t *Target) Free(rec *task.Record) error {
	lun := rec.Lun
	h := rec.Handle()
	if lun >= 0 && lun < script.MaxLun && t.discover[lun] == h {
		t.discover[lun] = task.NoHandle
		return nil
	}
	lp, ok := t.Lun(lun)
	if !ok {
		return fmt.Errorf("%w: %s holds no nexus", ErrLogicFault, rec)
	}
	if rec.Tag != script.NoTag {
		if rec.Tag >= script.MaxTags || lp.itlq[rec.Tag] != h || lp.BusyTagged == 0 {
			return fmt.Errorf("%w: %s tag table", ErrLogicFault, rec)
		}
		lp.itlq[rec.Tag] = task.NoHandle
		memory.SetWord(lp.table.Data, 4*rec.Tag, 0)
		lp.BusyTagged--
		return lp.tags.Put(rec.Tag)
	}
	if lp.itl != h || lp.Busy == 0 {
		return fmt.Errorf("%w: %s untagged slot", ErrLogicFault, rec)
	}
	lp.itl = task.NoHandle
	memory.SetWord(lp.head.Data, script.LunItl, 0)
	lp.Busy = 0
	return nil
}

// Task holding tag, or untagged slot with script.NoTag.
func (lp *Lun) Task(tag int) task.Handle {
	if tag == script.NoTag {
		return lp.itl
	}
	if tag < 0 || tag >= script.MaxTags {
		return task.NoHandle
	}
	return lp.itlq[tag]
}

// Outstanding jobs.
func (lp *Lun) Outstanding() int {
	return lp.Busy + lp.BusyTagged
}

// Lower tag depth after QUEUE FULL, never below one.
func (lp *Lun) Throttle() int {
	lp.Depth = max(lp.BusyTagged, 1)
	return lp.Depth
}

// Free tags left in ring.
func (lp *Lun) FreeTags() int {
	return lp.tags.Available()
}

// Write encoded transfer settings to target head.
func (t *Target) SetSync(sval, wval, uval uint8) {
	t.Sval, t.Wval, t.Uval = sval, wval, uval
	t.head.Data[script.TgtSval] = sval
	t.head.Data[script.TgtWval] = wval
	t.head.Data[script.TgtUval] = uval
}

// Set current agreement and recompute whether to negotiate.
func (t *Target) SetCurrent(cur Trans) {
	t.Cur = cur
	t.CheckNego = t.Cur != t.Goal
}

// Set goal and recompute whether to negotiate.
func (t *Target) SetGoal(goal Trans) {
	t.Goal = goal
	t.CheckNego = t.Cur != t.Goal
}

// Claim the target's single negotiation slot.
func (t *Target) ClaimNego(h task.Handle) bool {
	if t.NegoTask != task.NoHandle && t.NegoTask != h {
		return false
	}
	t.NegoTask = h
	return true
}

// Give up negotiation slot if h owns it.
func (t *Target) ReleaseNego(h task.Handle) {
	if t.NegoTask == h {
		t.NegoTask = task.NoHandle
	}
}

// Forget agreement after bus or device reset.
func (t *Target) ResetTransfer() {
	t.SetSync(0, 0, 0)
	t.SetCurrent(Trans{})
	t.NegoTask = task.NoHandle
}

// Forget all jobs after an adapter reset. Tag rings are rebuilt.
func (r *Registry) Reset() {
	for _, t := range r.targets {
		t.ResetTransfer()
		t.ToReset = false
		for l := range t.discover {
			t.discover[l] = task.NoHandle
		}
		for _, lp := range t.Luns() {
			lp.Busy = 0
			lp.BusyTagged = 0
			lp.Depth = t.Tags
			lp.ToClear = false
			lp.tags = ring.Sequence(script.MaxTags)
			lp.itl = task.NoHandle
			for i := range lp.itlq {
				lp.itlq[i] = task.NoHandle
			}
			clear(lp.table.Data)
			memory.SetWord(lp.head.Data, script.LunItl, 0)
		}
	}
}
