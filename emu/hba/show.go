/*
 * scsihba - Adapter state for display
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
	"github.com/rcornwell/scsihba/emu/nego"
	"github.com/rcornwell/scsihba/emu/registry"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/task"
)

type TaskInfo struct {
	Handle     Handle
	Target     int
	Lun        int
	Tag        int // -1 when untagged.
	HostStatus uint8
	Nego       string
	Aborting   bool
	Retries    int
	Remaining  int // Ticks before timeout.
}

type LunInfo struct {
	Lun        int
	Busy       int
	BusyTagged int
	Depth      int
	FreeTags   int
}

type TargetInfo struct {
	ID        int
	Cur       registry.Trans
	Goal      registry.Trans
	User      registry.Trans
	CheckNego bool
	Luns      []LunInfo
}

type QueueInfo struct {
	Put      int
	Get      int
	Waiting  []uint32 // Start queue entries not yet fetched.
	Busy     int
	Free     int
	Barriers uint64 // Write barriers issued on the shared memory.
}

// Busy tasks in submit order.
func (a *Adapter) Tasks() []TaskInfo {
	var out []TaskInfo
	for _, r := range a.pool.Slice(task.QueueBusy) {
		tag := r.Tag
		if tag == script.NoTag {
			tag = -1
		}
		out = append(out, TaskInfo{
			Handle:     r.Handle(),
			Target:     r.Target,
			Lun:        r.Lun,
			Tag:        tag,
			HostStatus: r.HostStatus(),
			Nego:       nego.Family(r.NegoStatus()).String(),
			Aborting:   r.ToAbort != task.NotAborting,
			Retries:    r.Retries,
			Remaining:  a.events.Remaining(r.Handle(), 0),
		})
	}
	return out
}

// Targets with transfer agreement and discovered units.
func (a *Adapter) Targets() []TargetInfo {
	var out []TargetInfo
	for _, t := range a.reg.Targets() {
		ti := TargetInfo{ID: t.ID, Cur: t.Cur, Goal: t.Goal, User: t.User, CheckNego: t.CheckNego}
		for _, lp := range t.Luns() {
			ti.Luns = append(ti.Luns, LunInfo{
				Lun:        lp.Lun,
				Busy:       lp.Busy,
				BusyTagged: lp.BusyTagged,
				Depth:      lp.Depth,
				FreeTags:   lp.FreeTags(),
			})
		}
		out = append(out, ti)
	}
	return out
}

func (a *Adapter) Queues() QueueInfo {
	return QueueInfo{
		Put:      a.put / 2,
		Get:      a.get / 2,
		Waiting:  a.queued(),
		Busy:     a.pool.Len(task.QueueBusy),
		Free:     a.pool.Len(task.QueueFree),
		Barriers: a.mem.Barriers(),
	}
}

// Number of tasks given to the sequencer and not yet completed.
func (a *Adapter) Busy() int {
	return a.pool.Len(task.QueueBusy)
}
