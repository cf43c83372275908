/*
 * scsihba - Start and done queues
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
	"fmt"

	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/emu/task"
	"github.com/rcornwell/scsihba/util/debug"
)

// Both queues are rings of word pairs: a task address followed by the bus
// address of the next pair. The start queue is terminated by the idle
// entry, the done queue by zero.
func (a *Adapter) initQueues() {
	clear(a.squeue.Data)
	clear(a.dqueue.Data)
	for i := 0; i < a.qlen; i += 2 {
		next := uint32(4 * ((i + 2) % a.qlen))
		memory.SetWord(a.squeue.Data, 4*i, a.idle)
		memory.SetWord(a.squeue.Data, 4*(i+1), a.squeue.Bus+next)
		memory.SetWord(a.dqueue.Data, 4*(i+1), a.dqueue.Bus+next)
	}
	a.put = 0
	a.get = 0
	a.seq.Barrier()
}

func (a *Adapter) sq(i int) uint32 {
	return memory.Word(a.squeue.Data, 4*i)
}

func (a *Adapter) setSq(i int, v uint32) {
	memory.SetWord(a.squeue.Data, 4*i, v)
}

// Hand task to the sequencer. The following slot is made idle before the
// task address is published so the sequencer never runs past the end.
func (a *Adapter) putStartQueue(rec *task.Record) {
	next := (a.put + 2) % a.qlen
	a.setSq(next, a.idle)
	a.seq.Barrier()
	a.setSq(a.put, rec.Bus)
	a.seq.Barrier()
	debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.Queue,
		"queued at %d start %s", a.put/2, script.Label(rec.Start()))
	a.put = next
	a.seq.WriteReg(script.ISTAT, script.IstatSIGP|a.sem)
}

// Complete every task the sequencer has put on the done queue.
func (a *Adapter) wakeupDone() error {
	for range a.qlen / 2 {
		bus := memory.Word(a.dqueue.Data, 4*a.get)
		if bus == 0 {
			return nil
		}
		memory.SetWord(a.dqueue.Data, 4*a.get, 0)
		a.get = (a.get + 2) % a.qlen
		rec, ok := a.pool.Lookup(bus)
		if !ok || rec.Queue() != task.QueueBusy {
			return fmt.Errorf("%w: done queue entry %08x", ErrDesync, bus)
		}
		a.completeOK(rec)
	}
	return fmt.Errorf("%w: done queue never terminated", ErrDesync)
}

// Index of the start queue entry the sequencer will fetch next.
func (a *Adapter) seqGet() (int, error) {
	addr := a.seq.ReadReg(script.SCRATCHA)
	if addr < a.squeue.Bus || addr >= a.squeue.Bus+uint32(4*a.qlen) || addr&7 != 0 {
		return 0, fmt.Errorf("%w: start queue pointer %08x", ErrDesync, addr)
	}
	return int(addr-a.squeue.Bus) / 4, nil
}

// Remove tasks the sequencer has not fetched yet and that match. The
// sequencer must be stopped. Remaining entries keep their order.
func (a *Adapter) dequeueFromSqueue(match func(*task.Record) bool) []*task.Record {
	i, err := a.seqGet()
	if err != nil {
		a.log.Error("start queue scan", "error", err)
		return nil
	}
	var out []*task.Record
	j := i
	for i != a.put {
		bus := a.sq(i)
		if rec, ok := a.pool.Lookup(bus); ok && rec.Queue() == task.QueueBusy && match(rec) {
			out = append(out, rec)
			debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.Queue,
				"removed from start queue at %d", i/2)
		} else {
			if i != j {
				a.setSq(j, bus)
			}
			j = (j + 2) % a.qlen
		}
		i = (i + 2) % a.qlen
	}
	if j != a.put {
		a.setSq(j, a.idle)
		a.put = j
	}
	a.seq.Barrier()
	return out
}

// Match every task on nexus, lun or tag of -1 match anything.
func matchNexus(target, lun, tag int) func(*task.Record) bool {
	return func(r *task.Record) bool {
		return r.Target == target && (lun == -1 || r.Lun == lun) && (tag == -1 || r.Tag == tag)
	}
}

// Tasks waiting in the start queue, oldest first.
func (a *Adapter) queued() []uint32 {
	i, err := a.seqGet()
	if err != nil {
		return nil
	}
	var out []uint32
	for ; i != a.put; i = (i + 2) % a.qlen {
		out = append(out, a.sq(i))
	}
	return out
}

// Message for the sequencer to send next, NOOP when none.
func (a *Adapter) setMsgOut(msg []byte) {
	b := a.hcb.Data[script.HcbMsgOut : script.HcbMsgOut+16]
	for i := range b {
		b[i] = scsi.MsgNoop
	}
	copy(b, msg)
}

func (a *Adapter) msgOut() []byte {
	return a.hcb.Data[script.HcbMsgOut : script.HcbMsgOut+16]
}

func (a *Adapter) msgIn() []byte {
	return a.hcb.Data[script.HcbMsgIn : script.HcbMsgIn+16]
}
