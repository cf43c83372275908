/*
 * scsihba - Command timers
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
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/task"
)

// Start timer for a task, on expiry the task is aborted.
func (a *Adapter) arm(rec *task.Record, ticks int) {
	h := rec.Handle()
	a.events.Add(h, func(int) { a.expire(h, ticks) }, ticks, 0)
}

func (a *Adapter) expire(h Handle, ticks int) {
	rec, err := a.pool.Get(h)
	if err != nil || rec.Queue() != task.QueueBusy {
		return
	}
	if rec.ToAbort != task.NotAborting {
		a.log.Error("abort did not complete", "task", rec.String(),
			"host_status", rec.HostStatus(), "dsp", script.Label(a.seq.ReadReg(script.DSP)))
		a.resetBus("abort timeout")
		return
	}
	a.log.Warn("command timed out", "task", rec.String(), "host_status", rec.HostStatus())
	rec.ToAbort = task.AbortTimeout
	a.arm(rec, ticks)
	a.startRecovery()
}

// Advance command timers.
func (a *Adapter) Tick(n int) {
	defer a.deliver()
	a.events.Advance(n)
}

// Ticks since adapter was created.
func (a *Adapter) Now() uint64 {
	return a.events.Now()
}
