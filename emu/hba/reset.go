/*
 * scsihba - Bus and adapter reset
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

	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/emu/task"
)

// Reset the SCSI bus. Busy commands complete with StatusReset unless
// they were already being aborted.
func (a *Adapter) Reset() {
	defer a.deliver()
	a.resetBus("requested")
}

func (a *Adapter) resetBus(reason string) {
	a.log.Warn("resetting scsi bus", "reason", reason)
	a.metrics.Reset("bus")
	a.pulseReset()
	a.reinit(StatusReset)
	a.busReset = true
}

// Host and sequencer disagree, nothing the sequencer holds can be
// trusted.
func (a *Adapter) fullReset(reason string) {
	a.log.Error("adapter reset", "reason", reason,
		"dsp", script.Label(a.seq.ReadReg(script.DSP)),
		"dsa", fmt.Sprintf("%08x", a.seq.ReadReg(script.DSA)),
		"busy", a.pool.Len(task.QueueBusy))
	a.metrics.Reset("adapter")
	a.pulseReset()
	a.reinit(StatusReset)
	a.busReset = true
}

func (a *Adapter) pulseReset() {
	a.seq.WriteReg(script.SCNTL1, script.Scntl1CRST)
	a.seq.WriteReg(script.SCNTL1, 0)
}

// Complete every busy task with st, forget all nexus state and restart
// the sequencer. Tasks being aborted keep the reason they were aborted.
func (a *Adapter) reinit(st Status) {
	for _, r := range a.pool.Slice(task.QueueBusy) {
		c := Completion{Status: st, SCSIStatus: scsi.StatusIllegal}
		switch r.ToAbort {
		case task.AbortTimeout:
			c.Status = StatusTimeout
		case task.AbortCancel:
			c.Status = StatusAborted
		}
		a.finish(r, c)
	}
	a.reg.Reset()
	if a.started {
		a.initChip()
	}
}
