/*
 * scsihba - Abort and device reset
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
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/registry"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/emu/task"
	"github.com/rcornwell/scsihba/util/debug"
)

// Recovery runs while the sequencer is held by the semaphore. It stops
// at a scheduling point, the host picks a target, the sequencer selects
// it and sends the message the host chose, then the host reaps what the
// message discarded.
func (a *Adapter) taskRecovery(code uint32) {
	switch code {
	case script.SirScriptStopped:
		a.scriptStopped()
	case script.SirTargetSelected:
		a.targetSelected()
	case script.SirAbortSent:
		a.abortSent()
	}
}

func (a *Adapter) scriptStopped() {
	aborting := func(r *task.Record) bool { return r.ToAbort != task.NotAborting }
	for _, r := range a.dequeueFromSqueue(aborting) {
		a.log.Info("aborted before start", "task", r.String())
		a.metrics.Recovery("dequeue")
		a.finishQueued(r)
	}

	if tgt := a.recoveryTarget(); tgt != nil {
		sel := a.hcb.Data[script.HcbAbrtSel:]
		sel[0], sel[1], sel[2], sel[3] = uint8(tgt.ID), tgt.Wval, tgt.Sval, tgt.Uval
		memory.SetWord(a.hcb.Data, script.HcbAbrtTbl, 0)
		a.seq.Barrier()
		debug.DebugTargetf(tgt.ID, a.debug, debug.Recovery, "selecting for recovery")
		a.seq.WriteReg(script.DSA, a.hcb.Bus)
		a.resume(script.SelForAbort)
		return
	}

	// Nothing left to do, let the sequencer run.
	a.sem = 0
	a.seq.WriteReg(script.ISTAT, script.IstatSIGP)
	a.resume(a.seq.ReadReg(script.DSP))
}

// Target needing a reset, a lun to clear or a disconnected task to abort.
func (a *Adapter) recoveryTarget() *registry.Target {
	for _, t := range a.reg.Targets() {
		if t.ToReset {
			return t
		}
	}
	for _, t := range a.reg.Targets() {
		for _, lp := range t.Luns() {
			if lp.ToClear {
				return t
			}
		}
	}
	if rec := a.abortable(-1); rec != nil {
		return a.target(rec)
	}
	return nil
}

// First disconnected task marked for abort, on target or any target
// when target is -1.
func (a *Adapter) abortable(target int) *task.Record {
	for _, r := range a.pool.Slice(task.QueueBusy) {
		if r.ToAbort != task.NotAborting && r.HostStatus() == script.HsDisconnect &&
			(target == -1 || r.Target == target) {
			return r
		}
	}
	return nil
}

func msgName(msg []byte) string {
	switch {
	case len(msg) == 0:
		return "none"
	case msg[0] == scsi.MsgBusDeviceReset:
		return "bus_device_reset"
	case len(msg) == 1 && msg[0] == scsi.MsgAbort:
		return "abort"
	case len(msg) >= 4 && msg[3] == scsi.MsgAbortTag:
		return "abort_tag"
	case len(msg) >= 2 && msg[1] == scsi.MsgClearQueue:
		return "clear_queue"
	case len(msg) >= 2 && msg[1] == scsi.MsgAbort:
		return "abort"
	}
	return "unknown"
}

// Sequencer has selected the target, choose what to send.
func (a *Adapter) targetSelected() {
	id := int(a.seq.ReadReg(script.SDID) & 0xf)
	tgt, err := a.reg.Target(id)
	if err != nil {
		a.fullReset("recovery selected unknown target")
		return
	}

	var msg []byte
	if tgt.ToReset {
		msg = []byte{scsi.MsgBusDeviceReset}
		tgt.ToReset = false
	} else {
		for _, lp := range tgt.Luns() {
			if lp.ToClear {
				msg = []byte{scsi.Identify(lp.Lun, false), scsi.MsgClearQueue}
				lp.ToClear = false
				break
			}
		}
		if msg == nil {
			if rec := a.abortable(id); rec != nil {
				if rec.Tag == script.NoTag {
					msg = []byte{scsi.Identify(rec.Lun, false), scsi.MsgAbort}
				} else {
					msg = []byte{scsi.Identify(rec.Lun, false), scsi.MsgSimpleTag, uint8(rec.Tag), scsi.MsgAbortTag}
				}
			} else {
				// Task finished meanwhile, make the target let go of the bus.
				msg = []byte{scsi.MsgAbort}
			}
		}
	}

	copy(a.hcb.Data[script.HcbAbrtMsg:script.HcbAbrtMsg+4], msg)
	memory.SetWord(a.hcb.Data, script.HcbAbrtTbl, uint32(len(msg)))
	a.seq.Barrier()
	a.metrics.Recovery(msgName(msg))
	a.log.Info("sending recovery message", "target", id, "message", msgName(msg))
	a.resume(a.seq.ReadReg(script.DSP))
}

// Message went out. Complete every task it discarded.
func (a *Adapter) abortSent() {
	id := int(a.seq.ReadReg(script.SDID) & 0xf)
	n := int(memory.Word(a.hcb.Data, script.HcbAbrtTbl))
	msg := a.hcb.Data[script.HcbAbrtMsg : script.HcbAbrtMsg+min(n, 4)]
	defer a.resume(script.Start)

	tgt, err := a.reg.Target(id)
	if err != nil || len(msg) == 0 || (len(msg) == 1 && msg[0] == scsi.MsgAbort) {
		return
	}

	lun, tag := -1, -1
	status := StatusAborted
	if msg[0] == scsi.MsgBusDeviceReset {
		status = StatusReset
		tgt.ResetTransfer()
		a.metrics.Reset("device")
		a.devResets = append(a.devResets, id)
	} else {
		lun = scsi.IdentifyLun(msg[0])
		if len(msg) >= 4 && msg[3] == scsi.MsgAbortTag {
			tag = int(msg[2])
		}
	}

	for _, r := range a.dequeueFromSqueue(matchNexus(id, lun, tag)) {
		a.finishQueued(r)
	}
	for _, r := range a.pool.Slice(task.QueueBusy) {
		if r.Target != id || r.HostStatus() != script.HsDisconnect ||
			(lun != -1 && r.Lun != lun) || (tag != -1 && r.Tag != tag) {
			continue
		}
		st := status
		if r.ToAbort == task.AbortTimeout {
			st = StatusTimeout
		}
		debug.DebugTaskf(r.Target, r.Lun, r.Tag, a.debug, debug.Recovery, "discarded by %s", msgName(msg))
		a.finish(r, Completion{Status: st, SCSIStatus: scsi.StatusIllegal, Residual: r.Residual()})
	}
}
