/*
 * scsihba - Command submission and cancel
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
	"errors"
	"fmt"

	"github.com/rcornwell/scsihba/emu/nego"
	"github.com/rcornwell/scsihba/emu/registry"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/emu/task"
	"github.com/rcornwell/scsihba/util/debug"
)

const maxSegment = 1<<24 - 1

func (a *Adapter) checkRequest(req *Request) error {
	if len(req.CDB) == 0 || len(req.CDB) > script.CDBLen {
		return fmt.Errorf("%w: command length %d", ErrBadRequest, len(req.CDB))
	}
	if req.Lun < 0 || req.Lun >= script.MaxLun {
		return fmt.Errorf("%w: lun %d", ErrBadRequest, req.Lun)
	}
	if req.Timeout < 0 {
		return fmt.Errorf("%w: timeout %d", ErrBadRequest, req.Timeout)
	}
	if len(req.Segs) > script.MaxSG {
		return fmt.Errorf("%w: %d segments", ErrRequestTooLarge, len(req.Segs))
	}
	if len(req.Segs) != 0 && req.Dir == DirNone {
		return fmt.Errorf("%w: data without direction", ErrBadRequest)
	}
	for i, s := range req.Segs {
		if s.Size == 0 || s.Size > maxSegment {
			return fmt.Errorf("%w: segment %d size %d", ErrRequestTooLarge, i, s.Size)
		}
		if !a.mem.CheckAddr(s.Addr) || !a.mem.CheckAddr(s.Addr+s.Size-1) {
			return fmt.Errorf("%w: segment %d at %08x outside memory", ErrBadRequest, i, s.Addr)
		}
	}
	return nil
}

// Queue a command. The returned handle is given back exactly once in a
// call to Host.Complete.
func (a *Adapter) Submit(req Request) (Handle, error) {
	defer a.deliver()
	if !a.started {
		return task.NoHandle, ErrNotStarted
	}
	if err := a.checkRequest(&req); err != nil {
		return task.NoHandle, err
	}
	tgt, err := a.reg.Target(req.Target)
	if err != nil {
		return task.NoHandle, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	rec, err := a.pool.Acquire()
	if err != nil {
		return task.NoHandle, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	tagged := req.Tagged && tgt.Tagged(req.Lun)
	tag, err := tgt.Reserve(req.Lun, tagged, rec)
	if err != nil {
		a.pool.Release(rec)
		if errors.Is(err, registry.ErrLogicFault) {
			a.fault = err.Error()
			return task.NoHandle, fmt.Errorf("%w: %w", ErrLogicFault, err)
		}
		return task.NoHandle, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}
	h := rec.Handle()
	rec.SetNexus(req.Target, req.Lun, tag)
	rec.Ref = req.Ref
	rec.CDB = append([]byte(nil), req.CDB...)
	_, known := tgt.Lun(req.Lun)
	rec.Disconnect = tgt.Disconnect && known

	msg := []byte{scsi.Identify(req.Lun, rec.Disconnect)}
	if tag != script.NoTag {
		msg = append(msg, scsi.MsgSimpleTag, uint8(tag))
	}
	hs := script.HsBusy
	if tgt.CheckNego && tgt.ClaimNego(h) {
		fam, m := a.nego.Prepare(tgt.Cur, tgt.Goal)
		if fam != nego.None {
			msg = append(msg, m...)
			rec.SetNegoStatus(uint8(fam))
			rec.NegoRole = uint8(nego.Initiator)
			hs = script.HsNegotiate
			debug.DebugTaskf(rec.Target, rec.Lun, tag, a.debug, debug.Nego, "start %s negotiation towards %s", fam, tgt.Goal)
		} else {
			tgt.ReleaseNego(h)
		}
	}
	rec.SetMsgOut(msg)
	rec.SetCommand(req.CDB)
	rec.SetSelect(uint8(req.Target), tgt.Wval, tgt.Sval, tgt.Uval)
	rec.SetTransfer(req.Dir, req.Segs)
	rec.SetHostStatus(hs)
	rec.SetSCSIStatus(scsi.StatusIllegal)
	rec.SetStart(script.Select)
	rec.SetRestart(script.Select)

	ticks := req.Timeout
	if ticks == 0 {
		ticks = a.timeout
	}
	a.arm(rec, ticks)
	a.metrics.Submitted()
	a.metrics.Busy(a.pool.Len(task.QueueBusy))
	a.putStartQueue(rec)
	return h, nil
}

// Abort a command. It completes with StatusAborted once the sequencer
// and device have let go of it.
func (a *Adapter) Cancel(h Handle) error {
	defer a.deliver()
	rec, err := a.pool.Get(h)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadHandle, h)
	}
	if rec.Queue() != task.QueueBusy {
		return fmt.Errorf("%w: %s", ErrNotActive, h)
	}
	if rec.ToAbort == task.NotAborting {
		rec.ToAbort = task.AbortCancel
	}
	a.log.Info("cancel requested", "task", rec.String())
	a.startRecovery()
	return nil
}

// Ask the sequencer to stop at its next scheduling point.
func (a *Adapter) startRecovery() {
	a.sem = script.IstatSEM
	a.seq.WriteReg(script.ISTAT, script.IstatSIGP|a.sem)
}

// Schedule a bus device reset for target.
func (a *Adapter) ResetDevice(target int) error {
	defer a.deliver()
	tgt, err := a.reg.Target(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	tgt.ToReset = true
	a.startRecovery()
	return nil
}

func (a *Adapter) target(rec *task.Record) *registry.Target {
	tgt, err := a.reg.Target(rec.Target)
	if err != nil {
		return nil
	}
	return tgt
}

// Let go of everything a finished task holds except its record.
func (a *Adapter) unbind(rec *task.Record) {
	a.events.Cancel(rec.Handle(), 0)
	tgt := a.target(rec)
	if tgt == nil {
		return
	}
	tgt.ReleaseNego(rec.Handle())
	if err := tgt.Free(rec); err != nil {
		a.log.Error("nexus release", "task", rec.String(), "error", err)
		a.fault = err.Error()
	}
}

// Finish a task. The completion is handed upstream by deliver once the
// current entry point is done with adapter state.
func (a *Adapter) finish(rec *task.Record, c Completion) {
	c.Ref = rec.Ref
	a.unbind(rec)
	a.pool.Move(rec, task.QueueComp)
	a.pending = append(a.pending, completion{rec: rec, c: c})
	debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.Queue,
		"complete %s scsi %02x resid %d", c.Status, c.SCSIStatus, c.Residual)
}

// Complete a task that never reached the device.
func (a *Adapter) finishQueued(rec *task.Record) {
	st := StatusRequeue
	switch rec.ToAbort {
	case task.AbortTimeout:
		st = StatusTimeout
	case task.AbortCancel:
		st = StatusAborted
	}
	a.finish(rec, Completion{Status: st, SCSIStatus: scsi.StatusIllegal})
}

// Release finished records and report them. Records go back to the pool
// before the upstream callback so it may submit again.
func (a *Adapter) deliver() {
	if a.fault != "" {
		reason := a.fault
		a.fault = ""
		a.fullReset(reason)
	}
	for len(a.pending) > 0 {
		p := a.pending[0]
		a.pending = a.pending[1:]
		h := p.rec.Handle()
		a.pool.Release(p.rec)
		a.metrics.Completed(p.c.Status.String())
		a.metrics.Busy(a.pool.Len(task.QueueBusy))
		a.host.Complete(h, p.c)
	}
	if a.busReset {
		a.busReset = false
		a.host.BusReset()
	}
	for len(a.devResets) > 0 {
		id := a.devResets[0]
		a.devResets = a.devResets[1:]
		a.host.DeviceReset(id)
	}
}
