/*
 * scsihba - Command completion and auto sense
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
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/emu/task"
	"github.com/rcornwell/scsihba/util/debug"
)

// Task came back on the done queue with GOOD status.
func (a *Adapter) completeOK(rec *task.Record) {
	if tgt := a.target(rec); tgt != nil {
		if _, ok := tgt.Lun(rec.Lun); !ok {
			if _, err := tgt.Discover(rec.Lun); err != nil {
				a.log.Error("lun discovery", "task", rec.String(), "error", err)
			} else {
				a.log.Info("logical unit found", "target", rec.Target, "lun", rec.Lun)
			}
		}
	}
	a.finish(rec, Completion{
		Status:     StatusOK,
		SCSIStatus: rec.SCSIStatus(),
		Residual:   rec.Residual(),
	})
}

// Sequencer stopped at complete_error with the task in DSA. Tasks for the
// same unit still in the start queue go back upstream first.
func (a *Adapter) completeError(rec *task.Record) {
	for _, r := range a.dequeueFromSqueue(matchNexus(rec.Target, rec.Lun, -1)) {
		if r != rec {
			a.finishQueued(r)
		}
	}
	defer a.seq.WriteReg(script.DSP, script.Start)

	hs := rec.HostStatus()
	xerr := rec.Xerr()
	c := Completion{SCSIStatus: rec.SCSIStatus(), Residual: rec.Residual()}
	switch {
	case rec.Flags()&script.HfSense != 0:
		c.Status = StatusDeviceError
		c.SCSIStatus = rec.SvStatus
		c.Residual = rec.SvResid
		if hs == script.HsComplete && rec.SCSIStatus() == scsi.StatusGood {
			n := min(max(script.SenseLen-rec.Residual(), 0), script.SenseLen)
			c.Sense = append([]byte(nil), rec.SenseData()[:n]...)
		} else {
			a.log.Warn("auto sense failed", "task", rec.String(), "host_status", hs, "scsi_status", rec.SCSIStatus())
		}
	case hs == script.HsSelTimeout:
		if a.retry(rec) {
			return
		}
		c.Status = StatusSelTimeout
	case hs == script.HsUnexpected:
		if a.retry(rec) {
			return
		}
		c.Status = StatusDisconnect
		if tgt := a.target(rec); tgt != nil {
			a.log.Warn("repeated unexpected disconnect, resetting device", "target", rec.Target)
			tgt.ToReset = true
			defer a.startRecovery()
		}
	case xerr&script.XeParityErr != 0:
		if a.retry(rec) {
			return
		}
		c.Status = StatusParity
	case xerr != 0, hs != script.HsComplete:
		c.Status = StatusPhase
	case c.SCSIStatus == scsi.StatusGood, c.SCSIStatus == scsi.StatusConditionMet:
		c.Status = StatusOK
	case c.SCSIStatus == scsi.StatusQueueFull:
		c.Status = StatusRequeue
		if tgt := a.target(rec); tgt != nil {
			if lp, ok := tgt.Lun(rec.Lun); ok {
				depth := lp.Throttle()
				a.log.Info("queue full, tag depth lowered", "target", rec.Target, "lun", rec.Lun, "depth", depth)
			}
		}
	default:
		c.Status = StatusDeviceError
	}
	if rec.ToAbort == task.AbortTimeout && c.Status != StatusOK {
		c.Status = StatusTimeout
	}
	a.finish(rec, c)
}

// Run a task again after a transport failure, once.
func (a *Adapter) retry(rec *task.Record) bool {
	if rec.Retries > 0 || rec.ToAbort != task.NotAborting {
		return false
	}
	rec.Retries++
	debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.Queue,
		"retry after host status %02x xerr %02x", rec.HostStatus(), rec.Xerr())
	hs := script.HsBusy
	if rec.NegoStatus() != 0 {
		hs = script.HsNegotiate
	}
	rec.SetHostStatus(hs)
	rec.SetSCSIStatus(scsi.StatusIllegal)
	rec.SetXerr(0)
	rec.SetExtra(0)
	rec.SetFlags(0)
	rec.SetTransfer(rec.Dir, rec.Xfer.Segs)
	rec.StorePatches()
	rec.SetStart(script.Select)
	a.putStartQueue(rec)
	return true
}

// Device returned a status other than GOOD.
func (a *Adapter) badStatus(rec *task.Record) {
	s := rec.SCSIStatus()
	if (s == scsi.StatusCheckCondition || s == scsi.StatusCommandTerminated) && rec.Flags()&script.HfSense == 0 {
		a.startSense(rec)
		a.seq.WriteReg(script.DSP, script.Start)
		return
	}
	a.completeError(rec)
}

// Reissue the task as REQUEST SENSE into its own sense buffer. Status,
// extended error and residual of the failed command are kept for the
// completion.
func (a *Adapter) startSense(rec *task.Record) {
	for _, r := range a.dequeueFromSqueue(matchNexus(rec.Target, rec.Lun, -1)) {
		if r != rec {
			a.finishQueued(r)
		}
	}
	rec.SvStatus = rec.SCSIStatus()
	rec.SvXerr = rec.Xerr()
	rec.SvResid = rec.Residual()
	debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.Queue,
		"status %02x, requesting sense", rec.SvStatus)

	h := rec.Handle()
	msg := []byte{scsi.Identify(rec.Lun, false)}
	hs := script.HsBusy
	rec.SetNegoStatus(0)
	tgt := a.target(rec)
	// The device may have lost its agreement with the condition it reports.
	if tgt != nil && !tgt.Cur.Basic() && tgt.ClaimNego(h) {
		fam, m := a.nego.Prepare(registry.Trans{}, tgt.Goal)
		if fam != nego.None {
			msg = append(msg, m...)
			rec.SetNegoStatus(uint8(fam))
			rec.NegoRole = uint8(nego.Initiator)
			hs = script.HsNegotiate
		} else {
			tgt.ReleaseNego(h)
		}
	}
	rec.SetSenseMsgOut(msg)
	rec.SetSenseCommand(scsi.RequestSense(rec.Lun, script.SenseLen))
	rec.SetSenseTransfer()
	rec.StorePatches()
	rec.SetXerr(0)
	rec.SetExtra(0)
	rec.SetSCSIStatus(scsi.StatusIllegal)
	rec.SetHostStatus(hs)
	rec.SetStart(script.Select)
	a.putStartQueue(rec)
}
