/*
 * scsihba - Interrupt dispatch
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
	"github.com/rcornwell/scsihba/util/debug"
)

// Passes of the status unstack loop before giving up on the chip.
const unstackLimit = 16

const (
	sistFatal   = script.SistGEN | script.SistHTH | script.SistSGE
	sistRestart = script.SistSTO | script.SistUDC | script.SistSBMC | script.SistRST
	dstatFatal  = script.DstatMDPE | script.DstatBF | script.DstatABRT | script.DstatIID
)

// Service the adapter interrupt line.
func (a *Adapter) Interrupt() {
	defer a.deliver()
	if !a.started {
		return
	}
	istat := a.seq.ReadReg(script.ISTAT)
	if istat&script.IstatINTF != 0 {
		a.seq.WriteReg(script.ISTAT, script.IstatINTF|a.sem)
		a.metrics.Interrupt("intf")
		if err := a.wakeupDone(); err != nil {
			a.log.Error("done queue", "error", err)
			a.fullReset(err.Error())
			return
		}
	}
	if istat&(script.IstatSIP|script.IstatDIP) == 0 {
		return
	}

	var sist, dstat uint32
	for n := 0; ; n++ {
		if istat&script.IstatSIP != 0 {
			sist |= a.seq.ReadReg(script.SIST)
		}
		if istat&script.IstatDIP != 0 {
			dstat |= a.seq.ReadReg(script.DSTAT)
		}
		istat = a.seq.ReadReg(script.ISTAT)
		if istat&(script.IstatSIP|script.IstatDIP) == 0 {
			break
		}
		if n >= unstackLimit {
			a.fullReset(fmt.Sprintf("interrupt status will not clear, sist %04x dstat %02x", sist, dstat))
			return
		}
	}
	debug.Debugf("INTR", a.debug, debug.Intr, "sist %04x dstat %02x dsp %s", sist, dstat,
		script.Label(a.seq.ReadReg(script.DSP)))

	if sist&(sistFatal|sistRestart) == 0 && dstat&dstatFatal == 0 {
		switch {
		case sist&script.SistPAR != 0:
			a.metrics.Interrupt("par")
			a.intPar(sist)
		case sist&script.SistMA != 0:
			a.metrics.Interrupt("ma")
			a.intMA(a.current())
		case dstat&script.DstatSIR != 0:
			a.intSIR()
		case dstat&script.DstatSSI != 0:
			a.resume(a.seq.ReadReg(script.DSP))
		default:
			a.unknown(sist, dstat)
		}
		return
	}

	if sist&script.SistRST != 0 {
		a.metrics.Interrupt("rst")
		a.log.Warn("scsi bus reset detected")
		a.reinit(StatusReset)
		a.busReset = true
		return
	}

	a.seq.WriteReg(script.CTEST3, script.Ctest3CLF)
	a.seq.WriteReg(script.STEST3, script.Stest3CSF)

	if sist&sistFatal == 0 && dstat&dstatFatal == 0 {
		switch {
		case sist&script.SistSBMC != 0:
			a.metrics.Interrupt("sbmc")
			a.intSBMC()
		case sist&script.SistSTO != 0:
			a.metrics.Interrupt("sto")
			a.intSTO()
		case sist&script.SistUDC != 0:
			a.metrics.Interrupt("udc")
			a.log.Warn("unexpected disconnect", "dsp", script.Label(a.seq.ReadReg(script.DSP)))
			a.recoverScsiInt(script.HsUnexpected)
		default:
			a.unknown(sist, dstat)
		}
		return
	}

	a.metrics.Interrupt("fatal")
	a.fullReset(fmt.Sprintf("fatal interrupt sist %04x dstat %02x", sist, dstat))
}

func (a *Adapter) unknown(sist, dstat uint32) {
	a.metrics.Interrupt("unknown")
	a.log.Error("unknown interrupt", "sist", fmt.Sprintf("%04x", sist), "dstat", fmt.Sprintf("%02x", dstat),
		"dsp", script.Label(a.seq.ReadReg(script.DSP)))
}

// Task the sequencer is working on, nil if none.
func (a *Adapter) current() *task.Record {
	rec, ok := a.pool.Lookup(a.seq.ReadReg(script.DSA))
	if !ok || rec.Queue() != task.QueueBusy {
		return nil
	}
	return rec
}

// Selection timeout is only expected while waiting for selection.
func (a *Adapter) intSTO() {
	dsp := a.seq.ReadReg(script.DSP)
	if dsp == script.WfSelDone+script.InstrSize {
		a.recoverScsiInt(script.HsSelTimeout)
		return
	}
	a.fullReset(fmt.Sprintf("selection timeout at %s", script.Label(dsp)))
}

// Finish the current task with host status hsts through complete_error,
// or restart the sequencer when no task is current. Inside a critical
// region nothing can be trusted and the adapter is reset.
func (a *Adapter) recoverScsiInt(hsts uint8) {
	dsp := a.seq.ReadReg(script.DSP)
	if script.Critical(dsp) {
		a.fullReset(fmt.Sprintf("host status %02x inside %s", hsts, script.Label(dsp)))
		return
	}
	if rec := a.current(); rec != nil {
		debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.Recovery, "host status %02x at %s",
			hsts, script.Label(dsp))
		rec.SetHostStatus(hsts)
		a.resume(script.CompleteError)
		return
	}
	a.seq.WriteReg(script.DSA, 0xffffff)
	a.resume(script.Start)
}

// Bus mode changed, everything is started over in the new mode.
func (a *Adapter) intSBMC() {
	mode := a.seq.ReadReg(script.STEST4) & script.ModeMsk
	a.log.Warn("scsi bus mode change", "from", modeName(a.mode), "to", modeName(mode))
	a.reinit(StatusReset)
}

// Parity error. Only an input move with ATN raised can be recovered, by
// telling the target with INITIATOR DETECTED ERROR, or MESSAGE PARITY
// ERROR in message in.
func (a *Adapter) intPar(sist uint32) {
	dsp := a.seq.ReadReg(script.DSP)
	dbc := a.seq.ReadReg(script.DBC)
	sbcl := a.seq.ReadReg(script.SBCL)
	cmd := dbc >> 24
	phase := scsi.Phase(cmd & 7)
	a.log.Warn("scsi parity error", "dsp", script.Label(dsp), "phase", phase.String())

	rec := a.current()
	if a.seq.ReadReg(script.SCNTL1)&script.Scntl1ISCON == 0 || rec == nil {
		a.resetBus("parity error without nexus")
		return
	}
	if cmd&0xc0 != 0 || !phase.Input() || sbcl&script.SbclATN == 0 {
		a.resetBus(fmt.Sprintf("parity error in %s", phase))
		return
	}
	a.extError(rec, script.XeParityErr)
	msg := scsi.MsgInitiatorError
	if phase == scsi.PhaseMsgIn {
		msg = scsi.MsgParityError
	}
	a.setMsgOut([]byte{msg})

	switch phase {
	case scsi.PhaseDataIn:
		if sist&script.SistMA != 0 {
			a.intMA(rec)
			return
		}
		if rec.Flags()&(script.HfInPM0|script.HfInPM1) == 0 {
			rec.SetLastp(dsp)
		}
		a.resume(script.Dispatch)
	case scsi.PhaseMsgIn:
		a.resume(script.ClrAck)
	default:
		a.resume(script.Dispatch)
	}
}

// Phase mismatch. In a data phase the untransferred rest of the move is
// put in a patch context and the data pointer moved there.
func (a *Adapter) intMA(rec *task.Record) {
	dsp := a.seq.ReadReg(script.DSP)
	dbc := a.seq.ReadReg(script.DBC)
	phase := scsi.Phase(dbc>>24&7)
	rest := dbc & 0xffffff
	if rec == nil {
		a.fullReset(fmt.Sprintf("%v: phase mismatch without task at %s", ErrDesync, script.Label(dsp)))
		return
	}

	switch phase {
	case scsi.PhaseDataOut, scsi.PhaseDataIn:
		rec.LoadPatches()
		st, err := rec.PatchState()
		var pc uint32
		if err == nil {
			pc, st, err = rec.Xfer.Fixup(dsp, rest, st)
		}
		if err != nil {
			a.log.Error("phase mismatch fixup", "task", rec.String(), "dsp", script.Label(dsp), "rest", rest, "error", err)
			a.fullReset(fmt.Sprintf("%v: %v", ErrDesync, err))
			return
		}
		rec.StorePatches()
		rec.SetPatchState(st)
		rec.SetLastp(pc)
		debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.DataPtr,
			"phase mismatch at %s, %d left, resume %s", script.Label(dsp-script.InstrSize), rest, script.Label(pc))
		a.resume(script.Dispatch)
	case scsi.PhaseMsgOut:
		if rec.HostStatus() == script.HsNegotiate {
			if tgt := a.target(rec); tgt != nil {
				a.log.Info("device refused negotiation message", "task", rec.String())
				a.negoFailed(rec, tgt)
			}
		}
		a.resume(script.Dispatch)
	case scsi.PhaseCommand, scsi.PhaseStatus, scsi.PhaseMsgIn:
		a.resume(script.Dispatch)
	default:
		a.fullReset(fmt.Sprintf("phase mismatch in %s", phase))
	}
}
