/*
 * scsihba - Script interrupts
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

var sirNames = map[uint32]string{
	script.SirBadStatus:      "bad_status",
	script.SirSelAtnNoMsgOut: "sel_atn_no_msg_out",
	script.SirMsgReceived:    "msg_received",
	script.SirMsgWeird:       "msg_weird",
	script.SirNegoFailed:     "nego_failed",
	script.SirNegoProto:      "nego_proto",
	script.SirScriptStopped:  "script_stopped",
	script.SirRejectToSend:   "reject_to_send",
	script.SirSwideOverrun:   "swide_overrun",
	script.SirSodlUnderrun:   "sodl_underrun",
	script.SirReselNoMsgIn:   "resel_no_msg_in",
	script.SirReselNoIdent:   "resel_no_identify",
	script.SirReselBadLun:    "resel_bad_lun",
	script.SirTargetSelected: "target_selected",
	script.SirReselBadITL:    "resel_bad_itl",
	script.SirReselBadITLQ:   "resel_bad_itlq",
	script.SirAbortSent:      "abort_sent",
	script.SirReselAborted:   "resel_aborted",
	script.SirMsgOutDone:     "msg_out_done",
	script.SirCompleteError:  "complete_error",
	script.SirDataOverrun:    "data_overrun",
	script.SirBadPhase:       "bad_phase",
}

func sirName(code uint32) string {
	if n, ok := sirNames[code]; ok {
		return n
	}
	return fmt.Sprintf("sir_%d", code)
}

func (a *Adapter) resume(addr uint32) {
	a.seq.WriteReg(script.DSP, addr)
}

// Script interrupt: the sequencer is stopped waiting for the host.
func (a *Adapter) intSIR() {
	code := a.seq.ReadReg(script.DSPS)
	dsp := a.seq.ReadReg(script.DSP)
	dsa := a.seq.ReadReg(script.DSA)
	debug.Debugf("SIR", a.debug, debug.Intr, "%s at %s dsa %08x", sirName(code), script.Label(dsp), dsa)
	a.metrics.Interrupt(sirName(code))

	switch code {
	case script.SirScriptStopped, script.SirTargetSelected, script.SirAbortSent:
		a.taskRecovery(code)
		return
	case script.SirSelAtnNoMsgOut, script.SirReselNoMsgIn, script.SirReselNoIdent:
		a.fullReset(sirName(code))
		return
	case script.SirReselBadLun, script.SirReselBadITL:
		a.log.Warn("reselection by unknown nexus", "reason", sirName(code), "target", a.seq.ReadReg(script.SSID)&0xf)
		a.setMsgOut([]byte{scsi.MsgAbort})
		a.resume(dsp)
		return
	case script.SirReselBadITLQ:
		a.log.Warn("reselection by unknown tag", "target", a.seq.ReadReg(script.SSID)&0xf)
		a.setMsgOut([]byte{scsi.MsgAbortTag})
		a.resume(dsp)
		return
	case script.SirRejectToSend:
		a.setMsgOut([]byte{scsi.MsgReject})
		a.resume(dsp)
		return
	case script.SirReselAborted, script.SirMsgWeird:
		a.resume(dsp)
		return
	}

	rec, ok := a.pool.Lookup(dsa)
	if !ok || rec.Queue() != task.QueueBusy {
		a.log.Error("script interrupt for unknown task", "code", sirName(code), "dsa", fmt.Sprintf("%08x", dsa),
			"dsp", script.Label(dsp))
		a.fullReset(fmt.Sprintf("%v: %s", ErrDesync, sirName(code)))
		return
	}

	switch code {
	case script.SirCompleteError:
		a.completeError(rec)
	case script.SirBadStatus:
		a.badStatus(rec)
	case script.SirMsgReceived:
		a.resume(a.msgReceived(rec))
	case script.SirMsgOutDone:
		a.setMsgOut(nil)
		a.resume(dsp)
	case script.SirNegoFailed:
		if tgt := a.target(rec); tgt != nil {
			a.negoFailed(rec, tgt)
		}
		a.resume(dsp)
	case script.SirNegoProto:
		if tgt := a.target(rec); tgt != nil {
			a.negoMismatch(rec, tgt)
		}
		a.resume(script.MsgBad)
	case script.SirSwideOverrun:
		a.extError(rec, script.XeSwideOvrun)
		a.resume(dsp)
	case script.SirSodlUnderrun:
		a.extError(rec, script.XeSodlUnrun)
		a.resume(dsp)
	case script.SirBadPhase:
		a.extError(rec, script.XeBadPhase)
		a.resume(dsp)
	case script.SirDataOverrun:
		a.extError(rec, script.XeExtraData)
		rec.SetExtra(rec.Extra() + a.seq.ReadReg(script.SCRATCHB))
		a.resume(dsp)
	default:
		a.log.Error("unknown script interrupt", "code", code, "dsp", script.Label(dsp), "task", rec.String())
		a.resume(dsp)
	}
}

func (a *Adapter) extError(rec *task.Record, xe uint8) {
	rec.SetXerr(rec.Xerr() | xe)
	rec.SetFlags(rec.Flags() | script.HfExtErr)
	debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.DataPtr, "extended error %02x", rec.Xerr())
}

// Message the script does not handle itself. Returns where to resume.
func (a *Adapter) msgReceived(rec *task.Record) uint32 {
	msg := a.msgIn()
	switch msg[0] {
	case scsi.MsgExtended:
		n := scsi.Length(msg)
		if n == 0 || n > len(msg) {
			return script.MsgBad
		}
		ext, err := scsi.ParseExtended(msg[:n])
		if err != nil {
			a.log.Warn("bad extended message", "task", rec.String(), "error", err)
			return script.MsgBad
		}
		if ext.Code == scsi.ExtModifyDP {
			return a.modifyDP(rec, int(ext.Ofs))
		}
		return a.negotiate(rec, ext)
	case scsi.MsgIgnoreWideResidue:
		if rec.Flags()&script.HfSense != 0 {
			return script.ClrAck
		}
		return a.modifyDP(rec, -1)
	case scsi.MsgReject:
		a.rejected(rec)
		return script.ClrAck
	}
	a.log.Warn("unexpected message", "task", rec.String(), "message", fmt.Sprintf("%02x", msg[0]))
	return script.MsgBad
}

// Move the data pointer ofs bytes from where it is now.
func (a *Adapter) modifyDP(rec *task.Record, ofs int) uint32 {
	if rec.Flags()&script.HfSense != 0 || rec.Xfer == nil {
		return script.MsgBad
	}
	rec.LoadPatches()
	st, err := rec.PatchState()
	if err != nil {
		a.log.Warn("modify data pointer", "task", rec.String(), "error", err)
		return script.MsgBad
	}
	pc, st, err := rec.Xfer.Modify(rec.Lastp(), ofs, st)
	if err != nil {
		a.log.Warn("modify data pointer", "task", rec.String(), "offset", ofs, "error", err)
		return script.MsgBad
	}
	rec.StorePatches()
	rec.SetPatchState(st)
	rec.SetLastp(pc)
	debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.DataPtr,
		"modify by %d, resume %s", ofs, script.Label(pc))
	return script.ClrAck
}
