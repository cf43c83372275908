/*
 * scsihba - Negotiation handshake
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

func family(code uint8) nego.Family {
	switch code {
	case scsi.ExtSDTR:
		return nego.Sync
	case scsi.ExtWDTR:
		return nego.Wide
	case scsi.ExtPPR:
		return nego.PPR
	}
	return nego.None
}

func respEntry(f nego.Family) uint32 {
	switch f {
	case nego.Wide:
		return script.WdtrResp
	case nego.PPR:
		return script.PprResp
	}
	return script.SdtrResp
}

// Negotiation message from the device. Returns the script address to
// resume at.
func (a *Adapter) negotiate(rec *task.Record, msg scsi.Extended) uint32 {
	tgt := a.target(rec)
	if tgt == nil {
		return script.MsgBad
	}
	h := rec.Handle()
	fam := family(msg.Code)
	ctx := nego.Family(rec.NegoStatus())
	debug.DebugTaskf(rec.Target, rec.Lun, rec.Tag, a.debug, debug.Nego, "received %s", nego.Describe(msg))

	answer := false
	switch {
	case rec.HostStatus() == script.HsNegotiate:
		// Answer to what we sent at selection.
		rec.SetHostStatus(script.HsBusy)
		if ctx != fam {
			a.log.Warn("negotiation answered with other message", "task", rec.String(),
				"sent", ctx.String(), "received", fam.String())
			a.negoMismatch(rec, tgt)
			return script.MsgBad
		}
		answer = true
	case ctx == fam && nego.Role(rec.NegoRole) == nego.Responder:
		// Device echoing our counter proposal.
		answer = true
	default:
		if !tgt.ClaimNego(h) {
			a.log.Warn("negotiation already in progress", "target", tgt.ID, "task", rec.String())
			a.metrics.Negotiation(fam.String(), "busy")
			return script.MsgBad
		}
	}

	res := a.nego.Handle(msg, answer, tgt.Cur, tgt.Goal, tgt.User)
	a.metrics.Negotiation(fam.String(), res.Action.String())
	a.setTrans(tgt, res.Cur, res.Goal)

	switch res.Action {
	case nego.Accept:
		a.negoDone(rec, tgt)
		return script.ClrAck
	case nego.Reply:
		a.negoDone(rec, tgt)
		a.setMsgOut(res.Msg)
		return respEntry(res.Family)
	case nego.Counter:
		rec.SetNegoStatus(uint8(res.Family))
		rec.NegoRole = uint8(nego.Responder)
		a.setMsgOut(res.Msg)
		return respEntry(res.Family)
	case nego.Chain:
		rec.SetNegoStatus(uint8(res.Family))
		rec.NegoRole = uint8(nego.Initiator)
		rec.SetHostStatus(script.HsNegotiate)
		a.setMsgOut(res.Msg)
		return respEntry(res.Family)
	}
	a.negoDone(rec, tgt)
	return script.MsgBad
}

func (a *Adapter) negoDone(rec *task.Record, tgt *registry.Target) {
	rec.SetNegoStatus(0)
	rec.NegoRole = 0
	if rec.HostStatus() == script.HsNegotiate {
		rec.SetHostStatus(script.HsBusy)
	}
	tgt.ReleaseNego(rec.Handle())
}

// Exchange failed or was refused: fall back for the family in progress.
func (a *Adapter) negoFailed(rec *task.Record, tgt *registry.Target) {
	fam := nego.Family(rec.NegoStatus())
	if fam != nego.None {
		cur, goal := nego.Fallback(fam, tgt.Cur, tgt.Goal)
		a.setTrans(tgt, cur, goal)
		a.metrics.Negotiation(fam.String(), "failed")
	}
	a.negoDone(rec, tgt)
}

// Answer that does not fit what we sent: async, narrow and no DT.
func (a *Adapter) negoMismatch(rec *task.Record, tgt *registry.Target) {
	a.setTrans(tgt, registry.Trans{}, registry.Trans{})
	a.metrics.Negotiation(nego.Family(rec.NegoStatus()).String(), "mismatch")
	a.negoDone(rec, tgt)
}

// MESSAGE REJECT from the device.
func (a *Adapter) rejected(rec *task.Record) {
	tgt := a.target(rec)
	if tgt == nil {
		return
	}
	last := a.hcb.Data[script.HcbLastMsg]
	if rec.NegoStatus() == 0 {
		a.log.Info("message rejected", "task", rec.String(), "last_message", last)
		return
	}
	a.log.Info("negotiation rejected", "task", rec.String(), "family", nego.Family(rec.NegoStatus()).String())
	a.negoFailed(rec, tgt)
}

// Apply new settings to the target and every task that will select it.
func (a *Adapter) setTrans(tgt *registry.Target, cur, goal registry.Trans) {
	s, err := a.nego.Encode(cur)
	if err != nil {
		a.log.Warn("transfer settings not reachable, using async", "target", tgt.ID, "settings", cur.String(), "error", err)
		cur = registry.Trans{Width: cur.Width}
		s, _ = a.nego.Encode(cur)
	}
	changed := tgt.Cur != cur
	tgt.SetSync(s.Sval, s.Wval, s.Uval)
	tgt.SetCurrent(cur)
	tgt.SetGoal(goal)
	for _, r := range a.pool.Slice(task.QueueBusy) {
		if r.Target == tgt.ID {
			r.SetSelect(uint8(tgt.ID), s.Wval, s.Sval, s.Uval)
		}
	}
	if changed {
		a.log.Info("transfer settings", "target", tgt.ID, "settings", cur.String())
	}
}
