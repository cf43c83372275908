/*
 * scsihba - Transfer negotiation
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

// Package nego decides transfer width, period, offset and DT clocking
// from SDTR, WDTR and PPR messages, for requests we make and requests the
// device makes.
package nego

import (
	"fmt"

	"github.com/rcornwell/scsihba/config/quirks"
	"github.com/rcornwell/scsihba/emu/registry"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/scsi"
)

// Message family under negotiation, stored in the task record.
type Family uint8

const (
	None Family = iota
	Sync
	Wide
	PPR
)

func (f Family) String() string {
	switch f {
	case Sync:
		return "sync"
	case Wide:
		return "wide"
	case PPR:
		return "ppr"
	}
	return "none"
}

// Who started the exchange.
type Role uint8

const (
	Initiator Role = iota // We asked.
	Responder             // Device asked, we countered.
)

type Action uint8

const (
	Accept  Action = iota // Apply, nothing to send.
	Reply                 // Apply and answer the device with Msg.
	Counter               // Apply and answer with changed values in Msg.
	Chain                 // Apply and start SDTR with Msg.
	Reject                // Send MESSAGE REJECT, Cur and Goal fall back.
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Reply:
		return "reply"
	case Counter:
		return "counter"
	case Chain:
		return "chain"
	}
	return "reject"
}

type Result struct {
	Action Action
	Cur    registry.Trans
	Goal   registry.Trans
	Msg    []byte
	Family Family // Family of Msg.
}

// Engine holds the adapter limits negotiation works against.
type Engine struct {
	chip     quirks.Chip
	clockKHz int
	lvd      bool
}

// Create engine for chip with clock multiplier.
func New(chip quirks.Chip, multiplier int) *Engine {
	return &Engine{chip: chip, clockKHz: chip.ClockKHz * multiplier, lvd: true}
}

// Bus mode changed, DT only runs on LVD.
func (e *Engine) SetMode(mode uint32) {
	e.lvd = (mode & script.ModeMsk) == script.ModeLVD
}

func (e *Engine) Chip() quirks.Chip {
	return e.chip
}

func (e *Engine) dtOK() bool {
	return e.chip.DT && e.lvd
}

// Clamp a setting to adapter capability and the user ceiling. Clamping
// twice gives the same result.
func (e *Engine) Clamp(req, user registry.Trans) registry.Trans {
	c := req
	if !e.chip.Wide || user.Width == 0 {
		c.Width = 0
	}
	if c.Width > 1 {
		c.Width = 1
	}
	if c.DT && (c.Width == 0 || !user.DT || !e.dtOK()) {
		c.DT = false
	}

	maxOffset := e.chip.MaxOffset
	minSync := e.chip.MinSync
	if c.DT {
		maxOffset = e.chip.MaxOffsetDT
		minSync = e.chip.MinSyncDT
	}
	c.Offset = uint8(min(int(c.Offset), maxOffset, int(user.Offset)))
	if user.Period == 0 {
		c.Offset = 0
	}
	if c.Offset != 0 {
		c.Period = uint8(max(int(c.Period), minSync, int(user.Period)))
		if !c.DT && e.chip.DTFactor > 0 && int(c.Period) <= e.chip.DTFactor {
			c.Period = uint8(e.chip.DTFactor + 1)
		}
		if int(c.Period) > e.chip.MaxSync {
			c.Offset = 0
		}
	}
	if c.Offset == 0 {
		c.Period = 0
		c.DT = false
	}
	return c
}

// Goal for user limits, and the ceiling negotiation then runs against. A
// period only DT can reach forces a wide DT goal when wide is allowed,
// otherwise the period is slowed down by the clamp.
func (e *Engine) CheckGoals(user registry.Trans) (registry.Trans, registry.Trans) {
	if e.chip.DTFactor > 0 && !user.DT && user.Period != 0 && int(user.Period) <= e.chip.DTFactor &&
		user.Width != 0 && e.dtOK() {
		user.DT = true
	}
	return e.Clamp(user, user), user
}

// Pick the message that moves cur towards goal.
func (e *Engine) Prepare(cur, goal registry.Trans) (Family, []byte) {
	switch {
	case goal.DT:
		opts := scsi.PPROptDT
		return PPR, scsi.PPR(goal.Period, goal.Offset, goal.Width, opts)
	case goal.Width != cur.Width:
		return Wide, scsi.WDTR(goal.Width)
	case goal.Period != cur.Period || goal.Offset != cur.Offset:
		return Sync, scsi.SDTR(goal.Period, goal.Offset)
	}
	return None, nil
}

// Settings after a failed or refused exchange of family f. Only that
// family falls back, a refused PPR retries with legacy messages.
func Fallback(f Family, cur, goal registry.Trans) (registry.Trans, registry.Trans) {
	switch f {
	case PPR:
		cur = registry.Trans{}
		goal.DT = false
	case Wide:
		cur = registry.Trans{}
		goal.Width = 0
	case Sync:
		cur.Period = 0
		cur.Offset = 0
		cur.DT = false
		goal.Period = 0
		goal.Offset = 0
		goal.DT = false
	}
	return cur, goal
}

// Handle a negotiation message. answer is set when the message answers a
// proposal we sent, in which case it is never countered. Whatever is
// agreed becomes the new goal so the target is not asked again.
func (e *Engine) Handle(msg scsi.Extended, answer bool, cur, goal, user registry.Trans) Result {
	switch msg.Code {
	case scsi.ExtSDTR:
		return e.sync(msg, answer, cur, goal, user)
	case scsi.ExtWDTR:
		return e.wide(msg, answer, cur, goal, user)
	case scsi.ExtPPR:
		return e.ppr(msg, answer, cur, goal, user)
	}
	return Result{Action: Reject, Cur: cur, Goal: goal}
}

func (e *Engine) reject(f Family, cur, goal registry.Trans) Result {
	cur, goal = Fallback(f, cur, goal)
	return Result{Action: Reject, Cur: cur, Goal: goal, Family: f}
}

// An answer to our own proposal that can not be taken as given leaves the
// target async, narrow and without DT.
func (e *Engine) mismatch(f Family) Result {
	return Result{Action: Reject, Family: f}
}

func (e *Engine) sync(msg scsi.Extended, answer bool, cur, goal, user registry.Trans) Result {
	req := registry.Trans{Period: msg.Period, Offset: msg.Offset, Width: cur.Width}
	c := e.Clamp(req, user)
	c.Width = cur.Width
	if c.Offset != 0 {
		if _, _, err := e.GetSync(c.Period, false); err != nil {
			if answer {
				return e.mismatch(Sync)
			}
			return e.reject(Sync, cur, goal)
		}
	}
	changed := c.Period != req.Period || c.Offset != req.Offset
	if answer {
		if changed {
			return e.mismatch(Sync)
		}
		return Result{Action: Accept, Cur: c, Goal: c, Family: Sync}
	}
	res := Result{Action: Reply, Cur: c, Goal: c, Family: Sync, Msg: scsi.SDTR(c.Period, c.Offset)}
	if changed {
		res.Action = Counter
	}
	return res
}

func (e *Engine) wide(msg scsi.Extended, answer bool, cur, goal, user registry.Trans) Result {
	w := msg.Width
	if w > 1 {
		w = 1
	}
	if !e.chip.Wide || user.Width == 0 {
		w = 0
	}
	changed := w != msg.Width
	c := registry.Trans{Width: w}
	if answer {
		if changed {
			return e.mismatch(Wide)
		}
		if goal.Offset != 0 {
			goal.Width = w
			return Result{Action: Chain, Cur: c, Goal: goal, Family: Sync,
				Msg: scsi.SDTR(goal.Period, goal.Offset)}
		}
		return Result{Action: Accept, Cur: c, Goal: c, Family: Wide}
	}
	res := Result{Action: Reply, Cur: c, Goal: c, Family: Wide, Msg: scsi.WDTR(w)}
	if changed {
		res.Action = Counter
	}
	return res
}

func (e *Engine) ppr(msg scsi.Extended, answer bool, cur, goal, user registry.Trans) Result {
	req := registry.Trans{
		Period: msg.Period,
		Offset: msg.Offset,
		Width:  msg.Width,
		DT:     (msg.Opts & scsi.PPROptDT) != 0,
	}
	c := e.Clamp(req, user)
	if c.Offset != 0 {
		if _, _, err := e.GetSync(c.Period, c.DT); err != nil {
			if answer {
				return e.mismatch(PPR)
			}
			return e.reject(PPR, cur, goal)
		}
	}
	opts := uint8(0)
	if c.DT {
		opts = scsi.PPROptDT
	}
	changed := c != req || opts != msg.Opts
	if answer {
		if changed {
			return e.mismatch(PPR)
		}
		return Result{Action: Accept, Cur: c, Goal: c, Family: PPR}
	}
	res := Result{Action: Reply, Cur: c, Goal: c, Family: PPR,
		Msg: scsi.PPR(c.Period, c.Offset, c.Width, opts)}
	if changed {
		res.Action = Counter
	}
	return res
}

func periodNS(factor uint8) string {
	t := scsi.PeriodTenthsNS(factor)
	return fmt.Sprintf("%d.%dns", t/10, t%10)
}

// Short form for trace output.
func Describe(msg scsi.Extended) string {
	switch msg.Code {
	case scsi.ExtSDTR:
		return fmt.Sprintf("SDTR period %d (%s) offset %d", msg.Period, periodNS(msg.Period), msg.Offset)
	case scsi.ExtWDTR:
		return fmt.Sprintf("WDTR width %d", 8<<msg.Width)
	case scsi.ExtPPR:
		return fmt.Sprintf("PPR period %d (%s) offset %d width %d opts %02x", msg.Period, periodNS(msg.Period),
			msg.Offset, 8<<msg.Width, msg.Opts)
	case scsi.ExtModifyDP:
		return fmt.Sprintf("MODIFY DATA POINTER %d", msg.Ofs)
	}
	return fmt.Sprintf("extended %02x", msg.Code)
}
