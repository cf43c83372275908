/*
 * scsihba - Simulated SCSI target
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

// Package target simulates disks on the bus. Each device is a phase state
// machine driven by the sequencer one bus phase at a time.
package target

import (
	"encoding/binary"

	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/util/debug"
)

const (
	BlockSize = 512
	untagged  = -1
)

type command struct {
	lun     int
	tag     int
	cdb     []byte
	input   bool
	data    []byte
	pos     int
	status  uint8
	discAt  int // Disconnect once pos reaches this, -1 never.
	readyAt uint64
	hang    bool
	write   func([]byte) // Stores data out once all has arrived.
}

type Device struct {
	cfg   settings.Device
	debug int
	units [][]byte
	sense [][]byte // Pending sense per lun.

	phase    scsi.Phase
	cur      *command
	waiting  []*command // Disconnected.
	msgin    [][]byte
	lun      int
	tag      int
	disc     bool // Initiator granted disconnect.
	now      uint64
	parity   bool // Current data phase is corrupted.
	phases   int  // Data phases started.
	commands int

	// Negotiation state.
	initiated bool // Own SDTR sent since reset.
	awaiting  bool // Waiting for answer to own SDTR.
	echoed    bool
	Period    uint8
	Offset    uint8
	Width     uint8
	DT        bool
}

// Create device from its configuration.
func New(cfg settings.Device, debugMask int) *Device {
	d := &Device{cfg: cfg, debug: debugMask, phase: scsi.PhaseBusFree}
	d.units = make([][]byte, cfg.Luns)
	for i := range d.units {
		d.units[i] = make([]byte, cfg.Blocks*BlockSize)
	}
	d.sense = make([][]byte, settings.MaxLun)
	return d
}

func (d *Device) ID() int {
	return d.cfg.ID
}

// Block storage of lun, for checking data moved.
func (d *Device) Unit(lun int) []byte {
	if lun < 0 || lun >= len(d.units) {
		return nil
	}
	return d.units[lun]
}

func (d *Device) Outstanding() int {
	n := len(d.waiting)
	if d.cur != nil {
		n++
	}
	return n
}

// Commands received since the device was created.
func (d *Device) Commands() int {
	return d.commands
}

func (d *Device) tracef(format string, a ...interface{}) {
	debug.DebugTargetf(d.cfg.ID, d.debug, debug.Device, format, a...)
}

// Respond to selection. The initiator always selects with ATN so the
// device goes to message out.
func (d *Device) Select() bool {
	if d.phase != scsi.PhaseBusFree {
		return false
	}
	d.lun = 0
	d.tag = untagged
	d.disc = false
	d.cur = nil
	d.phase = scsi.PhaseMsgOut
	return true
}

func (d *Device) Phase() scsi.Phase {
	if len(d.msgin) != 0 {
		return scsi.PhaseMsgIn
	}
	return d.phase
}

func (d *Device) busFree() {
	d.phase = scsi.PhaseBusFree
	d.cur = nil
}

func (d *Device) queueMsg(msg []byte) {
	d.msgin = append(d.msgin, msg)
}

// Messages from the initiator.
func (d *Device) ReceiveMsg(msg []byte) {
	for len(msg) > 0 {
		n := scsi.Length(msg)
		if n == 0 || n > len(msg) {
			return
		}
		m := msg[:n]
		msg = msg[n:]
		switch b := m[0]; {
		case scsi.IsIdentify(b):
			d.lun = scsi.IdentifyLun(b)
			d.disc = (b & scsi.MsgIdentifyDisc) != 0
		case b == scsi.MsgSimpleTag:
			d.tag = int(m[1])
		case b == scsi.MsgExtended:
			d.negotiate(m)
		case b == scsi.MsgReject:
			if d.awaiting {
				d.awaiting = false
				d.setAgreement(0, 0, d.Width, false)
			}
		case b == scsi.MsgAbort:
			d.tracef("abort lun %d", d.lun)
			d.drop(func(c *command) bool { return c.lun == d.lun })
			d.busFree()
			return
		case b == scsi.MsgAbortTag:
			d.tracef("abort tag %d lun %d", d.tag, d.lun)
			d.drop(func(c *command) bool { return c.lun == d.lun && c.tag == d.tag })
			d.busFree()
			return
		case b == scsi.MsgClearQueue:
			d.tracef("clear queue lun %d", d.lun)
			d.drop(func(c *command) bool { return c.lun == d.lun })
			d.busFree()
			return
		case b == scsi.MsgBusDeviceReset:
			d.tracef("device reset")
			d.reset()
			return
		}
	}
	if d.phase == scsi.PhaseMsgOut {
		d.afterMsgOut()
	}
}

// Selection messages done, device may now start its own negotiation
// before asking for the command.
func (d *Device) afterMsgOut() {
	if d.cur != nil {
		return
	}
	d.phase = scsi.PhaseCommand
	if d.cfg.Initiate && !d.initiated && len(d.msgin) == 0 {
		d.initiated = true
		d.awaiting = true
		d.queueMsg(scsi.SDTR(uint8(d.cfg.Period), uint8(d.cfg.Offset)))
	}
}

func (d *Device) setAgreement(period, offset, width uint8, dt bool) {
	d.Period, d.Offset, d.Width, d.DT = period, offset, width, dt
	if offset == 0 {
		d.Period = 0
	}
	d.tracef("agreed period %d offset %d width %d dt %v", d.Period, d.Offset, d.Width, d.DT)
}

func (d *Device) negotiate(m []byte) {
	ext, err := scsi.ParseExtended(m)
	if err != nil {
		d.queueMsg([]byte{scsi.MsgReject})
		return
	}
	d.initiated = true
	switch ext.Code {
	case scsi.ExtSDTR:
		if d.awaiting {
			// Answer to our own request, echo a changed answer once.
			d.awaiting = false
			d.setAgreement(ext.Period, ext.Offset, d.Width, false)
			if (ext.Period != uint8(d.cfg.Period) || ext.Offset != uint8(d.cfg.Offset)) && !d.echoed {
				d.echoed = true
				d.queueMsg(scsi.SDTR(ext.Period, ext.Offset))
			}
			return
		}
		period := max(ext.Period, uint8(d.cfg.Period))
		offset := min(ext.Offset, uint8(d.cfg.Offset))
		if d.cfg.Period == 0 {
			offset = 0
		}
		d.setAgreement(period, offset, d.Width, false)
		d.queueMsg(scsi.SDTR(period, offset))
	case scsi.ExtWDTR:
		if d.cfg.RejectWide {
			d.queueMsg([]byte{scsi.MsgReject})
			return
		}
		w := ext.Width
		if !d.cfg.Wide {
			w = 0
		}
		w = min(w, 1)
		d.setAgreement(0, 0, w, false)
		d.queueMsg(scsi.WDTR(w))
	case scsi.ExtPPR:
		if !d.cfg.DT {
			d.queueMsg([]byte{scsi.MsgReject})
			return
		}
		period := max(ext.Period, uint8(d.cfg.Period))
		offset := min(ext.Offset, uint8(d.cfg.Offset))
		w := min(ext.Width, 1)
		opts := ext.Opts & scsi.PPROptDT
		if w == 0 {
			opts = 0
		}
		d.setAgreement(period, offset, w, opts != 0)
		d.queueMsg(scsi.PPR(period, offset, w, opts))
	default:
		d.queueMsg([]byte{scsi.MsgReject})
	}
}

// Pop next message for the initiator.
func (d *Device) SendMsg() []byte {
	if len(d.msgin) == 0 {
		return nil
	}
	m := d.msgin[0]
	d.msgin = d.msgin[1:]
	switch m[0] {
	case scsi.MsgDisconnect:
		d.waiting = append(d.waiting, d.cur)
		d.busFree()
	case scsi.MsgCommandComplete:
		d.busFree()
	}
	return m
}

func (d *Device) outstanding(lun int) int {
	n := 0
	for _, c := range d.waiting {
		if c.lun == lun {
			n++
		}
	}
	return n
}

// Command from the initiator.
func (d *Device) ReceiveCommand(cdb []byte) {
	c := &command{lun: d.lun, tag: d.tag, cdb: append([]byte(nil), cdb...), discAt: -1, status: scsi.StatusGood}
	d.cur = c
	d.commands++
	d.tracef("command %02x lun %d tag %d", cdb[0], c.lun, c.tag)

	switch {
	case d.cfg.QueueFull > 0 && d.outstanding(c.lun) >= d.cfg.QueueFull:
		c.status = scsi.StatusQueueFull
	case d.cfg.Check > 0 && d.commands%d.cfg.Check == 0 && cdb[0] != scsi.OpRequestSense:
		d.check(c, scsi.SenseUnitAttention, 0x29, 0)
	default:
		d.execute(c)
	}

	if c.status != scsi.StatusGood || len(c.data) == 0 {
		d.phase = scsi.PhaseStatus
	} else if c.input {
		d.phase = scsi.PhaseDataIn
	} else {
		d.phase = scsi.PhaseDataOut
	}

	if d.disc && (d.cfg.Disconnect || d.cfg.Hang) && c.status == scsi.StatusGood {
		c.hang = d.cfg.Hang
		if len(c.data) > 1 {
			c.discAt = len(c.data) / 2
		}
		d.disconnect(c)
		return
	}
	if d.phase != scsi.PhaseStatus {
		d.startData()
	}
}

func (d *Device) disconnect(c *command) {
	c.readyAt = d.now + uint64(max(d.cfg.Latency, 1))
	d.queueMsg([]byte{scsi.MsgDisconnect})
	d.tracef("disconnect lun %d tag %d at %d", c.lun, c.tag, c.pos)
}

func (d *Device) check(c *command, key, asc, ascq uint8) {
	c.status = scsi.StatusCheckCondition
	c.data = nil
	d.sense[c.lun] = scsi.Sense(key, asc, ascq)
}

func (d *Device) execute(c *command) {
	cdb := c.cdb
	present := c.lun < len(d.units)
	if !present && cdb[0] != scsi.OpInquiry && cdb[0] != scsi.OpRequestSense {
		d.check(c, scsi.SenseIllegalRequest, 0x25, 0)
		return
	}
	switch cdb[0] {
	case scsi.OpTestUnitReady:
	case scsi.OpRequestSense:
		s := d.sense[c.lun]
		if s == nil {
			s = scsi.Sense(scsi.SenseNoSense, 0, 0)
		}
		d.sense[c.lun] = nil
		c.input = true
		c.data = s[:min(len(s), int(cdb[4]))]
	case scsi.OpInquiry:
		inq := make([]byte, 36)
		if !present {
			inq[0] = 0x7f
		}
		inq[2] = 2
		inq[3] = 2
		inq[4] = 31
		if d.cfg.Wide {
			inq[7] |= 0x20
		}
		inq[7] |= 0x12 // Sync and tagged queueing.
		copy(inq[8:], "SIM     DISK            0001")
		c.input = true
		c.data = inq[:min(len(inq), int(cdb[4]))]
	case scsi.OpReadCapacity:
		c.data = make([]byte, 8)
		binary.BigEndian.PutUint32(c.data, uint32(d.cfg.Blocks-1))
		binary.BigEndian.PutUint32(c.data[4:], BlockSize)
		c.input = true
	case scsi.OpRead6, scsi.OpRead10, scsi.OpWrite6, scsi.OpWrite10:
		lba, n := blocks(cdb)
		if lba+n > d.cfg.Blocks {
			d.check(c, scsi.SenseIllegalRequest, 0x21, 0)
			return
		}
		unit := d.units[c.lun][lba*BlockSize : (lba+n)*BlockSize]
		if cdb[0] == scsi.OpRead6 || cdb[0] == scsi.OpRead10 {
			c.input = true
			c.data = append([]byte(nil), unit...)
			return
		}
		c.data = make([]byte, len(unit))
		c.write = func(b []byte) { copy(unit, b) }
	default:
		d.check(c, scsi.SenseIllegalRequest, 0x20, 0)
	}
}

// Block address and count of a read or write.
func blocks(cdb []byte) (int, int) {
	if cdb[0] == scsi.OpRead6 || cdb[0] == scsi.OpWrite6 {
		lba := int(cdb[1]&0x1f)<<16 | int(cdb[2])<<8 | int(cdb[3])
		n := int(cdb[4])
		if n == 0 {
			n = 256
		}
		return lba, n
	}
	if len(cdb) < 10 {
		return 0, 0
	}
	return int(binary.BigEndian.Uint32(cdb[2:])), int(binary.BigEndian.Uint16(cdb[7:]))
}

func (d *Device) startData() {
	d.phases++
	d.parity = d.cfg.Parity > 0 && d.phases%d.cfg.Parity == 0
}

// Bytes the device moves before it changes phase.
func (d *Device) DataLeft() int {
	c := d.cur
	if c == nil || (d.phase != scsi.PhaseDataIn && d.phase != scsi.PhaseDataOut) {
		return 0
	}
	if c.discAt > c.pos {
		return c.discAt - c.pos
	}
	return len(c.data) - c.pos
}

// Parity error seen on the current data phase. Reported once.
func (d *Device) ParityError() bool {
	p := d.parity
	d.parity = false
	return p
}

func (d *Device) SendData(n int) []byte {
	c := d.cur
	n = min(n, d.DataLeft())
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	d.dataMoved()
	return b
}

func (d *Device) ReceiveData(b []byte) {
	c := d.cur
	n := min(len(b), d.DataLeft())
	copy(c.data[c.pos:], b[:n])
	c.pos += n
	d.dataMoved()
}

func (d *Device) dataMoved() {
	c := d.cur
	switch {
	case c.pos == len(c.data):
		if c.write != nil {
			c.write(c.data)
		}
		d.phase = scsi.PhaseStatus
	case c.pos == c.discAt:
		c.discAt = -1
		d.queueMsg([]byte{scsi.MsgSaveDataPointer})
		d.disconnect(c)
	}
}

func (d *Device) SendStatus() uint8 {
	st := d.cur.status
	d.queueMsg([]byte{scsi.MsgCommandComplete})
	d.phase = scsi.PhaseMsgIn
	return st
}

// Report time so disconnected commands become ready.
func (d *Device) Tick(now uint64) {
	d.now = now
}

// True if a disconnected command wants the bus back.
func (d *Device) WantsReselect() bool {
	if d.phase != scsi.PhaseBusFree {
		return false
	}
	for _, c := range d.waiting {
		if !c.hang && c.readyAt <= d.now {
			return true
		}
	}
	return false
}

// Reconnect. Returns the nexus the device identifies with, tag -1 when
// untagged.
func (d *Device) Reselect() (lun int, tag int) {
	for i, c := range d.waiting {
		if c.hang || c.readyAt > d.now {
			continue
		}
		d.waiting = append(d.waiting[:i], d.waiting[i+1:]...)
		d.cur = c
		d.lun = c.lun
		d.tag = c.tag
		switch {
		case c.pos == len(c.data):
			d.phase = scsi.PhaseStatus
		case c.input:
			d.phase = scsi.PhaseDataIn
			d.startData()
		default:
			d.phase = scsi.PhaseDataOut
			d.startData()
		}
		d.tracef("reselect lun %d tag %d", c.lun, c.tag)
		return c.lun, c.tag
	}
	return 0, untagged
}

func (d *Device) drop(match func(*command) bool) {
	keep := d.waiting[:0]
	for _, c := range d.waiting {
		if !match(c) {
			keep = append(keep, c)
		}
	}
	d.waiting = keep
}

func (d *Device) reset() {
	d.waiting = nil
	d.msgin = nil
	d.initiated = false
	d.awaiting = false
	d.echoed = false
	d.Period, d.Offset, d.Width, d.DT = 0, 0, 0, false
	d.busFree()
}

// SCSI bus reset.
func (d *Device) BusReset() {
	d.reset()
	for i := range d.sense {
		d.sense[i] = nil
	}
}
