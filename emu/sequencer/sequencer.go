/*
 * scsihba - Simulated script sequencer
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

// Package sequencer runs the host adapter script. It is not an
// instruction level emulation, each entry point the host knows about is a
// step of a state machine that reads and writes task blocks in shared
// memory exactly where the real script would.
package sequencer

import (
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/util/debug"
)

// Bus side of a simulated device.
type Target interface {
	ID() int
	Select() bool
	Phase() scsi.Phase
	ReceiveMsg(msg []byte)
	SendMsg() []byte
	ReceiveCommand(cdb []byte)
	DataLeft() int
	SendData(n int) []byte
	ReceiveData(b []byte)
	ParityError() bool
	SendStatus() uint8
	Tick(now uint64)
	WantsReselect() bool
	Reselect() (lun int, tag int)
	BusReset()
}

type Sequencer struct {
	mem     *memory.Memory
	regs    [script.NumRegs]uint32
	targets [script.MaxTarget]Target
	conn    Target // Connected device.
	running bool   // Cleared while stopped for the host.
	sist    uint32
	dstat   uint32
	intf    bool
	sigp    bool
	dput    int // Next done queue word.
	now     uint64
	debug   int
}

// Create sequencer on shared memory, bus starts in LVD mode.
func New(mem *memory.Memory, debugMask int) *Sequencer {
	s := &Sequencer{mem: mem, debug: debugMask}
	s.regs[script.STEST4] = script.ModeLVD
	return s
}

// Put device on the bus.
func (s *Sequencer) Attach(t Target) {
	s.targets[t.ID()&0xf] = t
}

func (s *Sequencer) tracef(format string, a ...interface{}) {
	debug.Debugf("SEQ", s.debug, debug.Seq, format, a...)
}

// Interrupt line to host.
func (s *Sequencer) IRQ() bool {
	return s.intf || s.sist != 0 || s.dstat != 0
}

// True when the script is executing.
func (s *Sequencer) Running() bool {
	return s.running
}

func (s *Sequencer) Now() uint64 {
	return s.now
}

func (s *Sequencer) Barrier() {
	s.mem.Barrier()
}

func (s *Sequencer) ReadReg(r script.Reg) uint32 {
	switch r {
	case script.ISTAT:
		v := s.regs[script.ISTAT] & script.IstatSEM
		if s.intf {
			v |= script.IstatINTF
		}
		if s.sist != 0 {
			v |= script.IstatSIP
		}
		if s.dstat != 0 {
			v |= script.IstatDIP
		}
		if s.conn != nil {
			v |= script.IstatCON
		}
		if s.sigp {
			v |= script.IstatSIGP
		}
		return v
	case script.SIST:
		v := s.sist
		s.sist = 0
		return v
	case script.DSTAT:
		v := s.dstat | script.DstatDFE
		s.dstat = 0
		return v
	case script.SCNTL1:
		v := s.regs[script.SCNTL1]
		if s.conn != nil {
			v |= script.Scntl1ISCON
		}
		return v
	}
	if r < 0 || r >= script.NumRegs {
		return 0
	}
	return s.regs[r]
}

func (s *Sequencer) WriteReg(r script.Reg, v uint32) {
	switch r {
	case script.ISTAT:
		if v&script.IstatSRST != 0 {
			s.softReset()
			return
		}
		if v&script.IstatINTF != 0 {
			s.intf = false
		}
		if v&script.IstatSIGP != 0 {
			s.sigp = true
		}
		s.regs[script.ISTAT] = v & script.IstatSEM
	case script.DSP:
		s.regs[script.DSP] = v
		s.running = true
	case script.SCNTL1:
		if v&script.Scntl1CRST != 0 {
			s.resetBus()
		}
		s.regs[script.SCNTL1] = v &^ (script.Scntl1CRST | script.Scntl1ISCON)
	case script.SIST, script.DSTAT:
	default:
		if r >= 0 && r < script.NumRegs {
			s.regs[r] = v
		}
	}
}

func (s *Sequencer) softReset() {
	mode := s.regs[script.STEST4]
	s.regs = [script.NumRegs]uint32{}
	s.regs[script.STEST4] = mode
	s.sist = 0
	s.dstat = 0
	s.intf = false
	s.sigp = false
	s.running = false
	s.conn = nil
	s.dput = 0
	s.tracef("software reset")
}

// Host pulsed bus reset, devices drop everything.
func (s *Sequencer) resetBus() {
	s.conn = nil
	for _, t := range s.targets {
		if t != nil {
			t.BusReset()
		}
	}
	s.tracef("bus reset")
}

// Bus reset driven by another initiator.
func (s *Sequencer) ExternalReset() {
	s.resetBus()
	s.stop(0, script.SistRST, s.regs[script.DSP])
}

// Bus changed electrical mode.
func (s *Sequencer) ChangeMode(mode uint32) {
	s.regs[script.STEST4] = mode & script.ModeMsk
	s.stop(0, script.SistSBMC, s.regs[script.DSP])
}

// Stop script and raise interrupt, dsp is where the host may resume.
func (s *Sequencer) stop(dstat, sist, dsp uint32) {
	s.dstat |= dstat
	s.sist |= sist
	s.regs[script.DSP] = dsp
	s.running = false
}

func (s *Sequencer) sir(code, dsp uint32) {
	s.tracef("script interrupt %d at %s", code, script.Label(dsp))
	s.regs[script.DSPS] = code
	s.stop(script.DstatSIR, 0, dsp)
}

func (s *Sequencer) illegal(where uint32) {
	s.tracef("illegal instruction at %s", script.Label(where))
	s.regs[script.DBC] = 0xc0000000
	s.stop(script.DstatIID, 0, where)
}

// Run one script step.
func (s *Sequencer) Step() {
	s.now++
	for _, t := range s.targets {
		if t != nil {
			t.Tick(s.now)
		}
	}
	if !s.running {
		return
	}
	switch pc := s.regs[script.DSP]; pc {
	case script.Start:
		s.start()
	case script.Idle:
		s.regs[script.DSP] = script.Start
	case script.Select:
		s.selectTask()
	case script.Dispatch:
		s.dispatch()
	case script.ClrAck, script.MsgWeird:
		s.regs[script.DSP] = script.Dispatch
	case script.CompleteError:
		s.sir(script.SirCompleteError, script.CompleteError)
	case script.MsgBad:
		s.setMsgOut([]byte{scsi.MsgReject})
		s.sendMsgOut()
	case script.SdtrResp, script.WdtrResp, script.PprResp, script.SendMsgOut:
		s.sendMsgOut()
	case script.SelForAbort:
		s.selForAbort()
	case script.SelForAbort1:
		s.sendAbort()
	case script.ReselBadLun:
		s.reselBadLun()
	default:
		s.illegal(pc)
	}
}

// Run n steps.
func (s *Sequencer) Run(n int) {
	for range n {
		s.Step()
	}
}

func (s *Sequencer) word(addr uint32) uint32 {
	v, _ := s.mem.GetWord(addr)
	return v
}

func (s *Sequencer) getByte(addr uint32) uint8 {
	v, _ := s.mem.GetByte(addr)
	return v
}

// Bytes described by a size, address table.
func (s *Sequencer) table(addr uint32) []byte {
	b := make([]byte, s.word(addr)&0xffffff)
	s.mem.Read(s.word(addr+4), b)
	return b
}

func (s *Sequencer) hcb(off uint32) uint32 {
	return s.regs[script.HCBA] + off
}

func (s *Sequencer) task(off uint32) uint32 {
	return s.regs[script.DSA] + off
}

func (s *Sequencer) setHostStatus(hs uint8) {
	s.mem.PutByte(s.task(script.TaskHostSts), hs)
}

func (s *Sequencer) flags() uint8 {
	return s.getByte(s.task(script.TaskHostFlags))
}

func (s *Sequencer) setFlags(f uint8) {
	s.mem.PutByte(s.task(script.TaskHostFlags), f)
}

// Scheduler: honor the semaphore, take reselections, then start tasks.
func (s *Sequencer) start() {
	if s.regs[script.ISTAT]&script.IstatSEM != 0 {
		s.sir(script.SirScriptStopped, script.Start)
		return
	}
	s.sigp = false
	for _, t := range s.targets {
		if t != nil && t.WantsReselect() {
			s.reselect(t)
			return
		}
	}
	q := s.regs[script.SCRATCHA]
	bus, bad := s.mem.GetWord(q)
	if bad {
		s.illegal(script.GetJobBegin + script.InstrSize)
		return
	}
	start := s.word(bus + script.TaskStart)
	if start == script.Idle {
		return
	}
	s.regs[script.SCRATCHA] = s.word(q + 4)
	s.regs[script.DSA] = bus
	s.tracef("task %08x start %s", bus, script.Label(start))
	s.regs[script.DSP] = start
}

func (s *Sequencer) selectTask() {
	id := s.getByte(s.task(script.TaskSelId)) & 0xf
	s.regs[script.SDID] = uint32(id)
	t := s.targets[id]
	if t == nil || !t.Select() {
		s.tracef("selection timeout target %d", id)
		s.stop(0, script.SistSTO, script.WfSelDone+script.InstrSize)
		return
	}
	s.conn = t
	t.ReceiveMsg(s.table(s.task(script.TaskSmsg)))
	s.regs[script.DSP] = script.Dispatch
}

func (s *Sequencer) dispatch() {
	t := s.conn
	if t == nil {
		s.illegal(script.Dispatch)
		return
	}
	if s.getByte(s.hcb(script.HcbMsgOut)) != scsi.MsgNoop {
		s.sendMsgOut()
		return
	}
	phase := t.Phase()
	switch phase {
	case scsi.PhaseDataIn, scsi.PhaseDataOut:
		s.dataPhase(phase)
	case scsi.PhaseCommand:
		if s.getByte(s.task(script.TaskHostSts)) == script.HsNegotiate {
			s.sir(script.SirNegoFailed, script.Dispatch)
			return
		}
		t.ReceiveCommand(s.table(s.task(script.TaskCmd)))
	case scsi.PhaseStatus:
		s.mem.PutByte(s.task(script.TaskSCSISts), t.SendStatus())
	case scsi.PhaseMsgIn:
		s.msgIn(t.SendMsg())
	case scsi.PhaseMsgOut:
		t.ReceiveMsg([]byte{scsi.MsgNoop})
	default:
		s.conn = nil
		s.tracef("unexpected disconnect")
		s.stop(0, script.SistUDC, script.Dispatch)
	}
}

func (s *Sequencer) msgIn(m []byte) {
	if len(m) == 0 {
		s.illegal(script.MsgIn)
		return
	}
	switch m[0] {
	case scsi.MsgCommandComplete:
		s.conn = nil
		s.setHostStatus(script.HsComplete)
		switch {
		case s.getByte(s.task(script.TaskSCSISts)) != scsi.StatusGood:
			s.sir(script.SirBadStatus, script.Start)
		case s.flags()&(script.HfSense|script.HfExtErr) != 0:
			s.sir(script.SirCompleteError, script.CompleteError)
		default:
			s.done()
		}
	case scsi.MsgSaveDataPointer:
		s.mem.PutWord(s.task(script.TaskSavep), s.word(s.task(script.TaskLastp)))
		s.setFlags(s.flags() | script.HfDPSaved)
	case scsi.MsgRestorePointers:
		s.mem.PutWord(s.task(script.TaskLastp), s.word(s.task(script.TaskSavep)))
	case scsi.MsgDisconnect:
		s.conn = nil
		s.setHostStatus(script.HsDisconnect)
		s.regs[script.DSP] = script.Start
	case scsi.MsgNoop:
	default:
		buf := make([]byte, 16)
		copy(buf, m)
		s.mem.Write(s.hcb(script.HcbMsgIn), buf)
		s.sir(script.SirMsgReceived, script.ClrAck)
	}
}

// Post task on done queue and interrupt on the fly.
func (s *Sequencer) done() {
	dq := s.word(s.hcb(script.HcbDqueue))
	qlen := int(s.word(s.hcb(script.HcbQueueLen)))
	s.mem.PutWord(dq+uint32(4*s.dput), s.regs[script.DSA])
	s.mem.Barrier()
	if qlen > 0 {
		s.dput = (s.dput + 2) % qlen
	}
	s.intf = true
	s.regs[script.DSP] = script.Start
}

// Where the move table of the current transfer ends and the goal.
func (s *Sequencer) dataEnd(flags uint8) (uint32, uint32, uint32) {
	switch {
	case flags&script.HfSense != 0:
		return script.SDataIn, script.SDataIn2, script.SenseGoal
	case flags&script.HfDataIn != 0:
		return script.DataIn, script.DataIn2, script.DataInGoal
	}
	return script.DataOut, script.DataOut2, script.DataOutGoal
}

func (s *Sequencer) dataPhase(phase scsi.Phase) {
	t := s.conn
	in := phase == scsi.PhaseDataIn
	flags := s.flags()
	first, end, goal := s.dataEnd(flags)
	lastp := s.word(s.task(script.TaskLastp))
	if lastp == end {
		lastp = goal
	}
	if in != (flags&script.HfDataIn != 0) {
		s.drain(in)
		s.sir(script.SirBadPhase, script.Dispatch)
		return
	}
	if lastp == goal {
		s.regs[script.SCRATCHB] = uint32(s.drain(in))
		s.sir(script.SirDataOverrun, script.Dispatch)
		return
	}

	var size, addr, next uint32
	var pm uint8
	switch {
	case lastp == script.PM0Data || lastp == script.PM1Data:
		off, bit := uint32(script.TaskPM0), script.HfInPM0
		if lastp == script.PM1Data {
			off, bit = script.TaskPM1, script.HfInPM1
		}
		addr = s.word(s.task(off + script.PMAddr))
		size = s.word(s.task(off + script.PMSize))
		next = s.word(s.task(off + script.PMRet))
		pm = bit
		s.setFlags(flags | pm)
	case lastp >= first && lastp < end && (end-lastp)%script.InstrSize == 0:
		i := script.MaxSG - (end-lastp)/script.InstrSize
		size = s.word(s.task(script.TaskData+8*i)) & 0xffffff
		addr = s.word(s.task(script.TaskData + 8*i + 4))
		next = lastp + script.InstrSize
	default:
		s.illegal(lastp)
		return
	}
	if next == end {
		next = goal
	}

	n := min(size, uint32(t.DataLeft()))
	if in {
		s.mem.Write(addr, t.SendData(int(n)))
	} else {
		buf := make([]byte, n)
		s.mem.Read(addr, buf)
		t.ReceiveData(buf)
	}
	parity := in && t.ParityError()
	if parity {
		s.regs[script.SBCL] = script.SbclATN
	}

	if n < size {
		// Target changed phase before the move finished.
		s.tracef("phase mismatch at %s, %d left", script.Label(lastp), size-n)
		s.regs[script.DBC] = uint32(phase)<<24 | (size - n)
		sist := script.SistMA
		if parity {
			sist |= script.SistPAR
		}
		s.stop(0, sist, lastp+script.InstrSize)
		return
	}
	if pm != 0 {
		s.setFlags(s.flags() &^ pm)
	}
	s.mem.PutWord(s.task(script.TaskLastp), next)
	if parity {
		s.regs[script.DBC] = uint32(phase) << 24
		s.stop(0, script.SistPAR, next)
	}
}

// Throw away data the target insists on moving.
func (s *Sequencer) drain(in bool) int {
	t := s.conn
	n := t.DataLeft()
	if in {
		t.SendData(n)
	} else {
		t.ReceiveData(make([]byte, n))
	}
	return n
}

func (s *Sequencer) setMsgOut(msg []byte) {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = scsi.MsgNoop
	}
	copy(buf, msg)
	s.mem.Write(s.hcb(script.HcbMsgOut), buf)
}

// Send the message the host left in the adapter block.
func (s *Sequencer) sendMsgOut() {
	if s.conn == nil {
		s.illegal(s.regs[script.DSP])
		return
	}
	buf := make([]byte, 16)
	s.mem.Read(s.hcb(script.HcbMsgOut), buf)
	n := scsi.Length(buf)
	if n == 0 || n > len(buf) {
		n = 1
	}
	s.conn.ReceiveMsg(buf[:n])
	s.regs[script.SBCL] = 0
	s.mem.PutByte(s.hcb(script.HcbLastMsg), buf[0])
	s.sir(script.SirMsgOutDone, script.Dispatch)
}

// Device wants to continue a disconnected task. Find it through the
// target, lun and tag tables.
func (s *Sequencer) reselect(t Target) {
	lun, tag := t.Reselect()
	id := uint32(t.ID() & 0xf)
	s.conn = t
	s.regs[script.SSID] = id
	s.tracef("reselected by %d lun %d tag %d", id, lun, tag)

	var lb uint32
	if tb := s.word(s.hcb(script.HcbTargets + 4*id)); tb != 0 && lun >= 0 && lun < script.MaxLun {
		lb = s.word(tb + script.TgtLuns + 4*uint32(lun))
	}
	if lb == 0 {
		s.sir(script.SirReselBadLun, script.ReselBadLun)
		return
	}
	var bus uint32
	if tag < 0 {
		if bus = s.word(lb + script.LunItl); bus == 0 {
			s.sir(script.SirReselBadITL, script.ReselBadLun)
			return
		}
	} else {
		tbl := s.word(lb + script.LunItlq)
		if tbl == 0 || tag >= script.MaxTags {
			s.sir(script.SirReselBadITLQ, script.ReselBadLun)
			return
		}
		if bus = s.word(tbl + 4*uint32(tag)); bus == 0 {
			s.sir(script.SirReselBadITLQ, script.ReselBadLun)
			return
		}
	}
	s.regs[script.DSA] = bus
	s.setHostStatus(script.HsBusy)
	s.mem.PutWord(s.task(script.TaskLastp), s.word(s.task(script.TaskSavep)))
	s.regs[script.DSP] = script.Dispatch
}

// Send abort message chosen by host to a device we have no task for.
func (s *Sequencer) reselBadLun() {
	if s.conn != nil {
		buf := make([]byte, 16)
		s.mem.Read(s.hcb(script.HcbMsgOut), buf)
		s.conn.ReceiveMsg(buf[:max(scsi.Length(buf), 1)])
		s.conn = nil
	}
	s.setMsgOut(nil)
	s.regs[script.DSP] = script.Start
}

func (s *Sequencer) selForAbort() {
	id := s.getByte(s.hcb(script.HcbAbrtSel)) & 0xf
	s.regs[script.SDID] = uint32(id)
	t := s.targets[id]
	if t == nil || !t.Select() {
		s.stop(0, script.SistSTO, script.SelForAbort+script.InstrSize)
		return
	}
	s.conn = t
	s.sir(script.SirTargetSelected, script.SelForAbort1)
}

func (s *Sequencer) sendAbort() {
	if s.conn == nil {
		s.illegal(script.SelForAbort1)
		return
	}
	msg := s.table(s.hcb(script.HcbAbrtTbl))
	s.tracef("recovery message % x to %d", msg, s.conn.ID())
	if len(msg) != 0 {
		s.conn.ReceiveMsg(msg)
	}
	s.conn = nil
	s.sir(script.SirAbortSent, script.Start)
}
