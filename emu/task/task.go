/*
 * scsihba - Task record
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

// Package task holds the per command record shared with the sequencer and
// the arena the records live in.
package task

import (
	"fmt"

	dp "github.com/rcornwell/scsihba/emu/datapointer"
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/script"
)

// Handle names a record across its reuse. Low 16 bits are the arena
// index, upper bits the generation.
type Handle uint32

const NoHandle Handle = 0xffffffff

func (h Handle) index() int {
	return int(h & 0xffff)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h&0xffff, h>>16)
}

type Direction uint8

const (
	DirNone Direction = iota
	DirIn
	DirOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	}
	return "none"
}

// Why a task is being aborted.
type AbortKind uint8

const (
	NotAborting AbortKind = iota
	AbortCancel
	AbortTimeout
)

type Queue uint8

const (
	QueueFree Queue = iota
	QueueBusy
	QueueComp
	numQueues
)

func (q Queue) String() string {
	switch q {
	case QueueFree:
		return "free"
	case QueueBusy:
		return "busy"
	case QueueComp:
		return "comp"
	}
	return "unknown"
}

// Record is one command. The part in Data is read and written by the
// sequencer, the fields are host only.
type Record struct {
	Data []byte // Sequencer visible block.
	Bus  uint32 // Bus address of Data.

	index  int
	gen    uint16
	queue  Queue
	prev   int
	next   int
	hnext  int // Next record in same hash bucket.
	hashed bool

	Target     int
	Lun        int
	Tag        int // script.NoTag when untagged.
	Dir        Direction
	Disconnect bool // Device may disconnect.
	CDB        []byte
	Xfer       *dp.Transfer
	ToAbort    AbortKind
	Retries    int
	Ref        any

	// Saved across auto sense.
	SvStatus uint8
	SvXerr   uint8
	SvResid  int

	// Negotiation this task carries and our part in it.
	NegoRole uint8
}

// Handle for this use of the record.
func (r *Record) Handle() Handle {
	return Handle(uint32(r.index) | uint32(r.gen)<<16)
}

func (r *Record) Queue() Queue {
	return r.queue
}

func (r *Record) String() string {
	tag := "-"
	if r.Tag != script.NoTag {
		tag = fmt.Sprintf("%d", r.Tag)
	}
	return fmt.Sprintf("task %s %d:%d:%s", r.Handle(), r.Target, r.Lun, tag)
}

func (r *Record) word(off int) uint32 {
	return memory.Word(r.Data, off)
}

func (r *Record) setWord(off int, v uint32) {
	memory.SetWord(r.Data, off, v)
}

func (r *Record) Start() uint32       { return r.word(script.TaskStart) }
func (r *Record) SetStart(a uint32)   { r.setWord(script.TaskStart, a) }
func (r *Record) SetRestart(a uint32) { r.setWord(script.TaskRestart, a) }
func (r *Record) SetSavep(a uint32)   { r.setWord(script.TaskSavep, a) }
func (r *Record) Lastp() uint32       { return r.word(script.TaskLastp) }
func (r *Record) SetLastp(a uint32)   { r.setWord(script.TaskLastp, a) }

func (r *Record) HostStatus() uint8     { return r.Data[script.TaskHostSts] }
func (r *Record) SetHostStatus(s uint8) { r.Data[script.TaskHostSts] = s }
func (r *Record) SCSIStatus() uint8     { return r.Data[script.TaskSCSISts] }
func (r *Record) SetSCSIStatus(s uint8) { r.Data[script.TaskSCSISts] = s }
func (r *Record) Xerr() uint8           { return r.Data[script.TaskXerrSts] }
func (r *Record) SetXerr(x uint8)       { r.Data[script.TaskXerrSts] = x }
func (r *Record) NegoStatus() uint8     { return r.Data[script.TaskNegoSts] }
func (r *Record) SetNegoStatus(n uint8) { r.Data[script.TaskNegoSts] = n }
func (r *Record) Flags() uint8          { return r.Data[script.TaskHostFlags] }
func (r *Record) SetFlags(f uint8)      { r.Data[script.TaskHostFlags] = f }
func (r *Record) Extra() uint32         { return r.word(script.TaskExtra) }
func (r *Record) SetExtra(n uint32)     { r.setWord(script.TaskExtra, n) }

// Selection values: id, width and clock, offset, extra clocks.
func (r *Record) Select() (id, scntl3, sxfer, scntl4 uint8) {
	d := r.Data[script.TaskSelId:]
	return d[0], d[1], d[2], d[3]
}

func (r *Record) SetSelect(id, scntl3, sxfer, scntl4 uint8) {
	d := r.Data[script.TaskSelId:]
	d[0], d[1], d[2], d[3] = id, scntl3, sxfer, scntl4
}

// Messages sent after selection.
func (r *Record) MsgOut() []byte {
	n := int(r.word(script.TaskSmsg))
	return r.Data[script.TaskMsgOut : script.TaskMsgOut+n]
}

func (r *Record) SetMsgOut(msg []byte) {
	r.setMsg(script.TaskMsgOut, msg)
}

// Messages used while fetching sense.
func (r *Record) SetSenseMsgOut(msg []byte) {
	r.setMsg(script.TaskMsgOut2, msg)
}

func (r *Record) setMsg(off int, msg []byte) {
	n := copy(r.Data[off:off+script.MsgOutLen], msg)
	r.setWord(script.TaskSmsg, uint32(n))
	r.setWord(script.TaskSmsg+4, r.Bus+uint32(off))
}

// Command block the sequencer sends.
func (r *Record) Command() []byte {
	n := int(r.word(script.TaskCmd))
	off := int(r.word(script.TaskCmd+4) - r.Bus)
	return r.Data[off : off+n]
}

func (r *Record) SetCommand(cdb []byte) {
	r.setCmd(script.TaskCDB, cdb)
}

// Switch command to REQUEST SENSE.
func (r *Record) SetSenseCommand(cdb []byte) {
	r.setCmd(script.TaskSenseCmd, cdb)
}

func (r *Record) setCmd(off int, cdb []byte) {
	n := copy(r.Data[off:off+script.CDBLen], cdb)
	r.setWord(script.TaskCmd, uint32(n))
	r.setWord(script.TaskCmd+4, r.Bus+uint32(off))
}

// Bus address of sense buffer.
func (r *Record) SenseBus() uint32 {
	return r.Bus + script.TaskSenseBuf
}

// Sense data collected.
func (r *Record) SenseData() []byte {
	return r.Data[script.TaskSenseBuf : script.TaskSenseBuf+script.SenseLen]
}

// Write scatter list as the last entries of the move table.
func (r *Record) SetSegments(segs []dp.Segment) {
	base := script.TaskData + 8*(script.MaxSG-len(segs))
	for i, s := range segs {
		r.setWord(base+8*i, s.Size)
		r.setWord(base+8*i+4, s.Addr)
	}
}

// Segment from the move table, i counts from first used entry.
func (r *Record) Segment(i, n int) dp.Segment {
	off := script.TaskData + 8*(script.MaxSG-n+i)
	return dp.Segment{Size: r.word(off), Addr: r.word(off + 4)}
}

func pmOffset(slot dp.Slot) int {
	if slot == dp.Slot1 {
		return script.TaskPM1
	}
	return script.TaskPM0
}

func (r *Record) Patch(slot dp.Slot) dp.Patch {
	off := pmOffset(slot)
	return dp.Patch{
		Addr: r.word(off + script.PMAddr),
		Size: r.word(off + script.PMSize),
		Ret:  r.word(off + script.PMRet),
	}
}

func (r *Record) SetPatch(slot dp.Slot, p dp.Patch) {
	off := pmOffset(slot)
	r.setWord(off+script.PMAddr, p.Addr)
	r.setWord(off+script.PMSize, p.Size)
	r.setWord(off+script.PMRet, p.Ret)
}

// Load patch contexts into transfer view.
func (r *Record) LoadPatches() {
	r.Xfer.PM[0] = r.Patch(dp.Slot0)
	r.Xfer.PM[1] = r.Patch(dp.Slot1)
}

// Write patch contexts from transfer view.
func (r *Record) StorePatches() {
	r.SetPatch(dp.Slot0, r.Xfer.PM[0])
	r.SetPatch(dp.Slot1, r.Xfer.PM[1])
}

func (r *Record) PatchState() (dp.PatchState, error) {
	return dp.DecodeFlags(r.Flags())
}

func (r *Record) SetPatchState(st dp.PatchState) {
	r.SetFlags(st.Flags(r.Flags()))
}

// Set up transfer for segments. Goal depends on direction.
func (r *Record) SetTransfer(dir Direction, segs []dp.Segment) {
	r.Dir = dir
	goal := script.DataOutGoal
	if dir == DirIn {
		goal = script.DataInGoal
	}
	s := make([]dp.Segment, len(segs))
	copy(s, segs)
	r.Xfer = dp.New(s, uint32(goal))
	r.SetSegments(s)
	start := r.Xfer.Start()
	if len(segs) == 0 {
		start = r.Xfer.Goal
	}
	r.SetLastp(start)
	r.SetSavep(start)
	flags := r.Flags() &^ script.HfDataIn
	if dir == DirIn {
		flags |= script.HfDataIn
	}
	r.SetFlags(flags)
}

// Switch transfer to the sense buffer.
func (r *Record) SetSenseTransfer() {
	seg := []dp.Segment{{Addr: r.SenseBus(), Size: script.SenseLen}}
	r.Xfer = dp.New(seg, script.SenseGoal)
	r.setWord(script.TaskData+8*(script.MaxSG-1), seg[0].Size)
	r.setWord(script.TaskData+8*(script.MaxSG-1)+4, seg[0].Addr)
	r.SetLastp(script.SDataIn)
	r.SetSavep(script.SDataIn)
	r.SetFlags(script.HfSense | script.HfDataIn)
}

// Set tag and lun bytes.
func (r *Record) SetNexus(target, lun, tag int) {
	r.Target = target
	r.Lun = lun
	r.Tag = tag
	r.Data[script.TaskLun] = uint8(lun)
	if tag == script.NoTag {
		r.Data[script.TaskTag] = 0
	} else {
		r.Data[script.TaskTag] = uint8(tag)
	}
}

// Residual of current transfer.
func (r *Record) Residual() int {
	if r.Xfer == nil {
		return 0
	}
	r.LoadPatches()
	return r.Xfer.Residual(r.Lastp(), dp.Adjust(r.Xerr(), r.Extra()))
}

// Clear record for reuse.
func (r *Record) clear() {
	clear(r.Data)
	r.Target = 0
	r.Lun = 0
	r.Tag = script.NoTag
	r.Dir = DirNone
	r.Disconnect = false
	r.CDB = nil
	r.Xfer = nil
	r.ToAbort = NotAborting
	r.Retries = 0
	r.Ref = nil
	r.SvStatus = 0
	r.SvXerr = 0
	r.SvResid = 0
	r.NegoRole = 0
}
