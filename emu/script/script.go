/*
 * scsihba - Host and sequencer shared definitions
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

// Package script holds everything the host and the sequencer must agree
// on: register numbers and bits, entry points, interrupt codes and the
// layout of shared memory blocks.
package script

import "fmt"

// Registers visible to the host.
type Reg int

const (
	ISTAT    Reg = iota // Interrupt status.
	SIST                // SCSI interrupt status, 16 bits.
	DSTAT               // DMA interrupt status.
	DSP                 // Script pointer, writing it restarts the sequencer.
	DSPS                // Script interrupt code.
	DSA                 // Current task bus address.
	DBC                 // Phase in top byte, bytes left in bottom 24.
	SCRATCHA            // Next start queue entry the sequencer will read.
	SCRATCHB            // Overrun byte count.
	SDID                // Destination id of last selection.
	SSID                // Id of reselecting target.
	SCNTL1              // Connected flag and bus reset control.
	SBCL                // Bus control lines.
	STEST4              // Bus mode.
	CTEST3              // DMA FIFO control.
	STEST3              // SCSI FIFO control.
	HCBA                // Adapter block address, bound when script is loaded.
	NumRegs
)

var regNames = [NumRegs]string{"ISTAT", "SIST", "DSTAT", "DSP", "DSPS", "DSA", "DBC",
	"SCRATCHA", "SCRATCHB", "SDID", "SSID", "SCNTL1", "SBCL", "STEST4", "CTEST3", "STEST3", "HCBA"}

func (r Reg) String() string {
	if r >= 0 && r < NumRegs {
		return regNames[r]
	}
	return fmt.Sprintf("REG%d", int(r))
}

// ISTAT bits.
const (
	IstatABRT uint32 = 0x80 // Abort script.
	IstatSRST uint32 = 0x40 // Software reset.
	IstatSIGP uint32 = 0x20 // Signal process, new work.
	IstatSEM  uint32 = 0x10 // Semaphore, host wants sequencer to stop.
	IstatCON  uint32 = 0x08 // Connected.
	IstatINTF uint32 = 0x04 // Interrupt on the fly.
	IstatSIP  uint32 = 0x02 // SCSI interrupt pending.
	IstatDIP  uint32 = 0x01 // DMA interrupt pending.
)

// SIST bits.
const (
	SistPAR  uint32 = 0x0001 // Parity error.
	SistRST  uint32 = 0x0002 // Bus reset seen.
	SistUDC  uint32 = 0x0004 // Unexpected disconnect.
	SistSGE  uint32 = 0x0008 // Gross error.
	SistRSL  uint32 = 0x0010 // Reselected.
	SistSEL  uint32 = 0x0020 // Selected.
	SistCMP  uint32 = 0x0040 // Function complete.
	SistMA   uint32 = 0x0080 // Phase mismatch.
	SistHTH  uint32 = 0x0100 // Handshake timeout.
	SistGEN  uint32 = 0x0200 // General purpose timer.
	SistSTO  uint32 = 0x0400 // Selection timeout.
	SistSBMC uint32 = 0x1000 // Bus mode change.
)

// DSTAT bits.
const (
	DstatDFE  uint32 = 0x80 // DMA FIFO empty.
	DstatMDPE uint32 = 0x40 // Master data parity error.
	DstatBF   uint32 = 0x20 // Bus fault.
	DstatABRT uint32 = 0x10 // Aborted.
	DstatSSI  uint32 = 0x08 // Single step.
	DstatSIR  uint32 = 0x04 // Script interrupt.
	DstatIID  uint32 = 0x01 // Illegal instruction.
)

// SCNTL1 bits.
const (
	Scntl1CRST  uint32 = 0x08 // Assert bus reset.
	Scntl1ISCON uint32 = 0x10 // Connected to bus.
)

// SBCL bits.
const (
	SbclATN uint32 = 0x08
)

// STEST4 bus modes.
const (
	ModeSE  uint32 = 0x80 // Single ended.
	ModeLVD uint32 = 0xc0 // Low voltage differential.
	ModeHVD uint32 = 0x40 // High voltage differential.
	ModeMsk uint32 = 0xc0
)

// FIFO clear bits.
const (
	Ctest3CLF uint32 = 0x04
	Stest3CSF uint32 = 0x02
)

// Script interrupt codes, in DSPS.
const (
	SirBadStatus      uint32 = 1
	SirSelAtnNoMsgOut uint32 = 2
	SirMsgReceived    uint32 = 3
	SirMsgWeird       uint32 = 4
	SirNegoFailed     uint32 = 5
	SirNegoProto      uint32 = 6
	SirScriptStopped  uint32 = 7
	SirRejectToSend   uint32 = 8
	SirSwideOverrun   uint32 = 9
	SirSodlUnderrun   uint32 = 10
	SirReselNoMsgIn   uint32 = 11
	SirReselNoIdent   uint32 = 12
	SirReselBadLun    uint32 = 13
	SirTargetSelected uint32 = 14
	SirReselBadITL    uint32 = 15
	SirReselBadITLQ   uint32 = 16
	SirAbortSent      uint32 = 17
	SirReselAborted   uint32 = 18
	SirMsgOutDone     uint32 = 19
	SirCompleteError  uint32 = 20
	SirDataOverrun    uint32 = 21
	SirBadPhase       uint32 = 22
)

// Host status of a task.
const (
	HsIdle       uint8 = 0
	HsBusy       uint8 = 1
	HsNegotiate  uint8 = 2
	HsDisconnect uint8 = 3
	HsWait       uint8 = 4
	HsDoneMask   uint8 = 0x80
	HsComplete   uint8 = 0x84
	HsSelTimeout uint8 = 0x85
	HsUnexpected uint8 = 0x86
	HsCompErr    uint8 = 0x87
)

// Host flags of a task.
const (
	HfInPM0   uint8 = 0x01 // Sequencer moving patch context 0.
	HfInPM1   uint8 = 0x02 // Sequencer moving patch context 1.
	HfActPM   uint8 = 0x04 // Next patch goes to context 1.
	HfDPSaved uint8 = 0x08 // SAVE DATA POINTER seen.
	HfSense   uint8 = 0x10 // Auto sense in progress.
	HfExtErr  uint8 = 0x20 // Extended error present.
	HfDataIn  uint8 = 0x40 // Data moves are input.
)

// Extended error bits.
const (
	XeExtraData  uint8 = 0x01 // Device moved more data than asked.
	XeBadPhase   uint8 = 0x02 // Illegal phase.
	XeParityErr  uint8 = 0x04 // Parity error seen.
	XeSodlUnrun  uint8 = 0x08 // Odd byte left in output latch.
	XeSwideOvrun uint8 = 0x10 // Odd byte left in wide input latch.
)

// Script entry points. Script A holds the main flow, script B the less
// frequent handlers.
const (
	ScriptA uint32 = 0x00010000
	ScriptB uint32 = 0x00020000

	Start         = ScriptA + 0x000
	GetJobBegin   = ScriptA + 0x010
	GetJobEnd     = ScriptA + 0x030
	Select        = ScriptA + 0x040
	WfSelDone     = ScriptA + 0x050
	SendIdent     = ScriptA + 0x060
	Dispatch      = ScriptA + 0x080
	ClrAck        = ScriptA + 0x090
	Done          = ScriptA + 0x0a0
	DoneEnd       = ScriptA + 0x0b0
	CompleteError = ScriptA + 0x0c0
	Ungetjob      = ScriptA + 0x0d0
	Reselect      = ScriptA + 0x0e0
	Reselected    = ScriptA + 0x0f0
	Idle          = ScriptA + 0x100
	MsgIn         = ScriptA + 0x110
	Status        = ScriptA + 0x120
	Command       = ScriptA + 0x130
	PM0Data       = ScriptA + 0x140
	PM1Data       = ScriptA + 0x160
	DataIn        = ScriptA + 0x200
	DataIn2       = DataIn + 8*MaxSG
	DataOut       = ScriptA + 0x400
	DataOut2      = DataOut + 8*MaxSG

	SelForAbort   = ScriptB + 0x000
	SelForAbort1  = ScriptB + 0x020
	MsgBad        = ScriptB + 0x040
	MsgWeird      = ScriptB + 0x050
	SdtrResp      = ScriptB + 0x060
	WdtrResp      = ScriptB + 0x070
	PprResp       = ScriptB + 0x080
	PMHandle      = ScriptB + 0x090
	SendMsgOut    = ScriptB + 0x0a0
	ReselBadLun   = ScriptB + 0x0b0
	SDataIn       = ScriptB + 0x100
	SDataIn2      = SDataIn + 8
	ScriptAEnd    = ScriptA + 0x600
	ScriptBEnd    = ScriptB + 0x200
	DataInGoal    = DataIn2 + 8
	DataOutGoal   = DataOut2 + 8
	SenseGoal     = SDataIn2 + 8
	InstrSize     = 8
	NoScript      = 0
	BadScriptAddr = 0xffffffff
)

// Limits shared with the sequencer.
const (
	MaxSG     = 32 // Scatter entries per task.
	MaxTarget = 16
	MaxLun    = 8
	MaxTags   = 64
	NoTag     = 256 // Tag value for untagged tasks.
	SenseLen  = 32  // Auto sense buffer.
)

// Task record layout.
const (
	TaskStart     = 0x00 // Script address to start task.
	TaskRestart   = 0x04 // Script address to restart task.
	TaskSavep     = 0x08 // Saved data pointer.
	TaskLastp     = 0x0c // Current data pointer.
	TaskHostSts   = 0x10 // Host status.
	TaskSCSISts   = 0x11 // SCSI status.
	TaskXerrSts   = 0x12 // Extended error.
	TaskNegoSts   = 0x13 // Negotiation in progress.
	TaskHostFlags = 0x14 // Host flags.
	TaskSelId     = 0x18 // Target id.
	TaskSelScntl3 = 0x19 // Width and clock divisor.
	TaskSelSxfer  = 0x1a // Offset.
	TaskSelScntl4 = 0x1b // Extra clocks and DT.
	TaskSmsg      = 0x1c // Message out table, size then address.
	TaskCmd       = 0x24 // Command table.
	TaskSense     = 0x2c // Sense buffer table.
	TaskPM0       = 0x34 // Patch context 0, addr, size, return.
	TaskPM1       = 0x40 // Patch context 1.
	TaskExtra     = 0x4c // Overrun byte count.
	TaskTag       = 0x50 // Tag byte.
	TaskLun       = 0x51 // Logical unit.
	TaskMsgOut    = 0x60 // Identify, tag and negotiation bytes.
	TaskMsgOut2   = 0x70 // Message bytes for auto sense.
	TaskCDB       = 0x80 // Command bytes.
	TaskSenseCmd  = 0x90 // REQUEST SENSE command.
	TaskSenseBuf  = 0xa0 // Sense data.
	TaskData      = 0xc0 // Scatter table.
	TaskSize      = TaskData + 8*MaxSG
	MsgOutLen     = 16
	CDBLen        = 16
	PMAddr        = 0
	PMSize        = 4
	PMRet         = 8
)

// Adapter block layout.
const (
	HcbMsgIn    = 0x00 // Message in buffer.
	HcbMsgOut   = 0x10 // Message out buffer.
	HcbLastMsg  = 0x20 // Last message sent.
	HcbAbrtTbl  = 0x24 // Abort message table, size then address.
	HcbAbrtMsg  = 0x2c // Abort message bytes.
	HcbAbrtSel  = 0x30 // Abort selection: id, scntl3, sxfer, scntl4.
	HcbSqueue   = 0x34 // Start queue address.
	HcbDqueue   = 0x38 // Done queue address.
	HcbQueueLen = 0x3c // Entries in each queue.
	HcbTargets  = 0x40 // Target block addresses.
	HcbIdle     = HcbTargets + 4*MaxTarget
	HcbSize     = HcbIdle + 8
)

// Target block layout.
const (
	TgtSval  = 0x00 // Offset value.
	TgtWval  = 0x01 // Width and clock value.
	TgtUval  = 0x02 // Extra clocks and DT.
	TgtLuns  = 0x04 // Logical unit block addresses.
	TgtSize  = TgtLuns + 4*MaxLun
	LunItl   = 0x00 // Untagged task address.
	LunItlq  = 0x04 // Tag table address.
	LunSize  = 0x08
	TagsSize = 4 * MaxTags
)

// SCNTL3 wide bit.
const Scntl3EWS uint8 = 0x08

// SCNTL4 bits.
const (
	Scntl4U3EN   uint8 = 0x80
	Scntl4XclkST uint8 = 0x01
	Scntl4XclkDT uint8 = 0x04
	Scntl4XclkS  uint8 = 0x0a
)

// Critical regions: a fatal condition inside one means host and sequencer
// state can not be trusted.
type region struct {
	from uint32
	to   uint32
}

var critical = []region{
	{GetJobBegin, GetJobEnd},
	{Ungetjob, Reselect},
	{SelForAbort, SelForAbort1},
	{Done, DoneEnd},
}

// Check if script address lies inside a critical region.
func Critical(dsp uint32) bool {
	for _, r := range critical {
		if dsp > r.from && dsp < r.to+1 {
			return true
		}
	}
	return false
}

// Name of script entry for tracing.
func Label(addr uint32) string {
	switch {
	case addr >= DataIn && addr <= DataInGoal:
		return fmt.Sprintf("data_in+%d", (addr-DataIn)/InstrSize)
	case addr >= DataOut && addr <= DataOutGoal:
		return fmt.Sprintf("data_out+%d", (addr-DataOut)/InstrSize)
	case addr >= SDataIn && addr <= SenseGoal:
		return fmt.Sprintf("sdata_in+%d", (addr-SDataIn)/InstrSize)
	}
	if n, ok := labels[addr]; ok {
		return n
	}
	return fmt.Sprintf("%08x", addr)
}

var labels = map[uint32]string{
	Start: "start", GetJobBegin: "getjob_begin", GetJobEnd: "getjob_end", Select: "select",
	WfSelDone: "wf_sel_done", SendIdent: "send_ident", Dispatch: "dispatch", ClrAck: "clrack",
	Done: "done", DoneEnd: "done_end", CompleteError: "complete_error", Ungetjob: "ungetjob",
	Reselect: "reselect", Reselected: "reselected", Idle: "idle", MsgIn: "msg_in", Status: "status",
	Command: "command", PM0Data: "pm0_data", PM1Data: "pm1_data", SelForAbort: "sel_for_abort",
	SelForAbort1: "sel_for_abort_1", MsgBad: "msg_bad", MsgWeird: "msg_weird", SdtrResp: "sdtr_resp",
	WdtrResp: "wdtr_resp", PprResp: "ppr_resp", PMHandle: "pm_handle", SendMsgOut: "send_msg_out",
	ReselBadLun: "resel_bad_lun",
}
