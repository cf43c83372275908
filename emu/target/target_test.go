/*
 * scsihba - Simulated target tests
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

package target

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/scsi"
)

func disk() settings.Device {
	return settings.Device{ID: 3, Luns: 1, Blocks: 16, Period: 25, Offset: 8, Wide: true, Latency: 5}
}

func read10(lba, n int) []byte {
	return []byte{scsi.OpRead10, 0, 0, 0, 0, byte(lba), 0, 0, byte(n), 0}
}

func write10(lba, n int) []byte {
	return []byte{scsi.OpWrite10, 0, 0, 0, 0, byte(lba), 0, 0, byte(n), 0}
}

// Select and hand over the messages and command.
func issue(t *testing.T, d *Device, cdb []byte, msg ...byte) {
	t.Helper()
	if !d.Select() {
		t.Fatalf("Device did not respond to selection")
	}
	if p := d.Phase(); p != scsi.PhaseMsgOut {
		t.Fatalf("Phase after selection got: %s expected: %s", p, scsi.PhaseMsgOut)
	}
	d.ReceiveMsg(msg)
	if d.phase != scsi.PhaseCommand {
		t.Fatalf("Phase after messages got: %s expected: %s", d.phase, scsi.PhaseCommand)
	}
	d.ReceiveCommand(cdb)
}

// Pop the status and the command complete message.
func finish(t *testing.T, d *Device) uint8 {
	t.Helper()
	if p := d.Phase(); p != scsi.PhaseStatus {
		t.Fatalf("Phase got: %s expected: %s", p, scsi.PhaseStatus)
	}
	st := d.SendStatus()
	if m := d.SendMsg(); len(m) != 1 || m[0] != scsi.MsgCommandComplete {
		t.Errorf("Message got: % x expected: command complete", m)
	}
	if p := d.Phase(); p != scsi.PhaseBusFree {
		t.Errorf("Phase after complete got: %s expected: %s", p, scsi.PhaseBusFree)
	}
	return st
}

func TestInquiry(t *testing.T) {
	d := New(disk(), 0)
	issue(t, d, []byte{scsi.OpInquiry, 0, 0, 0, 36, 0}, scsi.Identify(0, false))
	if p := d.Phase(); p != scsi.PhaseDataIn {
		t.Fatalf("Phase got: %s expected: %s", p, scsi.PhaseDataIn)
	}
	if n := d.DataLeft(); n != 36 {
		t.Errorf("Data length got: %d expected: %d", n, 36)
	}
	data := d.SendData(100)
	if len(data) != 36 {
		t.Fatalf("Data got: %d bytes expected: %d", len(data), 36)
	}
	if s := string(data[8:36]); s != "SIM     DISK            0001" {
		t.Errorf("Identification got: %q", s)
	}
	if data[7]&0x20 == 0 {
		t.Errorf("Wide support not reported")
	}
	if st := finish(t, d); st != scsi.StatusGood {
		t.Errorf("Status got: %02x expected: %02x", st, scsi.StatusGood)
	}
}

func TestInquiryMissingLun(t *testing.T) {
	d := New(disk(), 0)
	issue(t, d, []byte{scsi.OpInquiry, 0, 0, 0, 36, 0}, scsi.Identify(2, false))
	data := d.SendData(36)
	if data[0] != 0x7f {
		t.Errorf("Peripheral qualifier got: %02x expected: %02x", data[0], 0x7f)
	}
	finish(t, d)

	issue(t, d, make([]byte, 6), scsi.Identify(2, false))
	if st := finish(t, d); st != scsi.StatusCheckCondition {
		t.Errorf("Status got: %02x expected: %02x", st, scsi.StatusCheckCondition)
	}
}

func TestWriteRead(t *testing.T) {
	d := New(disk(), 0)
	out := bytes.Repeat([]byte{0xa5}, BlockSize)
	issue(t, d, write10(2, 1), scsi.Identify(0, false))
	if p := d.Phase(); p != scsi.PhaseDataOut {
		t.Fatalf("Phase got: %s expected: %s", p, scsi.PhaseDataOut)
	}
	d.ReceiveData(out[:100])
	d.ReceiveData(out[100:])
	finish(t, d)
	if !bytes.Equal(d.Unit(0)[2*BlockSize:3*BlockSize], out) {
		t.Errorf("Block not written")
	}

	issue(t, d, read10(2, 1), scsi.Identify(0, false))
	in := d.SendData(BlockSize)
	if diff := cmp.Diff(out, in); diff != "" {
		t.Errorf("Read back mismatch (-want +got):\n%s", diff)
	}
	finish(t, d)
}

func TestOutOfRange(t *testing.T) {
	d := New(disk(), 0)
	issue(t, d, read10(15, 2), scsi.Identify(0, false))
	if st := finish(t, d); st != scsi.StatusCheckCondition {
		t.Fatalf("Status got: %02x expected: %02x", st, scsi.StatusCheckCondition)
	}
	issue(t, d, scsi.RequestSense(0, 18), scsi.Identify(0, false))
	s := d.SendData(18)
	if k := scsi.SenseKey(s); k != scsi.SenseIllegalRequest {
		t.Errorf("Sense key got: %x expected: %x", k, scsi.SenseIllegalRequest)
	}
	finish(t, d)
}

// Disconnect after the command and again half way through the data.
func TestDisconnect(t *testing.T) {
	cfg := disk()
	cfg.Disconnect = true
	d := New(cfg, 0)
	issue(t, d, read10(0, 2), scsi.Identify(0, true), scsi.MsgSimpleTag, 3)
	if m := d.SendMsg(); len(m) != 1 || m[0] != scsi.MsgDisconnect {
		t.Fatalf("Message got: % x expected: disconnect", m)
	}
	if d.Phase() != scsi.PhaseBusFree || d.Outstanding() != 1 {
		t.Fatalf("Device not disconnected, phase %s outstanding %d", d.Phase(), d.Outstanding())
	}
	if d.WantsReselect() {
		t.Errorf("Reselect before latency")
	}
	d.Tick(5)
	if !d.WantsReselect() {
		t.Fatalf("No reselect after latency")
	}
	lun, tag := d.Reselect()
	if lun != 0 || tag != 3 {
		t.Errorf("Nexus got: %d %d expected: 0 3", lun, tag)
	}
	if n := d.DataLeft(); n != BlockSize {
		t.Errorf("Data before disconnect got: %d expected: %d", n, BlockSize)
	}
	d.SendData(BlockSize)
	if m := d.SendMsg(); len(m) != 1 || m[0] != scsi.MsgSaveDataPointer {
		t.Errorf("Message got: % x expected: save data pointer", m)
	}
	if m := d.SendMsg(); len(m) != 1 || m[0] != scsi.MsgDisconnect {
		t.Errorf("Message got: % x expected: disconnect", m)
	}
	d.Tick(10)
	d.Reselect()
	if n := d.DataLeft(); n != BlockSize {
		t.Errorf("Data after reselect got: %d expected: %d", n, BlockSize)
	}
	d.SendData(BlockSize)
	finish(t, d)
	if d.Outstanding() != 0 {
		t.Errorf("Outstanding got: %d expected: 0", d.Outstanding())
	}
}

// Without the disconnect privilege the device keeps the bus.
func TestNoDisconnectPrivilege(t *testing.T) {
	cfg := disk()
	cfg.Disconnect = true
	d := New(cfg, 0)
	issue(t, d, read10(0, 1), scsi.Identify(0, false))
	if p := d.Phase(); p != scsi.PhaseDataIn {
		t.Errorf("Phase got: %s expected: %s", p, scsi.PhaseDataIn)
	}
}

func TestHang(t *testing.T) {
	cfg := disk()
	cfg.Hang = true
	d := New(cfg, 0)
	issue(t, d, make([]byte, 6), scsi.Identify(0, true))
	d.SendMsg()
	d.Tick(1000)
	if d.WantsReselect() {
		t.Errorf("Hung command wants reselect")
	}
	if d.Outstanding() != 1 {
		t.Errorf("Outstanding got: %d expected: 1", d.Outstanding())
	}
}

func TestQueueFull(t *testing.T) {
	cfg := disk()
	cfg.Disconnect = true
	cfg.QueueFull = 1
	d := New(cfg, 0)
	issue(t, d, read10(0, 1), scsi.Identify(0, true), scsi.MsgSimpleTag, 1)
	d.SendMsg()
	issue(t, d, read10(0, 1), scsi.Identify(0, true), scsi.MsgSimpleTag, 2)
	if st := finish(t, d); st != scsi.StatusQueueFull {
		t.Errorf("Status got: %02x expected: %02x", st, scsi.StatusQueueFull)
	}
}

func TestCheckEvery(t *testing.T) {
	cfg := disk()
	cfg.Check = 2
	d := New(cfg, 0)
	want := []uint8{scsi.StatusGood, scsi.StatusCheckCondition}
	for i, w := range want {
		issue(t, d, make([]byte, 6), scsi.Identify(0, false))
		if st := finish(t, d); st != w {
			t.Errorf("Command %d status got: %02x expected: %02x", i, st, w)
		}
	}
	issue(t, d, scsi.RequestSense(0, 18), scsi.Identify(0, false))
	if k := scsi.SenseKey(d.SendData(18)); k != scsi.SenseUnitAttention {
		t.Errorf("Sense key got: %x expected: %x", k, scsi.SenseUnitAttention)
	}
	finish(t, d)
}

func TestParity(t *testing.T) {
	cfg := disk()
	cfg.Parity = 2
	d := New(cfg, 0)
	want := []bool{false, true, false, true}
	for i, w := range want {
		issue(t, d, read10(0, 1), scsi.Identify(0, false))
		if p := d.ParityError(); p != w {
			t.Errorf("Phase %d parity got: %v expected: %v", i, p, w)
		}
		if d.ParityError() {
			t.Errorf("Phase %d parity reported twice", i)
		}
		d.SendData(BlockSize)
		finish(t, d)
	}
}

func TestSyncRequest(t *testing.T) {
	d := New(disk(), 0)
	msg := append([]byte{scsi.Identify(0, false)}, scsi.SDTR(10, 31)...)
	issue(t, d, make([]byte, 6), msg...)
	if m := d.SendMsg(); !bytes.Equal(m, scsi.SDTR(25, 8)) {
		t.Errorf("Answer got: % x expected: % x", m, scsi.SDTR(25, 8))
	}
	if d.Period != 25 || d.Offset != 8 {
		t.Errorf("Agreement got: %d %d expected: 25 8", d.Period, d.Offset)
	}
}

func TestWideRequest(t *testing.T) {
	d := New(disk(), 0)
	issue(t, d, make([]byte, 6), append([]byte{scsi.Identify(0, false)}, scsi.WDTR(1)...)...)
	if m := d.SendMsg(); !bytes.Equal(m, scsi.WDTR(1)) {
		t.Errorf("Answer got: % x expected: % x", m, scsi.WDTR(1))
	}
	if d.Width != 1 {
		t.Errorf("Width got: %d expected: 1", d.Width)
	}

	cfg := disk()
	cfg.RejectWide = true
	d = New(cfg, 0)
	issue(t, d, make([]byte, 6), append([]byte{scsi.Identify(0, false)}, scsi.WDTR(1)...)...)
	if m := d.SendMsg(); len(m) != 1 || m[0] != scsi.MsgReject {
		t.Errorf("Answer got: % x expected: reject", m)
	}
}

func TestPPRWithoutDT(t *testing.T) {
	d := New(disk(), 0)
	issue(t, d, make([]byte, 6), append([]byte{scsi.Identify(0, false)}, scsi.PPR(9, 31, 1, scsi.PPROptDT)...)...)
	if m := d.SendMsg(); len(m) != 1 || m[0] != scsi.MsgReject {
		t.Errorf("Answer got: % x expected: reject", m)
	}
}

func TestPPR(t *testing.T) {
	cfg := disk()
	cfg.DT = true
	cfg.Period = 9
	cfg.Offset = 62
	d := New(cfg, 0)
	issue(t, d, make([]byte, 6), append([]byte{scsi.Identify(0, false)}, scsi.PPR(9, 62, 1, scsi.PPROptDT)...)...)
	want := scsi.PPR(9, 62, 1, scsi.PPROptDT)
	if m := d.SendMsg(); !bytes.Equal(m, want) {
		t.Errorf("Answer got: % x expected: % x", m, want)
	}
	if !d.DT || d.Width != 1 {
		t.Errorf("Agreement got: dt %v width %d", d.DT, d.Width)
	}
}

// Device starts negotiation itself, a changed answer is echoed once.
func TestInitiate(t *testing.T) {
	cfg := disk()
	cfg.Initiate = true
	d := New(cfg, 0)
	issue(t, d, make([]byte, 6), scsi.Identify(0, false))
	if m := d.SendMsg(); !bytes.Equal(m, scsi.SDTR(25, 8)) {
		t.Fatalf("Request got: % x expected: % x", m, scsi.SDTR(25, 8))
	}
	d.ReceiveMsg(scsi.SDTR(50, 4))
	if m := d.SendMsg(); !bytes.Equal(m, scsi.SDTR(50, 4)) {
		t.Errorf("Echo got: % x expected: % x", m, scsi.SDTR(50, 4))
	}
	if d.Period != 50 || d.Offset != 4 {
		t.Errorf("Agreement got: %d %d expected: 50 4", d.Period, d.Offset)
	}
	finish(t, d)

	// Only once after reset.
	issue(t, d, make([]byte, 6), scsi.Identify(0, false))
	if d.Phase() != scsi.PhaseStatus {
		t.Errorf("Second command negotiated again")
	}
}

func TestInitiateRejected(t *testing.T) {
	cfg := disk()
	cfg.Initiate = true
	d := New(cfg, 0)
	issue(t, d, make([]byte, 6), scsi.Identify(0, false))
	d.SendMsg()
	d.ReceiveMsg([]byte{scsi.MsgReject})
	if d.Offset != 0 || d.Period != 0 {
		t.Errorf("Agreement got: %d %d expected: async", d.Period, d.Offset)
	}
}

func TestAbortTag(t *testing.T) {
	cfg := disk()
	cfg.Disconnect = true
	d := New(cfg, 0)
	for tag := byte(1); tag <= 2; tag++ {
		issue(t, d, read10(0, 1), scsi.Identify(0, true), scsi.MsgSimpleTag, tag)
		d.SendMsg()
	}
	d.Select()
	d.ReceiveMsg([]byte{scsi.Identify(0, true), scsi.MsgSimpleTag, 1, scsi.MsgAbortTag})
	if d.Phase() != scsi.PhaseBusFree {
		t.Errorf("Phase got: %s expected: %s", d.Phase(), scsi.PhaseBusFree)
	}
	if d.Outstanding() != 1 {
		t.Fatalf("Outstanding got: %d expected: 1", d.Outstanding())
	}
	d.Tick(100)
	if _, tag := d.Reselect(); tag != 2 {
		t.Errorf("Remaining tag got: %d expected: 2", tag)
	}
}

func TestDeviceReset(t *testing.T) {
	cfg := disk()
	cfg.Disconnect = true
	d := New(cfg, 0)
	msg := append([]byte{scsi.Identify(0, true)}, scsi.SDTR(25, 8)...)
	issue(t, d, read10(0, 1), msg...)
	d.SendMsg()
	d.SendMsg()
	d.Select()
	d.ReceiveMsg([]byte{scsi.MsgBusDeviceReset})
	if d.Outstanding() != 0 || d.Offset != 0 || d.Phase() != scsi.PhaseBusFree {
		t.Errorf("Device not reset, outstanding %d offset %d phase %s", d.Outstanding(), d.Offset, d.Phase())
	}
}

func TestBusReset(t *testing.T) {
	d := New(disk(), 0)
	issue(t, d, read10(0, 1), scsi.Identify(0, false))
	d.BusReset()
	if d.Phase() != scsi.PhaseBusFree {
		t.Errorf("Phase got: %s expected: %s", d.Phase(), scsi.PhaseBusFree)
	}
	if !d.Select() {
		t.Errorf("Device not selectable after reset")
	}
}
