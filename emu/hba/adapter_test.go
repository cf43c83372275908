/*
 * scsihba - Adapter tests
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
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/registry"
	"github.com/rcornwell/scsihba/emu/script"
	"github.com/rcornwell/scsihba/emu/scsi"
)

func TestInquiry(t *testing.T) {
	b := newBench(t, testConfig(disk(0)))
	c := b.wait(b.submit(inquiry(0, b.seg(0, 36))), 2000)
	if c.Status != StatusOK {
		t.Fatalf("Inquiry status got: %s expected: ok", c.Status)
	}
	if c.Residual != 0 {
		t.Errorf("Inquiry residual got: %d expected: %d", c.Residual, 0)
	}
	if string(b.buf.Data[8:11]) != "SIM" {
		t.Errorf("Inquiry data got: %q expected: %q", b.buf.Data[8:11], "SIM")
	}
	ti := b.a.Targets()[0]
	if len(ti.Luns) != 1 || ti.Luns[0].Lun != 0 {
		t.Errorf("Lun 0 not discovered: %+v", ti.Luns)
	}
	want := registry.Trans{Period: 25, Offset: 8, Width: 1}
	if diff := cmp.Diff(want, ti.Cur); diff != "" {
		t.Errorf("Agreement mismatch (-want +got):\n%s", diff)
	}
	dev := b.devs[0]
	if dev.Width != 1 || dev.Offset != 8 || dev.Period != 25 {
		t.Errorf("Device agreement got: %d/%d/%d expected: 25/8/1", dev.Period, dev.Offset, dev.Width)
	}
	q := b.a.Queues()
	if q.Busy != 0 || q.Free != 16 {
		t.Errorf("Records not returned busy: %d free: %d", q.Busy, q.Free)
	}
	if q.Barriers == 0 || q.Barriers != b.mem.Barriers() {
		t.Errorf("Barriers got: %d expected: %d", q.Barriers, b.mem.Barriers())
	}
}

// Device sends less than asked, the rest of the second segment is left
// in a patch context.
func TestShortTransfer(t *testing.T) {
	b := newBench(t, testConfig(disk(0)))
	c := b.wait(b.submit(inquiry(0, b.seg(0, 32), b.seg(1024, 32))), 2000)
	if c.Status != StatusOK {
		t.Fatalf("Inquiry status got: %s expected: ok", c.Status)
	}
	if c.Residual != 28 {
		t.Errorf("Residual got: %d expected: %d", c.Residual, 28)
	}
	if string(b.buf.Data[1024:1028]) != "0001" {
		t.Errorf("Second segment got: %q expected: %q", b.buf.Data[1024:1028], "0001")
	}
}

// Device disconnects in the middle of a segment and comes back later.
func TestWriteReadDisconnect(t *testing.T) {
	dev := disk(0)
	dev.Disconnect = true
	b := newBench(t, testConfig(dev))
	b.discover(0)

	const out = 4096
	const in = 16384
	pattern := make([]byte, 2048)
	for i := range pattern {
		pattern[i] = byte(i * 7)
	}
	copy(b.buf.Data[out:], pattern)

	c := b.wait(b.submit(write10(0, 2, 4, b.seg(out, 700), b.seg(out+700, 700), b.seg(out+1400, 648))), 5000)
	if c.Status != StatusOK || c.Residual != 0 {
		t.Fatalf("Write got: %s residual %d expected: ok residual 0", c.Status, c.Residual)
	}
	if !bytes.Equal(b.devs[0].Unit(0)[2*512:2*512+2048], pattern) {
		t.Errorf("Device data does not match written data")
	}

	c = b.wait(b.submit(read10(0, 2, 4, b.seg(in, 1000), b.seg(in+1000, 1048))), 5000)
	if c.Status != StatusOK || c.Residual != 0 {
		t.Fatalf("Read got: %s residual %d expected: ok residual 0", c.Status, c.Residual)
	}
	if !bytes.Equal(b.buf.Data[in:in+2048], pattern) {
		t.Errorf("Read data does not match written data")
	}
}

// A fifth tagged command on a depth of four is refused until one of the
// four completes.
func TestTagDepth(t *testing.T) {
	cfg := testConfig(disk(2))
	cfg.Targets[2].Tags = 4
	b := newBench(t, cfg)
	b.discover(2)

	var hs []Handle
	for range 4 {
		hs = append(hs, b.submit(testUnitReady(2)))
	}
	if _, err := b.a.Submit(testUnitReady(2)); !errors.Is(err, ErrResourceUnavailable) {
		t.Errorf("Fifth command got: %v expected: %v", err, ErrResourceUnavailable)
	}
	if c := b.wait(hs[0], 5000); c.Status != StatusOK {
		t.Errorf("Tagged command %s got: %s expected: ok", hs[0], c.Status)
	}
	hs = append(hs, b.submit(testUnitReady(2)))
	for _, h := range hs[1:] {
		if c := b.wait(h, 5000); c.Status != StatusOK {
			t.Errorf("Tagged command %s got: %s expected: ok", h, c.Status)
		}
	}
	q := b.a.Queues()
	if q.Busy != 0 || q.Free != 16 {
		t.Errorf("Records not returned busy: %d free: %d", q.Busy, q.Free)
	}
	if n := b.a.Targets()[2].Luns[0].FreeTags; n != script.MaxTags {
		t.Errorf("Tags not returned got: %d expected: %d", n, script.MaxTags)
	}
}

func TestCheckCondition(t *testing.T) {
	dev := disk(0)
	dev.Check = 2
	b := newBench(t, testConfig(dev))
	b.discover(0)
	c := b.wait(b.submit(testUnitReady(0)), 5000)
	if c.Status != StatusDeviceError {
		t.Fatalf("Status got: %s expected: device_error", c.Status)
	}
	if c.SCSIStatus != scsi.StatusCheckCondition {
		t.Errorf("SCSI status got: %02x expected: %02x", c.SCSIStatus, scsi.StatusCheckCondition)
	}
	if k := scsi.SenseKey(c.Sense); k != scsi.SenseUnitAttention {
		t.Errorf("Sense key got: %d expected: %d", k, scsi.SenseUnitAttention)
	}
}

func TestSelectionTimeout(t *testing.T) {
	b := newBench(t, testConfig())
	c := b.wait(b.submit(testUnitReady(3)), 2000)
	if c.Status != StatusSelTimeout {
		t.Errorf("Status got: %s expected: sel_timeout", c.Status)
	}
	if q := b.a.Queues(); q.Free != 16 {
		t.Errorf("Records not returned free: %d", q.Free)
	}
}

func TestQueueFull(t *testing.T) {
	dev := disk(0)
	dev.Disconnect = true
	dev.QueueFull = 1
	dev.Latency = 200
	b := newBench(t, testConfig(dev))
	b.discover(0)

	h1 := b.submit(testUnitReady(0))
	h2 := b.submit(testUnitReady(0))
	h3 := b.submit(testUnitReady(0))
	if c := b.wait(h2, 5000); c.Status != StatusRequeue {
		t.Errorf("Second command got: %s expected: requeue", c.Status)
	}
	if c := b.wait(h3, 5000); c.Status != StatusRequeue {
		t.Errorf("Third command got: %s expected: requeue", c.Status)
	}
	if c := b.wait(h1, 5000); c.Status != StatusOK {
		t.Errorf("First command got: %s expected: ok", c.Status)
	}
}

// Target answers our SDTR request with one of its own values changed.
func TestDeviceInitiatedSync(t *testing.T) {
	dev := disk(0)
	dev.Initiate = true
	cfg := testConfig(dev)
	cfg.Targets[0] = settings.Target{}
	b := newBench(t, cfg)
	b.discover(0)
	if cur := b.a.Targets()[0].Cur; cur != (registry.Trans{}) {
		t.Errorf("Agreement got: %s expected asynchronous", cur)
	}
	if b.devs[0].Offset != 0 {
		t.Errorf("Device offset got: %d expected: %d", b.devs[0].Offset, 0)
	}
}

func TestRejectWide(t *testing.T) {
	dev := disk(0)
	dev.RejectWide = true
	b := newBench(t, testConfig(dev))
	b.discover(0)
	if c := b.wait(b.submit(testUnitReady(0)), 3000); c.Status != StatusOK {
		t.Fatalf("Status got: %s expected: ok", c.Status)
	}
	want := registry.Trans{Period: 25, Offset: 8}
	if diff := cmp.Diff(want, b.a.Targets()[0].Cur); diff != "" {
		t.Errorf("Agreement mismatch (-want +got):\n%s", diff)
	}
}

func TestParityRetry(t *testing.T) {
	dev := disk(0)
	dev.Parity = 2
	b := newBench(t, testConfig(dev))
	b.discover(0)
	c := b.wait(b.submit(inquiry(0, b.seg(0, 36))), 3000)
	if c.Status != StatusOK {
		t.Errorf("Retried command got: %s expected: ok", c.Status)
	}
}

func TestParityFail(t *testing.T) {
	dev := disk(0)
	dev.Parity = 1
	b := newBench(t, testConfig(dev))
	c := b.wait(b.submit(inquiry(0, b.seg(0, 36))), 3000)
	if c.Status != StatusParity {
		t.Errorf("Status got: %s expected: parity", c.Status)
	}
}

// A command that never comes back is aborted with ABORT TAG.
func TestTimeoutAbort(t *testing.T) {
	dev := disk(0)
	dev.Hang = true
	b := newBench(t, testConfig(dev))
	b.discover(0)
	req := testUnitReady(0)
	req.Timeout = 500
	c := b.wait(b.submit(req), 5000)
	if c.Status != StatusTimeout {
		t.Errorf("Status got: %s expected: timeout", c.Status)
	}
	if n := b.devs[0].Outstanding(); n != 0 {
		t.Errorf("Device still holds %d commands", n)
	}
	if b.host.busResets != 0 {
		t.Errorf("Bus reset during abort")
	}
}

// Device never lets go of the command and the abort never finishes, the
// second expiry resets the bus.
func TestTimeoutAbortHung(t *testing.T) {
	dev := disk(0)
	dev.Hang = true
	b := newBench(t, testConfig(dev))
	b.discover(0)
	req := testUnitReady(0)
	req.Timeout = 200
	h := b.submit(req)
	for range 100 {
		if b.devs[0].Outstanding() != 0 {
			break
		}
		b.run(1)
	}
	if b.devs[0].Outstanding() != 1 {
		t.Fatalf("Device did not take command")
	}
	b.a.Tick(200)
	if _, ok := b.host.done[h]; ok {
		t.Fatalf("Command completed on first expiry")
	}
	b.a.Tick(200)
	c, ok := b.host.done[h]
	if !ok || c.Status != StatusTimeout {
		t.Errorf("Status got: %v %s expected: timeout", ok, c.Status)
	}
	if b.host.busResets != 1 {
		t.Errorf("Bus resets got: %d expected: %d", b.host.busResets, 1)
	}
	if b.devs[0].Outstanding() != 0 {
		t.Errorf("Device kept command over reset")
	}
}

// Timer runs out before the sequencer fetched the task, it is taken off
// the start queue without reaching the device.
func TestTimeoutQueued(t *testing.T) {
	b := newBench(t, testConfig(disk(0)))
	req := testUnitReady(0)
	req.Timeout = 200
	h := b.submit(req)
	b.a.Tick(200)
	if c := b.wait(h, 500); c.Status != StatusTimeout {
		t.Errorf("Status got: %s expected: timeout", c.Status)
	}
	if n := b.devs[0].Commands(); n != 0 {
		t.Errorf("Device commands got: %d expected: %d", n, 0)
	}
	if b.host.busResets != 0 {
		t.Errorf("Bus resets got: %d expected: %d", b.host.busResets, 0)
	}
	if q := b.a.Queues(); len(q.Waiting) != 0 || q.Busy != 0 {
		t.Errorf("Start queue not empty waiting %d busy %d", len(q.Waiting), q.Busy)
	}
}

func TestCancelDisconnected(t *testing.T) {
	dev := disk(0)
	dev.Hang = true
	b := newBench(t, testConfig(dev))
	b.discover(0)
	h := b.submit(testUnitReady(0))
	b.run(200)
	if err := b.a.Cancel(h); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if c := b.wait(h, 2000); c.Status != StatusAborted {
		t.Errorf("Status got: %s expected: aborted", c.Status)
	}
	if err := b.a.Cancel(h); !errors.Is(err, ErrBadHandle) && !errors.Is(err, ErrNotActive) {
		t.Errorf("Second cancel got: %v", err)
	}
}

// Cancel before the sequencer fetched the task, it is taken off the
// start queue.
func TestCancelQueued(t *testing.T) {
	b := newBench(t, testConfig(disk(0)))
	h := b.submit(testUnitReady(0))
	if err := b.a.Cancel(h); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if c := b.wait(h, 500); c.Status != StatusAborted {
		t.Errorf("Status got: %s expected: aborted", c.Status)
	}
	// Sequencer must run again.
	if c := b.wait(b.submit(testUnitReady(0)), 2000); c.Status != StatusOK {
		t.Errorf("Next command got: %s expected: ok", c.Status)
	}
}

func TestDeviceReset(t *testing.T) {
	b := newBench(t, testConfig(disk(0)))
	b.discover(0)
	if err := b.a.ResetDevice(0); err != nil {
		t.Fatalf("ResetDevice failed: %v", err)
	}
	b.run(200)
	if diff := cmp.Diff([]int{0}, b.host.devResets); diff != "" {
		t.Errorf("Device resets mismatch (-want +got):\n%s", diff)
	}
	if cur := b.a.Targets()[0].Cur; cur != (registry.Trans{}) {
		t.Errorf("Agreement not reset got: %s", cur)
	}
	if b.devs[0].Offset != 0 {
		t.Errorf("Device kept agreement")
	}
	// Negotiates again on next command.
	if c := b.wait(b.submit(testUnitReady(0)), 3000); c.Status != StatusOK {
		t.Errorf("Command after reset got: %s expected: ok", c.Status)
	}
	if cur := b.a.Targets()[0].Cur; cur.Offset != 8 {
		t.Errorf("Offset after renegotiation got: %d expected: %d", cur.Offset, 8)
	}
}

func TestBusReset(t *testing.T) {
	dev := disk(0)
	dev.Hang = true
	b := newBench(t, testConfig(dev))
	b.discover(0)
	h := b.submit(testUnitReady(0))
	b.run(100)
	b.a.Reset()
	c, ok := b.host.done[h]
	if !ok || c.Status != StatusReset {
		t.Errorf("Busy command got: %v %s expected: reset", ok, c.Status)
	}
	if b.host.busResets != 1 {
		t.Errorf("Bus resets got: %d expected: %d", b.host.busResets, 1)
	}
	if b.devs[0].Outstanding() != 0 {
		t.Errorf("Device kept commands over reset")
	}
}

func TestSubmitChecks(t *testing.T) {
	b := newBench(t, testConfig(disk(0)))
	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"no command", Request{}, ErrBadRequest},
		{"long command", Request{CDB: make([]byte, 17)}, ErrBadRequest},
		{"bad lun", Request{CDB: make([]byte, 6), Lun: 8}, ErrBadRequest},
		{"no direction", Request{CDB: make([]byte, 6), Segs: []Segment{{Addr: b.buf.Bus, Size: 8}}}, ErrBadRequest},
		{"empty segment", Request{CDB: make([]byte, 6), Dir: DirIn, Segs: []Segment{{Addr: b.buf.Bus}}}, ErrRequestTooLarge},
		{"outside memory", Request{CDB: make([]byte, 6), Dir: DirIn,
			Segs: []Segment{{Addr: b.buf.Bus + uint32(b.mem.Size()), Size: 8}}}, ErrBadRequest},
		{"too many segments", Request{CDB: make([]byte, 6), Dir: DirIn, Segs: make([]Segment, script.MaxSG+1)}, ErrRequestTooLarge},
		{"bad target", Request{CDB: make([]byte, 6), Target: 16}, ErrBadRequest},
	}
	for _, test := range tests {
		if _, err := b.a.Submit(test.req); !errors.Is(err, test.err) {
			t.Errorf("%s got: %v expected: %v", test.name, err, test.err)
		}
	}
	if q := b.a.Queues(); q.Free != 16 {
		t.Errorf("Rejected requests leaked records free: %d", q.Free)
	}
}

func TestNotStarted(t *testing.T) {
	mem := memory.New(1<<20, 0)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(testConfig(), mem, &fakeSeq{}, &testHost{done: map[Handle]Completion{}}, WithLogger(log))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := a.Submit(testUnitReady(0)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Submit got: %v expected: %v", err, ErrNotStarted)
	}
}
