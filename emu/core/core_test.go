/*
 * scsihba - Simulation core tests
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

package core

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rcornwell/scsihba/config/settings"
	"github.com/rcornwell/scsihba/emu/hba"
	"github.com/rcornwell/scsihba/emu/metrics"
)

func newCore(t *testing.T) *Core {
	t.Helper()
	cfg := settings.Default()
	cfg.Devices = []settings.Device{{ID: 0, Luns: 1, Blocks: 64, Period: 25, Offset: 8, Wide: true, Latency: 5}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	core, err := New(cfg, log, metrics.New("test"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return core
}

func inquiry(core *Core) hba.Request {
	return hba.Request{Target: 0, Dir: hba.DirIn, CDB: []byte{0x12, 0, 0, 0, 36, 0},
		Segs: []hba.Segment{{Addr: core.Buffer().Bus, Size: 36}}}
}

func TestRunIdle(t *testing.T) {
	core := newCore(t)
	h, err := core.Adapter().Submit(inquiry(core))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if n := core.RunIdle(10000); n == 10000 {
		t.Fatalf("Adapter still busy")
	}
	res := core.Results()
	if len(res) != 1 {
		t.Fatalf("Results got: %d expected: %d", len(res), 1)
	}
	if res[0].Handle != h || res[0].Status != hba.StatusOK {
		t.Errorf("Result got: %s %s expected: %s ok", res[0].Handle, res[0].Status, h)
	}
	if s := string(core.Buffer().Data[8:12]); s != "SIM " {
		t.Errorf("Inquiry data got: %q", s)
	}
	if len(core.Devices()) != 1 {
		t.Errorf("Devices got: %d expected: 1", len(core.Devices()))
	}
}

func TestHistory(t *testing.T) {
	core := newCore(t)
	for i := range history + 5 {
		core.Complete(hba.Handle(i), hba.Completion{})
	}
	res := core.Results()
	if len(res) != history {
		t.Fatalf("Results got: %d expected: %d", len(res), history)
	}
	if res[0].Handle != 5 {
		t.Errorf("Oldest result got: %d expected: %d", res[0].Handle, 5)
	}
}

func TestResets(t *testing.T) {
	core := newCore(t)
	core.Adapter().Reset()
	if core.BusResets() != 1 {
		t.Errorf("Bus resets got: %d expected: %d", core.BusResets(), 1)
	}
	if err := core.Adapter().ResetDevice(0); err != nil {
		t.Fatalf("ResetDevice failed: %v", err)
	}
	core.Run(200)
	if core.DeviceResets(0) != 1 {
		t.Errorf("Device resets got: %d expected: %d", core.DeviceResets(0), 1)
	}
}

// Drive the core through its packet channel.
func TestLoop(t *testing.T) {
	core := newCore(t)
	go core.Start()
	core.SendStart()
	h, err := core.SendSubmit(inquiry(core))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	var res []Result
	for len(res) == 0 && time.Now().Before(deadline) {
		core.Do(func(c *Core) { res = c.Results() })
	}
	if len(res) != 1 || res[0].Handle != h {
		t.Fatalf("Command did not complete, results %d", len(res))
	}
	if err := core.SendCancel(h); err == nil {
		t.Errorf("Cancel of finished command did not fail")
	}
	if err := core.SendResetDevice(7); err == nil {
		t.Errorf("Reset of adapter id did not fail")
	}
	core.SendStop()
	core.SendStep(10)
	core.SendResetBus()
	var resets int
	core.Do(func(c *Core) { resets = c.BusResets() })
	if resets != 1 {
		t.Errorf("Bus resets got: %d expected: %d", resets, 1)
	}
	core.Stop()
}
