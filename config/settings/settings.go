/*
 * scsihba - Adapter settings snapshot
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

package settings

import (
	"fmt"

	"go.uber.org/multierr"
)

const (
	MaxTarget = 16 // Targets on a wide bus.
	MaxLun    = 8  // Logical units per target.
	MaxTags   = 64 // Largest tag depth per logical unit.
)

// User limits for one target.
type Target struct {
	Period     int  // Smallest period factor allowed, 0 means asynchronous.
	Offset     int  // Largest REQ/ACK offset allowed.
	Wide       bool // Allow 16 bit transfers.
	DT         bool // Allow double transition clocking.
	Tags       int  // Tag depth, 0 disables tagged queueing.
	Disconnect bool // Grant disconnect privilege.
}

// Behavior of a simulated device on the bus.
type Device struct {
	ID         int
	Luns       int  // Number of logical units present.
	Blocks     int  // Blocks per logical unit.
	Period     int  // Fastest period the device runs, 0 async only.
	Offset     int  // Largest offset device accepts.
	Wide       bool // Device supports wide transfers.
	DT         bool // Device supports DT clocking.
	Initiate   bool // Device sends its own SDTR after selection.
	RejectWide bool // Device rejects WDTR.
	Disconnect bool // Disconnect in the middle of data transfers.
	Hang       bool // Never finish a command.
	QueueFull  int  // Return QUEUE FULL above this many commands, 0 never.
	Check      int  // Every Check'th command returns CHECK CONDITION.
	Parity     int  // Every Parity'th data phase has a parity error.
	Latency    int  // Ticks spent per bus phase.
}

// Snapshot of adapter configuration. Read once when adapter is created.
type Settings struct {
	Chip      string // Chip model name used to look up quirks.
	Revision  int    // Chip revision.
	HostID    int    // Initiator id on bus.
	Clock     int    // Clock multiplier, 1, 2 or 4.
	Parity    bool   // Check bus parity.
	LED       bool   // Drive activity LED.
	Timeout   int    // Default command timeout in ticks.
	Tasks     int    // Number of task records.
	QuirkFile string // Optional override of built in quirk table.
	Debug     int    // Trace mask.
	Targets   [MaxTarget]Target
	Devices   []Device
}

// Return default settings.
func Default() *Settings {
	s := &Settings{
		Chip:     "53C895",
		Revision: 0,
		HostID:   7,
		Clock:    4,
		Parity:   true,
		Timeout:  5000,
		Tasks:    64,
	}
	for i := range s.Targets {
		s.Targets[i] = Target{Period: 10, Offset: 31, Wide: true, DT: false, Tags: 16, Disconnect: true}
	}
	return s
}

// Find simulated device by id.
func (s *Settings) Device(id int) (*Device, bool) {
	for i := range s.Devices {
		if s.Devices[i].ID == id {
			return &s.Devices[i], true
		}
	}
	return nil, false
}

// Add or replace a simulated device.
func (s *Settings) SetDevice(dev Device) {
	if d, ok := s.Device(dev.ID); ok {
		*d = dev
		return
	}
	s.Devices = append(s.Devices, dev)
}

// Check settings, every problem found is returned.
func (s *Settings) Validate() error {
	var err error
	if s.HostID < 0 || s.HostID >= MaxTarget {
		err = multierr.Append(err, fmt.Errorf("host id %d out of range", s.HostID))
	}
	switch s.Clock {
	case 1, 2, 4:
	default:
		err = multierr.Append(err, fmt.Errorf("clock multiplier %d must be 1, 2 or 4", s.Clock))
	}
	if s.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("timeout %d must be positive", s.Timeout))
	}
	if s.Tasks < 2 || s.Tasks > 1024 {
		err = multierr.Append(err, fmt.Errorf("task count %d out of range", s.Tasks))
	}
	for i, t := range s.Targets {
		if t.Period < 0 || t.Period > 255 {
			err = multierr.Append(err, fmt.Errorf("target %d period %d out of range", i, t.Period))
		}
		if t.Offset < 0 || t.Offset > 62 {
			err = multierr.Append(err, fmt.Errorf("target %d offset %d out of range", i, t.Offset))
		}
		if t.Tags < 0 || t.Tags > MaxTags {
			err = multierr.Append(err, fmt.Errorf("target %d tag depth %d out of range", i, t.Tags))
		}
	}
	seen := map[int]bool{}
	for _, d := range s.Devices {
		if d.ID < 0 || d.ID >= MaxTarget || d.ID == s.HostID {
			err = multierr.Append(err, fmt.Errorf("device id %d not valid", d.ID))
		}
		if seen[d.ID] {
			err = multierr.Append(err, fmt.Errorf("device id %d defined twice", d.ID))
		}
		seen[d.ID] = true
		if d.Luns < 1 || d.Luns > MaxLun {
			err = multierr.Append(err, fmt.Errorf("device %d lun count %d out of range", d.ID, d.Luns))
		}
	}
	return err
}
