/*
 * scsihba - Show, examine and deposit commands
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

package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	core "github.com/rcornwell/scsihba/emu/core"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/util/hex"
)

var showList = []struct {
	name string
	show func(*strings.Builder, *core.Core)
}{
	{"targets", showTargets},
	{"tasks", showTasks},
	{"queues", showQueues},
	{"devices", showDevices},
	{"results", showResults},
	{"chip", showChip},
}

// show <what>
func show(line *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Show")
	name := line.getWord(false)
	if name == "" {
		return false, errors.New("show requires what to show")
	}
	for _, s := range showList {
		if strings.HasPrefix(s.name, name) {
			var str strings.Builder
			sim.Do(func(c *core.Core) { s.show(&str, c) })
			fmt.Print(str.String())
			return false, nil
		}
	}
	return false, errors.New("nothing to show for: " + name)
}

func showComplete(line *cmdLine) []string {
	names := make([]string, len(showList))
	for i, s := range showList {
		names[i] = s.name
	}
	return line.scanList(names)
}

func showTargets(str *strings.Builder, sim *core.Core) {
	for _, t := range sim.Adapter().Targets() {
		fmt.Fprintf(str, "Target %d: %s goal %s user %s", t.ID, t.Cur, t.Goal, t.User)
		if t.CheckNego {
			str.WriteString(" negotiate")
		}
		str.WriteByte('\n')
		for _, l := range t.Luns {
			fmt.Fprintf(str, "  Lun %d: busy %d tagged %d depth %d free tags %d\n",
				l.Lun, l.Busy, l.BusyTagged, l.Depth, l.FreeTags)
		}
	}
}

func showTasks(str *strings.Builder, sim *core.Core) {
	tasks := sim.Adapter().Tasks()
	if len(tasks) == 0 {
		str.WriteString("No active tasks\n")
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(str, "%s %d:%d tag %d status %02x nego %s retries %d timeout %d",
			t.Handle, t.Target, t.Lun, t.Tag, t.HostStatus, t.Nego, t.Retries, t.Remaining)
		if t.Aborting {
			str.WriteString(" aborting")
		}
		str.WriteByte('\n')
	}
}

func showQueues(str *strings.Builder, sim *core.Core) {
	q := sim.Adapter().Queues()
	fmt.Fprintf(str, "Start queue put %d get %d busy %d free %d barriers %d\n", q.Put, q.Get, q.Busy, q.Free, q.Barriers)
	if len(q.Waiting) != 0 {
		str.WriteString("Waiting: ")
		hex.FormatWord(str, q.Waiting)
		str.WriteByte('\n')
	}
}

func showDevices(str *strings.Builder, sim *core.Core) {
	for _, d := range sim.Devices() {
		fmt.Fprintf(str, "Device %d: commands %d outstanding %d period %d offset %d width %d",
			d.ID(), d.Commands(), d.Outstanding(), d.Period, d.Offset, 8<<d.Width)
		if d.DT {
			str.WriteString(" dt")
		}
		fmt.Fprintf(str, " resets %d\n", sim.DeviceResets(d.ID()))
	}
	fmt.Fprintf(str, "Bus resets %d\n", sim.BusResets())
}

func showResults(str *strings.Builder, sim *core.Core) {
	for _, r := range sim.Results() {
		fmt.Fprintf(str, "%d %s %s scsi %02x residual %d", r.At, r.Handle, r.Status, r.SCSIStatus, r.Residual)
		if len(r.Sense) != 0 {
			fmt.Fprintf(str, " sense key %x", scsi.SenseKey(r.Sense))
		}
		str.WriteByte('\n')
	}
}

func showChip(str *strings.Builder, sim *core.Core) {
	c := sim.Adapter().Chip()
	fmt.Fprintf(str, "Adapter %s chip %s clock %dkHz sync %d-%d offset %d",
		sim.Adapter().ID(), c.Name, c.ClockKHz, c.MinSync, c.MaxSync, c.MaxOffset)
	if c.Wide {
		str.WriteString(" wide")
	}
	if c.DT {
		fmt.Fprintf(str, " dt sync %d offset %d", c.MinSyncDT, c.MaxOffsetDT)
	}
	fmt.Fprintf(str, "\nBuffer at %08x size %d\n", sim.Buffer().Bus, core.BufferSize)
}

// examine <offset> [count]
func examine(line *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Examine")
	offset, err := line.getHex()
	if err != nil {
		return false, errors.New("examine requires buffer offset")
	}
	count := uint32(64)
	line.skipSpace()
	if !line.isEOL() {
		if count, err = line.getNumber(); err != nil {
			return false, err
		}
	}
	if int(offset)+int(count) > core.BufferSize {
		return false, fmt.Errorf("examine past end of buffer: %x", offset)
	}
	var str strings.Builder
	sim.Do(func(c *core.Core) {
		hex.FormatDump(&str, offset, c.Buffer().Data[offset:offset+count])
	})
	fmt.Print(str.String())
	return false, nil
}

// deposit <offset> <byte>...
func deposit(line *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Deposit")
	offset, err := line.getHex()
	if err != nil {
		return false, errors.New("deposit requires buffer offset")
	}
	var data []byte
	for !line.isEOL() {
		by, err := line.getHex()
		if err != nil {
			return false, err
		}
		if by > 0xff {
			return false, fmt.Errorf("deposit value not a byte: %x", by)
		}
		data = append(data, byte(by))
		line.skipSpace()
	}
	if len(data) == 0 {
		return false, errors.New("deposit requires data")
	}
	if int(offset)+len(data) > core.BufferSize {
		return false, fmt.Errorf("deposit past end of buffer: %x", offset)
	}
	sim.Do(func(c *core.Core) {
		copy(c.Buffer().Data[offset:], data)
	})
	return false, nil
}
