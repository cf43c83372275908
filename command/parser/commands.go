/*
 * scsihba - Console commands
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
	"strconv"
	"strings"

	command "github.com/rcornwell/scsihba/command/command"
	core "github.com/rcornwell/scsihba/emu/core"
	"github.com/rcornwell/scsihba/emu/hba"
	"github.com/rcornwell/scsihba/emu/scsi"
	"github.com/rcornwell/scsihba/emu/target"
)

var cmdList = []cmd{
	{Name: "submit", Min: 2, Process: submit, Complete: submitComplete},
	{Name: "cancel", Min: 2, Process: cancel},
	{Name: "reset", Min: 3, Process: reset, Complete: resetComplete},
	{Name: "show", Min: 2, Process: show, Complete: showComplete},
	{Name: "examine", Min: 2, Process: examine},
	{Name: "deposit", Min: 2, Process: deposit},
	{Name: "step", Min: 3, Process: step},
	{Name: "start", Min: 3, Process: start},
	{Name: "continue", Min: 1, Process: start},
	{Name: "stop", Min: 3, Process: stop},
	{Name: "quit", Min: 4, Process: quit},
}

var opNames = []string{"tur", "inquiry", "sense", "capacity", "read", "write"}

var submitOptions = []command.Options{
	{Name: "op", OptionType: command.OptionList, OptionList: opNames},
	{Name: "lun", OptionType: command.OptionNumber},
	{Name: "lba", OptionType: command.OptionNumber},
	{Name: "blocks", OptionType: command.OptionNumber},
	{Name: "len", OptionType: command.OptionNumber},
	{Name: "offset", OptionType: command.OptionHex},
	{Name: "seg", OptionType: command.OptionNumber},
	{Name: "timeout", OptionType: command.OptionNumber},
	{Name: "tagged", OptionType: command.OptionSwitch},
}

// Build command bytes, direction and length for operation.
func buildCommand(op string, opts []*command.CmdOption) ([]byte, hba.Direction, int, error) {
	lun := command.Number(opts, "lun", 0)
	switch op {
	case "tur":
		return make([]byte, 6), hba.DirNone, 0, nil
	case "inquiry":
		n := command.Number(opts, "len", 36)
		if n > 255 {
			return nil, hba.DirNone, 0, errors.New("inquiry length too large")
		}
		return []byte{scsi.OpInquiry, 0, 0, 0, byte(n), 0}, hba.DirIn, int(n), nil
	case "sense":
		n := command.Number(opts, "len", 18)
		if n > 255 {
			return nil, hba.DirNone, 0, errors.New("sense length too large")
		}
		return scsi.RequestSense(int(lun), byte(n)), hba.DirIn, int(n), nil
	case "capacity":
		return []byte{scsi.OpReadCapacity, 0, 0, 0, 0, 0, 0, 0, 0, 0}, hba.DirIn, 8, nil
	case "read", "write":
		lba := command.Number(opts, "lba", 0)
		blocks := command.Number(opts, "blocks", 1)
		if blocks == 0 || blocks > 0xffff {
			return nil, hba.DirNone, 0, errors.New("block count out of range")
		}
		cdb := []byte{scsi.OpRead10, 0, byte(lba >> 24), byte(lba >> 16), byte(lba >> 8), byte(lba),
			0, byte(blocks >> 8), byte(blocks), 0}
		dir := hba.DirIn
		if op == "write" {
			cdb[0] = scsi.OpWrite10
			dir = hba.DirOut
		}
		n := int(blocks) * target.BlockSize
		if opt, ok := command.Find(opts, "len"); ok {
			n = int(opt.Value)
		}
		return cdb, dir, n, nil
	}
	return nil, hba.DirNone, 0, errors.New("operation required")
}

// Split length bytes of the console buffer at offset into segments of at
// most size bytes.
func segments(buf uint32, offset, length, size int) ([]hba.Segment, error) {
	if length == 0 {
		return nil, nil
	}
	if offset < 0 || offset+length > core.BufferSize {
		return nil, fmt.Errorf("transfer of %d bytes at %x outside buffer", length, offset)
	}
	if size <= 0 {
		size = length
	}
	var segs []hba.Segment
	for pos := 0; pos < length; pos += size {
		n := min(size, length-pos)
		segs = append(segs, hba.Segment{Addr: buf + uint32(offset+pos), Size: uint32(n)})
	}
	return segs, nil
}

// submit <target> op=<name> [lun=n] [lba=n] [blocks=n] [len=n] [offset=hex] [seg=n] [timeout=n] [tagged]
func submit(line *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Submit")
	id, err := line.getNumber()
	if err != nil {
		return false, errors.New("submit requires target number")
	}
	opts, err := line.getOptions(submitOptions)
	if err != nil {
		return false, err
	}
	op, ok := command.Find(opts, "op")
	if !ok {
		return false, errors.New("submit requires op=")
	}
	cdb, dir, length, err := buildCommand(op.EqualOpt, opts)
	if err != nil {
		return false, err
	}
	segs, err := segments(sim.Buffer().Bus, int(command.Number(opts, "offset", 0)), length,
		int(command.Number(opts, "seg", 0)))
	if err != nil {
		return false, err
	}
	if len(segs) == 0 {
		dir = hba.DirNone
	}
	req := hba.Request{
		Target:  int(id),
		Lun:     int(command.Number(opts, "lun", 0)),
		CDB:     cdb,
		Dir:     dir,
		Segs:    segs,
		Tagged:  command.Switch(opts, "tagged"),
		Timeout: int(command.Number(opts, "timeout", 0)),
	}
	h, err := sim.SendSubmit(req)
	if err != nil {
		return false, err
	}
	fmt.Println("Submitted " + h.String())
	return false, nil
}

func submitComplete(line *cmdLine) []string {
	if _, err := line.getNumber(); err != nil {
		return nil
	}
	return line.scanOptions(submitOptions)
}

// Parse handle as printed, index.generation.
func parseHandle(text string) (hba.Handle, error) {
	idx, gen, ok := strings.Cut(text, ".")
	if !ok {
		return 0, errors.New("handle must be index.generation")
	}
	i, err := strconv.ParseUint(idx, 10, 16)
	if err != nil {
		return 0, errors.New("handle index not valid: " + idx)
	}
	g, err := strconv.ParseUint(gen, 10, 16)
	if err != nil {
		return 0, errors.New("handle generation not valid: " + gen)
	}
	return hba.Handle(g<<16 | i), nil
}

// cancel <handle>
func cancel(line *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Cancel")
	line.skipSpace()
	start := line.pos
	for !line.isEOL() && line.peek() != ' ' {
		line.pos++
	}
	h, err := parseHandle(line.line[start:line.pos])
	if err != nil {
		return false, err
	}
	return false, sim.SendCancel(h)
}

// reset bus | reset <target>
func reset(line *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Reset")
	id, err := line.getNumber()
	if err == nil {
		return false, sim.SendResetDevice(int(id))
	}
	if name := line.getWord(false); name != "bus" {
		return false, errors.New("reset must be given target number or bus")
	}
	sim.SendResetBus()
	return false, nil
}

func resetComplete(line *cmdLine) []string {
	return line.scanList([]string{"bus"})
}

// step [n]
func step(line *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Step")
	n := uint32(1)
	line.skipSpace()
	if !line.isEOL() {
		var err error
		if n, err = line.getNumber(); err != nil {
			return false, err
		}
	}
	sim.SendStep(int(n))
	return false, nil
}

// Let the simulation run.
func start(_ *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Start")
	sim.SendStart()
	return false, nil
}

// Stop the simulation, commands stay where they are.
func stop(_ *cmdLine, sim *core.Core) (bool, error) {
	slog.Debug("Command Stop")
	sim.SendStop()
	return false, nil
}

// Handle commands that quit simulation.
func quit(_ *cmdLine, _ *core.Core) (bool, error) {
	slog.Debug("Command Quit")
	return true, nil
}
