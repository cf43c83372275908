/*
 * scsihba - Adapter, target and device configuration
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

package adapterconfig

import (
	"errors"
	"fmt"
	"strings"

	config "github.com/rcornwell/scsihba/config/configparser"
	"github.com/rcornwell/scsihba/config/settings"
)

// register configuration lines on initialize.
func init() {
	config.RegisterModel("ADAPTER", config.TypeModel, setAdapter)
	config.RegisterModel("TARGET", config.TypeModel, setTarget)
	config.RegisterModel("DEVICE", config.TypeModel, setDevice)
	config.RegisterFile("QUIRKS", setQuirks)
}

// adapter <hostid> chip=<name> revision=<n> clock=<n> timeout=<n> tasks=<n> [no]parity [no]led
func setAdapter(cfg *settings.Settings, id int, _ string, options []config.Option) error {
	cfg.HostID = id
	for _, opt := range options {
		var err error
		switch strings.ToUpper(opt.Name) {
		case "CHIP":
			if opt.EqualOpt == "" {
				return errors.New("adapter chip requires a name")
			}
			cfg.Chip = opt.EqualOpt
		case "REVISION":
			cfg.Revision, err = opt.Int()
		case "CLOCK":
			cfg.Clock, err = opt.Int()
		case "TIMEOUT":
			cfg.Timeout, err = opt.Int()
		case "TASKS":
			cfg.Tasks, err = opt.Int()
		case "PARITY":
			cfg.Parity = true
		case "NOPARITY":
			cfg.Parity = false
		case "LED":
			cfg.LED = true
		case "NOLED":
			cfg.LED = false
		default:
			return errors.New("adapter option invalid: " + opt.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// target <id> period=<n> offset=<n> tags=<n> [no]wide [no]dt [no]disconnect notags async
func setTarget(cfg *settings.Settings, id int, _ string, options []config.Option) error {
	if id >= settings.MaxTarget {
		return fmt.Errorf("target %d out of range", id)
	}
	tgt := &cfg.Targets[id]
	for _, opt := range options {
		for _, name := range opt.Names() {
			var err error
			switch strings.ToUpper(name) {
			case "PERIOD":
				tgt.Period, err = opt.Int()
			case "OFFSET":
				tgt.Offset, err = opt.Int()
			case "TAGS":
				tgt.Tags, err = opt.Int()
			case "NOTAGS":
				tgt.Tags = 0
			case "ASYNC":
				tgt.Offset = 0
			case "WIDE":
				tgt.Wide = true
			case "NARROW", "NOWIDE":
				tgt.Wide = false
				tgt.DT = false
			case "DT":
				tgt.DT = true
				tgt.Wide = true
			case "NODT":
				tgt.DT = false
			case "DISCONNECT":
				tgt.Disconnect = true
			case "NODISCONNECT":
				tgt.Disconnect = false
			default:
				return errors.New("target option invalid: " + name)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// device <id> luns=<n> blocks=<n> period=<n> offset=<n> qfull=<n> check=<n>
// parity=<n> latency=<n> wide dt initiate rejectwide disconnect hang
func setDevice(cfg *settings.Settings, id int, _ string, options []config.Option) error {
	dev := settings.Device{ID: id, Luns: 1, Blocks: 1024, Latency: 1}
	if old, ok := cfg.Device(id); ok {
		dev = *old
	}
	for _, opt := range options {
		for _, name := range opt.Names() {
			var err error
			switch strings.ToUpper(name) {
			case "LUNS":
				dev.Luns, err = opt.Int()
			case "BLOCKS":
				dev.Blocks, err = opt.Int()
			case "PERIOD":
				dev.Period, err = opt.Int()
			case "OFFSET":
				dev.Offset, err = opt.Int()
			case "QFULL":
				dev.QueueFull, err = opt.Int()
			case "CHECK":
				dev.Check, err = opt.Int()
			case "PARITY":
				dev.Parity, err = opt.Int()
			case "LATENCY":
				dev.Latency, err = opt.Int()
			case "WIDE":
				dev.Wide = true
			case "DT":
				dev.DT = true
				dev.Wide = true
			case "INITIATE":
				dev.Initiate = true
			case "REJECTWIDE":
				dev.RejectWide = true
			case "DISCONNECT":
				dev.Disconnect = true
			case "HANG":
				dev.Hang = true
			default:
				return errors.New("device option invalid: " + name)
			}
			if err != nil {
				return err
			}
		}
	}
	cfg.SetDevice(dev)
	return nil
}

// quirks <file>
func setQuirks(cfg *settings.Settings, _ int, fileName string, _ []config.Option) error {
	if cfg.QuirkFile != "" {
		return fmt.Errorf("can't have more then one quirk file, previous: %s", cfg.QuirkFile)
	}
	cfg.QuirkFile = fileName
	return nil
}
