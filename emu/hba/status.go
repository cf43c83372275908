/*
 * scsihba - Requests and completions
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
	dp "github.com/rcornwell/scsihba/emu/datapointer"
	"github.com/rcornwell/scsihba/emu/task"
)

type (
	Handle    = task.Handle
	Direction = task.Direction
	Segment   = dp.Segment
)

const (
	DirNone = task.DirNone
	DirIn   = task.DirIn
	DirOut  = task.DirOut
)

// Command handed down by the upstream layer.
type Request struct {
	Target  int
	Lun     int
	CDB     []byte
	Dir     Direction
	Segs    []Segment
	Tagged  bool // Ask for a simple queue tag.
	Timeout int  // Ticks, 0 uses adapter default.
	Ref     any  // Returned untouched in the completion.
}

// Outcome of a command.
type Status int

const (
	StatusOK          Status = iota
	StatusDeviceError        // Device returned a status other than GOOD.
	StatusSelTimeout
	StatusDisconnect // Unexpected bus free.
	StatusParity
	StatusPhase   // Illegal phase or data over/under run.
	StatusTimeout // Aborted after the command timer ran out.
	StatusAborted
	StatusRequeue // Not run, upstream should resubmit.
	StatusReset
)

var statusNames = [...]string{"ok", "device_error", "sel_timeout", "disconnect", "parity",
	"phase", "timeout", "aborted", "requeue", "reset"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Result returned once for every handle Submit hands out.
type Completion struct {
	Status     Status
	SCSIStatus uint8
	Residual   int    // Bytes not moved, negative on overrun.
	Sense      []byte // Auto sense data with CHECK CONDITION.
	Ref        any
}
