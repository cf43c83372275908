/*
 * scsihba - Messages to the simulation core
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

package master

import (
	"github.com/rcornwell/scsihba/emu/hba"
)

type Msg int

const (
	Submit      Msg = iota // Queue a command.
	Cancel                 // Abort a command.
	ResetDevice            // Bus device reset of one target.
	ResetBus               // Reset bus and adapter.
	Step                   // Run Count steps.
	Start                  // Run free.
	Stop                   // Stop running.
	Query                  // Run Fn on the core goroutine.
)

// Packet sent to core. Reply, when set, receives exactly one answer.
type Packet struct {
	Msg     Msg
	Target  int
	Handle  hba.Handle
	Request hba.Request
	Count   int
	Fn      func()
	Reply   chan Reply
}

type Reply struct {
	Handle hba.Handle
	Err    error
}
