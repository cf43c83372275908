/*
 * scsihba - SCSI bus messages, status and phases
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

package scsi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Bus phases, as encoded by MSG, C/D and I/O.
type Phase uint8

const (
	PhaseDataOut Phase = 0
	PhaseDataIn  Phase = 1
	PhaseCommand Phase = 2
	PhaseStatus  Phase = 3
	PhaseMsgOut  Phase = 6
	PhaseMsgIn   Phase = 7
	PhaseBusFree Phase = 0xff
)

func (p Phase) String() string {
	switch p {
	case PhaseDataOut:
		return "DATA OUT"
	case PhaseDataIn:
		return "DATA IN"
	case PhaseCommand:
		return "COMMAND"
	case PhaseStatus:
		return "STATUS"
	case PhaseMsgOut:
		return "MSG OUT"
	case PhaseMsgIn:
		return "MSG IN"
	case PhaseBusFree:
		return "BUS FREE"
	}
	return fmt.Sprintf("PHASE %d", uint8(p))
}

// Input phases have I/O set.
func (p Phase) Input() bool {
	return p != PhaseBusFree && (p&1) != 0
}

// Messages.
const (
	MsgCommandComplete   uint8 = 0x00
	MsgExtended          uint8 = 0x01
	MsgSaveDataPointer   uint8 = 0x02
	MsgRestorePointers   uint8 = 0x03
	MsgDisconnect        uint8 = 0x04
	MsgInitiatorError    uint8 = 0x05
	MsgAbort             uint8 = 0x06
	MsgReject            uint8 = 0x07
	MsgNoop              uint8 = 0x08
	MsgParityError       uint8 = 0x09
	MsgBusDeviceReset    uint8 = 0x0c
	MsgAbortTag          uint8 = 0x0d
	MsgClearQueue        uint8 = 0x0e
	MsgSimpleTag         uint8 = 0x20
	MsgHeadTag           uint8 = 0x21
	MsgOrderedTag        uint8 = 0x22
	MsgIgnoreWideResidue uint8 = 0x23
	MsgIdentify          uint8 = 0x80
	MsgIdentifyDisc      uint8 = 0x40
)

// Extended message codes.
const (
	ExtModifyDP uint8 = 0x00
	ExtSDTR     uint8 = 0x01
	ExtWDTR     uint8 = 0x03
	ExtPPR      uint8 = 0x04
)

// PPR protocol options.
const (
	PPROptIU  uint8 = 0x01
	PPROptDT  uint8 = 0x02
	PPROptQAS uint8 = 0x04
	PPROptMsk uint8 = 0x07
)

// Transfer width exponents.
const (
	Width8  uint8 = 0
	Width16 uint8 = 1
)

// Status bytes.
const (
	StatusGood                uint8 = 0x00
	StatusCheckCondition      uint8 = 0x02
	StatusConditionMet        uint8 = 0x04
	StatusBusy                uint8 = 0x08
	StatusIntermediate        uint8 = 0x10
	StatusReservationConflict uint8 = 0x18
	StatusCommandTerminated   uint8 = 0x22
	StatusQueueFull           uint8 = 0x28
	StatusTaskAborted         uint8 = 0x40
	StatusIllegal             uint8 = 0xff
)

// Command opcodes the simulated devices understand.
const (
	OpTestUnitReady uint8 = 0x00
	OpRequestSense  uint8 = 0x03
	OpRead6         uint8 = 0x08
	OpWrite6        uint8 = 0x0a
	OpInquiry       uint8 = 0x12
	OpReadCapacity  uint8 = 0x25
	OpRead10        uint8 = 0x28
	OpWrite10       uint8 = 0x2a
)

// Sense keys.
const (
	SenseNoSense        uint8 = 0x0
	SenseNotReady       uint8 = 0x2
	SenseMediumError    uint8 = 0x3
	SenseIllegalRequest uint8 = 0x5
	SenseUnitAttention  uint8 = 0x6
	SenseAbortedCommand uint8 = 0xb
)

const SenseLen = 32 // Size of auto sense buffer.

var ErrBadMessage = errors.New("malformed message")

// Build IDENTIFY message.
func Identify(lun int, disconnect bool) uint8 {
	id := MsgIdentify | uint8(lun&0x3f)
	if disconnect {
		id |= MsgIdentifyDisc
	}
	return id
}

// Return true if byte is an IDENTIFY message.
func IsIdentify(msg uint8) bool {
	return (msg & MsgIdentify) != 0
}

// Return LUN from IDENTIFY message.
func IdentifyLun(msg uint8) int {
	return int(msg & 0x3f)
}

// Build synchronous data transfer request.
func SDTR(period, offset uint8) []byte {
	return []byte{MsgExtended, 3, ExtSDTR, period, offset}
}

// Build wide data transfer request.
func WDTR(width uint8) []byte {
	return []byte{MsgExtended, 2, ExtWDTR, width}
}

// Build parallel protocol request.
func PPR(period, offset, width, opts uint8) []byte {
	return []byte{MsgExtended, 6, ExtPPR, period, 0, offset, width, opts}
}

// Build modify data pointer.
func ModifyDP(ofs int32) []byte {
	m := []byte{MsgExtended, 5, ExtModifyDP, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(m[3:], uint32(ofs))
	return m
}

// Decoded extended message.
type Extended struct {
	Code   uint8
	Period uint8
	Offset uint8
	Width  uint8
	Opts   uint8
	Ofs    int32 // Modify data pointer argument.
}

// Total length of message starting at msg[0], 0 if more bytes needed
// to tell.
func Length(msg []byte) int {
	if len(msg) == 0 {
		return 0
	}
	switch b := msg[0]; {
	case b == MsgExtended:
		if len(msg) < 2 {
			return 0
		}
		n := int(msg[1])
		if n == 0 {
			n = 256
		}
		return n + 2
	case b >= 0x20 && b <= 0x2f:
		return 2
	}
	return 1
}

// Decode extended message.
func ParseExtended(msg []byte) (Extended, error) {
	if len(msg) < 3 || msg[0] != MsgExtended || len(msg) < int(msg[1])+2 {
		return Extended{}, ErrBadMessage
	}
	ext := Extended{Code: msg[2]}
	switch ext.Code {
	case ExtSDTR:
		if msg[1] != 3 {
			return ext, ErrBadMessage
		}
		ext.Period = msg[3]
		ext.Offset = msg[4]
	case ExtWDTR:
		if msg[1] != 2 {
			return ext, ErrBadMessage
		}
		ext.Width = msg[3]
	case ExtPPR:
		if msg[1] != 6 {
			return ext, ErrBadMessage
		}
		ext.Period = msg[3]
		ext.Offset = msg[5]
		ext.Width = msg[6]
		ext.Opts = msg[7]
	case ExtModifyDP:
		if msg[1] != 5 {
			return ext, ErrBadMessage
		}
		ext.Ofs = int32(binary.BigEndian.Uint32(msg[3:]))
	default:
		return ext, fmt.Errorf("%w: extended code %02x", ErrBadMessage, ext.Code)
	}
	return ext, nil
}

// Build REQUEST SENSE command.
func RequestSense(lun int, length uint8) []byte {
	cdb := []byte{OpRequestSense, 0, 0, 0, length, 0}
	if lun <= 7 {
		cdb[1] = uint8(lun << 5)
	}
	return cdb
}

// Build fixed format sense data.
func Sense(key, asc, ascq uint8) []byte {
	s := make([]byte, 18)
	s[0] = 0x70
	s[2] = key & 0xf
	s[7] = 10
	s[12] = asc
	s[13] = ascq
	return s
}

// Return sense key from fixed format sense.
func SenseKey(s []byte) uint8 {
	if len(s) < 3 {
		return 0
	}
	return s[2] & 0xf
}

// Convert period factor to nanoseconds times ten.
func PeriodTenthsNS(factor uint8) int {
	switch {
	case factor <= 8:
		return 62
	case factor == 9:
		return 125
	case factor == 10:
		return 250
	case factor == 11:
		return 303
	case factor == 12:
		return 500
	}
	return 40 * int(factor)
}
