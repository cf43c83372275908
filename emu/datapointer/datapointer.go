/*
 * scsihba - Data pointer and residual calculation
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

// Package datapointer turns sequencer script addresses into transfer
// positions and back.
//
// The moves of an n segment transfer are the last n entries of a fixed
// move table that ends just before Goal. A position is a segment index
// and a byte offset which is zero or negative: (i, -k) means k bytes of
// segment i-1 have not been moved yet. (n, 0) is the goal.
package datapointer

import (
	"errors"
	"fmt"

	"github.com/rcornwell/scsihba/emu/script"
)

var (
	ErrOutOfRange = errors.New("data pointer outside transfer")
	ErrBadPatch   = errors.New("both patch contexts active")
	ErrNotData    = errors.New("script address not a data move")
)

type Segment struct {
	Addr uint32
	Size uint32
}

// One segment move the sequencer runs before returning to Ret.
type Patch struct {
	Addr uint32
	Size uint32
	Ret  uint32
}

type Position struct {
	Seg int
	Ofs int
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Seg, p.Ofs)
}

type Slot uint8

const (
	Slot0 Slot = 0
	Slot1 Slot = 1
)

// Patch context the sequencer is executing, if any.
type Running uint8

const (
	NotPatching Running = iota
	Patching0
	Patching1
)

// Patch context bookkeeping kept in host flags.
type PatchState struct {
	Running Running
	Next    Slot // Slot the next patch is built in.
	DPSaved bool // SAVE DATA POINTER seen since last patch.
}

// Decode patch state from host flags.
func DecodeFlags(hf uint8) (PatchState, error) {
	st := PatchState{DPSaved: (hf & script.HfDPSaved) != 0}
	if (hf & script.HfActPM) != 0 {
		st.Next = Slot1
	}
	switch hf & (script.HfInPM0 | script.HfInPM1) {
	case script.HfInPM0:
		st.Running = Patching0
	case script.HfInPM1:
		st.Running = Patching1
	case script.HfInPM0 | script.HfInPM1:
		return st, ErrBadPatch
	}
	return st, nil
}

// Merge patch state into host flags.
func (p PatchState) Flags(hf uint8) uint8 {
	hf &^= script.HfInPM0 | script.HfInPM1 | script.HfActPM | script.HfDPSaved
	switch p.Running {
	case Patching0:
		hf |= script.HfInPM0
	case Patching1:
		hf |= script.HfInPM1
	}
	if p.Next == Slot1 {
		hf |= script.HfActPM
	}
	if p.DPSaved {
		hf |= script.HfDPSaved
	}
	return hf
}

// Pick slot for a new patch. A saved data pointer may point at the slot
// built last, so after a save the other slot is used.
func (p PatchState) Claim() (Slot, PatchState) {
	next := p.Next
	if p.DPSaved {
		next ^= 1
	}
	return next, PatchState{Running: NotPatching, Next: next}
}

// View of one task's data transfer.
type Transfer struct {
	Segs    []Segment
	Goal    uint32    // Script address one past last move.
	PMEntry [2]uint32 // Script address of each patch context.
	PM      [2]Patch
	ExtSeg  int // Furthest position reached, ExtSeg -1 if none.
	ExtOfs  int
}

// Create transfer for segments ending at goal.
func New(segs []Segment, goal uint32) *Transfer {
	return &Transfer{
		Segs:    segs,
		Goal:    goal,
		PMEntry: [2]uint32{script.PM0Data, script.PM1Data},
		ExtSeg:  -1,
	}
}

func (t *Transfer) n() int {
	return len(t.Segs)
}

// Script address of move for segment i, i == n is the end of data.
func (t *Transfer) MoveAddr(i int) uint32 {
	return t.Goal - script.InstrSize - uint32(script.InstrSize*(t.n()-i))
}

// Script address of first move.
func (t *Transfer) Start() uint32 {
	return t.MoveAddr(0)
}

// Total bytes in transfer.
func (t *Transfer) Len() int {
	l := 0
	for _, s := range t.Segs {
		l += int(s.Size & 0xffffff)
	}
	return l
}

// Segment index a move address belongs to.
func (t *Transfer) segIndex(pc uint32) int {
	if pc == t.Goal {
		return t.n()
	}
	return t.n() - int(int64(t.Goal)-script.InstrSize-int64(pc))/script.InstrSize
}

func (t *Transfer) size(i int) int {
	return int(t.Segs[i].Size & 0xffffff)
}

// Evaluate position of script address pc moved by ofs bytes.
func (t *Transfer) Evaluate(pc uint32, ofs int) (Position, error) {
	for k := range t.PMEntry {
		if pc == t.PMEntry[k] {
			pc = t.PM[k].Ret
			ofs -= int(t.PM[k].Size & 0xffffff)
			break
		}
	}

	seg := t.segIndex(pc)

	// Walk back into earlier segments, or forward into later ones.
	if ofs < 0 {
		for seg > 0 {
			seg--
			n := ofs + t.size(seg)
			if n > 0 {
				seg++
				break
			}
			ofs = n
		}
	} else if ofs > 0 {
		for seg < t.n() {
			ofs -= t.size(seg)
			seg++
			if ofs <= 0 {
				break
			}
		}
	}

	if seg < 0 || (seg == 0 && ofs < 0) {
		return Position{}, fmt.Errorf("%w: segment %d offset %d", ErrOutOfRange, seg, ofs)
	}
	if seg > t.n() || (seg == t.n() && ofs > 0) {
		return Position{}, fmt.Errorf("%w: segment %d offset %d", ErrOutOfRange, seg, ofs)
	}

	if seg > t.ExtSeg || (seg == t.ExtSeg && ofs > t.ExtOfs) {
		t.ExtSeg = seg
		t.ExtOfs = ofs
	}
	return Position{Seg: seg, Ofs: ofs}, nil
}

// Move data pointer pc by ofs. Returns the script address to resume at
// and the patch state after any patch built.
func (t *Transfer) Modify(pc uint32, ofs int, st PatchState) (uint32, PatchState, error) {
	pos, err := t.Evaluate(pc, ofs)
	if err != nil {
		return pc, st, err
	}
	ret := t.MoveAddr(pos.Seg)
	if pos.Ofs == 0 {
		return ret, st, nil
	}
	slot, next := st.Claim()
	prev := t.Segs[pos.Seg-1]
	t.PM[slot] = Patch{
		Addr: prev.Addr + uint32(t.size(pos.Seg-1)+pos.Ofs),
		Size: uint32(-pos.Ofs),
		Ret:  ret,
	}
	return t.PMEntry[slot], next, nil
}

// Build patch after a phase mismatch. dsp is the script address after the
// interrupted move, rest the bytes it did not move. Returns the script
// address the data pointer should now hold.
func (t *Transfer) Fixup(dsp uint32, rest uint32, st PatchState) (uint32, PatchState, error) {
	var oadr, olen, nxt uint32
	vdsp := dsp - script.InstrSize

	switch {
	case st.Running == Patching0 || vdsp == t.PMEntry[0]:
		oadr, olen, nxt = t.PM[0].Addr, t.PM[0].Size, t.PM[0].Ret
	case st.Running == Patching1 || vdsp == t.PMEntry[1]:
		oadr, olen, nxt = t.PM[1].Addr, t.PM[1].Size, t.PM[1].Ret
	case t.n() > 0 && vdsp >= t.MoveAddr(0) && vdsp < t.MoveAddr(t.n()):
		i := t.segIndex(vdsp)
		oadr, olen, nxt = t.Segs[i].Addr, t.Segs[i].Size&0xffffff, dsp
	default:
		return dsp, st, fmt.Errorf("%w: %s", ErrNotData, script.Label(vdsp))
	}
	if rest > olen {
		return dsp, st, fmt.Errorf("%w: %d bytes left of %d", ErrOutOfRange, rest, olen)
	}

	slot, next := st.Claim()
	t.PM[slot] = Patch{Addr: oadr + olen - rest, Size: rest, Ret: nxt}
	return t.PMEntry[slot], next, nil
}

// Byte adjustment for extended errors, negative for overrun.
func Adjust(xerr uint8, extra uint32) int {
	adj := 0
	if (xerr & script.XeExtraData) != 0 {
		adj -= int(extra)
	}
	if (xerr & script.XeSodlUnrun) != 0 {
		adj++
	}
	if (xerr & script.XeSwideOvrun) != 0 {
		adj--
	}
	return adj
}

// Number of bytes not transferred when data pointer is lastp.
func (t *Transfer) Residual(lastp uint32, adjust int) int {
	if lastp == t.Goal {
		return adjust
	}
	if lastp == t.Start() {
		return t.Len() + adjust
	}
	if _, err := t.Evaluate(lastp, 0); err != nil || t.ExtSeg < 0 {
		return t.Len() + adjust
	}
	resid := -t.ExtOfs
	for i := t.ExtSeg; i < t.n(); i++ {
		resid += t.size(i)
	}
	return resid + adjust
}
