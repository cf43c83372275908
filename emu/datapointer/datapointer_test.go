/*
 * scsihba - Data pointer tests
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

package datapointer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rcornwell/scsihba/emu/script"
)

// Five segments of 100 bytes each.
func fiveSegs() *Transfer {
	segs := make([]Segment, 5)
	for i := range segs {
		segs[i] = Segment{Addr: uint32(0x1000 * (i + 1)), Size: 100}
	}
	return New(segs, script.DataInGoal)
}

func TestMoveAddr(t *testing.T) {
	tr := fiveSegs()
	if tr.MoveAddr(5) != script.DataInGoal-8 {
		t.Errorf("End move not correct got: %08x expected: %08x", tr.MoveAddr(5), script.DataInGoal-8)
	}
	if tr.Start() != script.DataInGoal-8-40 {
		t.Errorf("Start not correct got: %08x expected: %08x", tr.Start(), script.DataInGoal-48)
	}
	if tr.Len() != 500 {
		t.Errorf("Length not correct got: %d expected: %d", tr.Len(), 500)
	}
}

// Mismatch part way into third segment with 37 bytes left.
func TestFixupMidSegment(t *testing.T) {
	tr := fiveSegs()
	dsp := tr.MoveAddr(2) + script.InstrSize
	pc, st, err := tr.Fixup(dsp, 37, PatchState{})
	if err != nil {
		t.Fatalf("Fixup failed: %v", err)
	}
	if pc != script.PM0Data {
		t.Errorf("Fixup did not use patch 0 got: %s", script.Label(pc))
	}
	if st.Next != Slot0 || st.DPSaved {
		t.Errorf("Patch state not correct: %+v", st)
	}
	want := Patch{Addr: 0x3000 + 63, Size: 37, Ret: tr.MoveAddr(3)}
	if diff := cmp.Diff(want, tr.PM[0]); diff != "" {
		t.Errorf("Patch mismatch (-want +got):\n%s", diff)
	}

	pos, err := tr.Evaluate(pc, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if pos.Seg != 3 || pos.Ofs != -37 {
		t.Errorf("Position not correct got: %s expected: (3,-37)", pos)
	}
	if r := tr.Residual(pc, 0); r != 237 {
		t.Errorf("Residual not correct got: %d expected: %d", r, 237)
	}
}

// Second mismatch inside a running patch.
func TestFixupInPatch(t *testing.T) {
	tr := fiveSegs()
	pc, st, _ := tr.Fixup(tr.MoveAddr(3), 37, PatchState{})
	st.Running = Patching0
	st.DPSaved = true
	pc, st, err := tr.Fixup(pc+script.InstrSize, 10, st)
	if err != nil {
		t.Fatalf("Fixup failed: %v", err)
	}
	if pc != script.PM1Data {
		t.Errorf("Saved pointer did not move to patch 1 got: %s", script.Label(pc))
	}
	if st.Next != Slot1 {
		t.Errorf("Next slot not correct got: %d expected: %d", st.Next, Slot1)
	}
	if tr.PM[1].Addr != 0x3000+90 || tr.PM[1].Size != 10 || tr.PM[1].Ret != tr.MoveAddr(3) {
		t.Errorf("Patch 1 not correct: %+v", tr.PM[1])
	}
	if r := tr.Residual(pc, 0); r != 210 {
		t.Errorf("Residual not correct got: %d expected: %d", r, 210)
	}
}

func TestFixupErrors(t *testing.T) {
	tr := fiveSegs()
	if _, _, err := tr.Fixup(script.Status+8, 1, PatchState{}); !errors.Is(err, ErrNotData) {
		t.Errorf("Fixup outside data moves got: %v", err)
	}
	if _, _, err := tr.Fixup(tr.MoveAddr(1), 101, PatchState{}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Fixup with too many bytes left got: %v", err)
	}
}

func TestEvaluateForward(t *testing.T) {
	tr := fiveSegs()
	pos, err := tr.Evaluate(tr.Start(), 150)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if pos.Seg != 2 || pos.Ofs != -50 {
		t.Errorf("Position not correct got: %s expected: (2,-50)", pos)
	}
	pos, err = tr.Evaluate(tr.Start(), 500)
	if err != nil || pos.Seg != 5 || pos.Ofs != 0 {
		t.Errorf("Evaluate to end got: %s %v", pos, err)
	}
}

func TestEvaluateBounds(t *testing.T) {
	tr := fiveSegs()
	if _, err := tr.Evaluate(tr.Start(), -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Evaluate before start got: %v", err)
	}
	if _, err := tr.Evaluate(tr.Goal, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Evaluate past end got: %v", err)
	}
	if tr.ExtSeg != -1 {
		t.Errorf("Failed evaluate moved extreme to %d", tr.ExtSeg)
	}
}

func TestModify(t *testing.T) {
	tr := fiveSegs()
	pc, st, err := tr.Modify(tr.MoveAddr(4), -130, PatchState{Next: Slot1})
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if pc != script.PM1Data || st.Next != Slot1 {
		t.Errorf("Modify did not use patch 1 got: %s", script.Label(pc))
	}
	want := Patch{Addr: 0x3000 + 70, Size: 30, Ret: tr.MoveAddr(3)}
	if diff := cmp.Diff(want, tr.PM[1]); diff != "" {
		t.Errorf("Patch mismatch (-want +got):\n%s", diff)
	}

	pc, _, err = tr.Modify(tr.MoveAddr(4), -100, PatchState{})
	if err != nil || pc != tr.MoveAddr(3) {
		t.Errorf("Modify to segment boundary got: %s %v", script.Label(pc), err)
	}
	if _, _, err := tr.Modify(tr.Start(), -1, PatchState{}); err == nil {
		t.Errorf("Modify before start succeeded")
	}
}

func TestPatchFlags(t *testing.T) {
	st := PatchState{Running: Patching1, Next: Slot1, DPSaved: true}
	hf := st.Flags(script.HfSense | script.HfInPM0)
	want := script.HfSense | script.HfInPM1 | script.HfActPM | script.HfDPSaved
	if hf != want {
		t.Errorf("Flags not correct got: %02x expected: %02x", hf, want)
	}
	back, err := DecodeFlags(hf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if back != st {
		t.Errorf("Decode not correct got: %+v expected: %+v", back, st)
	}
	if _, err := DecodeFlags(script.HfInPM0 | script.HfInPM1); !errors.Is(err, ErrBadPatch) {
		t.Errorf("Both patch bits accepted")
	}
}

func TestClaim(t *testing.T) {
	slot, st := PatchState{Next: Slot0, DPSaved: true}.Claim()
	if slot != Slot1 || st.Next != Slot1 || st.DPSaved {
		t.Errorf("Claim after save got: %d %+v", slot, st)
	}
	slot, _ = PatchState{Next: Slot1}.Claim()
	if slot != Slot1 {
		t.Errorf("Claim without save got: %d expected: %d", slot, Slot1)
	}
}

func TestResidual(t *testing.T) {
	tr := fiveSegs()
	if r := tr.Residual(tr.Goal, 0); r != 0 {
		t.Errorf("Residual at goal got: %d expected: %d", r, 0)
	}
	if r := tr.Residual(tr.Start(), 0); r != 500 {
		t.Errorf("Residual at start got: %d expected: %d", r, 500)
	}
	if r := tr.Residual(tr.Goal, Adjust(script.XeExtraData, 10)); r != -10 {
		t.Errorf("Residual with overrun got: %d expected: %d", r, -10)
	}
	if r := tr.Residual(tr.MoveAddr(2), Adjust(script.XeSwideOvrun, 0)); r != 299 {
		t.Errorf("Residual with wide overrun got: %d expected: %d", r, 299)
	}
	if r := tr.Residual(script.Status, 0); r != 500 {
		t.Errorf("Residual with bad pointer got: %d expected: %d", r, 500)
	}
}
