/*
 * scsihba - Host and sequencer shared definitions tests
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

package script

import "testing"

func TestCritical(t *testing.T) {
	tests := []struct {
		dsp  uint32
		want bool
	}{
		{GetJobBegin, false},
		{GetJobBegin + 8, true},
		{GetJobEnd, true},
		{GetJobEnd + 8, false},
		{Reselect, true},
		{SelForAbort1, true},
		{DoneEnd, true},
		{Dispatch, false},
		{WfSelDone + 8, false},
	}
	for _, test := range tests {
		if Critical(test.dsp) != test.want {
			t.Errorf("Critical %s not correct got: %v expected: %v", Label(test.dsp), !test.want, test.want)
		}
	}
}

func TestLayout(t *testing.T) {
	if TaskSenseBuf+32 > TaskData {
		t.Errorf("Sense buffer overlaps data table")
	}
	if TaskPM1+12 > TaskExtra {
		t.Errorf("Patch contexts overlap")
	}
	if DataIn2 >= DataOut || DataOutGoal >= ScriptAEnd {
		t.Errorf("Data areas overlap")
	}
	if Label(DataIn+16) != "data_in+2" {
		t.Errorf("Label not correct got: %s", Label(DataIn+16))
	}
	if Label(Dispatch) != "dispatch" {
		t.Errorf("Label not correct got: %s", Label(Dispatch))
	}
}
