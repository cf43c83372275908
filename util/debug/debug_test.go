/*
 * scsihba - Debug trace output tests
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

package debug

import (
	"bytes"
	"strings"
	"testing"
)

func TestMask(t *testing.T) {
	m, err := Mask("nego")
	if err != nil || m != Nego {
		t.Errorf("Mask not correct got: %d expected: %d", m, Nego)
	}
	_, err = Mask("bogus")
	if err == nil {
		t.Errorf("Unknown area accepted")
	}
}

func TestDebugf(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	if !Enabled() {
		t.Errorf("Output set but not enabled")
	}

	Debugf("HBA", Queue|Nego, Nego, "period %d", 12)
	Debugf("HBA", Queue, Nego, "hidden")
	DebugTaskf(2, 0, 5, Tags, Tags, "tag")
	out := buf.String()
	if !strings.Contains(out, "HBA: period 12\n") {
		t.Errorf("Debug message not written: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("Masked message written")
	}
	if !strings.Contains(out, "2:0:5: tag") {
		t.Errorf("Task message not written: %s", out)
	}
}
