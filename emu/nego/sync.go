/*
 * scsihba - Synchronous transfer timing
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

package nego

import (
	"errors"
	"fmt"

	"github.com/rcornwell/scsihba/emu/registry"
	"github.com/rcornwell/scsihba/emu/script"
)

var ErrNoTiming = errors.New("period not reachable with adapter clock")

// Clock divisors in units of 10 kHz times ten, smallest first.
var div10M = [...]int{
	2 * 5000000, 3 * 5000000, 4 * 5000000, 6 * 5000000,
	8 * 5000000, 12 * 5000000, 16 * 5000000,
}

// Encoded settings a selection carries.
type Setting struct {
	Sval uint8 // Offset, and extra clocks on older chips.
	Wval uint8 // Clock divisor and width.
	Uval uint8 // DT enable and extra clocks on newer chips.
}

// Period in tenths of nanoseconds for a period factor.
func periodTenths(factor uint8, dt bool) int {
	switch {
	case dt && factor <= 9:
		return 125
	case factor <= 10:
		return 250
	case factor == 11:
		return 303
	case factor == 12:
		return 500
	}
	return 40 * int(factor)
}

// Find clock divisor and extra clocks for period factor.
func (e *Engine) GetSync(factor uint8, dt bool) (div int, fak int, err error) {
	kpc := periodTenths(factor, dt) * e.clockKHz
	if dt {
		kpc <<= 1
	}

	if e.chip.NoExtraClocks {
		for div = 0; div < len(div10M); div++ {
			if kpc <= div10M[div]<<2 {
				break
			}
		}
		if div == len(div10M) {
			return 0, 0, fmt.Errorf("%w: factor %d", ErrNoTiming, factor)
		}
		return div, 0, nil
	}

	for div = len(div10M) - 1; div >= 0; div-- {
		if kpc >= div10M[div]<<2 {
			break
		}
	}
	if div < 0 {
		return 0, 0, fmt.Errorf("%w: factor %d too fast", ErrNoTiming, factor)
	}
	if dt {
		fak = (kpc-1)/(div10M[div]<<1) + 1 - 2
	} else {
		fak = (kpc-1)/div10M[div] + 1 - 4
	}
	if fak < 0 {
		fak = 0
	}
	if fak > 2 {
		return div, 2, fmt.Errorf("%w: factor %d too slow", ErrNoTiming, factor)
	}
	return div, fak, nil
}

// Encode agreed settings for the sequencer.
func (e *Engine) Encode(t registry.Trans) (Setting, error) {
	var s Setting
	if t.Width != 0 {
		s.Wval = script.Scntl3EWS
	}
	if t.Offset == 0 {
		return s, nil
	}
	div, fak, err := e.GetSync(t.Period, t.DT)
	if err != nil {
		return Setting{Wval: s.Wval}, err
	}
	s.Wval |= uint8((div + 1) << 4)
	if e.chip.DT {
		s.Sval = t.Offset
		if t.DT {
			s.Uval = script.Scntl4U3EN
		}
		switch {
		case fak > 0 && t.DT:
			s.Uval |= script.Scntl4XclkDT
		case fak > 0:
			s.Uval |= script.Scntl4XclkST
		}
		return s, nil
	}
	s.Sval = uint8(fak<<5) | (t.Offset & 0x1f)
	return s, nil
}
