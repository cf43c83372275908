/*
 * scsihba - DMA memory arena tests
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

package memory

import (
	"testing"
)

// Check allocation alignment and exhaustion.
func TestAlloc(t *testing.T) {
	m := New(1024, 0x1000)
	r, err := m.Alloc(10, 4)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if r.Bus != 0x1000 {
		t.Errorf("Alloc bus address not correct got: %08x expected: %08x", r.Bus, 0x1000)
	}
	if len(r.Data) != 10 {
		t.Errorf("Alloc size not correct got: %d expected: %d", len(r.Data), 10)
	}
	r, err = m.Alloc(16, 64)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if r.Bus != 0x1040 {
		t.Errorf("Alloc not aligned got: %08x expected: %08x", r.Bus, 0x1040)
	}
	_, err = m.Alloc(2048, 4)
	if err == nil {
		t.Errorf("Alloc larger then memory succeeded")
	}
	if m.Free() != 1024-0x50 {
		t.Errorf("Free not correct got: %d expected: %d", m.Free(), 1024-0x50)
	}
}

// Check word access through bus address and host view agree.
func TestWords(t *testing.T) {
	m := New(256, 0x2000)
	r, _ := m.Alloc(16, 4)
	if m.PutWord(r.Bus+4, 0x11223344) {
		t.Errorf("PutWord failed in range")
	}
	if Word(r.Data, 4) != 0x11223344 {
		t.Errorf("Host view not correct got: %08x expected: %08x", Word(r.Data, 4), 0x11223344)
	}
	if r.Data[4] != 0x44 {
		t.Errorf("Word not little endian got: %02x expected: %02x", r.Data[4], 0x44)
	}
	SetWord(r.Data, 8, 0xdeadbeef)
	v, e := m.GetWord(r.Bus + 8)
	if e || v != 0xdeadbeef {
		t.Errorf("GetWord not correct got: %08x expected: %08x", v, 0xdeadbeef)
	}
	_, e = m.GetWord(0x1000)
	if !e {
		t.Errorf("GetWord below base did not fail")
	}
	_, e = m.GetWord(0x2000 + 254)
	if !e {
		t.Errorf("GetWord past end did not fail")
	}
	if !m.PutByte(0x2000+256, 1) {
		t.Errorf("PutByte past end did not fail")
	}
}

// Check block copy and barriers.
func TestReadWrite(t *testing.T) {
	m := New(256, 0)
	r, _ := m.Alloc(8, 4)
	if m.Write(r.Bus, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Write failed")
	}
	buf := make([]byte, 5)
	if m.Read(r.Bus, buf) {
		t.Errorf("Read failed")
	}
	for i := range 5 {
		if buf[i] != byte(i+1) {
			t.Errorf("Read byte %d not correct got: %d expected: %d", i, buf[i], i+1)
		}
	}
	m.Barrier()
	m.Barrier()
	if m.Barriers() != 2 {
		t.Errorf("Barrier count not correct got: %d expected: %d", m.Barriers(), 2)
	}
	if !m.CheckAddr(DefaultBase) || m.CheckAddr(DefaultBase+256) {
		t.Errorf("CheckAddr range not correct")
	}
}
