/*
 * scsihba - DMA memory arena
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
	"encoding/binary"
	"errors"
	"sync/atomic"
)

// Memory shared between host and sequencer. Addresses are bus addresses,
// words are stored little endian as the sequencer sees them.
type Memory struct {
	mem      []byte
	base     uint32 // Bus address of first byte.
	next     uint32 // Next free offset.
	barriers atomic.Uint64
}

// Region is a block handed out by Alloc.
type Region struct {
	Bus  uint32 // Bus address of block.
	Data []byte // Host view of block.
}

const (
	DefaultBase uint32 = 0x00100000 // Bus address memory starts at.
	WordSize           = 4
)

var ErrNoMemory = errors.New("dma memory exhausted")

// Create memory of size bytes starting at bus address base.
func New(size int, base uint32) *Memory {
	if base == 0 {
		base = DefaultBase
	}
	return &Memory{mem: make([]byte, size), base: base}
}

// Allocate a zeroed block, align must be a power of two.
func (m *Memory) Alloc(size int, align int) (Region, error) {
	if align < WordSize {
		align = WordSize
	}
	a := uint32(align - 1)
	off := (m.next + a) &^ a
	end := off + uint32(size)
	if size < 0 || end > uint32(len(m.mem)) {
		return Region{}, ErrNoMemory
	}
	m.next = end
	return Region{Bus: m.base + off, Data: m.mem[off:end:end]}, nil
}

// Return total size of memory in bytes.
func (m *Memory) Size() int {
	return len(m.mem)
}

// Return number of bytes still free.
func (m *Memory) Free() int {
	return len(m.mem) - int(m.next)
}

// Check if bus address is inside memory.
func (m *Memory) CheckAddr(addr uint32) bool {
	return addr >= m.base && addr-m.base < uint32(len(m.mem))
}

func (m *Memory) offset(addr uint32, n int) (uint32, bool) {
	if addr < m.base {
		return 0, false
	}
	off := addr - m.base
	if uint64(off)+uint64(n) > uint64(len(m.mem)) {
		return 0, false
	}
	return off, true
}

// Get a word from memory, error set if out of range.
func (m *Memory) GetWord(addr uint32) (value uint32, error bool) {
	off, ok := m.offset(addr, WordSize)
	if !ok {
		return 0, true
	}
	return binary.LittleEndian.Uint32(m.mem[off:]), false
}

// Put a word to memory, returns true if out of range.
func (m *Memory) PutWord(addr, data uint32) bool {
	off, ok := m.offset(addr, WordSize)
	if !ok {
		return true
	}
	binary.LittleEndian.PutUint32(m.mem[off:], data)
	return false
}

// Get a byte from memory.
func (m *Memory) GetByte(addr uint32) (value uint8, error bool) {
	off, ok := m.offset(addr, 1)
	if !ok {
		return 0, true
	}
	return m.mem[off], false
}

// Put a byte to memory.
func (m *Memory) PutByte(addr uint32, data uint8) bool {
	off, ok := m.offset(addr, 1)
	if !ok {
		return true
	}
	m.mem[off] = data
	return false
}

// Copy len(buf) bytes from memory into buf.
func (m *Memory) Read(addr uint32, buf []byte) bool {
	off, ok := m.offset(addr, len(buf))
	if !ok {
		return true
	}
	copy(buf, m.mem[off:])
	return false
}

// Copy buf into memory.
func (m *Memory) Write(addr uint32, buf []byte) bool {
	off, ok := m.offset(addr, len(buf))
	if !ok {
		return true
	}
	copy(m.mem[off:], buf)
	return false
}

// Order all prior writes before any following ones. The simulated bus is
// coherent so this only counts, the count lets tests check ordering.
func (m *Memory) Barrier() {
	m.barriers.Add(1)
}

// Number of barriers issued.
func (m *Memory) Barriers() uint64 {
	return m.barriers.Load()
}

// Word helpers on a host view.
func Word(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func SetWord(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}
