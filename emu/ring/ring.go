/*
 * scsihba - Fixed capacity allocation ring
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

// Package ring implements a fixed capacity circular buffer of free
// values. Values come out in the order they went back in, so a released
// value is not handed out again until every other free value has been.
package ring

import "errors"

var (
	ErrEmpty = errors.New("ring empty")
	ErrFull  = errors.New("ring full")
)

type Ring[T any] struct {
	buf   []T
	alloc int // Next slot to allocate from.
	free  int // Next slot to free into.
	busy  int // Values currently handed out.
}

// Create ring holding the given free values.
func New[T any](values []T) *Ring[T] {
	r := &Ring[T]{buf: make([]T, len(values))}
	copy(r.buf, values)
	return r
}

// Create ring of integers 0 to n-1.
func Sequence(n int) *Ring[int] {
	v := make([]int, n)
	for i := range v {
		v[i] = i
	}
	return New(v)
}

// Take next free value.
func (r *Ring[T]) Get() (T, error) {
	var zero T
	if r.busy == len(r.buf) {
		return zero, ErrEmpty
	}
	v := r.buf[r.alloc]
	r.buf[r.alloc] = zero
	r.alloc++
	if r.alloc == len(r.buf) {
		r.alloc = 0
	}
	r.busy++
	return v, nil
}

// Return value to ring.
func (r *Ring[T]) Put(v T) error {
	if r.busy == 0 {
		return ErrFull
	}
	r.buf[r.free] = v
	r.free++
	if r.free == len(r.buf) {
		r.free = 0
	}
	r.busy--
	return nil
}

// Number of values handed out.
func (r *Ring[T]) Busy() int {
	return r.busy
}

// Number of values available.
func (r *Ring[T]) Available() int {
	return len(r.buf) - r.busy
}

// Total capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
