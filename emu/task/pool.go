/*
 * scsihba - Task arena
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

package task

import (
	"errors"
	"fmt"

	"github.com/rcornwell/scsihba/emu/memory"
	"github.com/rcornwell/scsihba/emu/script"
)

const (
	HashSize  = 64
	hashShift = 8
	none      = -1
)

var (
	ErrNoTask = errors.New("no free task")
	ErrStale  = errors.New("stale task handle")
)

type list struct {
	head  int
	tail  int
	count int
}

// Pool owns every task record of one adapter. Records never leave the
// pool, a free record is recycled with a new generation.
type Pool struct {
	recs   []*Record
	queues [numQueues]list
	hash   [HashSize]int
}

func hashCode(bus uint32) int {
	return int(bus>>hashShift) & (HashSize - 1)
}

// Create pool of n records in DMA memory. All records are allocated here,
// a running adapter never allocates shared memory.
func NewPool(mem *memory.Memory, n int) (*Pool, error) {
	if n <= 0 || n > 0xffff {
		return nil, fmt.Errorf("task pool size %d not valid", n)
	}
	p := &Pool{recs: make([]*Record, n)}
	for i := range p.queues {
		p.queues[i] = list{head: none, tail: none}
	}
	for i := range p.hash {
		p.hash[i] = none
	}
	for i := range n {
		reg, err := mem.Alloc(script.TaskSize, 64)
		if err != nil {
			return nil, err
		}
		r := &Record{Data: reg.Data, Bus: reg.Bus, index: i, prev: none, next: none,
			hnext: none, Tag: script.NoTag}
		p.recs[i] = r
		p.insertTail(QueueFree, r)
	}
	return p, nil
}

// Number of records.
func (p *Pool) Cap() int {
	return len(p.recs)
}

// Number of records on queue q.
func (p *Pool) Len(q Queue) int {
	return p.queues[q].count
}

// Take a free record, it goes on the busy queue and into the bus address
// table.
func (p *Pool) Acquire() (*Record, error) {
	i := p.queues[QueueFree].head
	if i == none {
		return nil, ErrNoTask
	}
	r := p.recs[i]
	p.remove(r)
	r.clear()
	p.insertTail(QueueBusy, r)
	p.hashIn(r)
	return r, nil
}

// Give record back. Its handle goes stale and its bus address no longer
// resolves.
func (p *Pool) Release(r *Record) {
	if r.queue == QueueFree {
		return
	}
	p.remove(r)
	p.hashOut(r)
	r.gen++
	r.clear()
	p.insertTail(QueueFree, r)
}

// Find in flight record by bus address.
func (p *Pool) Lookup(bus uint32) (*Record, bool) {
	for i := p.hash[hashCode(bus)]; i != none; i = p.recs[i].hnext {
		if p.recs[i].Bus == bus {
			return p.recs[i], true
		}
	}
	return nil, false
}

// Find in flight record by handle.
func (p *Pool) Get(h Handle) (*Record, error) {
	i := h.index()
	if i >= len(p.recs) {
		return nil, ErrStale
	}
	r := p.recs[i]
	if r.Handle() != h || r.queue == QueueFree {
		return nil, ErrStale
	}
	return r, nil
}

// Move record to tail of queue q.
func (p *Pool) Move(r *Record, q Queue) {
	p.remove(r)
	p.insertTail(q, r)
}

// Records on queue q in order. The slice is a copy so records may be
// moved while walking it.
func (p *Pool) Slice(q Queue) []*Record {
	out := make([]*Record, 0, p.queues[q].count)
	for i := p.queues[q].head; i != none; i = p.recs[i].next {
		out = append(out, p.recs[i])
	}
	return out
}

func (p *Pool) hashIn(r *Record) {
	h := hashCode(r.Bus)
	r.hnext = p.hash[h]
	p.hash[h] = r.index
	r.hashed = true
}

func (p *Pool) hashOut(r *Record) {
	if !r.hashed {
		return
	}
	h := hashCode(r.Bus)
	prev := none
	for i := p.hash[h]; i != none; i = p.recs[i].hnext {
		if i == r.index {
			if prev == none {
				p.hash[h] = r.hnext
			} else {
				p.recs[prev].hnext = r.hnext
			}
			break
		}
		prev = i
	}
	r.hnext = none
	r.hashed = false
}

func (p *Pool) remove(r *Record) {
	l := &p.queues[r.queue]
	if r.prev == none {
		l.head = r.next
	} else {
		p.recs[r.prev].next = r.next
	}
	if r.next == none {
		l.tail = r.prev
	} else {
		p.recs[r.next].prev = r.prev
	}
	r.prev = none
	r.next = none
	l.count--
}

func (p *Pool) insertTail(q Queue, r *Record) {
	l := &p.queues[q]
	r.queue = q
	r.next = none
	r.prev = l.tail
	if l.tail == none {
		l.head = r.index
	} else {
		p.recs[l.tail].next = r.index
	}
	l.tail = r.index
	l.count++
}

