/*
 * scsihba - Timed event list
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

package event

// Events are kept in a delta list: each event holds the number of ticks
// after the event before it.

type Callback = func(iarg int)

type Event struct {
	time  int      // Number of ticks to event.
	owner any      // Owner event is registered to.
	cb    Callback // Function to callback.
	iarg  int      // Integer argument.
	prev  *Event
	next  *Event
}

type List struct {
	head *Event
	tail *Event
	now  uint64 // Ticks since list created.
}

// Create an empty event list.
func NewList() *List {
	return &List{}
}

// Add an event, time of zero calls back immediately.
func (el *List) Add(owner any, cb Callback, time int, iarg int) {
	if time <= 0 {
		cb(iarg)
		return
	}

	ev := &Event{owner: owner, cb: cb, time: time, iarg: iarg}

	evptr := el.head
	// If empty put on head
	if evptr == nil {
		el.head = ev
		el.tail = ev
		return
	}

	// Scan for place to install it
	for evptr != nil {
		if ev.time < evptr.time {
			// Remove current time from next time
			evptr.time -= ev.time
			ev.prev = evptr.prev
			ev.next = evptr
			evptr.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				el.head = ev
			}
			return
		}
		// Make new event relative to previous.
		ev.time -= evptr.time
		evptr = evptr.next
	}

	// Get here, put it on tail of list
	ev.prev = el.tail
	el.tail.next = ev
	el.tail = ev
}

func (el *List) unlink(evptr *Event) {
	nxt := evptr.next
	if nxt != nil {
		nxt.time += evptr.time
		nxt.prev = evptr.prev
	} else {
		el.tail = evptr.prev
	}

	if evptr.prev != nil {
		evptr.prev.next = nxt
	} else {
		el.head = nxt
	}
	evptr.next = nil
	evptr.prev = nil
}

func (el *List) find(owner any, iarg int) *Event {
	for evptr := el.head; evptr != nil; evptr = evptr.next {
		if evptr.owner == owner && evptr.iarg == iarg {
			return evptr
		}
	}
	return nil
}

// Cancel event for owner with argument, returns true if one was found.
func (el *List) Cancel(owner any, iarg int) bool {
	evptr := el.find(owner, iarg)
	if evptr == nil {
		return false
	}
	el.unlink(evptr)
	return true
}

// Return ticks left before event fires, -1 if no such event.
func (el *List) Remaining(owner any, iarg int) int {
	t := 0
	for evptr := el.head; evptr != nil; evptr = evptr.next {
		t += evptr.time
		if evptr.owner == owner && evptr.iarg == iarg {
			return t
		}
	}
	return -1
}

// Check if any events pending.
func (el *List) Any() bool {
	return el.head != nil
}

// Ticks since list was created.
func (el *List) Now() uint64 {
	return el.now
}

// Advance time by t ticks, firing events that come due.
func (el *List) Advance(t int) {
	el.now += uint64(t)
	evptr := el.head
	if evptr == nil {
		return
	}
	evptr.time -= t
	for evptr != nil && evptr.time <= 0 {
		// Unlink first, callback may add events. Any overshoot is
		// carried to the following event.
		el.unlink(evptr)
		evptr.cb(evptr.iarg)
		evptr = el.head
	}
}
