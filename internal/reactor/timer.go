package reactor

import (
	"container/list"
	"time"
)

// Item is one scheduled timer entry. OnFire runs when the item's expiry
// elapses; OnCancel runs instead if the item is removed before firing.
type Item struct {
	Expire   time.Time
	Data     any
	OnFire   func(data any)
	OnCancel func(data any)

	elem *list.Element
}

// Timer is a time-ordered list of pending Items, the Go analogue of the
// source's micro-timer (utimer.c): a single ascending list, O(1) peek of
// the next expiry, O(n) insert.
type Timer struct {
	items *list.List // of *Item, ascending by Expire
	now   func() time.Time
}

// NewTimer creates an empty timer. now defaults to time.Now when nil,
// tests may override it to control expiry deterministically.
func NewTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{items: list.New(), now: now}
}

// AddItem schedules data to fire after delay, returning the item so the
// caller can cancel it later via RemoveItemsByData.
func (t *Timer) AddItem(data any, delay time.Duration, onFire, onCancel func(data any)) *Item {
	it := &Item{
		Expire:   t.now().Add(delay),
		Data:     data,
		OnFire:   onFire,
		OnCancel: onCancel,
	}

	for e := t.items.Front(); e != nil; e = e.Next() {
		if e.Value.(*Item).Expire.After(it.Expire) {
			it.elem = t.items.InsertBefore(it, e)
			return it
		}
	}
	it.elem = t.items.PushBack(it)
	return it
}

// RemoveItemsByData detaches every item whose Data equals data (by ==),
// invoking OnCancel for each.
func (t *Timer) RemoveItemsByData(data any) {
	var next *list.Element
	for e := t.items.Front(); e != nil; e = next {
		next = e.Next()
		it := e.Value.(*Item)
		if it.Data == data {
			t.items.Remove(e)
			if it.OnCancel != nil {
				it.OnCancel(it.Data)
			}
		}
	}
}

// NextExpiry reports the time of the soonest pending item, and whether
// any item is pending at all.
func (t *Timer) NextExpiry() (time.Time, bool) {
	e := t.items.Front()
	if e == nil {
		return time.Time{}, false
	}
	return e.Value.(*Item).Expire, true
}

// FireDue splices off and fires every item whose expiry has elapsed,
// in ascending order.
func (t *Timer) FireDue() {
	now := t.now()
	var due []*Item
	for e := t.items.Front(); e != nil; {
		it := e.Value.(*Item)
		if it.Expire.After(now) {
			break
		}
		next := e.Next()
		t.items.Remove(e)
		due = append(due, it)
		e = next
	}
	for _, it := range due {
		if it.OnFire != nil {
			it.OnFire(it.Data)
		}
	}
}
