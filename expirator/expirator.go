// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package expirator implements a registry of keyed entries that expire after
// a timeout, measured in ticks of a fixed period.
//
// Entries are grouped into buckets by the tick at which they expire. Adding,
// removing, and looking up an entry by key take constant time, and each tick
// touches only the entries in a single bucket.
package expirator

import (
	"sync"
	"time"

	"github.com/creachadair/binder/loop"
	"github.com/creachadair/mds/mapset"
)

// An Expirator tracks entries with a time-to-live, and reports each entry to
// a callback if it is not removed before its timeout elapses.
//
// The methods of an Expirator are safe for concurrent use. The expiry
// callback is never invoked while the internal lock is held, so it may call
// back into the expirator.
type Expirator[K comparable, V any] struct {
	period   time.Duration
	onExpire func(K, V)

	μ sync.Mutex

	now      uint64                   // current tick
	byKey    map[K]entry[V]           // key → bucket, value
	byBucket map[uint64]mapset.Set[K] // bucket → keys
	lp       *loop.Loop               // if running
	timer    *loop.Timer              // if running
}

type entry[V any] struct {
	bucket uint64
	value  V
}

// New constructs an empty expirator with the given tick period, which must be
// positive. The onExpire callback, which must be non-nil, is called once for
// each entry that expires.
func New[K comparable, V any](period time.Duration, onExpire func(K, V)) *Expirator[K, V] {
	if period <= 0 {
		panic("expirator: period must be positive")
	} else if onExpire == nil {
		panic("expirator: nil expiry callback")
	}
	return &Expirator[K, V]{
		period:   period,
		onExpire: onExpire,
		byKey:    make(map[K]entry[V]),
		byBucket: make(map[uint64]mapset.Set[K]),
	}
}

// Period reports the tick period of e.
func (e *Expirator[K, V]) Period() time.Duration { return e.period }

// Add adds an entry for key with the given value, to expire after ttl. The
// entry expires no earlier than the next tick, even if ttl is less than one
// period. If key already has an entry, it is replaced.
func (e *Expirator[K, V]) Add(key K, ttl time.Duration, value V) {
	ticks := uint64(1)
	if ttl > e.period {
		ticks = uint64((ttl + e.period - 1) / e.period)
	}

	e.μ.Lock()
	defer e.μ.Unlock()
	e.removeLocked(key)
	b := e.now + ticks
	e.byKey[key] = entry[V]{bucket: b, value: value}
	if s, ok := e.byBucket[b]; ok {
		s.Add(key)
	} else {
		e.byBucket[b] = mapset.New(key)
	}
}

// Remove removes the entry for key, and reports its value and whether it was
// present. A removed entry will not expire.
func (e *Expirator[K, V]) Remove(key K) (V, bool) {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.removeLocked(key)
}

func (e *Expirator[K, V]) removeLocked(key K) (V, bool) {
	ent, ok := e.byKey[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(e.byKey, key)
	if s := e.byBucket[ent.bucket]; s != nil {
		s.Remove(key)
		if s.Len() == 0 {
			delete(e.byBucket, ent.bucket)
		}
	}
	return ent.value, true
}

// Get reports the value for key, and whether it is present.
func (e *Expirator[K, V]) Get(key K) (V, bool) {
	e.μ.Lock()
	defer e.μ.Unlock()
	ent, ok := e.byKey[key]
	return ent.value, ok
}

// Len reports the number of entries that have neither expired nor been
// removed.
func (e *Expirator[K, V]) Len() int {
	e.μ.Lock()
	defer e.μ.Unlock()
	return len(e.byKey)
}

type expired[K comparable, V any] struct {
	key   K
	value V
}

// Tick advances the clock of e by one period, and expires all the entries
// whose timeouts have elapsed. Tick is called automatically by a started
// expirator, but may also be called directly.
func (e *Expirator[K, V]) Tick() {
	e.μ.Lock()
	e.now++
	keys := e.byBucket[e.now]
	delete(e.byBucket, e.now)
	fire := make([]expired[K, V], 0, keys.Len())
	for key := range keys {
		fire = append(fire, expired[K, V]{key: key, value: e.byKey[key].value})
		delete(e.byKey, key)
	}
	e.μ.Unlock()

	for _, x := range fire {
		e.onExpire(x.key, x.value)
	}
}

// ExpireAll immediately expires every entry in e, regardless of its timeout.
func (e *Expirator[K, V]) ExpireAll() {
	e.μ.Lock()
	fire := make([]expired[K, V], 0, len(e.byKey))
	for key, ent := range e.byKey {
		fire = append(fire, expired[K, V]{key: key, value: ent.value})
	}
	clear(e.byKey)
	clear(e.byBucket)
	e.μ.Unlock()

	for _, x := range fire {
		e.onExpire(x.key, x.value)
	}
}

// Start begins ticking e once per period, with ticks and expiry callbacks
// running on lp. Start does nothing if e is already running.
func (e *Expirator[K, V]) Start(lp *loop.Loop) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.lp != nil {
		return
	}
	e.lp = lp
	e.timer = lp.AfterFunc(e.period, e.tickAndReschedule)
}

func (e *Expirator[K, V]) tickAndReschedule() {
	e.Tick()

	e.μ.Lock()
	defer e.μ.Unlock()
	if e.lp != nil {
		e.timer = e.lp.AfterFunc(e.period, e.tickAndReschedule)
	}
}

// Stop halts the periodic ticks of e. Entries are retained, and will expire
// if e is restarted or ticked manually.
func (e *Expirator[K, V]) Stop() {
	e.μ.Lock()
	defer e.μ.Unlock()
	e.timer.Stop()
	e.lp, e.timer = nil, nil
}
