// Package atomic provides small typed wrappers over sync/atomic, used by
// the multi-channel communicator for flags that are mutated from exactly
// one goroutine (the poll loop) but observed from others. The gap engines
// use sync/atomic directly.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type Int32 struct{ v int32 }

func (a *Int32) Load() int32        { return atomic.LoadInt32(&a.v) }
func (a *Int32) Store(n int32)      { atomic.StoreInt32(&a.v, n) }
func (a *Int32) Add(n int32) int32  { return atomic.AddInt32(&a.v, n) }
func (a *Int32) CAS(old, nw int32) bool {
	return atomic.CompareAndSwapInt32(&a.v, old, nw)
}

type Int64 struct{ v int64 }

func (a *Int64) Load() int64       { return atomic.LoadInt64(&a.v) }
func (a *Int64) Store(n int64)     { atomic.StoreInt64(&a.v, n) }
func (a *Int64) Add(n int64) int64 { return atomic.AddInt64(&a.v, n) }

type Uint64 struct{ v uint64 }

func (a *Uint64) Load() uint64       { return atomic.LoadUint64(&a.v) }
func (a *Uint64) Store(n uint64)     { atomic.StoreUint64(&a.v, n) }
func (a *Uint64) Add(n uint64) uint64 { return atomic.AddUint64(&a.v, n) }

type Uint32 struct{ v uint32 }

func (a *Uint32) Load() uint32       { return atomic.LoadUint32(&a.v) }
func (a *Uint32) Store(n uint32)     { atomic.StoreUint32(&a.v, n) }
func (a *Uint32) Add(n uint32) uint32 { return atomic.AddUint32(&a.v, n) }
func (a *Uint32) Inc() uint32         { return a.Add(1) }

type Bool struct{ v uint32 }

func (a *Bool) Load() bool {
	return atomic.LoadUint32(&a.v) != 0
}

func (a *Bool) Store(b bool) {
	if b {
		atomic.StoreUint32(&a.v, 1)
	} else {
		atomic.StoreUint32(&a.v, 0)
	}
}

// CAS sets the value to `to` iff the current value equals `from`.
func (a *Bool) CAS(from, to bool) bool {
	var fromV, toV uint32
	if from {
		fromV = 1
	}
	if to {
		toV = 1
	}
	return atomic.CompareAndSwapUint32(&a.v, fromV, toV)
}
