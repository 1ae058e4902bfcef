//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// Portable fallback for builds that don't use the go:linkname fast path:
// nanoseconds since package init, read from the monotonic clock reading
// that time.Since uses.
func NanoTime() int64 { return int64(time.Since(start)) }
