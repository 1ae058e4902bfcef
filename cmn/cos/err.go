// Package cos provides the shared error taxonomy and small process-exit
// helpers used across the benchmark: ConfigError, UsageAfterEOF,
// TransportError, and TypeMismatch (spec §7), plus a multi-error collector
// for best-effort teardown paths that must swallow secondary failures.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/grinuri/ib-benchmark/cmn/debug"
	"github.com/grinuri/ib-benchmark/cmn/nlog"
)

type (
	// ErrConfig covers incomplete routing tables, misaligned packet sizes,
	// and world-size mismatches detected at construction time.
	ErrConfig struct {
		what string
	}

	// ErrTransport wraps a status reported by an async completion callback.
	ErrTransport struct {
		Op     string
		Status error
	}

	// ErrTypeMismatch signals that peers disagree on the channel-type
	// schema fingerprint.
	ErrTypeMismatch struct {
		Local, Remote uint64
		Peer          int
	}

	// Errs accumulates up to a handful of distinct errors, used on
	// best-effort cleanup paths (flush+barrier in destructors) that must
	// not panic or propagate a secondary failure.
	Errs struct {
		mu   sync.Mutex
		errs []error
	}
)

// ErrUsageAfterEOF is returned by send<c> once mark_eof(c) has been called
// locally; it is a sentinel, not a formatted error, since the call site is
// always a programmer error at a known channel index.
var ErrUsageAfterEOF = errors.New("send on channel after local EOF")

func NewErrConfig(format string, a ...any) *ErrConfig {
	return &ErrConfig{fmt.Sprintf(format, a...)}
}

func (e *ErrConfig) Error() string { return "config: " + e.what }

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Status)
}

func (e *ErrTransport) Unwrap() error { return e.Status }

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("channel-type schema mismatch with peer %d: local=%x remote=%x",
		e.Peer, e.Local, e.Remote)
}

const maxErrs = 4

// Add records err unless an error with the same message is already present.
func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, prev := range e.errs {
		if prev.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

// JoinErr returns the accumulated errors joined into one, or nil if empty.
func (e *Errs) JoinErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}

const fatalPrefix = "FATAL ERROR: "

// Exitf prints a fatal message to stderr and exits with status 1. Used for
// configuration and programmer-error conditions, which fail fast per spec §7.
func Exitf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// ExitLogf is Exitf plus a best-effort flush of the logger before exiting.
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	nlog.ErrorDepth(1, msg)
	nlog.Flush(true)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
