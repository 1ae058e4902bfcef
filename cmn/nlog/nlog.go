// Package nlog is the process-wide logger used by every rank: buffered,
// timestamped, severity-leveled, with an optional on-disk sink.
//
// This is a deliberately lighter rendition of aistore's cmn/nlog: aistore is
// a long-running storage daemon and needs buffer-pool recycling and log-file
// rotation to keep logging overhead off the hot path over days of uptime.
// A benchmark CLI runs for seconds to minutes and exits, so this version
// keeps the severity model and the Info/Warning/Error call shape but writes
// straight through a buffered writer instead, and never rotates.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

var (
	mu           sync.Mutex
	out          *bufio.Writer
	file         *os.File
	toStderr     = true
	alsoToStderr = false
	title        string
)

// SetTitle attaches a free-form identifier (e.g. "rank 3") prefixed to every
// subsequent line.
func SetTitle(s string) {
	mu.Lock()
	title = s
	mu.Unlock()
}

// SetLogFile redirects logging to the given file in addition to (or instead
// of) stderr, depending on also.
func SetLogFile(path string, also bool) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	mu.Lock()
	file = f
	out = bufio.NewWriter(f)
	alsoToStderr = also
	toStderr = false
	mu.Unlock()
	return nil
}

func InfoDepth(depth int, args ...any)    { logf(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { logf(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { logf(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { logf(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { logf(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { logf(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { logf(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { logf(sevErr, 1, format, args...) }

func logf(sev severity, depth int, format string, args ...any) {
	var line strings.Builder
	line.WriteByte(sevChar[sev])
	line.WriteByte(' ')
	line.WriteString(time.Now().Format("15:04:05.000000"))
	line.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 1); ok {
		line.WriteString(filepath.Base(fn))
		line.WriteByte(':')
		line.WriteString(strconv.Itoa(ln))
		line.WriteByte(' ')
	}
	if title != "" {
		line.WriteByte('[')
		line.WriteString(title)
		line.WriteString("] ")
	}
	if format == "" {
		fmt.Fprintln(&line, args...)
	} else {
		fmt.Fprintf(&line, format, args...)
		line.WriteByte('\n')
	}

	mu.Lock()
	defer mu.Unlock()
	if toStderr || alsoToStderr || sev >= sevErr {
		os.Stderr.WriteString(line.String())
	}
	if out != nil {
		out.WriteString(line.String())
		if sev >= sevWarn {
			out.Flush()
		}
	}
}

// Flush drains any buffered bytes to disk; pass exit=true on process
// shutdown to also close the underlying file.
func Flush(exit ...bool) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		out.Flush()
	}
	if len(exit) > 0 && exit[0] && file != nil {
		file.Sync()
		file.Close()
		file, out = nil, nil
	}
}
