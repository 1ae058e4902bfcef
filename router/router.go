// Package router computes, for a given rank, the ordered list of peers it
// sends to. The same routing table and default policy are shared by the
// gap-bounded engines and the channel runner.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package router

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/cmn/debug"
)

type (
	// Rank identifies a peer process, in [0, WorldSize).
	Rank = uint64

	// Route is an ordered list of destination ranks; order is significant
	// for a complete table (ties broken by table insertion order) and for
	// the default to_all expansion (ring order).
	Route []Rank

	// Table maps a sender rank to its (possibly empty) destination list.
	// A rank absent from the table falls back to DefaultPolicy.
	Table map[Rank]Route

	DefaultPolicy int
)

const (
	ToAll DefaultPolicy = iota
	ToNone
)

// Router is a pure function of (worldSize, rank, table, policy): the same
// instance returns the same Route on every call to Route().
type Router struct {
	worldSize Rank
	rank      Rank
	table     Table
	policy    DefaultPolicy
	route     Route // computed once, at construction
}

func New(worldSize, rank Rank, table Table, policy DefaultPolicy) *Router {
	debug.Assert(rank < worldSize, "rank must be < worldSize")
	r := &Router{
		worldSize: worldSize,
		rank:      rank,
		table:     table,
		policy:    policy,
	}
	r.route = r.compute()
	return r
}

func (r *Router) compute() Route {
	if entry, ok := r.table[r.rank]; ok {
		out := make(Route, 0, len(entry))
		for _, dest := range entry {
			if dest < r.worldSize {
				out = append(out, dest)
			}
		}
		return out
	}
	if r.policy == ToNone {
		return Route{}
	}
	// to_all: ring order starting from (self+1) mod N, excluding self
	out := make(Route, 0, r.worldSize-1)
	for dest := (r.rank + 1) % r.worldSize; dest != r.rank; dest = (dest + 1) % r.worldSize {
		out = append(out, dest)
	}
	return out
}

// Route returns this rank's destination list. Stable across calls.
func (r *Router) Route() Route { return r.route }

// IsComplete reports whether every sender's route, together with the
// sender itself, covers the full world. Under a to_none default, every
// sender must appear explicitly in the table.
func (r *Router) IsComplete() bool {
	return r.table.IsComplete(r.worldSize, r.policy)
}

// IsComplete is the table-only half of Router.IsComplete, usable before a
// Router is constructed (e.g. at CLI-argument validation time).
func (t Table) IsComplete(worldSize Rank, policy DefaultPolicy) bool {
	if policy != ToAll && Rank(len(t)) < worldSize {
		return false
	}
	for from, tos := range t {
		seen := make(map[Rank]struct{}, len(tos)+1)
		seen[from] = struct{}{}
		for _, to := range tos {
			if to < worldSize {
				seen[to] = struct{}{}
			}
		}
		if Rank(len(seen)) < worldSize {
			return false
		}
	}
	return true
}

// LoadTable parses the line-oriented "sender ':' dest (',' dest)*" format
// from spec §6. Unlike the original loader (which silently drops malformed
// lines), this rejects the file on the first bad line: a benchmark that
// silently mis-routes traffic produces numbers nobody can trust. See
// DESIGN.md for this Open-Question resolution.
func LoadTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// no file, no table - that's fine, callers fall back to policy
			return Table{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseTable(f)
}

func ParseTable(r io.Reader) (Table, error) {
	table := make(Table)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sender, route, err := parseLine(line)
		if err != nil {
			return nil, cos.NewErrConfig("routing table %s:%d: %v", path(r), lineNo, err)
		}
		table[sender] = route
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func parseLine(line string) (Rank, Route, error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("missing ':' in %q", line)
	}
	sender, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("bad sender rank in %q: %w", line, err)
	}
	dests := strings.TrimSpace(parts[1])
	if dests == "" {
		return sender, Route{}, nil
	}
	var route Route
	for _, tok := range strings.Split(dests, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		dest, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("bad destination rank in %q: %w", line, err)
		}
		route = append(route, dest)
	}
	return sender, route, nil
}

// path best-effort-recovers a filename for error messages; io.Reader alone
// doesn't carry one, so this only helps when r is an *os.File.
func path(r io.Reader) string {
	if f, ok := r.(*os.File); ok {
		return f.Name()
	}
	return "<table>"
}
