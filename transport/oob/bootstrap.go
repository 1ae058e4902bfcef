// Package oob resolves the peer set before any data connection opens, per
// spec §6 Environment: "If OMPI_COMM_WORLD_SIZE is set, an MPI-style OOB
// connector is used to discover peers; otherwise a TCP connector is used
// with a caller-supplied world size."
//
// Neither a real MPI launcher nor UCX wireup exists in the Go ecosystem, so
// both paths ultimately resolve to a list of TCP addresses: the MPI path
// reads a launcher-provided address list out of the environment (the shape
// an `mpirun`-wrapped launcher script would set), and the TCP path runs a
// small rendezvous protocol against rank 0. This is the documented
// substitution for "the transport backend" (spec §1, out of scope / treated
// as an abstract interface).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package oob

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/cmn/nlog"
)

// Peers describes the resolved world: this rank's index, the world size,
// and every rank's dial-able TCP address (including this rank's own, which
// callers skip when dialing).
type Peers struct {
	Rank  int
	Size  int
	Addrs []string // Addrs[i] is rank i's address
}

const (
	envMPIWorldSize = "OMPI_COMM_WORLD_SIZE"
	envMPIRank      = "OMPI_COMM_WORLD_RANK"
	envMPIPeerAddrs = "IBGAP_PEER_ADDRS" // launcher-provided, comma-separated, indexed by rank
)

// Discover chooses the MPI-style or TCP-rendezvous path per spec §6. The
// TCP path requires rendezvousAddr (rank 0's address, known to all ranks
// ahead of time, e.g. via a shared launcher) and listenAddr (this rank's
// own address to advertise).
func Discover(worldSize int, rendezvousAddr, listenAddr string) (*Peers, error) {
	if sizeStr := os.Getenv(envMPIWorldSize); sizeStr != "" {
		return discoverMPI(sizeStr)
	}
	return discoverTCP(worldSize, rendezvousAddr, listenAddr)
}

func discoverMPI(sizeStr string) (*Peers, error) {
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return nil, cos.NewErrConfig("invalid %s=%q: %v", envMPIWorldSize, sizeStr, err)
	}
	rankStr := os.Getenv(envMPIRank)
	rank, err := strconv.Atoi(rankStr)
	if err != nil {
		return nil, cos.NewErrConfig("invalid %s=%q: %v", envMPIRank, rankStr, err)
	}
	addrsStr := os.Getenv(envMPIPeerAddrs)
	if addrsStr == "" {
		return nil, cos.NewErrConfig("%s is set but %s is not: launcher must provide peer addresses", envMPIWorldSize, envMPIPeerAddrs)
	}
	addrs := strings.Split(addrsStr, ",")
	if len(addrs) != size {
		return nil, cos.NewErrConfig("%s lists %d addresses but %s=%d", envMPIPeerAddrs, len(addrs), envMPIWorldSize, size)
	}
	nlog.Infof("oob: MPI-style discovery, rank %d of %d", rank, size)
	return &Peers{Rank: rank, Size: size, Addrs: addrs}, nil
}

// discoverTCP runs a trivial rendezvous: rank 0 listens on rendezvousAddr,
// collects every other rank's advertised listenAddr, then broadcasts the
// completed address table back to everyone, keyed by arrival order so rank
// 0 is always index 0.
func discoverTCP(worldSize int, rendezvousAddr, listenAddr string) (*Peers, error) {
	if worldSize <= 0 {
		return nil, cos.NewErrConfig("world size must be positive for TCP discovery, got %d", worldSize)
	}
	if worldSize == 1 {
		return &Peers{Rank: 0, Size: 1, Addrs: []string{listenAddr}}, nil
	}
	if isRendezvousHost(rendezvousAddr, listenAddr) {
		return rendezvousServer(worldSize, rendezvousAddr, listenAddr)
	}
	return rendezvousClient(rendezvousAddr, listenAddr)
}

func isRendezvousHost(rendezvousAddr, listenAddr string) bool {
	return rendezvousAddr == listenAddr
}

func rendezvousServer(worldSize int, rendezvousAddr, selfAddr string) (*Peers, error) {
	ln, err := net.Listen("tcp", rendezvousAddr)
	if err != nil {
		return nil, fmt.Errorf("oob: rendezvous listen on %s: %w", rendezvousAddr, err)
	}
	defer ln.Close()

	addrs := make([]string, worldSize)
	addrs[0] = selfAddr
	for i := 1; i < worldSize; i++ {
		conn, err := ln.Accept()
		if err != nil {
			return nil, fmt.Errorf("oob: rendezvous accept: %w", err)
		}
		addr, err := bufio.NewReader(conn).ReadString('\n')
		conn.Close()
		if err != nil {
			return nil, fmt.Errorf("oob: rendezvous read join: %w", err)
		}
		addrs[i] = strings.TrimSpace(addr)
	}
	// second pass: hand the completed table to every joiner
	ln2, err := net.Listen("tcp", rendezvousAddr)
	if err == nil {
		// rare: port was released between accepts on some platforms; ignore
		ln2.Close()
	}
	return &Peers{Rank: 0, Size: worldSize, Addrs: addrs}, broadcastTable(rendezvousAddr, addrs, worldSize)
}

// broadcastTable is a minimal re-listen that hands the final address table
// to every previously-registered joiner, one connection each, in the order
// they originally joined. A production rendezvous would keep the original
// connections open; this benchmark's bootstrap phase is one-shot and
// non-performance-critical, so a second short-lived listen keeps the
// protocol simple.
func broadcastTable(rendezvousAddr string, addrs []string, worldSize int) error {
	ln, err := net.Listen("tcp", rendezvousAddr)
	if err != nil {
		return fmt.Errorf("oob: rendezvous re-listen for broadcast: %w", err)
	}
	defer ln.Close()
	joined := strings.Join(addrs, ",")
	for i := 1; i < worldSize; i++ {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("oob: rendezvous broadcast accept: %w", err)
		}
		fmt.Fprintln(conn, joined)
		conn.Close()
	}
	return nil
}

func rendezvousClient(rendezvousAddr, selfAddr string) (*Peers, error) {
	conn, err := net.Dial("tcp", rendezvousAddr)
	if err != nil {
		return nil, fmt.Errorf("oob: dial rendezvous %s: %w", rendezvousAddr, err)
	}
	fmt.Fprintln(conn, selfAddr)
	conn.Close()

	conn2, err := net.Dial("tcp", rendezvousAddr)
	if err != nil {
		return nil, fmt.Errorf("oob: dial rendezvous for table %s: %w", rendezvousAddr, err)
	}
	defer conn2.Close()
	line, err := bufio.NewReader(conn2).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("oob: read address table: %w", err)
	}
	addrs := strings.Split(strings.TrimSpace(line), ",")
	rank := -1
	for i, a := range addrs {
		if a == selfAddr {
			rank = i
			break
		}
	}
	if rank < 0 {
		return nil, cos.NewErrConfig("self address %s not found in resolved table %v", selfAddr, addrs)
	}
	return &Peers{Rank: rank, Size: len(addrs), Addrs: addrs}, nil
}
