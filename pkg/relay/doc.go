// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay forwards bytes between two parties over raw descriptors.
//
// A relay multiplexes the read side of both parties with poll(2) and copies
// whatever arrives, in chunks of at most ChunkSize bytes, to the write side of
// the other party. Bytes keep their order within a direction; the two
// directions interleave freely.
//
// # Half close
//
// The parties are not symmetric. When the second party ends (typically local
// input running out), the first party's write side is shut down and the
// relay keeps reading the first party under the linger timeout, so a reply
// can still arrive:
//
//	echo "GET / HTTP/1.0" | netcat example.com 80
//
// When the first party ends (typically the network peer) there is nothing
// left to forward and the relay returns BothClosed.
package relay
