// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	nerrors "github.com/absmach/netcat/pkg/errors"
	"golang.org/x/sys/unix"
)

// fixture is a relay between a socket pair end (the network party) and two
// pipes (the local party). The test drives the other ends.
type fixture struct {
	sock int // relayed socket
	peer int // test end of the socket pair

	in     int // local input read by the relay
	inW    int // test writes local input here
	out    int // local output written by the relay
	outR   int // test reads local output here
	closed map[int]bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Failed to create socket pair: %v", err)
	}
	var in, out [2]int
	if err := unix.Pipe2(in[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	if err := unix.Pipe2(out[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}

	f := &fixture{
		sock: sp[0], peer: sp[1],
		in: in[0], inW: in[1],
		out: out[1], outR: out[0],
		closed: map[int]bool{},
	}
	t.Cleanup(func() {
		for _, fd := range []int{f.sock, f.peer, f.in, f.inW, f.out, f.outR} {
			f.close(fd)
		}
	})
	return f
}

func (f *fixture) close(fd int) {
	if !f.closed[fd] {
		unix.Close(fd)
		f.closed[fd] = true
	}
}

func (f *fixture) run(ctx context.Context, opts Options) <-chan result {
	ch := make(chan result, 1)
	go func() {
		res, err := Relay(ctx, Endpoint{R: f.sock, W: f.sock}, Endpoint{R: f.in, W: f.out}, opts)
		ch <- result{res, err}
	}()
	return ch
}

type result struct {
	Result
	err error
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Relay did not finish in time")
		return result{}
	}
}

func readN(t *testing.T, fd, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	for got := 0; got < n; {
		m, err := unix.Read(fd, buf[got:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || m == 0 {
			t.Fatalf("Failed to read %d bytes: got %d, err %v", n, got, err)
		}
		got += m
	}
	return buf
}

func writeAll(t *testing.T, fd int, b []byte) {
	t.Helper()
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err != nil {
			t.Errorf("Failed to write: %v", err)
			return
		}
		b = b[n:]
	}
}

func TestRelay_RoundTrip(t *testing.T) {
	sizes := []int{1, 100, ChunkSize, 3*ChunkSize + 17}

	for _, size := range sizes {
		f := newFixture(t)
		ch := f.run(context.Background(), Options{})

		up := bytes.Repeat([]byte("u"), size)
		down := make([]byte, size)
		for i := range down {
			down[i] = byte(i)
		}

		go writeAll(t, f.inW, up)
		if got := readN(t, f.peer, size); !bytes.Equal(got, up) {
			t.Errorf("Size %d: local to network bytes differ", size)
		}
		go writeAll(t, f.peer, down)
		if got := readN(t, f.outR, size); !bytes.Equal(got, down) {
			t.Errorf("Size %d: network to local bytes differ", size)
		}

		f.close(f.peer)
		r := wait(t, ch)
		if r.err != nil {
			t.Fatalf("Size %d: unexpected error: %v", size, r.err)
		}
		if r.Outcome != BothClosed {
			t.Errorf("Size %d: expected %s, got %s", size, BothClosed, r.Outcome)
		}
		if r.Forward != int64(size) || r.Backward != int64(size) {
			t.Errorf("Size %d: expected %d bytes each way, got %d/%d", size, size, r.Forward, r.Backward)
		}
	}
}

func TestRelay_HalfClose(t *testing.T) {
	f := newFixture(t)
	ch := f.run(context.Background(), Options{Linger: 200 * time.Millisecond})

	writeAll(t, f.inW, []byte("GET /\n"))
	f.close(f.inW)

	if got := readN(t, f.peer, 6); string(got) != "GET /\n" {
		t.Errorf("Expected request, got %q", got)
	}
	// The relayed socket was shut down for writing.
	buf := make([]byte, 1)
	if n, err := unix.Read(f.peer, buf); n != 0 || err != nil {
		t.Errorf("Expected EOF on peer, got n=%d err=%v", n, err)
	}

	// The reply still arrives after local input ended.
	writeAll(t, f.peer, []byte("200 OK"))
	if got := readN(t, f.outR, 6); string(got) != "200 OK" {
		t.Errorf("Expected reply, got %q", got)
	}

	r := wait(t, ch)
	if r.err != nil {
		t.Fatalf("Unexpected error: %v", r.err)
	}
	if r.Outcome != LingerTimedOut {
		t.Errorf("Expected %s, got %s", LingerTimedOut, r.Outcome)
	}
}

func TestRelay_HalfCloseThenPeerCloses(t *testing.T) {
	f := newFixture(t)
	ch := f.run(context.Background(), Options{})

	f.close(f.inW)
	writeAll(t, f.peer, []byte("bye"))
	f.close(f.peer)

	r := wait(t, ch)
	if r.err != nil {
		t.Fatalf("Unexpected error: %v", r.err)
	}
	if r.Outcome != BothClosed {
		t.Errorf("Expected %s, got %s", BothClosed, r.Outcome)
	}
	if got := readN(t, f.outR, 3); string(got) != "bye" {
		t.Errorf("Expected bye, got %q", got)
	}
}

func TestRelay_IdleTimeout(t *testing.T) {
	f := newFixture(t)
	start := time.Now()
	r := wait(t, f.run(context.Background(), Options{Idle: 40 * time.Millisecond}))

	if r.err != nil {
		t.Fatalf("Unexpected error: %v", r.err)
	}
	if r.Outcome != IdleTimedOut {
		t.Errorf("Expected %s, got %s", IdleTimedOut, r.Outcome)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Relay returned too early after %v", elapsed)
	}
}

func TestRelay_WriteError(t *testing.T) {
	f := newFixture(t)
	f.close(f.outR)
	ch := f.run(context.Background(), Options{})

	writeAll(t, f.peer, []byte("lost"))

	r := wait(t, ch)
	if !errors.Is(r.err, nerrors.ErrRelayWrite) {
		t.Errorf("Expected ErrRelayWrite, got %v", r.err)
	}
	if !errors.Is(r.err, unix.EPIPE) {
		t.Errorf("Expected EPIPE, got %v", r.err)
	}
}

func TestRelay_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.run(ctx, Options{})

	time.Sleep(20 * time.Millisecond)
	cancel()

	if r := wait(t, ch); !errors.Is(r.err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", r.err)
	}
}

func TestPollinate(t *testing.T) {
	f := newFixture(t)

	ch := make(chan Outcome, 1)
	go func() {
		// Local input is the first party here: the network closing leaves
		// the relay lingering on local input.
		o, err := Pollinate(context.Background(), f.in, f.sock, f.sock, f.out, -1, 50*time.Millisecond)
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		ch <- o
	}()

	payload := bytes.Repeat([]byte{0xAB}, 100)
	writeAll(t, f.peer, payload)
	f.close(f.peer)

	if got := readN(t, f.outR, 100); !bytes.Equal(got, payload) {
		t.Error("Expected all 100 bytes on local output")
	}

	select {
	case o := <-ch:
		if o != LingerTimedOut {
			t.Errorf("Expected %s, got %s", LingerTimedOut, o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Pollinate did not finish in time")
	}
}

func TestPollinate_FirstPartyCloses(t *testing.T) {
	f := newFixture(t)
	f.close(f.inW)

	o, err := Pollinate(context.Background(), f.in, f.sock, f.sock, f.out, -1, -1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if o != BothClosed {
		t.Errorf("Expected %s, got %s", BothClosed, o)
	}
}
