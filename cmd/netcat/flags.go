// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/absmach/netcat"
)

const usage = `usage: netcat [-46] [-wWq SECONDS] [-p PORT] [-s ADDR] {HOST PORT|-f FILE}
       netcat [-46] [-p PORT] [-s ADDR] [-W SECONDS] [-q SECONDS] {-l|-L} [COMMAND...]

Forward stdin/stdout to a file or network connection.

`

// parseFlags applies command line flags on top of cfg. Flags left unset keep
// the values cfg already holds from the environment; a mode or family flag
// replaces the environment's choice instead of combining with it.
func parseFlags(cfg *netcat.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("netcat", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}

	v4 := fs.Bool("4", false, "force IPv4")
	v6 := fs.Bool("6", false, "force IPv6")
	file := fs.String("f", cfg.File, "use `FILENAME` (ala /dev/ttyS0) instead of network")
	port := fs.String("p", cfg.LocalPort, "local `port` number")
	source := fs.String("s", cfg.SourceAddress, "local source `address`")
	quit := fs.Int("q", seconds(cfg.QuitDelay), "quit `SECONDS` after EOF on stdin, even if stdout hasn't closed yet")
	idle := fs.Int("W", seconds(cfg.Idle), "`SECONDS` timeout for idle connection")
	wait := fs.Int("w", seconds(cfg.Wait), "`SECONDS` timeout to establish connection")
	listen := fs.Bool("l", false, "listen for one incoming connection")
	listenMany := fs.Bool("L", false, "listen for multiple incoming connections (server mode)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// Only flags given on the command line replace environment values.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	switch {
	case *v4 && *v6:
		return errors.New("-4 and -6 are mutually exclusive")
	case *v4:
		cfg.Family = "4"
	case *v6:
		cfg.Family = "6"
	}
	if set["l"] || set["L"] {
		cfg.Listen = *listen
		cfg.ListenMany = *listenMany
	}
	if set["f"] {
		cfg.File = *file
	}
	if set["p"] {
		cfg.LocalPort = *port
	}
	if set["s"] {
		cfg.SourceAddress = *source
	}
	if set["q"] {
		cfg.QuitDelay = time.Duration(*quit) * time.Second
	}
	if set["W"] {
		cfg.Idle = time.Duration(*idle) * time.Second
	}
	if set["w"] {
		cfg.Wait = time.Duration(*wait) * time.Second
	}
	cfg.Args = fs.Args()

	return nil
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
