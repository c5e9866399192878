// Command unpack implements ParallelUnpack: it reads a ParallelPack stream
// from stdin (or a TCP peer) and materializes it under a destination
// directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/parapack/parapack/archive"
	"github.com/parapack/parapack/dedup"
	"github.com/parapack/parapack/posixfs/osfs"
)

const usage = `unpack - ParallelUnpack extractor

Usage:
  unpack [options] path

Options:
  -l       listen on TCP instead of reading stdin; accepts exactly one connection
  -h HOST  bind interface for -l
  -p PORT  listening/connect port (default 10000)
  -n       dry run
  -f       overwrite existing files
  -v       verbose on stderr
  -d ROOT  write into a deduplicating filesystem rooted at ROOT
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fset := flag.NewFlagSet("unpack", flag.ContinueOnError)
	fset.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	listen := fset.Bool("l", false, "listen on TCP")
	host := fset.String("h", "", "bind interface for -l")
	port := fset.Int("p", archive.DefaultPort, "listening/connect port")
	dryRun := fset.Bool("n", false, "dry run")
	force := fset.Bool("f", false, "overwrite existing files")
	verbose := fset.Bool("v", false, "verbose on stderr")
	dedupRoot := fset.String("d", "", "write into a deduplicating filesystem rooted at ROOT")

	if err := fset.Parse(args); err != nil {
		return 1
	}
	dest := fset.Arg(0)
	if dest == "" {
		fset.Usage()
		return 1
	}

	var opts []archive.UnpackerOption
	if *dryRun {
		opts = append(opts, archive.WithDryRun())
	}
	if *force {
		opts = append(opts, archive.WithForce())
	}
	if *verbose {
		opts = append(opts, archive.WithVerboseOut(os.Stderr))
	}

	destFS := osfs.New("")
	if *dedupRoot != "" {
		idx, err := dedup.New(destFS, *dedupRoot)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		opts = append(opts, archive.WithDedupIndex(idx))
	}

	var r io.Reader
	var conn net.Conn
	var err error
	if *listen {
		ln, lerr := net.Listen("tcp", fmt.Sprintf("%s:%d", *host, *port))
		if lerr != nil {
			fmt.Fprintln(os.Stderr, lerr)
			return 2
		}
		defer ln.Close()
		conn, err = ln.Accept()
	} else if *host != "" {
		conn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", *host, *port))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if conn != nil {
		defer conn.Close()
		opts = append(opts, archive.WithAck(conn))
		r = conn
	} else {
		r = os.Stdin
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	u, err := archive.NewUnpacker(destFS, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := u.Unpack(context.Background(), r, dest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}
