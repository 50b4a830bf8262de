// Command mead inspects, remuxes, encodes and decodes media files.
//
//	mead info [-json] FILE...
//	mead remux -o OUT [-track N] [-j N] IN.mp4...
//	mead encode -o OUT.ivf [-i IN.y4m | -pattern WxH -frames N] [-lookahead N] [-keyint N]
//	mead decode -o OUT.y4m [-track N] IN.ivf|IN.mp4
//	mead transcode -o OUT.ivf [-track N] [-lookahead N] [-keyint N] IN.ivf|IN.mp4
//	mead engines
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattetti/mead/codec/rawvideo"
)

var debug = flag.Bool("debug", false, "Enable debug logging")

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{"info", "print container and track metadata", runInfo},
	{"remux", "copy an MP4 video track into IVF", runRemux},
	{"encode", "encode Y4M or a test pattern into IVF", runEncode},
	{"decode", "decode IVF or MP4 into Y4M", runDecode},
	{"transcode", "decode IVF or MP4 and re-encode into IVF", runTranscode},
	{"engines", "list registered codec engines", runEngines},
}

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: mead [-debug] <command> [flags] [files]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(flag.CommandLine.Output())
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := flag.Arg(0)
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(ctx, flag.Args()[1:])
		switch {
		case err == nil:
			return
		case errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp):
			os.Exit(2)
		case errors.Is(err, context.Canceled):
			slog.Warn("interrupted", "command", name)
			os.Exit(130)
		default:
			slog.Error("command failed", "command", name, "error", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
	usage()
	os.Exit(2)
}
