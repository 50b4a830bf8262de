package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattetti/mead/codec"
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/pipeline"
)

// progressEvery is how many packets go by between debug progress lines.
const progressEvery = 250

func progress(log *slog.Logger) pipeline.Option {
	return pipeline.WithProgress(progressEvery, func(s pipeline.Stats) {
		log.Debug("progress", "packets", s.PacketsWritten, "frames", s.FramesDecoded, "bytes", s.BytesWritten)
	})
}

func logResult(res pipeline.Result) {
	slog.Info("done",
		"job", res.ID,
		"kind", res.Kind,
		"output", res.Output,
		"packets", res.Stats.PacketsWritten,
		"frames_decoded", res.Stats.FramesDecoded,
		"frames_encoded", res.Stats.FramesEncoded,
		"skipped", res.Stats.Skipped,
		"bytes", res.Stats.BytesWritten,
		"elapsed", res.Elapsed,
	)
}

func run(ctx context.Context, job pipeline.Job) error {
	log := slog.With("component", "pipeline", "kind", job.Kind, "input", job.Input)
	job.Options = append(job.Options, progress(log))
	res, err := pipeline.RunJob(ctx, job)
	if err != nil {
		return err
	}
	logResult(res)
	return nil
}

func requireOutput(fs *flag.FlagSet, out string, inputs int) error {
	if out == "" || fs.NArg() != inputs {
		fs.Usage()
		return errUsage
	}
	return nil
}

func runRemux(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remux", flag.ContinueOnError)
	out := fs.String("o", "", "Output IVF file, or directory when several inputs are given")
	track := fs.Uint("track", 0, "Track ID to copy (default: first video track)")
	jobs := fs.Int("j", 2, "Files remuxed in parallel")
	maxSample := fs.Uint("max-sample", 0, "Largest sample size in bytes (default 64 MiB)")
	skip := fs.Bool("skip-oversized", false, "Drop samples over the size limit instead of failing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" || fs.NArg() == 0 {
		fmt.Fprintln(fs.Output(), "Usage: mead remux -o OUT [-track N] [-j N] IN.mp4...")
		fs.PrintDefaults()
		return errUsage
	}

	base := pipeline.Job{Kind: pipeline.KindRemux, Track: uint32(*track), MaxSampleSize: uint32(*maxSample)}
	if *skip {
		base.Options = append(base.Options, pipeline.WithSkipOversized())
	}
	if fs.NArg() == 1 {
		base.Input, base.Output = fs.Arg(0), *out
		return run(ctx, base)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	var batch []pipeline.Job
	for _, in := range fs.Args() {
		job := base
		job.Input = in
		name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + ".ivf"
		job.Output = filepath.Join(*out, name)
		job.Options = append([]pipeline.Option{progress(slog.With("input", in))}, base.Options...)
		batch = append(batch, job)
	}
	results, err := pipeline.RunJobs(ctx, batch, *jobs)
	for _, res := range results {
		if res.Output != "" && res.Elapsed > 0 {
			logResult(res)
		}
	}
	return err
}

// parseSize parses WxH.
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q, want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	return w, h, nil
}

func engineFlags(fs *flag.FlagSet) (engine *string, lookahead, keyint *int) {
	engine = fs.String("engine", "", "Encoder engine (default rawvideo)")
	lookahead = fs.Int("lookahead", 0, fmt.Sprintf("Frames the encoder may hold, 0..%d", codec.MaxLookahead))
	keyint = fs.Int("keyint", 0, "Keyframe interval (0: engine default)")
	return engine, lookahead, keyint
}

func runEncode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	out := fs.String("o", "", "Output IVF file")
	in := fs.String("i", "", "Input Y4M file, - for stdin")
	pattern := fs.String("pattern", "", "Generate a WxH test pattern instead of reading input")
	frames := fs.Int("frames", 60, "Pattern length in frames")
	pixfmt := fs.String("pixfmt", "yuv420p", "Pattern pixel format")
	engine, lookahead, keyint := engineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" || (*in == "") == (*pattern == "") {
		fmt.Fprintln(fs.Output(), "Usage: mead encode -o OUT.ivf [-i IN.y4m | -pattern WxH -frames N] [-lookahead N] [-keyint N]")
		fs.PrintDefaults()
		return errUsage
	}
	job := pipeline.Job{
		Kind:             pipeline.KindEncode,
		Input:            *in,
		Output:           *out,
		Engine:           *engine,
		Lookahead:        *lookahead,
		KeyframeInterval: *keyint,
	}
	if *pattern != "" {
		w, h, err := parseSize(*pattern)
		if err != nil {
			return err
		}
		format, err := frame.ParsePixelFormat(*pixfmt)
		if err != nil {
			return err
		}
		job.Input = "pattern"
		job.Pattern = &pipeline.PatternSource{Width: w, Height: h, Format: format, Frames: *frames}
	}
	return run(ctx, job)
}

func runDecode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	out := fs.String("o", "", "Output Y4M file")
	track := fs.Uint("track", 0, "MP4 track ID to decode (default: first video track)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Usage = func() { fmt.Fprintln(fs.Output(), "Usage: mead decode -o OUT.y4m [-track N] IN.ivf|IN.mp4") }
	if err := requireOutput(fs, *out, 1); err != nil {
		return err
	}
	return run(ctx, pipeline.Job{Kind: pipeline.KindDecode, Input: fs.Arg(0), Output: *out, Track: uint32(*track)})
}

func runTranscode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transcode", flag.ContinueOnError)
	out := fs.String("o", "", "Output IVF file")
	track := fs.Uint("track", 0, "MP4 track ID to transcode (default: first video track)")
	engine, lookahead, keyint := engineFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: mead transcode -o OUT.ivf [-track N] [-lookahead N] [-keyint N] IN.ivf|IN.mp4")
	}
	if err := requireOutput(fs, *out, 1); err != nil {
		return err
	}
	return run(ctx, pipeline.Job{
		Kind:             pipeline.KindTranscode,
		Input:            fs.Arg(0),
		Output:           *out,
		Track:            uint32(*track),
		Engine:           *engine,
		Lookahead:        *lookahead,
		KeyframeInterval: *keyint,
	})
}

func runEngines(ctx context.Context, args []string) error {
	for _, e := range codec.Engines() {
		var roles []string
		if e.Encoder {
			roles = append(roles, "encoder")
		}
		if e.Decoder {
			roles = append(roles, "decoder")
		}
		fmt.Printf("%-12s %s\n", e.Name, strings.Join(roles, ", "))
	}
	return nil
}
