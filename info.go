package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattetti/mead/container/ivf"
	"github.com/mattetti/mead/container/mp4"
	"github.com/mattetti/mead/container/y4m"
	"github.com/mattetti/mead/media"
	"github.com/mattetti/mead/source"
)

type trackInfo struct {
	ID          uint32 `json:"id"`
	Kind        string `json:"kind"`
	Codec       string `json:"codec"`
	FourCC      string `json:"fourcc"`
	TimeBase    string `json:"time_base"`
	Samples     uint32 `json:"samples"`
	Duration    string `json:"duration"`
	Width       uint16 `json:"width,omitempty"`
	Height      uint16 `json:"height,omitempty"`
	Channels    uint16 `json:"channels,omitempty"`
	SampleRate  uint32 `json:"sample_rate,omitempty"`
	MaxSample   uint32 `json:"max_sample_size,omitempty"`
	Keyframes   int    `json:"keyframes"`
	PayloadSize uint64 `json:"payload_bytes"`
}

type rejectedInfo struct {
	Index  int    `json:"index"`
	ID     uint32 `json:"id,omitempty"`
	Reason string `json:"reason"`
}

type fileInfo struct {
	Path     string         `json:"path"`
	Format   string         `json:"format"`
	Size     uint64         `json:"size,omitempty"`
	Brand    string         `json:"brand,omitempty"`
	Brands   []string       `json:"compatible_brands,omitempty"`
	Tracks   []trackInfo    `json:"tracks,omitempty"`
	Rejected []rejectedInfo `json:"rejected,omitempty"`

	Codec     string `json:"codec,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Rate      string `json:"rate,omitempty"`
	PixFmt    string `json:"pixel_format,omitempty"`
	Frames    int64  `json:"frames,omitempty"`
	Declared  uint32 `json:"declared_frames,omitempty"`
	DataBytes int64  `json:"data_bytes,omitempty"`
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(fs.Output(), "Usage: mead info [-json] FILE...")
		return errUsage
	}
	var infos []*fileInfo
	for _, path := range fs.Args() {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := inspect(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		infos = append(infos, info)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	for _, info := range infos {
		printInfo(os.Stdout, info)
	}
	return nil
}

func sniff(src *source.File) (string, error) {
	head := make([]byte, 12)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", media.IOError("sniff", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", media.IOError("sniff", err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, []byte(ivf.Signature)):
		return "ivf", nil
	case bytes.HasPrefix(head, []byte("YUV4MPEG2")):
		return "y4m", nil
	default:
		return "mp4", nil
	}
}

func inspect(path string) (*fileInfo, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	format, err := sniff(src)
	if err != nil {
		return nil, err
	}
	info := &fileInfo{Path: path, Format: format}
	info.Size, _ = src.Len()
	switch format {
	case "ivf":
		return info, inspectIVF(src, info)
	case "y4m":
		return info, inspectY4M(src, info)
	default:
		return info, inspectMP4(src, info)
	}
}

func inspectMP4(src source.MediaSource, info *fileInfo) error {
	d, err := mp4.Open(src)
	if err != nil {
		return err
	}
	meta := d.Info()
	info.Brand = meta.MajorBrand
	info.Brands = meta.CompatibleBrands
	for _, t := range d.Tracks() {
		if err := d.SelectTrack(t.ID); err != nil {
			return err
		}
		ti := trackInfo{
			ID:         t.ID,
			Kind:       t.Kind.String(),
			Codec:      t.Codec.String(),
			FourCC:     t.FourCC,
			TimeBase:   t.TimeBase.String(),
			Samples:    t.SampleCount,
			Duration:   t.TimeBase.Duration(int64(t.Duration)).String(),
			Width:      t.Width,
			Height:     t.Height,
			Channels:   t.Channels,
			SampleRate: t.SampleRate,
		}
		for _, s := range d.Samples() {
			if s.Keyframe {
				ti.Keyframes++
			}
			if s.Size > ti.MaxSample {
				ti.MaxSample = s.Size
			}
			ti.PayloadSize += uint64(s.Size)
		}
		info.Tracks = append(info.Tracks, ti)
	}
	for _, r := range d.Rejected() {
		info.Rejected = append(info.Rejected, rejectedInfo{Index: r.Index, ID: r.ID, Reason: r.Err.Error()})
	}
	return nil
}

func inspectIVF(src io.Reader, info *fileInfo) error {
	r, err := ivf.NewReader(src)
	if err != nil {
		return err
	}
	h := r.Header()
	info.Codec = string(h.FourCC[:])
	info.Width = int(h.Width)
	info.Height = int(h.Height)
	info.Rate = h.TimeBase.String()
	info.Declared = h.FrameCount
	for {
		p, err := r.ReadPacket()
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		info.Frames++
		info.DataBytes += int64(len(p.Payload))
	}
}

func inspectY4M(src io.Reader, info *fileInfo) error {
	r, err := y4m.NewReader(src)
	if err != nil {
		return err
	}
	h := r.Header()
	info.Width = h.Width
	info.Height = h.Height
	info.Rate = fmt.Sprintf("%d:%d", h.Rate.Num, h.Rate.Den)
	info.PixFmt = h.Format.String()
	for {
		f, err := r.ReadFrame()
		if err != nil {
			return err
		}
		if f == nil {
			break
		}
		f.Release()
	}
	info.Frames = r.Count()
	info.DataBytes = info.Frames * int64(h.Format.FrameSize(h.Width, h.Height))
	return nil
}

func printInfo(w io.Writer, info *fileInfo) {
	fmt.Fprintf(w, "%s (%s)\n", info.Path, info.Format)
	switch info.Format {
	case "mp4":
		fmt.Fprintf(w, "  Brand: %s [%s]\n", info.Brand, strings.Join(info.Brands, " "))
		for _, t := range info.Tracks {
			fmt.Fprintf(w, "  Track %d: %s %s (%s)\n", t.ID, t.Kind, t.Codec, t.FourCC)
			fmt.Fprintf(w, "    Samples: %d, keyframes: %d, duration: %s, timebase: %s\n", t.Samples, t.Keyframes, t.Duration, t.TimeBase)
			if t.Width > 0 {
				fmt.Fprintf(w, "    Size: %dx%d\n", t.Width, t.Height)
			}
			if t.SampleRate > 0 {
				fmt.Fprintf(w, "    Audio: %d Hz, %d channels\n", t.SampleRate, t.Channels)
			}
			fmt.Fprintf(w, "    Payload: %d bytes, largest sample %d\n", t.PayloadSize, t.MaxSample)
		}
		for _, r := range info.Rejected {
			fmt.Fprintf(w, "  Trak #%d (id %d) rejected: %s\n", r.Index, r.ID, r.Reason)
		}
	case "ivf":
		fmt.Fprintf(w, "  Codec: %s %dx%d timebase %s\n", info.Codec, info.Width, info.Height, info.Rate)
		fmt.Fprintf(w, "  Frames: %d (header declares %d), %d bytes\n", info.Frames, info.Declared, info.DataBytes)
	case "y4m":
		fmt.Fprintf(w, "  %s %dx%d @ %s fps\n", info.PixFmt, info.Width, info.Height, info.Rate)
		fmt.Fprintf(w, "  Frames: %d, %d bytes\n", info.Frames, info.DataBytes)
	}
}
