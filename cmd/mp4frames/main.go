// Command mp4frames prints the picture type of every sample of the first H.264
// track of an MP4 file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattetti/mead/container/mp4"
	"github.com/mattetti/mead/internal/avc"
	"github.com/mattetti/mead/media"
	"github.com/mattetti/mead/source"
)

var (
	inputFlag   = flag.String("input", "", "Input file")
	debugFlag   = flag.Bool("debug", false, "Enable debug mode")
	summaryFlag = flag.Bool("summary", false, "Only print the totals")
)

func main() {
	flag.Parse()
	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *inputFlag == "" {
		fmt.Println("input file is required")
		flag.Usage()
		os.Exit(1)
	}
	if err := listFrames(*inputFlag); err != nil {
		slog.Error("listing frames", "input", *inputFlag, "error", err)
		os.Exit(1)
	}
}

func firstAVCTrack(d *mp4.Demuxer) (media.Track, error) {
	for _, t := range d.VideoTracks() {
		if t.Codec == media.CodecH264 && t.NALLengthSize > 0 {
			return t, d.SelectTrack(t.ID)
		}
	}
	return media.Track{}, errors.New("no H.264 track")
}

func listFrames(path string) error {
	src, err := source.Open(path)
	if err != nil {
		return err
	}
	d, err := mp4.Open(src)
	if err != nil {
		src.Close()
		return err
	}
	defer d.Close()

	track, err := firstAVCTrack(d)
	if err != nil {
		return err
	}
	slog.Debug("track", "id", track.ID, "samples", track.SampleCount, "size", fmt.Sprintf("%dx%d", track.Width, track.Height))

	counts := map[string]int{}
	idr := 0
	for i := 0; ; i++ {
		p, err := d.ReadPacket()
		if err != nil {
			return err
		}
		if p == nil {
			break
		}
		kind, isIDR, err := avc.FrameType(p.Payload, track.NALLengthSize)
		if errors.Is(err, avc.ErrNotSlice) {
			kind = "-"
		} else if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		counts[kind]++
		if isIDR {
			idr++
		}
		if !*summaryFlag {
			fmt.Printf("%6d pts=%-10d %-2s idr=%-5t key=%-5t size=%d\n", i, p.PTS, kind, isIDR, p.Keyframe, len(p.Payload))
		}
	}
	fmt.Printf("Track %d: I=%d P=%d B=%d IDR=%d\n", track.ID, counts["I"], counts["P"], counts["B"], idr)
	return nil
}
