package mp4

import (
	"github.com/abema/go-mp4"

	"github.com/mattetti/mead/media"
)

// buildSamples expands the sample tables into one Sample per sample, in
// decode order. Memory is proportional to the sample count, which is capped
// by cfg.MaxSampleCount and checked against the tables before allocating.
func buildSamples(st *sampleTables, length uint64, cfg Config) ([]Sample, error) {
	if st.stsz == nil {
		return nil, media.Malformed("stbl", "missing stsz")
	}
	if st.stts == nil {
		return nil, media.Malformed("stbl", "missing stts")
	}
	if st.stsc == nil {
		return nil, media.Malformed("stbl", "missing stsc")
	}
	var chunkOffsets []uint64
	switch {
	case st.co64 != nil:
		chunkOffsets = st.co64.ChunkOffset
	case st.stco != nil:
		chunkOffsets = make([]uint64, len(st.stco.ChunkOffset))
		for i, off := range st.stco.ChunkOffset {
			chunkOffsets[i] = uint64(off)
		}
	default:
		return nil, media.Malformed("stbl", "missing stco and co64")
	}

	count := st.stsz.SampleCount
	constSize := st.stsz.SampleSize
	if count > cfg.MaxSampleCount {
		return nil, &media.SizeLimitError{Op: "stsz sample count", Size: uint64(count), Limit: uint64(cfg.MaxSampleCount)}
	}
	if constSize == 0 && uint32(len(st.stsz.EntrySize)) != count {
		return nil, media.Malformed("stsz", "%d entries for %d samples", len(st.stsz.EntrySize), count)
	}
	// a constant size covers every sample, so the total must fit even when
	// the size itself is over the ceiling
	if constSize != 0 && uint64(constSize)*uint64(count) > length {
		return nil, media.Malformed("stsz", "%d samples of %d bytes exceed source length %d", count, constSize, length)
	}

	var total uint64
	for _, e := range st.stts.Entries {
		total += uint64(e.SampleCount)
	}
	if total != uint64(count) {
		return nil, media.Malformed("stts", "covers %d samples, stsz declares %d", total, count)
	}
	if st.ctts != nil {
		total = 0
		for _, e := range st.ctts.Entries {
			total += uint64(e.SampleCount)
		}
		if total > uint64(count) {
			return nil, media.Malformed("ctts", "covers %d samples, stsz declares %d", total, count)
		}
	}
	if err := checkStsc(st.stsc, len(chunkOffsets)); err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, count)
	sizeOf := func(i uint32) uint32 {
		if constSize != 0 {
			return constSize
		}
		return st.stsz.EntrySize[i]
	}

	var (
		dts      uint64
		sttsIdx  int
		sttsLeft uint32
		cttsIdx  int
		cttsLeft uint32
		stssIdx  int
		index    uint32
	)
	if len(st.stts.Entries) > 0 {
		sttsLeft = st.stts.Entries[0].SampleCount
	}
	if st.ctts != nil && len(st.ctts.Entries) > 0 {
		cttsLeft = st.ctts.Entries[0].SampleCount
	}

	for si, entry := range st.stsc.Entries {
		end := uint32(len(chunkOffsets))
		if si != len(st.stsc.Entries)-1 {
			end = st.stsc.Entries[si+1].FirstChunk - 1
		}
		for ci := entry.FirstChunk - 1; ci < end && index < count; ci++ {
			offset := chunkOffsets[ci]
			for n := uint32(0); n < entry.SamplesPerChunk && index < count; n++ {
				s := Sample{Offset: offset, Size: sizeOf(index), DTS: dts, Keyframe: st.stss == nil}

				// samples over the ceiling fail on read and are not bounds checked here
				if s.Size <= cfg.MaxSampleSize && (s.Offset > length || uint64(s.Size) > length-s.Offset) {
					return nil, media.Malformed("sample index", "sample %d at offset %d size %d exceeds source length %d", index, s.Offset, s.Size, length)
				}

				for sttsLeft == 0 {
					sttsIdx++
					sttsLeft = st.stts.Entries[sttsIdx].SampleCount
				}
				dts += uint64(st.stts.Entries[sttsIdx].SampleDelta)
				sttsLeft--

				if st.ctts != nil {
					for cttsLeft == 0 && cttsIdx+1 < len(st.ctts.Entries) {
						cttsIdx++
						cttsLeft = st.ctts.Entries[cttsIdx].SampleCount
					}
					if cttsLeft > 0 {
						s.CompOffset = st.ctts.GetSampleOffset(cttsIdx)
						cttsLeft--
					}
				}

				if st.stss != nil {
					nums := st.stss.SampleNumber
					for stssIdx < len(nums) && nums[stssIdx] < index+1 {
						stssIdx++
					}
					s.Keyframe = stssIdx < len(nums) && nums[stssIdx] == index+1
				}

				samples = append(samples, s)
				offset += uint64(s.Size)
				index++
			}
		}
	}
	if index != count {
		return nil, media.Malformed("stsc", "chunks hold %d samples, stsz declares %d", index, count)
	}
	return samples, nil
}

func checkStsc(stsc *mp4.Stsc, chunks int) error {
	for i, e := range stsc.Entries {
		switch {
		case e.FirstChunk == 0:
			return media.Malformed("stsc", "entry %d: first chunk is 0", i)
		case i == 0 && e.FirstChunk != 1:
			return media.Malformed("stsc", "first entry starts at chunk %d", e.FirstChunk)
		case i > 0 && e.FirstChunk <= stsc.Entries[i-1].FirstChunk:
			return media.Malformed("stsc", "entry %d: first chunk %d not increasing", i, e.FirstChunk)
		case uint64(e.FirstChunk) > uint64(chunks):
			return media.Malformed("stsc", "entry %d: first chunk %d beyond %d chunks", i, e.FirstChunk, chunks)
		case e.SamplesPerChunk == 0:
			return media.Malformed("stsc", "entry %d: zero samples per chunk", i)
		}
	}
	return nil
}
