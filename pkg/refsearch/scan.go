package refsearch

import (
	"context"

	"github.com/refscan/refscan/pkg/proc"
)

// progressInterval is how many bytes of offset advance separate two
// progress reports within one range.
const progressInterval = 0x1000

// scanRange snapshots one range of target memory and sweeps it with the
// decoder, invoking the predicate on every decoded instruction. Bytes that
// do not decode are skipped one at a time, so the sweep realigns itself
// after embedded data or padding. initCallback makes the one-time
// predicate initialization call before the sweep; it must be set for
// exactly the first range of an operation.
func scanRange(ctx context.Context, mem proc.MemoryReader, dec proc.Decoder, rng ScanRange, sctx *SearchContext, predicate Predicate, initCallback bool, progress func(percent int)) error {
	data := make([]byte, rng.Size)
	n, err := mem.ReadMemory(data, rng.Start)
	if err != nil {
		return &MemoryReadError{Addr: rng.Start, Err: err}
	}
	if uint64(n) != rng.Size {
		return &MemoryReadError{Addr: rng.Start + uint64(n), Err: errShortRead}
	}

	if initCallback {
		predicate(nil, sctx)
	}

	maxLen := uint64(dec.MaxInstructionLength())
	var nextReport uint64

	for i := uint64(0); i < rng.Size; {
		if i >= nextReport {
			if err := ctx.Err(); err != nil {
				return err
			}
			progress(int(float64(i) / float64(rng.Size) * 100.0))
			nextReport += progressInterval
		}

		// Prevent the decoder from looking past the boundary.
		end := i + maxLen
		if end > rng.Size {
			end = rng.Size
		}

		// On a decode failure step stays 1: skip the byte and resync.
		step := uint64(1)
		if instr, err := dec.Decode(rng.Start+i, data[i:end]); err == nil {
			if predicate(instr, sctx) {
				sctx.addMatch()
			}
			step = uint64(instr.Size)
		}
		i += step
	}

	progress(100)
	return nil
}
