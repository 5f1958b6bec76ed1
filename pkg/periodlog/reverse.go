package periodlog

import (
	"bytes"
	"io"
)

const defaultBlockSize = 32 * 1024

// reverseLines yields the newline-delimited lines of r newest first, reading
// fixed-size blocks backwards from size. Only the bytes of the lines not yet
// consumed are held in memory.
type reverseLines struct {
	r       io.ReaderAt
	pos     int64
	pending []byte
	block   int64
}

func newReverseLines(r io.ReaderAt, size int64, block int) *reverseLines {
	if block <= 0 {
		block = defaultBlockSize
	}
	return &reverseLines{r: r, pos: size, block: int64(block)}
}

// next returns the previous non-empty line and its starting offset, or io.EOF
// once the start of the file is reached.
func (rl *reverseLines) next() ([]byte, int64, error) {
	for {
		if idx := bytes.LastIndexByte(rl.pending, '\n'); idx >= 0 {
			line := rl.pending[idx+1:]
			offset := rl.pos + int64(idx) + 1
			rl.pending = rl.pending[:idx]
			if len(line) == 0 {
				continue
			}
			return bytes.Clone(line), offset, nil
		}

		if rl.pos == 0 {
			if len(rl.pending) == 0 {
				return nil, 0, io.EOF
			}
			line := rl.pending
			rl.pending = nil
			return line, 0, nil
		}

		n := min(rl.block, rl.pos)
		buf := make([]byte, n, n+int64(len(rl.pending)))
		if _, err := rl.r.ReadAt(buf, rl.pos-n); err != nil && err != io.EOF {
			return nil, 0, err
		}
		rl.pos -= n
		rl.pending = append(buf, rl.pending...)
	}
}
