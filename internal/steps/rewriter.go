package steps

import (
	"bytes"
	"io"
	"slices"
)

const replaceChunk = 64 * 1024

// replaceReader substitutes every occurrence of old with repl while streaming.
// Matching runs on the source bytes only, so replacement text is never
// rescanned. Up to len(old)-1 unmatched source bytes are held back between
// reads in case a match straddles the boundary.
type replaceReader struct {
	src     io.Reader
	old     []byte
	repl    []byte
	pending []byte // source bytes not yet scanned past
	out     []byte // rewritten bytes waiting for Read
	err     error  // sticky source error, io.EOF included
}

func newReplaceReader(r io.Reader, old, repl []byte) io.Reader {
	if len(old) == 0 || bytes.Equal(old, repl) {
		return r
	}
	return &replaceReader{src: r, old: old, repl: repl}
}

func (rr *replaceReader) Read(p []byte) (int, error) {
	for len(rr.out) == 0 {
		if rr.err != nil {
			if len(rr.pending) == 0 {
				return 0, rr.err
			}
			rr.rewrite(true)
			continue
		}
		rr.fill()
		rr.rewrite(rr.err != nil)
	}
	n := copy(p, rr.out)
	rr.out = rr.out[n:]
	return n, nil
}

func (rr *replaceReader) fill() {
	start := len(rr.pending)
	rr.pending = slices.Grow(rr.pending, replaceChunk)
	n, err := rr.src.Read(rr.pending[start : start+replaceChunk])
	rr.pending = rr.pending[:start+n]
	if err != nil {
		rr.err = err
	}
}

// rewrite moves scanned bytes from pending to out. Unless final, a tail that
// may still begin a match stays pending.
func (rr *replaceReader) rewrite(final bool) {
	buf := rr.pending
	for {
		i := bytes.Index(buf, rr.old)
		if i < 0 {
			break
		}
		rr.out = append(rr.out, buf[:i]...)
		rr.out = append(rr.out, rr.repl...)
		buf = buf[i+len(rr.old):]
	}
	keep := 0
	if !final {
		keep = min(len(rr.old)-1, len(buf))
	}
	rr.out = append(rr.out, buf[:len(buf)-keep]...)
	rr.pending = append(rr.pending[:0], buf[len(buf)-keep:]...)
}
