package anchors

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// EachLine calls fn for every line of r, newline included. A UTF-8 byte
// order mark at the start of the stream is dropped.
func EachLine(r io.Reader, fn func(line []byte)) error {
	rd := bufio.NewReader(r)
	first := true
	for {
		line, err := rd.ReadBytes('\n')
		if first {
			line = bytes.TrimPrefix(line, utf8BOM)
			first = false
		}
		if len(line) > 0 {
			fn(line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
