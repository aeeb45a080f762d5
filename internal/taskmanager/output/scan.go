package output

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

const (
	// readBufferSize bounds a single line. Longer lines are split into
	// readBufferSize chunks rather than growing the buffer.
	readBufferSize = 64 * 1024
)

// Scan reads newline-delimited text from r and calls emit with each line,
// tagged with stream, as soon as it is read. It returns nil when r reaches EOF
// or is closed by another goroutine, and the read error otherwise.
//
// Invalid UTF-8 is replaced rather than treated as an error.
func Scan(r io.Reader, stream Stream, emit func(Line)) error {
	br := bufio.NewReaderSize(r, readBufferSize)

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			emit(newLine(stream, chunk))
		}

		if err != nil {
			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				continue
			case errors.Is(err, io.EOF),
				errors.Is(err, os.ErrClosed),
				errors.Is(err, io.ErrClosedPipe):
				return nil
			default:
				return err
			}
		}
	}
}

func newLine(stream Stream, chunk []byte) Line {
	text := strings.TrimSuffix(string(chunk), "\n")
	text = strings.TrimSuffix(text, "\r")

	return Line{
		Stream: stream,
		Text:   strings.ToValidUTF8(text, "\uFFFD"),
		Time:   time.Now(),
	}
}
