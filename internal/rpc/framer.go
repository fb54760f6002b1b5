package rpc

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Line is one decoded line from the subprocess's stdout: either a valid
// Message or a parse failure carrying the raw text.
type Line struct {
	Msg    Message
	Raw    string
	ParseErr error
}

// Framer reads newline-delimited JSON from r, one object per line, matching
// the agent's stdio dialect. Empty lines are skipped. A line that fails to
// parse as JSON is reported as a Line with ParseErr set and Msg zero-valued;
// it never stops the scan (§7: "subprocess stdout parse errors never kill
// the session").
//
// Only one goroutine may call Next for a given Framer: the reader is
// the sole consumer of stdout (§4.1 ordering guarantees, §5).
type Framer struct {
	scanner *bufio.Scanner
}

// NewFramer wraps r. The scanner buffer is grown generously since agent
// messages (e.g. thread/list results) can be large.
func NewFramer(r io.Reader) *Framer {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Framer{scanner: s}
}

// Next reads and frames the next non-empty line. It returns io.EOF when the
// underlying reader is exhausted (subprocess stdout closed).
func (f *Framer) Next() (Line, error) {
	for f.scanner.Scan() {
		text := f.scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return Line{Raw: text, ParseErr: err}, nil
		}
		return Line{Msg: msg, Raw: text}, nil
	}
	if err := f.scanner.Err(); err != nil {
		return Line{}, err
	}
	return Line{}, io.EOF
}
