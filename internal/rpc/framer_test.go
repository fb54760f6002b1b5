package rpc

import (
	"io"
	"strings"
	"testing"
)

func TestFramerSkipsEmptyLines(t *testing.T) {
	r := strings.NewReader("\n{\"method\":\"a\"}\n\n{\"method\":\"b\"}\n")
	f := NewFramer(r)

	line, err := f.Next()
	if err != nil || line.ParseErr != nil || line.Msg.Method != "a" {
		t.Fatalf("first line = %+v, err=%v", line, err)
	}
	line, err = f.Next()
	if err != nil || line.ParseErr != nil || line.Msg.Method != "b" {
		t.Fatalf("second line = %+v, err=%v", line, err)
	}
	if _, err := f.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFramerParseErrorDoesNotStopStream(t *testing.T) {
	r := strings.NewReader("not json\n{\"method\":\"ok\"}\n")
	f := NewFramer(r)

	line, err := f.Next()
	if err != nil || line.ParseErr == nil {
		t.Fatalf("expected parse error on first line, got %+v, err=%v", line, err)
	}

	line, err = f.Next()
	if err != nil || line.ParseErr != nil || line.Msg.Method != "ok" {
		t.Fatalf("expected second line to parse fine, got %+v, err=%v", line, err)
	}
}

func TestExtractThreadID(t *testing.T) {
	m := Message{Params: []byte(`{"threadId":"T1"}`)}
	id, ok := ExtractThreadID(m)
	if !ok || id != "T1" {
		t.Fatalf("got %q, %v", id, ok)
	}

	m = Message{Result: []byte(`{"thread_id":"T2"}`)}
	id, ok = ExtractThreadID(m)
	if !ok || id != "T2" {
		t.Fatalf("got %q, %v", id, ok)
	}

	m = Message{Result: []byte(`{"thread":{"id":"T3"}}`)}
	id, ok = ExtractThreadID(m)
	if !ok || id != "T3" {
		t.Fatalf("got %q, %v", id, ok)
	}

	m = Message{Params: []byte(`{"foo":"bar"}`)}
	if _, ok := ExtractThreadID(m); ok {
		t.Fatal("expected no thread id")
	}
}
