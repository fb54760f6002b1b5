package main

import (
	"testing"

	"github.com/codexmonitor/daemon/internal/codexerr"
)

func TestUnknownFlagClassifiedAsInvalidArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--not-a-real-flag"})
	cmd.SetOut(newDiscardWriter())
	cmd.SetErr(newDiscardWriter())
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if codexerr.KindOf(err) != codexerr.KindInvalid {
		t.Fatalf("KindOf(err) = %v, want KindInvalid", codexerr.KindOf(err))
	}
}

func TestServeFlagsMutuallyExclusive(t *testing.T) {
	cmd := newServeCmd()
	cmd.SetArgs([]string{"--token", "a", "--insecure-no-auth", "--data-dir", t.TempDir()})
	cmd.SetOut(newDiscardWriter())
	cmd.SetErr(newDiscardWriter())
	err := cmd.ExecuteContext(t.Context())
	if err == nil {
		t.Fatal("expected error for mutually exclusive flags")
	}
}

func TestServeParsesDataDirFlag(t *testing.T) {
	cmd := newServeCmd()
	cmd.RunE = nil // skip actually binding a listener
	if err := cmd.ParseFlags([]string{"--data-dir", t.TempDir()}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newDiscardWriter() discardWriter { return discardWriter{} }
