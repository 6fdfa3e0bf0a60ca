package ipc

import (
	"os"
	"testing"
	"time"
)

func TestWriteReadCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := WriteCommand(CmdWord, "hi"); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	cmd, arg, err := ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != CmdWord || arg != "hi" {
		t.Errorf("got (%q,%q), want (word,hi)", cmd, arg)
	}

	// Command file is cleared after a read.
	cmd, _, err = ReadCommand()
	if err != nil {
		t.Fatalf("second ReadCommand: %v", err)
	}
	if cmd != "" {
		t.Errorf("expected cleared command, got %q", cmd)
	}
}

func TestReadCommandNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd, arg, err := ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != "" || arg != "" {
		t.Errorf("expected empty command, got (%q,%q)", cmd, arg)
	}
}

func TestReadCommandUnknownVerbIgnored(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := os.MkdirAll(os.Getenv("HOME")+"/.cache/signcoach", 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(CommandPath(), []byte("explode now"), 0644); err != nil {
		t.Fatal(err)
	}
	cmd, _, err := ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != "" {
		t.Errorf("unknown verbs must be ignored, got %q", cmd)
	}
}

func TestWriteReadStatus(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	in := &StatusSnapshot{
		State:           "ready",
		Word:            "hi",
		ExpectedClassID: "1",
		ClipAttached:    true,
		RecorderBackend: "chunk",
		Timestamp:       time.Now(),
	}
	if err := WriteStatus(in); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	out, err := ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if out.State != "ready" || out.Word != "hi" || out.ExpectedClassID != "1" {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if !out.ClipAttached {
		t.Error("clip_attached lost in round trip")
	}
}
