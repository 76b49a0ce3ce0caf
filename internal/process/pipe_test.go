package process

import (
	"bytes"
	"context"
	"testing"
)

func TestPipeSeparatorsPerSession(t *testing.T) {
	requireUnix(t)
	p := New(shell("talker", "sleep 0.2; echo hello; echo oops 1>&2"))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var out, errb bytes.Buffer
	p.Pipe(Sinks{Stdout: &out, Stderr: &errb})
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := out.String(); got != "\nhello\n" {
		t.Fatalf("stdout = %q", got)
	}
	if got := errb.String(); got != "\noops\n" {
		t.Fatalf("stderr = %q", got)
	}
	p.Unpipe(Sinks{Stdout: &out, Stderr: &errb})
	if got := out.String(); got != "\nhello\n\n" {
		t.Fatalf("trailing separator missing: %q", got)
	}
	if p.attached(streamStdout) != 0 || p.attached(streamStderr) != 0 {
		t.Fatalf("bookkeeping not cleared after unpipe")
	}
}

func TestPipeSameSinkTwiceAttachesOnce(t *testing.T) {
	requireUnix(t)
	p := New(shell("dup", "sleep 0.2; echo once"))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var out bytes.Buffer
	p.Pipe(Sinks{Stdout: &out})
	p.Pipe(Sinks{Stdout: &out})
	if n := p.attached(streamStdout); n != 1 {
		t.Fatalf("expected a single listener, got %d", n)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := out.String(); got != "\nonce\n" {
		t.Fatalf("output duplicated or missing: %q", got)
	}
}

func TestPipeMultipleSinks(t *testing.T) {
	requireUnix(t)
	p := New(shell("fan", "sleep 0.2; echo x"))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var a, b bytes.Buffer
	p.Pipe(Sinks{Stdout: &a})
	p.Pipe(Sinks{Stdout: &b})
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if a.String() != "\nx\n" || b.String() != "\nx\n" {
		t.Fatalf("fan-out mismatch: %q %q", a.String(), b.String())
	}
}

func TestUnpipeWithoutOutputWritesNothing(t *testing.T) {
	requireUnix(t)
	p := New(shell("quiet", "sleep 5"))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Kill(context.Background(), nil) }()
	var out bytes.Buffer
	p.Pipe(Sinks{Stdout: &out})
	p.Unpipe(Sinks{Stdout: &out})
	if out.Len() != 0 {
		t.Fatalf("no data was forwarded, expected no separator, got %q", out.String())
	}
	if p.attached(streamStdout) != 0 {
		t.Fatalf("listener should be removed while the process is alive")
	}
}

func TestPipeIgnoredWhenNotRunning(t *testing.T) {
	p := New(Spec{Name: "idle", Command: []string{"sh"}})
	var out bytes.Buffer
	p.Pipe(Sinks{Stdout: &out})
	if p.attached(streamStdout) != 0 {
		t.Fatalf("pipe without a process must not register a sink")
	}
	p.Unpipe(Sinks{Stdout: &out})
	if out.Len() != 0 {
		t.Fatalf("unexpected write %q", out.String())
	}
}
