package process

import (
	"io"
	"os"
)

type streamName string

const (
	streamStdout streamName = "stdout"
	streamStderr streamName = "stderr"
)

type sinkKey struct {
	stream streamName
	sink   io.Writer
}

// pipeMeta is the bookkeeping for one attached sink during one pipe session.
type pipeMeta struct {
	run    *run
	output bool // true once data was forwarded in this session
}

// Pipe forwards the running process's stdout/stderr to the given sinks. The
// first chunk a sink receives is preceded by a newline to separate it from
// earlier output. Attaching a sink that is already attached is a no-op. Pipe
// does nothing when no process is running.
func (p *Process) Pipe(s Sinks) {
	p.mu.Lock()
	r := p.run
	running := p.runningLocked()
	p.mu.Unlock()
	if !running {
		return
	}
	if s.Stdout != nil {
		p.attach(r, streamStdout, s.Stdout)
	}
	if s.Stderr != nil {
		p.attach(r, streamStderr, s.Stderr)
	}
}

// Unpipe detaches sinks. A trailing newline is written to a sink iff it
// received data during the session. Bookkeeping is cleared even when the
// process has already ended.
func (p *Process) Unpipe(s Sinks) {
	if s.Stdout != nil {
		p.detach(streamStdout, s.Stdout)
	}
	if s.Stderr != nil {
		p.detach(streamStderr, s.Stderr)
	}
}

func (p *Process) attach(r *run, stream streamName, w io.Writer) {
	p.pipeMu.Lock()
	defer p.pipeMu.Unlock()
	k := sinkKey{stream: stream, sink: w}
	if m, ok := p.piped[k]; ok && m.run == r {
		return
	}
	// an entry left over from an earlier run starts a fresh session
	p.piped[k] = &pipeMeta{run: r}
}

func (p *Process) detach(stream streamName, w io.Writer) {
	p.pipeMu.Lock()
	defer p.pipeMu.Unlock()
	k := sinkKey{stream: stream, sink: w}
	m, ok := p.piped[k]
	if !ok {
		return
	}
	delete(p.piped, k)
	if m.output {
		_, _ = io.WriteString(w, "\n")
	}
}

// attached reports how many sinks are currently bound to the stream.
func (p *Process) attached(stream streamName) int {
	p.pipeMu.Lock()
	defer p.pipeMu.Unlock()
	n := 0
	for k := range p.piped {
		if k.stream == stream {
			n++
		}
	}
	return n
}

// forward copies one stream of run r to the sinks attached for that run until
// the stream ends.
func (p *Process) forward(r *run, stream streamName, f *os.File) {
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			p.fanout(r, stream, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) fanout(r *run, stream streamName, chunk []byte) {
	p.pipeMu.Lock()
	defer p.pipeMu.Unlock()
	for k, m := range p.piped {
		if k.stream != stream || m.run != r {
			continue
		}
		if !m.output {
			_, _ = io.WriteString(k.sink, "\n")
			m.output = true
		}
		_, _ = k.sink.Write(chunk)
	}
}
