package tool

import (
	"bytes"
	"context"
	"os/exec"
	"slices"
	"sync"
	"time"
)

// workerProcess is the live handle of one spawned worker. It belongs to a
// single Execute call and is always reaped by wait before that call returns.
type workerProcess struct {
	cmd      *exec.Cmd
	stdout   *boundedBuffer
	stderr   *boundedBuffer
	started  time.Time
	deadline time.Time
}

func newWorkerProcess(ctx context.Context, def Definition, payload []byte, cfg ExecutorConfig) *workerProcess {
	args := slices.Clone(def.Worker.Args)
	if def.Worker.Input != InputStdin {
		args = append(args, string(payload))
	}

	// #nosec G204 -- command/args come from the startup catalogue, never from callers.
	cmd := exec.CommandContext(ctx, def.Worker.Command, args...)
	cmd.Dir = def.Worker.Dir
	cmd.Env = append(slices.Clone(cfg.BaseEnv), flattenEnv(def.Worker.Env)...)
	if def.Worker.Input == InputStdin {
		cmd.Stdin = bytes.NewReader(payload)
	}
	cmd.WaitDelay = cfg.WaitDelay
	configureProcessGroup(cmd)

	proc := &workerProcess{
		cmd:    cmd,
		stdout: newBoundedBuffer(cfg.MaxOutputBytes),
		stderr: newBoundedBuffer(cfg.MaxOutputBytes),
	}
	cmd.Stdout = proc.stdout
	cmd.Stderr = proc.stderr
	if deadline, ok := ctx.Deadline(); ok {
		proc.deadline = deadline
	}
	return proc
}

func (p *workerProcess) start() error {
	p.started = time.Now()
	return p.cmd.Start()
}

// wait blocks until the worker exits (or is killed) and its output streams
// are drained or force-closed. Anything left in the worker's process group
// is killed before wait returns.
func (p *workerProcess) wait() error {
	err := p.cmd.Wait()
	if p.cmd.Process != nil {
		killProcessGroup(p.cmd.Process.Pid)
	}
	return err
}

func (p *workerProcess) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *workerProcess) exitedCleanly() bool {
	return p.cmd.ProcessState != nil && p.cmd.ProcessState.Success()
}

// boundedBuffer keeps at most limit bytes and silently discards the rest so a
// chatty worker never blocks on a full pipe.
type boundedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func newBoundedBuffer(limit int64) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		b.overflow = b.overflow || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.overflow = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.buf.Bytes())
}

func (b *boundedBuffer) String() string {
	return string(b.Bytes())
}

func (b *boundedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
