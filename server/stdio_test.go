package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

func serveLines(t *testing.T, srv *StdioServer, input string) map[string]dispatch.Response {
	t.Helper()
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	byID := make(map[string]dispatch.Response)
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		resp := decodeResponse(t, []byte(line))
		byID[idKey(resp.ID)] = resp
	}
	return byID
}

func TestStdioServeAnswersEveryLine(t *testing.T) {
	srv := NewStdioServer(StdioConfig{Engine: newTestDispatcher(t), Logger: quietLogger()})
	input := strings.Join([]string{
		`{"id": 1, "tool": "mean", "args": {"data": [1, 2, 3]}}`,
		``,
		`{"id": "two", "tool": "median", "args": {}}`,
		`{"id": 3, "tool": "mean", "args": {}}`,
		`{"id": 4}`,
		`{"id": 5, "tool": "broken", "args": {"data": []}}`,
	}, "\n")

	got := serveLines(t, srv, input)
	if len(got) != 5 {
		t.Fatalf("responses = %d, want 5: %+v", len(got), got)
	}
	if resp := got["1"]; !resp.OK() || resp.Presentation == nil {
		t.Fatalf("id 1 = %+v, want success with presentation", resp)
	}
	wantKinds := map[string]string{
		`"two"`: tool.KindUnknownTool,
		"3":     tool.KindInvalidArguments,
		"4":     tool.KindInvalidRequest,
		"5":     tool.KindMalformedOutput,
	}
	for id, kind := range wantKinds {
		resp := got[id]
		if resp.Error == nil || resp.Error.Kind != kind {
			t.Fatalf("id %s = %+v, want %s", id, resp, kind)
		}
	}
}

func TestStdioMalformedLineGetsNullID(t *testing.T) {
	srv := NewStdioServer(StdioConfig{Engine: newTestDispatcher(t), Logger: quietLogger()})
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), strings.NewReader("{oops\n"), &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), `{"id":null,"error":{"kind":"INVALID_REQUEST"`) {
		t.Fatalf("output = %q, want null-id INVALID_REQUEST", out.String())
	}
	if strings.Count(out.String(), "\n") != 1 {
		t.Fatalf("output = %q, want exactly one line", out.String())
	}
}

func TestStdioBadFieldKeepsID(t *testing.T) {
	srv := NewStdioServer(StdioConfig{Engine: newTestDispatcher(t), Logger: quietLogger()})
	got := serveLines(t, srv, `{"id":7,"tool":"mean","args":"x"}`+"\n"+
		`{"id":"a","tool":"mean","args":{"data":[1,2,3]}} {"id":"b","tool":"mean"}`+"\n")

	if len(got) != 2 {
		t.Fatalf("got %d responses, want 2: %v", len(got), got)
	}
	for _, key := range []string{idKey(json.Number("7")), idKey("a")} {
		resp, ok := got[key]
		if !ok {
			t.Fatalf("no response for id %s: %v", key, got)
		}
		if resp.Error == nil || resp.Error.Kind != tool.KindInvalidRequest {
			t.Fatalf("response for %s = %+v, want INVALID_REQUEST", key, resp)
		}
	}
}

func TestStdioOverlongLineIsSkipped(t *testing.T) {
	srv := NewStdioServer(StdioConfig{Engine: newTestDispatcher(t), MaxLineBytes: 80, Logger: quietLogger()})
	long := `{"id": 1, "tool": "mean", "args": {"data": [` + strings.Repeat("1,", 200) + `1]}}`
	got := serveLines(t, srv, long+"\n"+`{"id": 2, "tool": "mean", "args": {"data": [1]}}`+"\n")

	if resp := got[""]; resp.Error == nil || resp.Error.Kind != tool.KindInvalidRequest {
		t.Fatalf("overlong line response = %+v, want INVALID_REQUEST", resp)
	}
	if resp := got["2"]; !resp.OK() {
		t.Fatalf("following line = %+v, want success", resp)
	}
}

// pipeSession drives a StdioServer over pipes.
type pipeSession struct {
	t       *testing.T
	in      *io.PipeWriter
	scanner *bufio.Scanner
	done    chan error
}

func startPipeSession(t *testing.T, ctx context.Context, srv *StdioServer) *pipeSession {
	t.Helper()
	inReader, inWriter := io.Pipe()
	outReader, outWriter := io.Pipe()
	sess := &pipeSession{t: t, in: inWriter, scanner: bufio.NewScanner(outReader), done: make(chan error, 1)}
	go func() {
		err := srv.Serve(ctx, inReader, outWriter)
		_ = outWriter.Close()
		sess.done <- err
	}()
	return sess
}

func (p *pipeSession) send(line string) {
	p.t.Helper()
	if _, err := io.WriteString(p.in, line+"\n"); err != nil {
		p.t.Fatalf("writing request: %v", err)
	}
}

func (p *pipeSession) next() dispatch.Response {
	p.t.Helper()
	if !p.scanner.Scan() {
		p.t.Fatalf("no response line: %v", p.scanner.Err())
	}
	return decodeResponse(p.t, p.scanner.Bytes())
}

func TestStdioCancelMessage(t *testing.T) {
	d := newTestDispatcher(t)
	srv := NewStdioServer(StdioConfig{Engine: d, Logger: quietLogger()})
	sess := startPipeSession(t, context.Background(), srv)

	sess.send(`{"id": "long", "tool": "slow", "args": {"data": []}}`)
	waitFor(t, func() bool { return d.Stats().Executing == 1 })

	sess.send(`{"id": "fast", "tool": "mean", "args": {"data": [1]}}`)
	if resp := sess.next(); resp.ID != "fast" || !resp.OK() {
		t.Fatalf("first response = %+v, want fast success before slow call", resp)
	}

	sess.send(`{"id": "long", "cancel": true}`)
	resp := sess.next()
	if resp.ID != "long" || resp.Error == nil || resp.Error.Kind != tool.KindCancelled {
		t.Fatalf("response = %+v, want long CANCELLED", resp)
	}

	_ = sess.in.Close()
	if err := <-sess.done; err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
}

func TestStdioDuplicateInFlightID(t *testing.T) {
	d := newTestDispatcher(t)
	srv := NewStdioServer(StdioConfig{Engine: d, Logger: quietLogger()})
	sess := startPipeSession(t, context.Background(), srv)

	sess.send(`{"id": 7, "tool": "slow", "args": {"data": []}}`)
	waitFor(t, func() bool { return d.Stats().Executing == 1 })
	sess.send(`{"id": 7, "tool": "mean", "args": {"data": [1]}}`)

	resp := sess.next()
	if resp.Error == nil || resp.Error.Kind != tool.KindInvalidRequest {
		t.Fatalf("duplicate response = %+v, want INVALID_REQUEST", resp)
	}

	sess.send(`{"id": 7, "cancel": true}`)
	if resp := sess.next(); resp.Error == nil || resp.Error.Kind != tool.KindCancelled {
		t.Fatalf("response = %+v, want CANCELLED", resp)
	}
	_ = sess.in.Close()
	<-sess.done
}

func TestStdioContextCancelCancelsInFlight(t *testing.T) {
	d := newTestDispatcher(t)
	srv := NewStdioServer(StdioConfig{Engine: d, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	sess := startPipeSession(t, ctx, srv)

	sess.send(`{"id": 1, "tool": "slow", "args": {"data": []}}`)
	waitFor(t, func() bool { return d.Stats().Executing == 1 })
	cancel()

	if resp := sess.next(); resp.Error == nil || resp.Error.Kind != tool.KindCancelled {
		t.Fatalf("response = %+v, want CANCELLED", resp)
	}
	select {
	case err := <-sess.done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	_ = sess.in.Close()
}

func TestReadLine(t *testing.T) {
	reader := bufio.NewReaderSize(strings.NewReader("short\r\n"+strings.Repeat("x", 40)+"\nlast"), 16)

	line, err := readLine(reader, 10)
	if err != nil || string(line) != "short" {
		t.Fatalf("readLine() = %q, %v; want short", line, err)
	}
	if _, err := readLine(reader, 10); !errors.Is(err, errLineTooLong) {
		t.Fatalf("readLine() error = %v, want errLineTooLong", err)
	}
	line, err = readLine(reader, 10)
	if !errors.Is(err, io.EOF) || string(line) != "last" {
		t.Fatalf("readLine() = %q, %v; want last with EOF", line, err)
	}
}
