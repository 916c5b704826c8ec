package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

const defaultMaxLineBytes = 16 << 20

var errLineTooLong = errors.New("request line exceeds size limit")

// StdioConfig configures a StdioServer.
type StdioConfig struct {
	Engine Engine
	// MaxLineBytes bounds one request line; longer lines are answered with
	// INVALID_REQUEST and skipped.
	MaxLineBytes int
	Logger       *slog.Logger
}

// StdioServer speaks the line protocol: one JSON request per input line, one
// JSON response per output line. Calls run concurrently, so responses may be
// written in a different order than requests arrived.
type StdioServer struct {
	engine  Engine
	maxLine int
	logger  *slog.Logger
}

// NewStdioServer creates a StdioServer.
func NewStdioServer(cfg StdioConfig) *StdioServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLine := cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}
	return &StdioServer{engine: cfg.Engine, maxLine: maxLine, logger: logger}
}

// stdioLine is one decoded input line. A line with "cancel": true cancels the
// in-flight call carrying the same id instead of starting a new one.
type stdioLine struct {
	ID     any            `json:"id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Cancel bool           `json:"cancel"`
}

// session is the state of one Serve invocation.
type session struct {
	server *StdioServer
	ctx    context.Context

	writeMu sync.Mutex
	out     io.Writer

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// Serve reads requests from in until EOF or ctx is done and writes responses
// to out. At EOF it waits for in-flight calls to answer; when ctx is done
// in-flight calls are cancelled, answered and Serve returns ctx.Err().
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	sess := &session{
		server:   s,
		ctx:      dispatch.WithTransport(ctx, TransportStdio),
		out:      out,
		inFlight: make(map[string]context.CancelFunc),
	}

	type readResult struct {
		line []byte
		err  error
	}
	lines := make(chan readResult)
	// The reader may stay blocked on in after ctx is done; it exits on the
	// next read or when in is closed.
	go func() {
		reader := bufio.NewReaderSize(in, 64<<10)
		for {
			line, err := readLine(reader, s.maxLine)
			select {
			case lines <- readResult{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, errLineTooLong) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sess.wg.Wait()
			return ctx.Err()
		case res := <-lines:
			switch {
			case res.err == nil:
				sess.handle(res.line)
			case errors.Is(res.err, errLineTooLong):
				sess.write(dispatch.ErrorResponse(nil, tool.NewToolError(tool.KindInvalidRequest, res.err.Error(), nil)))
			case errors.Is(res.err, io.EOF):
				if len(bytes.TrimSpace(res.line)) > 0 {
					sess.handle(res.line)
				}
				sess.wg.Wait()
				return nil
			default:
				sess.wg.Wait()
				return fmt.Errorf("reading requests: %w", res.err)
			}
		}
	}
}

// readLine returns the next line without its terminator. Overlong lines are
// consumed and reported as errLineTooLong.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+1 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			if err != nil {
				return nil, err
			}
			return nil, errLineTooLong
		}
		return bytes.TrimRight(buf, "\r\n"), err
	}
}

func (sess *session) handle(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	logger := sess.server.logger

	var msg stdioLine
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()
	if err := decoder.Decode(&msg); err != nil {
		logger.Debug("malformed request line", slog.String("error", err.Error()))
		sess.write(dispatch.ErrorResponse(dispatch.RequestID(line), tool.NewToolError(tool.KindInvalidRequest, "malformed request envelope: "+err.Error(), err)))
		return
	}
	if err := dispatch.ExpectEOF(decoder); err != nil {
		sess.write(dispatch.ErrorResponse(msg.ID, tool.NewToolError(tool.KindInvalidRequest, err.Error(), err)))
		return
	}

	key := idKey(msg.ID)
	if msg.Cancel {
		sess.mu.Lock()
		cancel, ok := sess.inFlight[key]
		sess.mu.Unlock()
		if ok && key != "" {
			cancel()
		} else {
			logger.Debug("cancel for unknown call", slog.Any("call_id", msg.ID))
		}
		return
	}

	if strings.TrimSpace(msg.Tool) == "" {
		sess.write(dispatch.ErrorResponse(msg.ID, tool.NewToolError(tool.KindInvalidRequest, "tool is required", nil)))
		return
	}

	callCtx, cancel := context.WithCancel(sess.ctx)
	if key != "" {
		sess.mu.Lock()
		if _, dup := sess.inFlight[key]; dup {
			sess.mu.Unlock()
			cancel()
			sess.write(dispatch.ErrorResponse(msg.ID, tool.NewToolError(
				tool.KindInvalidRequest,
				fmt.Sprintf("a call with id %s is already in flight", key),
				nil,
			)))
			return
		}
		sess.inFlight[key] = cancel
		sess.mu.Unlock()
	}

	req := dispatch.Request{ID: msg.ID, Tool: msg.Tool, Args: msg.Args}
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		resp := sess.server.engine.Dispatch(callCtx, req)
		if key != "" {
			sess.mu.Lock()
			delete(sess.inFlight, key)
			sess.mu.Unlock()
		}
		cancel()
		sess.write(resp)
	}()
}

// write emits resp as exactly one line.
func (sess *session) write(resp dispatch.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		sess.server.logger.Error("encoding response", slog.Any("call_id", resp.ID), slog.String("error", err.Error()))
		data, _ = json.Marshal(dispatch.ErrorResponse(resp.ID, tool.NewToolError(tool.KindMalformedOutput, "response could not be encoded: "+err.Error(), err)))
	}
	data = append(data, '\n')

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if _, err := sess.out.Write(data); err != nil {
		sess.server.logger.Error("writing response", slog.Any("call_id", resp.ID), slog.String("error", err.Error()))
	}
}

// idKey canonicalizes an id for in-flight tracking. Null ids are not tracked.
func idKey(id any) string {
	if id == nil {
		return ""
	}
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Sprint(id)
	}
	return string(data)
}
