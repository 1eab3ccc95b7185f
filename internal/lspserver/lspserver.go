// Package lspserver implements RaiseAttention's editor-facing frontend: a
// hand-rolled JSON-RPC server speaking the Language Server Protocol's
// stdio framing, grounded on the Content-Length request/response loop the
// codebase already uses for its own code-navigation server. Unlike that
// server this one owns exactly one AnalysisSession per workspace root and
// exists only to turn document lifecycle events into published diagnostics.
package lspserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/raiseattention/raiseattention/internal/config"
	"github.com/raiseattention/raiseattention/internal/model"
	"github.com/raiseattention/raiseattention/internal/session"
)

// LSPRequest is one JSON-RPC request or notification sent by the client.
type LSPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// LSPResponse is one JSON-RPC response sent to the client, or — when ID is
// nil and Method is set — a server-initiated notification such as
// textDocument/publishDiagnostics.
type LSPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *LSPError   `json:"error,omitempty"`
}

// LSPError is a JSON-RPC error object.
type LSPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// document is the server's view of one open buffer.
type document struct {
	Path        string
	Content     []byte
	Version     int
	ContentHash string
}

// Server holds one workspace's AnalysisSession plus the open-document table
// and the per-URI debounce timers that coalesce rapid edits before an
// analysis is launched, per the 500ms debounce window design note.
type Server struct {
	sess   *session.Session
	logger *slog.Logger

	mu        sync.Mutex
	docs      map[string]*document
	timers    map[string]*time.Timer
	debounce  time.Duration
	limiter   *rate.Limiter
	writer    io.Writer
	writerMu  sync.Mutex
	watcher   *fsnotify.Watcher
	tcpListen *websocket.Upgrader
}

// NewServer wraps sess in an LSP frontend. The limiter caps the rate at
// which a save-storm (every save forces immediate re-analysis, bypassing
// the debounce timer) can trigger analyses, on top of the per-URI debounce
// timers that handle the common "user is still typing" case.
func NewServer(sess *session.Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	debounceMS := sess.Config.LSP.DebounceMS
	if debounceMS <= 0 {
		debounceMS = 500
	}
	return &Server{
		sess:     sess,
		logger:   logger,
		docs:     make(map[string]*document),
		timers:   make(map[string]*time.Timer),
		debounce: time.Duration(debounceMS) * time.Millisecond,
		limiter:  rate.NewLimiter(rate.Every(time.Duration(debounceMS)*time.Millisecond), 3),
	}
}

// ServeStdio runs the server on stdin/stdout until ctx is cancelled or the
// client closes the pipe, framing messages the same way the codebase's
// other hand-rolled LSP does: a "Content-Length: N\r\n\r\n" header
// followed by N bytes of JSON.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.writer = os.Stdout
	s.startConfigWatcher()
	defer s.stopConfigWatcher()

	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := readMessage(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if req == nil {
			continue
		}

		resp := s.handleRequest(ctx, *req)
		if resp != nil {
			s.send(*resp)
		}
	}
}

// ServeTCP runs the server over a single websocket connection accepted at
// addr, for editors that cannot speak stdio framing (a detached editor
// process, a browser-based client). Only one client connects at a time;
// a second connection attempt is rejected while the first is live, since a
// Server owns exactly one AnalysisSession and the document table is not
// keyed by client.
func (s *Server) ServeTCP(ctx context.Context, addr string) error {
	var upgrader websocket.Upgrader
	s.tcpListen = &upgrader

	var active sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !active.TryLock() {
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		defer active.Unlock()

		conn, err := s.tcpListen.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		s.serveConn(ctx, conn)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("lsp server listening", "addr", addr, "transport", "websocket")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// serveConn drives one websocket connection: each inbound frame is the raw
// JSON-RPC message body (no Content-Length header, unlike stdio), and each
// outbound frame is framed the same way by wsWriter before being unwrapped
// back to a bare JSON body.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	s.writerMu.Lock()
	s.writer = &wsWriter{conn: conn}
	s.writerMu.Unlock()

	s.startConfigWatcher()
	defer s.stopConfigWatcher()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, body, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req LSPRequest
		if err := json.Unmarshal(body, &req); err != nil {
			continue
		}
		if resp := s.handleRequest(ctx, req); resp != nil {
			s.send(*resp)
		}
	}
}

// wsWriter adapts send()'s Content-Length-framed Fprintf call into one
// websocket text frame per call, stripping the framing header back off
// since the websocket frame boundary already delimits the message.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	body := p
	if idx := strings.Index(string(p), "\r\n\r\n"); idx >= 0 {
		body = p[idx+4:]
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return 0, err
	}
	return len(p), nil
}

func readMessage(reader *bufio.Reader) (*LSPRequest, error) {
	var contentLength int
	for {
		header, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		header = strings.TrimRight(header, "\r\n")
		if header == "" {
			break
		}
		if strings.HasPrefix(header, "Content-Length:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "Content-Length:")))
			if err == nil {
				contentLength = n
			}
		}
	}
	if contentLength <= 0 {
		return nil, nil
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, content); err != nil {
		return nil, err
	}

	var req LSPRequest
	if err := json.Unmarshal(content, &req); err != nil {
		return nil, nil
	}
	return &req, nil
}

func (s *Server) send(msg LSPResponse) {
	msg.JSONRPC = "2.0"
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	fmt.Fprintf(s.writer, "Content-Length: %d\r\n\r\n%s", len(body), body)
}

// handleRequest dispatches one request or notification to its handler.
func (s *Server) handleRequest(ctx context.Context, req LSPRequest) *LSPResponse {
	switch req.Method {
	case "initialize":
		return &LSPResponse{
			ID: req.ID,
			Result: map[string]interface{}{
				"capabilities": map[string]interface{}{
					"textDocumentSync": 1,
					"hoverProvider":    true,
				},
			},
		}

	case "textDocument/didOpen":
		var params struct {
			TextDocument struct {
				URI     string `json:"uri"`
				Text    string `json:"text"`
				Version int    `json:"version"`
			} `json:"textDocument"`
		}
		_ = json.Unmarshal(req.Params, &params)
		s.openDocument(params.TextDocument.URI, []byte(params.TextDocument.Text), params.TextDocument.Version)
		s.scheduleAnalysis(ctx, params.TextDocument.URI, true)
		return nil

	case "textDocument/didChange":
		var params struct {
			TextDocument struct {
				URI     string `json:"uri"`
				Version int    `json:"version"`
			} `json:"textDocument"`
			ContentChanges []struct {
				Text string `json:"text"`
			} `json:"contentChanges"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if len(params.ContentChanges) == 0 {
			return nil
		}
		s.openDocument(params.TextDocument.URI, []byte(params.ContentChanges[len(params.ContentChanges)-1].Text), params.TextDocument.Version)
		s.scheduleAnalysis(ctx, params.TextDocument.URI, false)
		return nil

	case "textDocument/didSave":
		var params struct {
			TextDocument struct{ URI string `json:"uri"` } `json:"textDocument"`
		}
		_ = json.Unmarshal(req.Params, &params)
		s.scheduleAnalysis(ctx, params.TextDocument.URI, true)
		return nil

	case "textDocument/didClose":
		var params struct {
			TextDocument struct{ URI string `json:"uri"` } `json:"textDocument"`
		}
		_ = json.Unmarshal(req.Params, &params)
		s.closeDocument(params.TextDocument.URI)
		return nil

	case "textDocument/hover":
		var params struct {
			TextDocument struct{ URI string `json:"uri"` } `json:"textDocument"`
			Position     struct{ Line, Character int }     `json:"position"`
		}
		_ = json.Unmarshal(req.Params, &params)
		hover := s.hover(ctx, params.TextDocument.URI, params.Position.Line+1)
		if hover == "" {
			return &LSPResponse{ID: req.ID, Result: nil}
		}
		return &LSPResponse{
			ID: req.ID,
			Result: map[string]interface{}{
				"contents": map[string]string{"kind": "markdown", "value": hover},
			},
		}

	case "shutdown":
		return &LSPResponse{ID: req.ID, Result: nil}

	case "exit":
		s.stopConfigWatcher()
		os.Exit(0)
		return nil

	default:
		return nil
	}
}

func (s *Server) openDocument(uri string, content []byte, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[uri] = &document{
		Path:        uriToPath(uri),
		Content:     content,
		Version:     version,
		ContentHash: contentHash(content),
	}
}

func (s *Server) closeDocument(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uri)
	if t, ok := s.timers[uri]; ok {
		t.Stop()
		delete(s.timers, uri)
	}
}

// scheduleAnalysis coalesces rapid edits per URI: a didChange resets the
// debounce timer rather than launching analysis immediately; immediate
// forces (didOpen, didSave) still pass through the rate limiter so a burst
// of saves cannot starve other URIs' analyses.
func (s *Server) scheduleAnalysis(ctx context.Context, uri string, immediate bool) {
	if uri == "" {
		return
	}
	run := func() {
		if !s.limiter.Allow() {
			// dropped; the next edit or save will retry.
			return
		}
		s.analyzeAndPublish(ctx, uri)
	}

	if immediate {
		s.mu.Lock()
		if t, ok := s.timers[uri]; ok {
			t.Stop()
			delete(s.timers, uri)
		}
		s.mu.Unlock()
		go run()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[uri]; ok {
		t.Stop()
	}
	s.timers[uri] = time.AfterFunc(s.debounce, run)
}

// analyzeAndPublish runs the analysis pipeline for uri's current content
// and publishes diagnostics, unless a newer edit has superseded the content
// hash the analysis started against — the ordering guarantee that a client
// never sees diagnostics for a stale version after a newer one was already
// observed.
func (s *Server) analyzeAndPublish(ctx context.Context, uri string) {
	s.mu.Lock()
	doc, ok := s.docs[uri]
	s.mu.Unlock()
	if !ok {
		return
	}
	startHash := doc.ContentHash

	result := s.sess.Analyze(ctx, map[string][]byte{doc.Path: doc.Content})

	s.mu.Lock()
	current, stillOpen := s.docs[uri]
	supersede := !stillOpen || current.ContentHash != startHash
	s.mu.Unlock()
	if supersede {
		s.logger.Debug("discarding stale analysis", "uri", uri)
		return
	}

	diags := result.Diagnostics
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Line != diags[j].Line {
			return diags[i].Line < diags[j].Line
		}
		return diags[i].Column < diags[j].Column
	})

	max := s.sess.Config.LSP.MaxDiagnosticsPerFile
	if max > 0 && len(diags) > max {
		diags = diags[:max]
	}

	s.send(LSPResponse{
		Method: "textDocument/publishDiagnostics",
		Params: map[string]interface{}{
			"uri":         uri,
			"version":     doc.Version,
			"diagnostics": toLSPDiagnostics(diags),
		},
	})
}

func (s *Server) hover(ctx context.Context, uri string, line int) string {
	s.mu.Lock()
	doc, ok := s.docs[uri]
	s.mu.Unlock()
	if !ok {
		return ""
	}

	result := s.sess.Analyze(ctx, map[string][]byte{doc.Path: doc.Content})
	for _, d := range result.Diagnostics {
		if d.Line == line && len(d.Exceptions) > 0 {
			return "**Unhandled exception(s)**: " + strings.Join(d.Exceptions, ", ")
		}
	}
	return ""
}

var severityNames = map[model.Severity]int{
	model.SeverityError:       1,
	model.SeverityWarning:     2,
	model.SeverityInformation: 3,
	model.SeverityHint:        4,
}

func toLSPDiagnostics(diags []model.Diagnostic) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(diags))
	for _, d := range diags {
		out = append(out, map[string]interface{}{
			"range": map[string]interface{}{
				"start": map[string]int{"line": d.Line - 1, "character": d.Column},
				"end":   map[string]int{"line": d.Line - 1, "character": d.Column + 1},
			},
			"severity": severityNames[d.Severity],
			"code":     d.Code,
			"source":   "raiseattention",
			"message":  d.Message,
		})
	}
	return out
}

func contentHash(content []byte) string {
	return strconv.FormatUint(uint64(len(content))<<32^fnv32(content), 16)
}

func fnv32(data []byte) uint64 {
	var h uint64 = 2166136261
	for _, b := range data {
		h ^= uint64(b)
		h *= 16777619
	}
	return h
}

// startConfigWatcher watches pyproject.toml and .raiseattention.toml for
// changes and reloads the session's config in place, so an editor session
// left open across a config edit picks up new settings without a restart.
func (s *Server) startConfigWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("config watcher unavailable", "error", err)
		return
	}
	for _, name := range []string{"pyproject.toml", ".raiseattention.toml"} {
		_ = w.Add(filepath.Join(s.sess.Root, name))
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := config.Load(s.sess.Root)
				if err != nil {
					s.logger.Warn("config reload failed", "error", err)
					continue
				}
				s.mu.Lock()
				s.sess.Config = cfg
				s.mu.Unlock()
				s.logger.Info("reloaded configuration", "path", ev.Name)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (s *Server) stopConfigWatcher() {
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
}

// uriToPath accepts the three common Windows file URI dialects —
// file:///C:/path (triple slash, colon drive), file://C:/path (double
// slash), and percent-encoded variants like file:///C%3A/path — plus the
// older "pipe" dialect that spells the drive separator as "|" instead of
// ":" (file:///C|/path). Non-file-scheme arguments are returned unchanged,
// since some clients send bare paths for in-memory or untitled buffers.
func uriToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	raw := strings.TrimPrefix(uri, "file://")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	if len(raw) >= 3 && raw[0] == '/' && isDriveLetter(raw[1]) && (raw[2] == ':' || raw[2] == '|') {
		raw = raw[1:2] + ":" + raw[3:]
	} else if len(raw) >= 2 && isDriveLetter(raw[0]) && (raw[1] == ':' || raw[1] == '|') {
		raw = raw[0:1] + ":" + raw[2:]
	}
	return filepath.FromSlash(raw)
}

// pathToURI is uriToPath's inverse, always emitting the triple-slash colon
// dialect.
func pathToURI(path string) string {
	slashed := filepath.ToSlash(path)
	if len(slashed) >= 2 && isDriveLetter(slashed[0]) && slashed[1] == ':' {
		slashed = "/" + slashed
	}
	return "file://" + slashed
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
