package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-transcriber/internal/config"
	"live-transcriber/internal/domain"
	"live-transcriber/internal/queue"
	"live-transcriber/internal/session"
	"live-transcriber/internal/transcribe"
)

// fakeInvoker returns a canned result or error for sync transcription.
type fakeInvoker struct {
	result transcribe.Result
	err    error
}

func (f *fakeInvoker) Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if f.err != nil {
		return transcribe.Result{}, f.err
	}
	return f.result, nil
}

// passRunner drives enqueued chunks straight to success.
type passRunner struct{}

func (passRunner) Do(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	return transcribe.Result{Transcript: "hello", Language: "en"}, nil
}

// failRunner drives every chunk to a terminal failure.
type failRunner struct{}

func (failRunner) Do(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	return transcribe.Result{}, &transcribe.PipelineError{
		Stage:   "infer",
		Kind:    transcribe.KindInference,
		Message: "mocked failure",
	}
}

type testEnv struct {
	server *Server
	queue  *queue.Queue
	state  *session.State
}

func newTestEnv(t *testing.T, runner queue.JobRunner, invoker Invoker) *testEnv {
	t.Helper()

	cfg := config.Default()
	state := session.NewState(10, 100)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(runner, state, nil, logger)

	srv := New(Deps{
		Config:  cfg,
		Queue:   q,
		Session: state,
		Invoker: invoker,
		Diagnostics: func() domain.DiagnosticReport {
			return domain.DiagnosticReport{GeneratedAt: time.Now().UTC()}
		},
		Logger: logger,
	})

	return &testEnv{server: srv, queue: q, state: state}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.queue.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
}

func TestEnqueueChunkRawBody(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	req := httptest.NewRequest(http.MethodPost, "/api/chunks?seq=1&language=en", bytes.NewReader([]byte("audio")))
	rec := env.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\nbody: %s", rec.Code, rec.Body.String())
	}

	env.waitIdle(t)

	listRec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/transcripts", nil))
	if listRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", listRec.Code)
	}

	var payload struct {
		Fragments []domain.TranscriptFragment `json:"fragments"`
	}
	decodeJSON(t, listRec, &payload)
	if len(payload.Fragments) != 1 {
		t.Fatalf("fragments = %d, want 1", len(payload.Fragments))
	}
	if payload.Fragments[0].ChunkSeq != 1 || payload.Fragments[0].Text != "hello" {
		t.Fatalf("fragment = %+v", payload.Fragments[0])
	}
}

func TestEnqueueChunkMultipart(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "chunk.webm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = writer.WriteField("seq", "3")
	_ = writer.WriteField("language", "de")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/chunks", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := env.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\nbody: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Accepted bool   `json:"accepted"`
		Seq      uint64 `json:"seq"`
	}
	decodeJSON(t, rec, &payload)
	if !payload.Accepted || payload.Seq != 3 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestEnqueueChunkMissingAudio(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	req := httptest.NewRequest(http.MethodPost, "/api/chunks?seq=1", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var payload errorPayload
	decodeJSON(t, rec, &payload)
	if payload.Error != "no audio supplied" {
		t.Fatalf("error = %q", payload.Error)
	}
}

func TestEnqueueChunkBadSeq(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	for _, seq := range []string{"", "0", "abc"} {
		req := httptest.NewRequest(http.MethodPost, "/api/chunks?seq="+seq, bytes.NewReader([]byte("audio")))
		rec := env.do(t, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("seq %q: status = %d, want 400", seq, rec.Code)
		}
	}
}

func TestEnqueueChunkUnsupportedLanguage(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	req := httptest.NewRequest(http.MethodPost, "/api/chunks?seq=1&language=xx", bytes.NewReader([]byte("audio")))
	rec := env.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFailedChunkYieldsErrorRecordAndQueueContinues(t *testing.T) {
	env := newTestEnv(t, failRunner{}, &fakeInvoker{})

	for _, seq := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/chunks?seq="+seq, bytes.NewReader([]byte("audio")))
		if rec := env.do(t, req); rec.Code != http.StatusAccepted {
			t.Fatalf("seq %s: status = %d, want 202", seq, rec.Code)
		}
	}
	env.waitIdle(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/errors", nil))
	var payload struct {
		Errors []domain.ErrorRecord `json:"errors"`
	}
	decodeJSON(t, rec, &payload)
	if len(payload.Errors) != 2 {
		t.Fatalf("errors = %d, want 2", len(payload.Errors))
	}
	if payload.Errors[0].ChunkSeq != 1 || payload.Errors[1].ChunkSeq != 2 {
		t.Fatalf("error seqs = %+v", payload.Errors)
	}
}

func TestTranscribeSyncSuccess(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{
		result: transcribe.Result{Transcript: "bonjour", Language: "fr"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe?seq=1&language=fr", bytes.NewReader([]byte("audio")))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}

	var payload map[string]string
	decodeJSON(t, rec, &payload)
	if payload["transcript"] != "bonjour" || payload["language"] != "fr" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestTranscribeSyncErrorMapping(t *testing.T) {
	cases := []struct {
		kind       transcribe.ErrorKind
		wantStatus int
	}{
		{transcribe.KindInput, http.StatusBadRequest},
		{transcribe.KindResource, http.StatusServiceUnavailable},
		{transcribe.KindTimeout, http.StatusGatewayTimeout},
		{transcribe.KindConversion, http.StatusInternalServerError},
		{transcribe.KindInference, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		env := newTestEnv(t, passRunner{}, &fakeInvoker{
			err: &transcribe.PipelineError{Stage: "infer", Kind: tc.kind, Message: "boom"},
		})

		req := httptest.NewRequest(http.MethodPost, "/api/transcribe?seq=1", bytes.NewReader([]byte("audio")))
		rec := env.do(t, req)
		if rec.Code != tc.wantStatus {
			t.Fatalf("kind %s: status = %d, want %d", tc.kind, rec.Code, tc.wantStatus)
		}

		var payload errorPayload
		decodeJSON(t, rec, &payload)
		if payload.Error == "" || payload.Details == "" {
			t.Fatalf("kind %s: payload = %+v, want error and details", tc.kind, payload)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload domain.QueueStatus
	decodeJSON(t, rec, &payload)
	if payload.Busy {
		t.Fatal("fresh queue should be idle")
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	req := httptest.NewRequest(http.MethodPost, "/api/chunks?seq=1", bytes.NewReader([]byte("audio")))
	if rec := env.do(t, req); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	env.waitIdle(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/events?since=0", nil))
	var payload struct {
		Events []session.Event `json:"events"`
	}
	decodeJSON(t, rec, &payload)
	if len(payload.Events) == 0 {
		t.Fatal("expected at least one event")
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/events?since=notanumber", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, passRunner{}, &fakeInvoker{})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload map[string]any
	decodeJSON(t, rec, &payload)
	if payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
}
