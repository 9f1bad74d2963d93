package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"live-transcriber/internal/domain"
	"live-transcriber/internal/queue"
	"live-transcriber/internal/transcribe"
)

// handleEnqueueChunk is the ingress endpoint for the chunk source
// collaborator: it accepts one audio blob plus its sequence number and
// appends it to the backlog without waiting for processing.
func (s *Server) handleEnqueueChunk(w http.ResponseWriter, r *http.Request) {
	audio, seq, language, ok := s.readChunkRequest(w, r)
	if !ok {
		return
	}

	chunk := domain.Chunk{
		Seq:       seq,
		Audio:     audio,
		Language:  language,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Queue.Enqueue(chunk); err != nil {
		switch {
		case errors.Is(err, queue.ErrEmptyChunk):
			httpError(w, http.StatusBadRequest, "no audio supplied", "")
		case errors.Is(err, queue.ErrClosed):
			httpError(w, http.StatusServiceUnavailable, "queue is shutting down", "")
		default:
			httpError(w, http.StatusInternalServerError, "enqueue failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"seq":      seq,
		"status":   s.deps.Queue.Snapshot(),
	})
}

// handleTranscribe performs one synchronous normalize+infer invocation
// and returns the transcript or a classified error payload.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	audio, seq, language, ok := s.readChunkRequest(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Invoker.Run(r.Context(), transcribe.Request{
		Seq:      seq,
		Audio:    audio,
		Language: language,
	})
	if err != nil {
		status, message := classifyHTTP(err)
		httpError(w, status, message, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"transcript": result.Transcript,
		"language":   result.Language,
	})
}

// readChunkRequest parses a multipart or raw-body audio upload. The body
// is capped at the configured maximum upload size.
func (s *Server) readChunkRequest(w http.ResponseWriter, r *http.Request) (audio []byte, seq uint64, language string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.Config.Server.MaxUploadBytes())
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(s.deps.Config.Server.MaxUploadBytes()); err != nil {
			httpError(w, http.StatusBadRequest, "invalid multipart body", err.Error())
			return nil, 0, "", false
		}

		file, _, err := r.FormFile("audio")
		if err != nil {
			httpError(w, http.StatusBadRequest, "no audio supplied", "")
			return nil, 0, "", false
		}
		defer file.Close()

		audio, err = io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "failed to read audio", err.Error())
			return nil, 0, "", false
		}

		seq, ok = parseSeq(w, r.FormValue("seq"))
		if !ok {
			return nil, 0, "", false
		}
		language = r.FormValue("language")
	} else {
		var err error
		audio, err = io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "failed to read audio", err.Error())
			return nil, 0, "", false
		}

		seq, ok = parseSeq(w, r.URL.Query().Get("seq"))
		if !ok {
			return nil, 0, "", false
		}
		language = r.URL.Query().Get("language")
	}

	if len(audio) == 0 {
		httpError(w, http.StatusBadRequest, "no audio supplied", "")
		return nil, 0, "", false
	}

	language = domain.NormalizeLanguage(language)
	if !domain.SupportedLanguage(language) {
		httpError(w, http.StatusBadRequest, "unsupported language", language)
		return nil, 0, "", false
	}

	return audio, seq, language, true
}

// parseSeq parses a chunk sequence number, writing a 400 on failure.
func parseSeq(w http.ResponseWriter, raw string) (uint64, bool) {
	if raw == "" {
		httpError(w, http.StatusBadRequest, "seq is required", "")
		return 0, false
	}

	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || seq == 0 {
		httpError(w, http.StatusBadRequest, "seq must be a positive integer", raw)
		return 0, false
	}
	return seq, true
}

// handleTranscripts returns the ordered transcript fragments.
func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"fragments": s.deps.Session.Fragments(),
	})
}

// handleErrors returns the bounded error feed, oldest first.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": s.deps.Session.Errors(),
	})
}

// handleStatus returns the live queue snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Snapshot())
}

// handleEvents returns feed events with sequence greater than ?since=N.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "since must be an integer", raw)
			return
		}
		since = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": s.deps.Session.Feed().Since(since),
	})
}

// handleDiagnostics returns the latest dependency check report.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Diagnostics())
}

// handleHealth reports liveness and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// classifyHTTP maps an attempt error to an HTTP status and message.
func classifyHTTP(err error) (int, string) {
	var pErr *transcribe.PipelineError
	if !errors.As(err, &pErr) {
		return http.StatusInternalServerError, "transcription failed"
	}

	switch pErr.Kind {
	case transcribe.KindInput:
		return http.StatusBadRequest, "invalid input"
	case transcribe.KindResource:
		return http.StatusServiceUnavailable, "missing model or binary resource"
	case transcribe.KindTimeout:
		return http.StatusGatewayTimeout, "transcription timed out"
	case transcribe.KindConversion:
		return http.StatusInternalServerError, "audio conversion failed"
	default:
		return http.StatusInternalServerError, "inference failed"
	}
}
