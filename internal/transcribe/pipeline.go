package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"live-transcriber/internal/domain"
)

// ErrorKind classifies one attempt failure for retry policy and messaging.
type ErrorKind string

const (
	KindInput      ErrorKind = "input"
	KindConversion ErrorKind = "conversion"
	KindResource   ErrorKind = "resource"
	KindInference  ErrorKind = "inference"
	KindTimeout    ErrorKind = "timeout"
)

// Request carries one chunk through a single normalize+infer attempt.
type Request struct {
	Seq      uint64
	Audio    []byte
	Language string
}

// Result contains the transcript and the effective language for one attempt.
type Result struct {
	Transcript string
	Language   string
	Logs       []CommandLog
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string     `json:"stage"`
	Kind       ErrorKind  `json:"kind"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats attempt failures for logs and error records.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether another attempt can change the outcome.
// Input and missing-resource failures fail fast instead of consuming
// the retry budget.
func (e *PipelineError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindInput, KindResource:
		return false
	default:
		return true
	}
}

// Retryable classifies an arbitrary attempt error.
func Retryable(err error) bool {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Retryable()
	}
	return true
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec. A context deadline kills the
// subprocess and surfaces as ctx.Err on the returned error chain.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return result, err
	}

	return result, nil
}

// Options bound each pipeline stage and locate the external tools.
type Options struct {
	FFmpegPath       string
	WhisperPath      string
	ModelPath        string
	ScratchDir       string
	NormalizeTimeout time.Duration
	InferTimeout     time.Duration
}

// Pipeline performs one normalize+infer attempt per chunk. It holds no
// per-attempt state and is safe for sequential reuse across chunks.
type Pipeline struct {
	opts      Options
	runner    commandRunner
	writeFile func(name string, data []byte, perm os.FileMode) error
	remove    func(name string) error
	stat      func(name string) (os.FileInfo, error)
	mkdirAll  func(path string, perm os.FileMode) error
	readDir   func(name string) ([]os.DirEntry, error)
	newID     func() string
}

// NewPipeline constructs the production pipeline with OS dependencies.
func NewPipeline(opts Options) *Pipeline {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.WhisperPath == "" {
		opts.WhisperPath = "whisper.cpp"
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if opts.NormalizeTimeout <= 0 {
		opts.NormalizeTimeout = 2 * time.Minute
	}
	if opts.InferTimeout <= 0 {
		opts.InferTimeout = 5 * time.Minute
	}

	return &Pipeline{
		opts:      opts,
		runner:    &execRunner{},
		writeFile: os.WriteFile,
		remove:    os.Remove,
		stat:      os.Stat,
		mkdirAll:  os.MkdirAll,
		readDir:   os.ReadDir,
		newID:     func() string { return uuid.NewString() },
	}
}

// Run performs one attempt: write the raw artifact, normalize it with ffmpeg,
// run whisper against the normalized audio, and remove both artifacts on
// every exit path.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, &PipelineError{
			Stage:   "normalize",
			Kind:    KindInput,
			Message: "no audio supplied",
		}
	}

	lang := domain.NormalizeLanguage(req.Language)
	if !domain.SupportedLanguage(lang) {
		return Result{}, &PipelineError{
			Stage:   "normalize",
			Kind:    KindInput,
			Message: fmt.Sprintf("unsupported language: %s", lang),
		}
	}

	modelPath, err := p.resolveModelPath(p.opts.ModelPath)
	if err != nil {
		return Result{}, &PipelineError{
			Stage:   "infer",
			Kind:    KindResource,
			Message: err.Error(),
			Err:     err,
		}
	}

	if err := p.mkdirAll(p.opts.ScratchDir, 0o755); err != nil {
		return Result{}, &PipelineError{
			Stage:   "normalize",
			Kind:    KindConversion,
			Message: fmt.Sprintf("cannot create scratch directory: %s", p.opts.ScratchDir),
			Err:     err,
		}
	}

	// Artifact names are keyed by chunk sequence plus a unique suffix so
	// a shared scratch directory never produces collisions.
	baseName := fmt.Sprintf("chunk-%d-%s", req.Seq, p.newID())
	rawPath := filepath.Join(p.opts.ScratchDir, baseName+".raw")
	wavPath := filepath.Join(p.opts.ScratchDir, baseName+"-16k.wav")
	defer func() {
		_ = p.remove(rawPath)
		_ = p.remove(wavPath)
	}()

	if err := p.writeFile(rawPath, req.Audio, 0o644); err != nil {
		return Result{}, &PipelineError{
			Stage:   "normalize",
			Kind:    KindConversion,
			Message: "failed to write raw audio artifact",
			Err:     err,
		}
	}

	normalizeCtx, cancelNormalize := context.WithTimeout(ctx, p.opts.NormalizeTimeout)
	defer cancelNormalize()

	args := buildFFmpegArgs(rawPath, wavPath)
	cmdResult, runErr := p.runner.Run(normalizeCtx, p.opts.FFmpegPath, args...)
	ffmpegLog := CommandLog{
		Command:  p.opts.FFmpegPath,
		Args:     args,
		ExitCode: cmdResult.ExitCode,
		Stdout:   cmdResult.Stdout,
		Stderr:   cmdResult.Stderr,
	}
	if runErr != nil {
		return Result{}, classify(normalizeCtx, runErr, "normalize", KindConversion, "ffmpeg audio conversion failed", ffmpegLog)
	}

	if _, err := p.stat(wavPath); err != nil {
		return Result{}, &PipelineError{
			Stage:      "normalize",
			Kind:       KindConversion,
			Message:    "ffmpeg completed but normalized audio is missing",
			CommandLog: ffmpegLog,
			Err:        err,
		}
	}

	inferCtx, cancelInfer := context.WithTimeout(ctx, p.opts.InferTimeout)
	defer cancelInfer()

	whisperArgs := buildWhisperArgs(modelPath, wavPath, lang)
	whisperResult, runErr := p.runner.Run(inferCtx, p.opts.WhisperPath, whisperArgs...)
	whisperLog := CommandLog{
		Command:  p.opts.WhisperPath,
		Args:     whisperArgs,
		ExitCode: whisperResult.ExitCode,
		Stdout:   whisperResult.Stdout,
		Stderr:   whisperResult.Stderr,
	}
	if runErr != nil {
		return Result{}, classify(inferCtx, runErr, "infer", KindInference, "whisper.cpp transcription failed", whisperLog)
	}

	transcript := strings.TrimSpace(whisperResult.Stdout)
	if transcript == "" {
		return Result{}, &PipelineError{
			Stage:      "infer",
			Kind:       KindInference,
			Message:    "whisper.cpp produced no transcript output",
			CommandLog: whisperLog,
		}
	}

	return Result{
		Transcript: transcript,
		Language:   lang,
		Logs:       []CommandLog{ffmpegLog, whisperLog},
	}, nil
}

// classify maps a failed stage run to a timeout or stage-kind error.
func classify(ctx context.Context, err error, stage string, kind ErrorKind, message string, log CommandLog) *PipelineError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &PipelineError{
			Stage:      stage,
			Kind:       KindTimeout,
			Message:    stage + " stage exceeded its deadline",
			CommandLog: log,
			Err:        err,
		}
	}

	return &PipelineError{
		Stage:      stage,
		Kind:       kind,
		Message:    message,
		CommandLog: log,
		Err:        err,
	}
}

// resolveModelPath returns model file path from file or directory input.
func (p *Pipeline) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := p.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := p.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// buildFFmpegArgs builds normalization CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for plain stdout transcript output.
func buildWhisperArgs(modelPath, audioPath, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-nt",
		"-np",
	}

	if language != domain.LanguageAuto {
		args = append(args, "-l", language)
	}

	return args
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	opts Options,
	runner commandRunner,
	writeFile func(name string, data []byte, perm os.FileMode) error,
	remove func(name string) error,
	stat func(name string) (os.FileInfo, error),
) *Pipeline {
	p := NewPipeline(opts)
	p.runner = runner
	if writeFile != nil {
		p.writeFile = writeFile
	}
	if remove != nil {
		p.remove = remove
	}
	if stat != nil {
		p.stat = stat
	}
	p.newID = func() string { return "test" }
	return p
}
