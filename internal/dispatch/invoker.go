package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"editbench/pkg/api"
)

const (
	DefaultSingleTimeout = 600 * time.Second
	DefaultBatchTimeout  = 1800 * time.Second

	stderrTailLines = 40
	waitDelay       = 5 * time.Second
)

type InvokerConfig struct {
	// Program followed by its leading arguments, for example
	// ["editbench-scorer"] or ["python", "scorer.py"].
	Command []string

	ModelName         string
	Dtype             string
	BatchSize         int
	MaxNewTokens      int
	UseBatchInference bool
	Seed              *int64

	ExtraArgs []string
	Env       []string

	// Directory for the exchange files, os.TempDir() when empty.
	TempDir string
}

type ProcessInvoker struct {
	cfg InvokerConfig
}

var _ Invoker = (*ProcessInvoker)(nil)

func NewProcessInvoker(cfg InvokerConfig) (*ProcessInvoker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("scorer command must not be empty")
	}

	if _, err := exec.LookPath(cfg.Command[0]); err != nil {
		return nil, &WorkerError{Kind: StartupFailure, Device: -1, Err: err}
	}

	return &ProcessInvoker{cfg: cfg}, nil
}

func (p *ProcessInvoker) args(inputPath, outputPath string, device int) []string {
	args := append([]string{}, p.cfg.Command[1:]...)
	args = append(args,
		"--input", inputPath,
		"--output", outputPath,
		"--model-name", p.cfg.ModelName,
		"--device", fmt.Sprintf("cuda:%d", device),
		"--dtype", p.cfg.Dtype,
		"--batch-size", strconv.Itoa(p.cfg.BatchSize),
		"--max-new-tokens", strconv.Itoa(p.cfg.MaxNewTokens),
	)
	if p.cfg.UseBatchInference {
		args = append(args, "--use-batch-inference")
	}
	if p.cfg.Seed != nil {
		args = append(args, "--seed", strconv.FormatInt(*p.cfg.Seed, 10))
	}
	return append(args, p.cfg.ExtraArgs...)
}

func (p *ProcessInvoker) writeInput(tasks []ScoreTask) (string, error) {
	file, err := os.CreateTemp(p.cfg.TempDir, "score-input-*.json")
	if err != nil {
		return "", fmt.Errorf("error creating input file: %w", err)
	}
	defer file.Close()

	input := api.WorkerInput{Tasks: make([]api.WorkerTask, len(tasks))}
	for i, task := range tasks {
		input.Tasks[i] = task.WorkerTask
	}

	if err := json.NewEncoder(file).Encode(input); err != nil {
		return file.Name(), fmt.Errorf("error writing input file: %w", err)
	}

	return file.Name(), nil
}

func (p *ProcessInvoker) reserveOutput() (string, error) {
	file, err := os.CreateTemp(p.cfg.TempDir, "score-output-*.json")
	if err != nil {
		return "", fmt.Errorf("error creating output file: %w", err)
	}
	return file.Name(), file.Close()
}

// Invoke runs one scorer process for tasks on device and blocks until it
// exits. The exchange files are removed before returning in every case.
func (p *ProcessInvoker) Invoke(ctx context.Context, tasks []ScoreTask, device int, timeout time.Duration) ([]float64, error) {
	if len(tasks) == 0 {
		return []float64{}, nil
	}

	inputPath, err := p.writeInput(tasks)
	if inputPath != "" {
		defer removeFile(inputPath)
	}
	if err != nil {
		return nil, &WorkerError{Kind: StartupFailure, Device: device, Err: err}
	}

	outputPath, err := p.reserveOutput()
	if outputPath != "" {
		defer removeFile(outputPath)
	}
	if err != nil {
		return nil, &WorkerError{Kind: StartupFailure, Device: device, Err: err}
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stderr := newLineWriter(stderrTailLines, func(line string) {
		slog.Info(line, "device", device)
	})
	stdout := newLineWriter(0, func(line string) {
		slog.Debug(line, "device", device, "stream", "stdout")
	})

	cmd := exec.CommandContext(runCtx, p.cfg.Command[0], p.args(inputPath, outputPath, device)...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.Stderr = stderr
	cmd.Stdout = stdout
	cmd.WaitDelay = waitDelay

	slog.Info("starting scorer process", "device", device, "tasks", len(tasks), "timeout", timeout)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return nil, &WorkerError{Kind: StartupFailure, Device: device, Err: err}
	}

	waitErr := cmd.Wait()
	stderr.Flush()
	stdout.Flush()

	if waitErr != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &WorkerError{Kind: Timeout, Device: device, Err: fmt.Errorf("exceeded %v", timeout)}
		}
		if ctx.Err() != nil {
			return nil, &WorkerError{Kind: ProcessFailure, Device: device, Err: ctx.Err()}
		}
		return nil, &WorkerError{Kind: ProcessFailure, Device: device, Err: waitErr, Detail: stderr.Tail()}
	}

	slog.Info("scorer process exited", "device", device, "duration", time.Since(start).Round(time.Millisecond))

	return readOutput(outputPath, device, len(tasks))
}

func readOutput(path string, device, expected int) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &WorkerError{Kind: OutputCorruption, Device: device, Err: err}
	}

	var output api.WorkerOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, &WorkerError{Kind: OutputCorruption, Device: device, Err: fmt.Errorf("error parsing output: %w", err)}
	}

	switch output.Status {
	case api.WorkerStatusSuccess:
	case api.WorkerStatusError:
		return nil, &WorkerError{Kind: ModelError, Device: device, Detail: output.Error}
	default:
		return nil, &WorkerError{Kind: OutputCorruption, Device: device, Err: fmt.Errorf("unknown status %q", output.Status)}
	}

	if len(output.Scores) != expected {
		return nil, &WorkerError{
			Kind:   OutputCorruption,
			Device: device,
			Err:    fmt.Errorf("expected %d scores, got %d", expected, len(output.Scores)),
		}
	}

	return output.Scores, nil
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error removing scorer exchange file", "path", path, "error", err)
	}
}

// lineWriter calls onLine for every complete line written to it and keeps
// the last tailSize lines.
type lineWriter struct {
	partial  strings.Builder
	tail     []string
	tailSize int
	onLine   func(string)
}

func newLineWriter(tailSize int, onLine func(string)) *lineWriter {
	return &lineWriter{tailSize: tailSize, onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			w.emit()
			continue
		}
		w.partial.WriteByte(b)
	}
	return len(p), nil
}

func (w *lineWriter) emit() {
	line := strings.TrimRight(w.partial.String(), "\r")
	w.partial.Reset()
	if line == "" {
		return
	}

	w.onLine(line)

	if w.tailSize > 0 {
		w.tail = append(w.tail, line)
		if len(w.tail) > w.tailSize {
			w.tail = w.tail[len(w.tail)-w.tailSize:]
		}
	}
}

func (w *lineWriter) Flush() {
	if w.partial.Len() > 0 {
		w.emit()
	}
}

func (w *lineWriter) Tail() string {
	return strings.Join(w.tail, "\n")
}
