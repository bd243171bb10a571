package hardware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hearthd/hearth-core/internal/process"
)

// Stage identifies a phase of the flash workflow.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageVerifying   Stage = "verifying"
	StageFlashing    Stage = "flashing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Progress is reported to the caller as the flash advances. Percent is
// -1 when the stage has no meaningful completion figure.
type Progress struct {
	Stage   Stage
	Percent int
	Err     error
}

// defaultFlashTimeout bounds the external flasher's runtime.
const defaultFlashTimeout = 10 * time.Minute

// FlasherConfig configures the external flasher tool.
type FlasherConfig struct {
	// Binary is the path to the flasher executable.
	Binary string

	// BaseArgs are prepended to the generated --port/--firmware args.
	BaseArgs []string

	// Timeout bounds one flash run. Defaults to 10 minutes.
	Timeout time.Duration
}

// Logger defines the logging interface used by the Flasher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Flasher downloads firmware images and writes them to a serial device
// with the external flasher tool.
type Flasher struct {
	cfg        FlasherConfig
	dispatcher *Dispatcher
	http       *http.Client
	logger     Logger
}

// NewFlasher creates a flasher. The dispatcher is used to suspend and
// resume owners of the target port around the flash.
func NewFlasher(cfg FlasherConfig, dispatcher *Dispatcher) *Flasher {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultFlashTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = nil

	return &Flasher{
		cfg:        cfg,
		dispatcher: dispatcher,
		http:       rc.StandardClient(),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the flasher.
func (f *Flasher) SetLogger(logger Logger) {
	f.logger = logger
}

// Flash writes the manifest's firmware image to the given port.
//
// Port owners are suspended first and resumed on the way out whether or
// not the flash succeeds. The image is downloaded to a temp file and
// sha256-verified before the flasher tool runs. progress may be nil.
//
// Returns:
//   - ErrPortBusy: an owner refused to release the port
//   - ErrChecksumMismatch: the downloaded image failed verification
//   - ErrFlasherFailed: the flasher tool exited with an error
func (f *Flasher) Flash(ctx context.Context, port string, manifest Manifest, progress func(Progress)) (err error) {
	report := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}
	defer func() {
		if err != nil {
			report(Progress{Stage: StageFailed, Percent: -1, Err: err})
		}
	}()

	owners := f.dispatcher.OwnersOfPort(port)
	var suspended []Owner
	defer func() {
		// Resume regardless of outcome; the device needs its port back.
		for _, owner := range suspended {
			if rerr := owner.Resume(ctx); rerr != nil {
				f.logger.Error("resuming port owner failed",
					"port", port, "entry", owner.Info().EntryID, "error", rerr)
			}
		}
	}()
	for _, owner := range owners {
		if serr := owner.Suspend(ctx); serr != nil {
			return fmt.Errorf("%w: %s held by %s: %v",
				ErrPortBusy, port, owner.Info().EntryID, serr)
		}
		suspended = append(suspended, owner)
	}

	report(Progress{Stage: StageDownloading, Percent: 0})
	path, err := f.download(ctx, manifest.URL)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	report(Progress{Stage: StageVerifying, Percent: -1})
	if err := verifyChecksum(path, manifest.SHA256); err != nil {
		return err
	}

	report(Progress{Stage: StageFlashing, Percent: 0})
	if err := f.runFlasher(ctx, port, path, report); err != nil {
		return err
	}

	f.logger.Info("firmware flashed", "port", port, "version", manifest.Version)
	report(Progress{Stage: StageDone, Percent: 100})
	return nil
}

// download fetches the firmware image to a temp file and returns its path.
func (f *Flasher) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building firmware request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading firmware: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading firmware: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "hearth-firmware-*.bin")
	if err != nil {
		return "", fmt.Errorf("creating firmware temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing firmware image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing firmware image: %w", err)
	}
	return tmp.Name(), nil
}

// verifyChecksum compares the file's sha256 against the expected hex digest.
func verifyChecksum(path, expected string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening firmware image: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return fmt.Errorf("hashing firmware image: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, actual, expected)
	}
	return nil
}

// runFlasher executes the flasher tool once, forwarding percentage
// lines from its output as flashing progress.
func (f *Flasher) runFlasher(ctx context.Context, port, imagePath string, report func(Progress)) error {
	args := append(append([]string{}, f.cfg.BaseArgs...),
		"--port", port, "--firmware", imagePath)

	mgr := process.NewManager(process.Config{
		Name:   "flasher",
		Binary: f.cfg.Binary,
		Args:   args,
		OnLine: func(_, line string) {
			if pct, ok := parsePercent(line); ok {
				report(Progress{Stage: StageFlashing, Percent: pct})
			}
		},
	})
	mgr.SetLogger(f.logger)

	runCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := mgr.Run(runCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrFlasherFailed, err)
	}
	return nil
}

// parsePercent extracts the last "NN%" figure from a flasher output line.
func parsePercent(line string) (int, bool) {
	idx := strings.LastIndexByte(line, '%')
	if idx <= 0 {
		return 0, false
	}
	start := idx
	for start > 0 && line[start-1] >= '0' && line[start-1] <= '9' {
		start--
	}
	if start == idx {
		return 0, false
	}
	pct, err := strconv.Atoi(line[start:idx])
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}
