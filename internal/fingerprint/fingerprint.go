// Package fingerprint implements the Fingerprinter of spec.md §4.3: a
// primary path that shells out to a Chromaprint-compatible external tool,
// and a deterministic MD5-based fallback when the primary is unavailable,
// times out, or fails.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tphakala/musiccleanup/internal/chunkreader"
	"github.com/tphakala/musiccleanup/internal/logging"
	"github.com/tphakala/musiccleanup/internal/resourceguard"
	"github.com/tphakala/musiccleanup/internal/xerrors"
)

// Kind is the closed set of FingerprintError causes.
type Kind string

const (
	KindPrimaryUnavailable Kind = "PrimaryUnavailable"
	KindTimeout            Kind = "Timeout"
	KindUnreadableAudio    Kind = "UnreadableAudio"
	KindIo                 Kind = "Io"
)

// Error is the error type every Fingerprinter call fails with.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fingerprint %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorCategory() xerrors.Category { return xerrors.CategoryExternalTool }

// Result is the fingerprint produced for a file, ready for Catalog.UpsertFingerprint.
type Result struct {
	Algorithm  string // "primary" or "fallback"
	Bitstring  string
	Duration   float64
	SampleRate int
	Channels   int
	Bitrate    *int
}

// ExternalToolTimeout is the default timeout for the primary call (spec.md §5).
const ExternalToolTimeout = 60 * time.Second

// Fingerprinter wraps the primary external tool plus the MD5 fallback,
// rate-limited and cached in process.
type Fingerprinter struct {
	toolPath    string // e.g. "fpcalc"
	clipLength  time.Duration
	limiter     *resourceguard.RateLimiter
	cache       *cache.Cache
	runCommand  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

const cacheTTL = 30 * time.Minute

// New builds a Fingerprinter. toolPath is the chromaprint-compatible binary
// name (looked up on PATH); clipLength bounds how much audio the primary
// tool analyzes, per config.Settings.FingerprintLengthSec.
func New(toolPath string, clipLength time.Duration, limiter *resourceguard.RateLimiter) *Fingerprinter {
	return &Fingerprinter{
		toolPath:   toolPath,
		clipLength: clipLength,
		limiter:    limiter,
		cache:      cache.New(cacheTTL, cacheTTL*2),
		runCommand: runExternalCommand,
	}
}

func runExternalCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), err
	}
	return out.Bytes(), nil
}

// Fingerprint produces a Result for path, trying the primary tool first and
// falling back to the MD5 scheme on any primary failure.
func (f *Fingerprinter) Fingerprint(ctx context.Context, path string) (Result, error) {
	log := logging.ForComponent("fingerprint")

	if cached, ok := f.cache.Get(path); ok {
		return cached.(Result), nil
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Result{}, &Error{Kind: KindTimeout, Path: path, Err: err}
		}
	}

	result, err := f.runPrimary(ctx, path)
	if err != nil {
		log.Warn("primary fingerprint failed, falling back", "path", path, "error", err)
		result, err = f.runFallback(path)
		if err != nil {
			return Result{}, err
		}
	}

	f.cache.Set(path, result, cache.DefaultExpiration)
	return result, nil
}

func (f *Fingerprinter) runPrimary(ctx context.Context, path string) (Result, error) {
	if f.toolPath == "" {
		return Result{}, &Error{Kind: KindPrimaryUnavailable, Path: path, Err: errors.New("no external tool configured")}
	}

	callCtx, cancel := context.WithTimeout(ctx, ExternalToolTimeout)
	defer cancel()

	seconds := int(f.clipLength / time.Second)
	if seconds <= 0 {
		seconds = 120
	}

	out, err := f.runCommand(callCtx, f.toolPath, "-length", strconv.Itoa(seconds), path)
	if callCtx.Err() != nil {
		return Result{}, &Error{Kind: KindTimeout, Path: path, Err: callCtx.Err()}
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return Result{}, &Error{Kind: KindPrimaryUnavailable, Path: path, Err: err}
		}
		return Result{}, &Error{Kind: KindUnreadableAudio, Path: path, Err: err}
	}

	return parseFpcalcOutput(string(out))
}

// parseFpcalcOutput extracts DURATION and FINGERPRINT lines from fpcalc's
// plain-text output, avoiding a JSON dependency for a two-field payload.
func parseFpcalcOutput(output string) (Result, error) {
	var duration float64
	var bitstring string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "DURATION="):
			d, err := strconv.ParseFloat(strings.TrimPrefix(line, "DURATION="), 64)
			if err == nil {
				duration = d
			}
		case strings.HasPrefix(line, "FINGERPRINT="):
			bitstring = strings.TrimPrefix(line, "FINGERPRINT=")
		}
	}

	if bitstring == "" {
		return Result{}, &Error{Kind: KindUnreadableAudio, Err: errors.New("no fingerprint in tool output")}
	}

	return Result{
		Algorithm:  "primary",
		Bitstring:  bitstring,
		Duration:   duration,
		SampleRate: 44100,
		Channels:   2,
	}, nil
}

// runFallback computes an MD5 over the content hashes of the first three
// fingerprint-sized chunks combined with the file size, per spec.md §4.3.
func (f *Fingerprinter) runFallback(path string) (Result, error) {
	var hashes []string

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, &Error{Kind: KindIo, Path: path, Err: err}
	}
	size := info.Size()

	reader := chunkreader.New(path, chunkreader.PurposeFingerprint)
	count := 0
	err = reader.Each(func(c chunkreader.Chunk) error {
		if count >= 3 {
			return errStopIteration
		}
		hashes = append(hashes, c.ContentHash)
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return Result{}, &Error{Kind: KindIo, Path: path, Err: err}
	}
	if len(hashes) == 0 {
		return Result{}, &Error{Kind: KindUnreadableAudio, Path: path, Err: errors.New("file produced no chunks")}
	}

	h := md5.New()
	for _, hash := range hashes {
		h.Write([]byte(hash))
	}
	fmt.Fprintf(h, "%d", size)

	return Result{
		Algorithm: "fallback",
		Bitstring: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

var errStopIteration = errors.New("fingerprint: stop iteration")
