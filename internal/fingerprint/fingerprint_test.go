package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/musiccleanup/internal/resourceguard"
)

func writeTempAudio(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestParseFpcalcOutput(t *testing.T) {
	out := "DURATION=183\nFINGERPRINT=AQAAAA8AABDqEA\n"
	result, err := parseFpcalcOutput(out)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Algorithm)
	assert.Equal(t, 183.0, result.Duration)
	assert.Equal(t, "AQAAAA8AABDqEA", result.Bitstring)
}

func TestParseFpcalcOutputMissingFingerprint(t *testing.T) {
	_, err := parseFpcalcOutput("DURATION=10\n")
	require.Error(t, err)
}

func TestFingerprintFallsBackWhenPrimaryUnavailable(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i % 257)
	}
	path := writeTempAudio(t, data)

	fp := New("", 120*time.Second, resourceguard.NewRateLimiter(1000))
	result, err := fp.Fingerprint(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Algorithm)
	assert.NotEmpty(t, result.Bitstring)
}

func TestFingerprintIsDeterministicOnUnchangedBytes(t *testing.T) {
	data := []byte("stable content for deterministic fallback hashing padded out")
	for len(data) < 200*1024 {
		data = append(data, data...)
	}
	path := writeTempAudio(t, data)

	fp := New("", 120*time.Second, resourceguard.NewRateLimiter(1000))
	r1, err := fp.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	fp2 := New("", 120*time.Second, resourceguard.NewRateLimiter(1000))
	r2, err := fp2.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, r1.Bitstring, r2.Bitstring)
}

func TestFingerprintUsesInProcessCache(t *testing.T) {
	data := make([]byte, 200*1024)
	path := writeTempAudio(t, data)

	calls := 0
	fp := New("fpcalc", 120*time.Second, resourceguard.NewRateLimiter(1000))
	fp.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return []byte("DURATION=5\nFINGERPRINT=abc\n"), nil
	}

	_, err := fp.Fingerprint(context.Background(), path)
	require.NoError(t, err)
	_, err = fp.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}
