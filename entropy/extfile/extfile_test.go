package extfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/entropylabs/entropyd/entropy/api"
)

func newFifoSource(t *testing.T) (*Source, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "entropy.fifo")
	require.NoError(t, unix.Mkfifo(path, 0o600), "mkfifo")

	src, err := Open(path)
	require.NoError(t, err, "Open")
	t.Cleanup(func() { _ = src.Close() })

	return src, path
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist"))
	require.ErrorIs(t, err, unix.ENOENT)
}

func TestFillNoData(t *testing.T) {
	require := require.New(t)

	src, _ := newFifoSource(t)

	// No writer yet: the non-blocking read must report zero bytes
	// without an error, not block.
	buf := make([]byte, api.ExternalReadCap)
	n, err := src.Fill(buf)
	require.NoError(err, "Fill with no data")
	require.Zero(n, "no data expected")
}

func TestFillData(t *testing.T) {
	require := require.New(t)

	src, path := newFifoSource(t)

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(err, "open fifo for writing")
	defer w.Close()

	payload := []byte("not very random, but bytes nonetheless")
	_, err = w.Write(payload)
	require.NoError(err, "write to fifo")

	buf := make([]byte, api.ExternalReadCap)
	n, err := src.Fill(buf)
	require.NoError(err, "Fill")
	require.Equal(len(payload), n)
	require.Equal(payload, buf[:n])
}

func TestFillCapped(t *testing.T) {
	require := require.New(t)

	src, path := newFifoSource(t)

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(err, "open fifo for writing")
	defer w.Close()

	big := make([]byte, 2*api.ExternalReadCap)
	_, err = w.Write(big)
	require.NoError(err, "write to fifo")

	// An oversized buffer must still result in a capped read.
	buf := make([]byte, 2*api.ExternalReadCap)
	n, err := src.Fill(buf)
	require.NoError(err, "Fill")
	require.LessOrEqual(n, api.ExternalReadCap, "read cap exceeded")
}

func TestClose(t *testing.T) {
	require := require.New(t)

	src, _ := newFifoSource(t)
	require.NoError(src.Close())
	require.NoError(src.Close(), "Close must be idempotent")

	_, err := src.Fill(make([]byte, 16))
	require.ErrorIs(err, ErrClosed)
}
