package pool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/entropylabs/entropyd/common/logging"
	"github.com/entropylabs/entropyd/entropy/api"
)

// capturedRequest is a snapshot of the request structure as the kernel
// would have seen it at ioctl time.
type capturedRequest struct {
	entropyCount int32
	bufSize      int32
	payload      []byte
}

func newTestPool(err error) (*Pool, *[]capturedRequest) {
	reqs := new([]capturedRequest)

	p := &Pool{
		fd:     -1,
		rpi:    new(randPoolInfo),
		logger: logging.GetLogger("kernel/pool"),
		ioctl: func(fd int, req uint, arg unsafe.Pointer) error {
			rpi := (*randPoolInfo)(arg)
			snap := capturedRequest{
				entropyCount: rpi.entropyCount,
				bufSize:      rpi.bufSize,
			}
			snap.payload = append(snap.payload, rpi.buf[:rpi.bufSize]...)
			*reqs = append(*reqs, snap)
			return err
		},
	}

	return p, reqs
}

func TestRequestLayout(t *testing.T) {
	require := require.New(t)

	// The request must be bit-exact with struct rand_pool_info:
	// int entropy_count; int buf_size; __u32 buf[].
	var rpi randPoolInfo
	require.EqualValues(0, unsafe.Offsetof(rpi.entropyCount))
	require.EqualValues(4, unsafe.Offsetof(rpi.bufSize))
	require.EqualValues(8, unsafe.Offsetof(rpi.buf))
}

func TestInjectJitterShape(t *testing.T) {
	require := require.New(t)

	p, reqs := newTestPool(nil)

	payload := make([]byte, api.JitterBlockSize)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	written, err := p.Inject(payload, api.JitterEntropyBits)
	require.NoError(err, "Inject")
	require.Equal(api.JitterBlockSize, written)

	require.Len(*reqs, 1)
	req := (*reqs)[0]
	require.EqualValues(api.JitterEntropyBits, req.entropyCount, "entropy_count")
	require.EqualValues(api.JitterBlockSize, req.bufSize, "buf_size")
	require.Equal(payload, req.payload, "payload bytes")
}

func TestInjectWipesRequest(t *testing.T) {
	require := require.New(t)

	checkScrubbed := func(p *Pool) {
		require.Zero(p.rpi.entropyCount, "entropy_count not wiped")
		require.Zero(p.rpi.bufSize, "buf_size not wiped")
		for i, b := range p.rpi.buf {
			require.Zero(b, "request buffer byte %d not wiped", i)
		}
	}

	p, _ := newTestPool(nil)
	payload := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	_, err := p.Inject(payload, 32)
	require.NoError(err)
	checkScrubbed(p)

	// A kernel rejection must still leave the request wiped.
	p, _ = newTestPool(unix.EPERM)
	_, err = p.Inject(payload, 32)
	require.Error(err)
	checkScrubbed(p)
}

func TestInjectKernelRejection(t *testing.T) {
	require := require.New(t)

	p, reqs := newTestPool(unix.EPERM)

	written, err := p.Inject([]byte{1, 2, 3}, 24)
	require.ErrorIs(err, unix.EPERM, "errno must be preserved")
	require.Zero(written, "a rejected injection counts as zero bytes written")
	require.Len(*reqs, 1, "the ioctl must still have been attempted")
}

func TestInjectInvariants(t *testing.T) {
	require := require.New(t)

	p, reqs := newTestPool(nil)

	_, err := p.Inject([]byte{1, 2}, 17)
	require.ErrorIs(err, ErrCreditTooLarge, "bits > 8*len(payload)")

	_, err = p.Inject(nil, 0)
	require.ErrorIs(err, ErrPayloadSize, "empty payload")

	_, err = p.Inject(make([]byte, maxPayload+1), 8)
	require.ErrorIs(err, ErrPayloadSize, "oversized payload")

	require.Empty(*reqs, "invalid requests must never reach the kernel")

	// Full-trust external credit is exactly at the invariant edge.
	_, err = p.Inject([]byte{1, 2}, 16)
	require.NoError(err, "bits == 8*len(payload) is valid")
}

func TestInjectAfterClose(t *testing.T) {
	require := require.New(t)

	p, _ := newTestPool(nil)
	require.NoError(p.Close())
	require.NoError(p.Close(), "Close must be idempotent")

	_, err := p.Inject([]byte{1}, 8)
	require.ErrorIs(err, ErrClosed)
}
