// Package jitter implements a non-physical entropy collector based on
// fine-grained timing variance of CPU and memory operations.
//
// Each output bit is derived by XOR-folding the measured wall-clock
// duration of a data-dependent memory stirring pass.  The collector
// refuses to initialize when the clock is too coarse to show usable
// jitter, mirroring the init-time health test of dedicated jitter
// entropy libraries.
package jitter

import (
	"errors"
	"math/bits"
	"time"

	"github.com/entropylabs/entropyd/entropy/api"
)

const (
	// healthSamples is the number of raw timing deltas examined by
	// the init-time health test.
	healthSamples = 1024

	// minDistinct is the minimum number of distinct low-byte delta
	// values the health test must observe.
	minDistinct = 8

	// maxStuck is the maximum tolerated number of consecutive equal
	// deltas during the health test.
	maxStuck = healthSamples / 4

	scratchWords = 64
	stirRounds   = 17
)

var (
	// ErrTimerCoarse is the error returned when the clock does not
	// exhibit enough timing variance for jitter collection.
	ErrTimerCoarse = errors.New("jitter: timer too coarse for entropy collection")

	// ErrClosed is the error returned when reading from a closed
	// collector.
	ErrClosed = errors.New("jitter: collector closed")

	_ api.Source = (*Collector)(nil)
)

// Collector is a timing-jitter entropy collector.
//
// A Collector is not safe for concurrent use; the daemon drives it from
// the single dispatch goroutine.
type Collector struct {
	scratch [scratchWords]uint64
	state   uint64

	closed bool
}

// New creates a Collector and runs the init-time health test, failing
// with ErrTimerCoarse when the environment shows no usable jitter.
func New() (*Collector, error) {
	c := &Collector{}

	seed := uint64(time.Now().UnixNano())
	for i := range c.scratch {
		seed = seed*6364136223846793005 + 1442695040888963407
		c.scratch[i] = seed
	}

	if err := c.selfTest(); err != nil {
		c.wipe()
		return nil, err
	}

	return c, nil
}

// Name returns the source name.
func (c *Collector) Name() string {
	return "jitter"
}

// Fill fills buf completely with gathered entropy.  A partial fill is
// never returned: the result is either len(buf) bytes or an error.
func (c *Collector) Fill(buf []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}

	for i := range buf {
		var b byte
		for bit := 0; bit < 8; bit++ {
			b = b<<1 | byte(c.sampleBit())
		}
		buf[i] = b
	}

	return len(buf), nil
}

// Close wipes the collector's internal state and marks it unusable.
func (c *Collector) Close() error {
	c.wipe()
	c.closed = true
	return nil
}

func (c *Collector) wipe() {
	for i := range c.scratch {
		c.scratch[i] = 0
	}
	c.state = 0
}

// sampleBit measures one stirring pass and folds the duration down to
// a single bit.
func (c *Collector) sampleBit() uint64 {
	d := c.rawDelta()
	d ^= d >> 32
	d ^= d >> 16
	d ^= d >> 8
	d ^= d >> 4
	d ^= d >> 2
	d ^= d >> 1
	return d & 1
}

// rawDelta times one data-dependent pass over the scratch pool.
func (c *Collector) rawDelta() uint64 {
	start := time.Now()
	c.stir()
	return uint64(time.Since(start).Nanoseconds())
}

// stir walks the scratch pool in a state-dependent order so that the
// measured duration is perturbed by cache and branch behavior.
func (c *Collector) stir() {
	idx := c.state
	for i := 0; i < stirRounds; i++ {
		idx = idx*6364136223846793005 + 1442695040888963407
		w := &c.scratch[idx>>58&(scratchWords-1)]
		*w = bits.RotateLeft64(*w^idx, 29)
		c.state ^= *w
	}
}

// selfTest is the init-time health test: the observed deltas must not
// be constant and must not repeat excessively.
func (c *Collector) selfTest() error {
	var (
		seen  [256]bool
		nSeen int
		stuck int
		prev  uint64
	)

	for i := 0; i < healthSamples; i++ {
		d := c.rawDelta()
		if i > 0 && d == prev {
			stuck++
		}
		prev = d

		low := byte(d)
		if !seen[low] {
			seen[low] = true
			nSeen++
		}
	}

	if nSeen < minDistinct || stuck > maxStuck {
		return ErrTimerCoarse
	}

	return nil
}
