// Package memwipe provides explicit zeroization of buffers that held
// entropy or other key-adjacent material.
//
// Every transient buffer in the daemon that ever contains source bytes
// or an injection payload must be passed through Wipe before it is
// released, on all paths including error returns.
package memwipe

// The zeroing loop is reached through a function variable so the
// compiler cannot prove the stores dead and elide them once the buffer
// is no longer read.
var wipe = func(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Wipe overwrites b with zero bytes.
func Wipe(b []byte) {
	wipe(b)
}

// WipeAll overwrites each of the provided buffers with zero bytes.
func WipeAll(bufs ...[]byte) {
	for _, b := range bufs {
		wipe(b)
	}
}
