package codec

import "sync/atomic"

// fatalFlag is the single sticky flag shared between a Decoder and Encoder.
// Once set, both refuse further work; the context propagates it to its
// caller as a permanent error. Never cleared once set.
type fatalFlag struct {
	set atomic.Bool
}

func (f *fatalFlag) Set() {
	f.set.Store(true)
}

func (f *fatalFlag) IsSet() bool {
	return f.set.Load()
}
