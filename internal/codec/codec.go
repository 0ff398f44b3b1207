package codec

import "github.com/vera-firefly/vkrcontext/internal/objtable"

// Codec bundles one Decoder and one Encoder sharing a single sticky fatal
// flag, giving the context facade one handle instead of two to pass
// around. Purely a Go ergonomics grouping — decoder and encoder remain
// independently usable.
type Codec struct {
	Decoder *Decoder
	Encoder *Encoder

	fatal *fatalFlag
}

// New creates a Codec whose decoder resolves ids through table.
func New(table *objtable.Table) *Codec {
	fatal := &fatalFlag{}
	return &Codec{
		Decoder: NewDecoder(table, fatal),
		Encoder: NewEncoder(fatal),
		fatal:   fatal,
	}
}

// IsFatal reports whether either half has set the sticky fatal flag.
func (c *Codec) IsFatal() bool {
	return c.fatal.IsSet()
}

// SetFatal marks the codec permanently fatal, e.g. when the dispatcher
// encounters an unknown opcode.
func (c *Codec) SetFatal() {
	c.fatal.Set()
}
