package codec

import "github.com/vera-firefly/vkrcontext/internal/constants"

// savedState is the "Saved decoder state" tuple from the data model:
// cursor/end of the stream being decoded when the nested execution began,
// plus the arena watermark to restore on pop.
type savedState struct {
	cursor int
	end    int
	mark   Mark
}

// stateStack is the decoder's fixed-depth nesting stack for
// ExecuteCommandStreams. Depth is bounded by constants.StateStackDepth;
// pushing past it is a structural-protocol error, not a panic.
type stateStack struct {
	entries [constants.StateStackDepth]savedState
	depth   int
}

func (s *stateStack) push(st savedState) bool {
	if s.depth >= len(s.entries) {
		return false
	}
	s.entries[s.depth] = st
	s.depth++
	return true
}

func (s *stateStack) pop() (savedState, bool) {
	if s.depth == 0 {
		return savedState{}, false
	}
	s.depth--
	return s.entries[s.depth], true
}

func (s *stateStack) len() int {
	return s.depth
}
