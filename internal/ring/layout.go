// Package ring implements the per-guest submission ring: a shared-memory
// single-producer/single-consumer command channel with a lock-free
// head/tail/status protocol, a consumer worker goroutine, an idle/wake
// protocol, and seqno-based cross-ring waiting.
package ring

import (
	"time"

	"github.com/vera-firefly/vkrcontext/internal/region"
)

// Layout is the wire-format ring creation record: five non-overlapping
// sub-regions of a single resource, all offsets relative to a base offset
// within that resource.
type Layout struct {
	BaseOffset uint64
	Size       uint64 // size of the enclosing ring region, relative to BaseOffset

	HeadOffset   uint64
	TailOffset   uint64
	StatusOffset uint64

	BufferOffset uint64
	BufferSize   uint32 // must be a power of two

	ExtraOffset uint64
	ExtraSize   uint64

	IdleTimeout time.Duration
}

const subRegionWordSize = 4

// Validate checks the layout's internal consistency against res: the
// enclosing ring region [BaseOffset, BaseOffset+Size) must itself lie
// within res, every sub-region must be 4-byte aligned and lie entirely
// within that enclosing region (not merely within res), the five
// sub-regions must be pairwise disjoint, and the buffer size must be a
// power of two.
func (l Layout) Validate(res *region.Resource) bool {
	if l.BufferSize == 0 || l.BufferSize&(l.BufferSize-1) != 0 {
		return false
	}

	enclosing, ok := region.NewRegion(l.BaseOffset, l.BaseOffset+l.Size)
	if !ok || !enclosing.IsValid(res.Size()) {
		return false
	}

	head, ok := region.NewRegion(l.BaseOffset+l.HeadOffset, l.BaseOffset+l.HeadOffset+subRegionWordSize)
	if !ok || !head.IsAligned(subRegionWordSize) || !head.IsWithin(enclosing) {
		return false
	}
	tail, ok := region.NewRegion(l.BaseOffset+l.TailOffset, l.BaseOffset+l.TailOffset+subRegionWordSize)
	if !ok || !tail.IsAligned(subRegionWordSize) || !tail.IsWithin(enclosing) {
		return false
	}
	status, ok := region.NewRegion(l.BaseOffset+l.StatusOffset, l.BaseOffset+l.StatusOffset+subRegionWordSize)
	if !ok || !status.IsAligned(subRegionWordSize) || !status.IsWithin(enclosing) {
		return false
	}
	buffer, ok := region.NewRegion(l.BaseOffset+l.BufferOffset, l.BaseOffset+l.BufferOffset+uint64(l.BufferSize))
	if !ok || !buffer.IsAligned(subRegionWordSize) || !buffer.IsWithin(enclosing) {
		return false
	}

	var extra region.Region
	if l.ExtraSize > 0 {
		extra, ok = region.NewRegion(l.BaseOffset+l.ExtraOffset, l.BaseOffset+l.ExtraOffset+l.ExtraSize)
		if !ok || !extra.IsAligned(subRegionWordSize) || !extra.IsWithin(enclosing) {
			return false
		}
	}

	subRegions := []region.Region{head, tail, status, buffer}
	if l.ExtraSize > 0 {
		subRegions = append(subRegions, extra)
	}
	for i := 0; i < len(subRegions); i++ {
		for j := i + 1; j < len(subRegions); j++ {
			if !subRegions[i].IsDisjoint(subRegions[j]) {
				return false
			}
		}
	}

	return true
}
