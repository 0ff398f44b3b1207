package vkrcontext

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vera-firefly/vkrcontext/internal/codec"
	"github.com/vera-firefly/vkrcontext/internal/dispatch"
	"github.com/vera-firefly/vkrcontext/internal/logging"
	"github.com/vera-firefly/vkrcontext/internal/objtable"
	"github.com/vera-firefly/vkrcontext/internal/region"
	"github.com/vera-firefly/vkrcontext/internal/ring"
	"github.com/vera-firefly/vkrcontext/internal/syncpipeline"
	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

// InitFlags are the renderer init flags a guest must supply when creating
// a context. spec.md §6 requires the thread-sync and async-fence-callback
// bits both be set; their absence is a creation-time error.
type InitFlags uint32

const (
	InitFlagThreadSync         InitFlags = 1 << 0
	InitFlagAsyncFenceCallback InitFlags = 1 << 1

	requiredInitFlags = InitFlagThreadSync | InitFlagAsyncFenceCallback
)

func (f InitFlags) satisfiesRequired() bool {
	return f&requiredInitFlags == requiredInitFlags
}

// SeqnoHook is notified whenever a ring's worker advances its head,
// forwarding past the ring's own guest-visible head word — e.g. for a
// transport layer emulating a virtio doorbell. Optional; nil is a no-op.
type SeqnoHook func(contextID uint32, ringIndex int32, offsetConsumed uint32)

// Config creates one Context for one guest connection.
type Config struct {
	ID        uint32
	Driver    vkdriver.Driver
	Retire    syncpipeline.RetireFunc
	DebugName string
	InitFlags InitFlags

	Logger     *logging.Logger
	Observer   Observer
	SeqnoHook  SeqnoHook
	SyncConfig syncpipeline.Config

	// CPUAffinity optionally pins each ring's worker goroutine to a CPU,
	// round-robin by ring index (ring N -> CPU CPUAffinity[N %
	// len(CPUAffinity)]), the way the teacher pins each queue runner. Nil
	// means no affinity is set.
	CPUAffinity []int
}

// Context is the aggregate owning one guest's object table, resource
// table, ring list, command-stream codec, dispatch table, and
// fatal-error sticky flag (spec.md §3's Context), generalized from the
// teacher's single-device-per-connection model to one Vulkan context per
// guest connection.
type Context struct {
	ID        uint32
	TraceID   uuid.UUID
	DebugName string

	driver      vkdriver.Driver
	logger      *logging.Logger
	observer    Observer
	seqnoHook   SeqnoHook
	cpuAffinity []int

	table    *objtable.Table
	codec    *codec.Codec
	handlers *dispatch.Table

	// mu serializes external entry points (submit_cmd, attach/detach,
	// get_blob/get_blob_done, transfer). Ring workers and the sync
	// pipeline never acquire it, matching spec.md §5's deadlock-avoidance
	// rule.
	mu sync.Mutex

	// dispatchMu serializes actual decode/dispatch steps against the
	// single shared Codec, across both submit_cmd and every ring worker —
	// the mechanism that satisfies "no two handlers run concurrently for
	// the same context" (spec.md §4.4) without ring workers needing to
	// hold mu, which spec.md §5 forbids.
	dispatchMu sync.Mutex

	resMu     sync.RWMutex
	resources map[uint32]*region.Resource

	ringMu sync.Mutex
	rings  map[int32]*ring.Ring

	pipelineMu  sync.Mutex
	pipeline    *syncpipeline.Pipeline
	syncConfig  syncpipeline.Config
	guestRetire syncpipeline.RetireFunc

	metrics *Metrics
}

// Create builds a Context per spec.md §4.7's `create(id, retire_cb,
// debug_name)`, rejecting a config missing either required init flag.
func Create(cfg Config) (*Context, error) {
	if !cfg.InitFlags.satisfiesRequired() {
		return nil, NewContextError("Create", cfg.ID, ErrCodePolicy,
			"renderer init flags must set both thread-sync and async-fence-callback")
	}
	if cfg.Driver == nil {
		return nil, NewContextError("Create", cfg.ID, ErrCodeInvalidParameters, "driver must not be nil")
	}

	table := objtable.New()
	handlers := dispatch.NewTable()
	dispatch.RegisterBuiltins(handlers)
	dispatch.RegisterTransport(handlers)

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}
	syncConfig := cfg.SyncConfig
	if syncConfig == (syncpipeline.Config{}) {
		syncConfig = syncpipeline.DefaultConfig()
	}

	ctx := &Context{
		ID:          cfg.ID,
		TraceID:     uuid.New(),
		DebugName:   cfg.DebugName,
		driver:      cfg.Driver,
		logger:      logger,
		observer:    observer,
		seqnoHook:   cfg.SeqnoHook,
		cpuAffinity: cfg.CPUAffinity,
		table:       table,
		codec:       codec.New(table),
		handlers:    handlers,
		resources:   make(map[uint32]*region.Resource),
		rings:       make(map[int32]*ring.Ring),
		syncConfig:  syncConfig,
		guestRetire: cfg.Retire,
		metrics:     NewMetrics(),
	}
	logger.Infof("context %d created (trace=%s)", ctx.ID, ctx.TraceID)
	return ctx, nil
}

func (ctx *Context) newExec() *dispatch.Exec {
	return &dispatch.Exec{
		Codec:     ctx.codec,
		Table:     ctx.table,
		Driver:    ctx.driver,
		Rings:     ctx,
		Resources: ctx,
		ContextID: ctx.ID,
		Handlers:  ctx.handlers,
	}
}

// IsFatal reports the context's sticky fatal flag.
func (ctx *Context) IsFatal() bool {
	return ctx.codec.IsFatal()
}

// SubmitCmd implements spec.md §4.7's `submit_cmd(bytes)`.
func (ctx *Context) SubmitCmd(buf []byte) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.codec.IsFatal() {
		return ErrFatal
	}

	ctx.dispatchMu.Lock()
	defer ctx.dispatchMu.Unlock()

	ctx.codec.Decoder.SetBufferStream(buf)
	ex := ctx.newExec()

	for ctx.codec.Decoder.HasCommand() {
		start := time.Now()
		ok := ctx.handlers.DispatchOne(ex)
		ctx.recordDispatch(start)
		if !ok {
			break
		}
		ctx.codec.Decoder.ResetTemp()
	}
	ctx.codec.Decoder.GC()

	if ctx.codec.IsFatal() {
		ctx.metrics.RecordFatal()
		ctx.observer.ObserveFatal()
		return ErrFatal
	}
	return nil
}

func (ctx *Context) recordDispatch(start time.Time) {
	latency := uint64(time.Since(start).Nanoseconds())
	driverErr := ctx.codec.IsFatal()
	ctx.metrics.RecordDispatch(latency, driverErr)
	ctx.observer.ObserveDispatch(latency, driverErr)
}

// AttachResource implements spec.md §4.7's `attach_resource(resource)`.
func (ctx *Context) AttachResource(res *region.Resource) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.resMu.Lock()
	defer ctx.resMu.Unlock()
	if _, exists := ctx.resources[res.ID]; exists {
		return NewContextError("AttachResource", ctx.ID, ErrCodeInvalidParameters, "resource id already attached")
	}
	ctx.resources[res.ID] = res
	return nil
}

// DetachResource implements spec.md §4.7's `detach_resource(res_id)`,
// idempotent: detaching an id that is already gone is a no-op.
func (ctx *Context) DetachResource(resourceID uint32) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.resMu.Lock()
	res, ok := ctx.resources[resourceID]
	if ok {
		delete(ctx.resources, resourceID)
	}
	ctx.resMu.Unlock()
	if !ok {
		return
	}

	ctx.codec.Decoder.Invalidate(res)
	ctx.codec.Encoder.CheckStream(res)
}

// LookupResource implements dispatch.ResourceHost.
func (ctx *Context) LookupResource(resourceID uint32) (*region.Resource, bool) {
	ctx.resMu.RLock()
	defer ctx.resMu.RUnlock()
	r, ok := ctx.resources[resourceID]
	return r, ok
}

// BlobDescriptor is the two-step memory-export descriptor spec.md §6
// calls `get_blob`'s return shape.
type BlobDescriptor struct {
	Kind        region.Kind
	FD          int
	MappingInfo uint32
}

// Mapping-info tags, per spec.md §6: host-visible memory gets
// write-combined unless it is also host-coherent and host-cached, in
// which case it gets cached; otherwise none.
const (
	MappingInfoNone          uint32 = 0
	MappingInfoCached        uint32 = 1
	MappingInfoWriteCombined uint32 = 2
)

// memoryPropertyFlags mirror the small subset of VkMemoryPropertyFlagBits
// GetBlob needs to select a mapping-info tag.
const (
	MemoryPropertyHostVisible  uint32 = 1 << 0
	MemoryPropertyHostCoherent uint32 = 1 << 1
	MemoryPropertyHostCached   uint32 = 1 << 2
)

func mappingInfoFor(memoryProperties uint32) uint32 {
	if memoryProperties&MemoryPropertyHostVisible == 0 {
		return MappingInfoNone
	}
	if memoryProperties&MemoryPropertyHostCoherent != 0 && memoryProperties&MemoryPropertyHostCached != 0 {
		return MappingInfoCached
	}
	return MappingInfoWriteCombined
}

// GetBlob begins the two-step device-memory export spec.md §4.7
// describes. It holds the context mutex until GetBlobDone completes the
// pair — callers must always follow a successful GetBlob with exactly one
// GetBlobDone, with no other Context call in between, the same
// back-to-back contract a real venus-style host process follows for this
// handshake.
func (ctx *Context) GetBlob(objectID uint64, memoryProperties uint32) (BlobDescriptor, error) {
	ctx.mu.Lock()

	obj, ok := ctx.table.Lookup(objectID, objtable.KindDeviceMemory)
	if !ok {
		ctx.mu.Unlock()
		return BlobDescriptor{}, NewContextError("GetBlob", ctx.ID, ErrCodeNotFound, "unknown device memory object")
	}

	return BlobDescriptor{
		Kind:        region.KindOpaque,
		FD:          int(obj.Native),
		MappingInfo: mappingInfoFor(memoryProperties),
	}, nil
}

// GetBlobDone finalizes the export begun by GetBlob: marks res exported
// (rejecting a res that was already exported) and binds it to resourceID
// as a new attached resource. The export state lives on res, not on the
// device-memory object, so exporting the same memory object again with a
// fresh resource is not rejected. Always releases the mutex GetBlob left
// locked, even on error.
func (ctx *Context) GetBlobDone(resourceID uint32, res *region.Resource) error {
	defer ctx.mu.Unlock()

	if !res.MarkExported() {
		return NewContextError("GetBlobDone", ctx.ID, ErrCodePolicy, "device memory object already exported")
	}

	ctx.resMu.Lock()
	ctx.resources[resourceID] = res
	ctx.resMu.Unlock()
	return nil
}

// TransferDirection selects which way Transfer copies bytes.
type TransferDirection int

const (
	TransferToResource TransferDirection = iota
	TransferFromResource
)

// TransferInfo bounds a single Transfer call to a sub-range of the
// attached resource.
type TransferInfo struct {
	Offset uint64
	Size   uint64
}

// Transfer implements spec.md §4.7's `transfer(resource, info,
// direction)`: validates the attachment and the requested range, then
// performs a bounded memcpy between the resource and the caller-supplied
// mapped device-memory buffer (the CPU-visible mapping GetBlob/
// GetBlobDone already bound). Flush/invalidate of a real device mapping
// is a native-driver concern outside this package's scope; the memcpy
// direction is the host-visible half of that contract.
func (ctx *Context) Transfer(resourceID uint32, info TransferInfo, direction TransferDirection, mapped []byte) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	res, ok := ctx.LookupResource(resourceID)
	if !ok {
		return NewContextError("Transfer", ctx.ID, ErrCodeNotFound, "resource not attached")
	}
	reg, ok := region.NewRegion(info.Offset, info.Offset+info.Size)
	if !ok || !reg.IsValid(res.Size()) {
		return NewContextError("Transfer", ctx.ID, ErrCodeInvalidParameters, "transfer range out of bounds")
	}
	slice, ok := res.AsSlice(reg)
	if !ok {
		return NewContextError("Transfer", ctx.ID, ErrCodeResource, "resource is not CPU-mapped")
	}
	if uint64(len(mapped)) < info.Size {
		return NewContextError("Transfer", ctx.ID, ErrCodeInvalidParameters, "mapped buffer shorter than transfer size")
	}

	switch direction {
	case TransferToResource:
		copy(slice, mapped[:info.Size])
	case TransferFromResource:
		copy(mapped[:info.Size], slice)
	default:
		return NewContextError("Transfer", ctx.ID, ErrCodeInvalidParameters, "unknown transfer direction")
	}
	return nil
}

// ringConsumer adapts a Context to ring.Consumer, driving the shared
// codec/dispatch pipeline over bytes the ring worker linearized out of
// its shared-memory buffer.
type ringConsumer struct {
	ctx       *Context
	ringIndex int32
}

func (rc *ringConsumer) Consume(buf []byte, onAdvance func(consumed uint32)) bool {
	wrapped := func(consumed uint32) {
		onAdvance(consumed)
		if rc.ctx.seqnoHook != nil {
			rc.ctx.seqnoHook(rc.ctx.ID, rc.ringIndex, consumed)
		}
	}
	return rc.ctx.consumeRingBuffer(buf, wrapped)
}

func (ctx *Context) consumeRingBuffer(buf []byte, onAdvance func(consumed uint32)) bool {
	ctx.dispatchMu.Lock()
	defer ctx.dispatchMu.Unlock()

	ctx.codec.Decoder.SetBufferStream(buf)
	ex := ctx.newExec()
	ctx.metrics.RecordRingSubmit(uint64(len(buf)))
	ctx.observer.ObserveRingSubmit(uint64(len(buf)))

	for ctx.codec.Decoder.HasCommand() {
		start := time.Now()
		ok := ctx.handlers.DispatchOne(ex)
		ctx.recordDispatch(start)
		if !ok {
			break
		}
		onAdvance(uint32(ctx.codec.Decoder.Cursor()))
		ctx.codec.Decoder.ResetTemp()
	}
	ctx.codec.Decoder.GC()

	if ctx.codec.IsFatal() {
		ctx.metrics.RecordFatal()
		ctx.observer.ObserveFatal()
		return true
	}
	return false
}

// CreateRing implements dispatch.RingHost.
func (ctx *Context) CreateRing(index int32, res *region.Resource, layout ring.Layout) bool {
	r, ok := ring.New(int(index), layout, res)
	if !ok {
		return false
	}

	ctx.ringMu.Lock()
	if _, exists := ctx.rings[index]; exists {
		ctx.ringMu.Unlock()
		return false
	}
	ctx.rings[index] = r
	ctx.ringMu.Unlock()

	r.Start(&ringConsumer{ctx: ctx, ringIndex: index}, ctx.cpuAffinity)
	return true
}

// DestroyRing implements dispatch.RingHost.
func (ctx *Context) DestroyRing(index int32) bool {
	ctx.ringMu.Lock()
	r, ok := ctx.rings[index]
	if ok {
		delete(ctx.rings, index)
	}
	ctx.ringMu.Unlock()
	if !ok {
		return false
	}
	r.Stop()
	return true
}

// NotifyRing implements dispatch.RingHost.
func (ctx *Context) NotifyRing(index int32) bool {
	r, ok := ctx.ringByIndex(index)
	if !ok {
		return false
	}
	r.Notify()
	return true
}

// WriteRingExtra implements dispatch.RingHost.
func (ctx *Context) WriteRingExtra(index int32, offset uint64, value uint32) bool {
	r, ok := ctx.ringByIndex(index)
	if !ok {
		return false
	}
	return r.WriteExtra(offset, value)
}

// WaitRingSeqno implements dispatch.RingHost and spec.md §4.7's
// `wait_ring_seqno(ring, seqno)`.
func (ctx *Context) WaitRingSeqno(index int32, target uint32) bool {
	r, ok := ctx.ringByIndex(index)
	if !ok {
		return false
	}
	return r.WaitSeqno(target)
}

func (ctx *Context) ringByIndex(index int32) (*ring.Ring, bool) {
	ctx.ringMu.Lock()
	defer ctx.ringMu.Unlock()
	r, ok := ctx.rings[index]
	return r, ok
}

// SubmitFence implements spec.md §4.7's `submit_fence(flags, ring_index,
// cookie)`. queueID resolves through the object table to the native
// queue handle, and the queue's owning device lazily creates this
// context's queue sync pipeline on first use.
func (ctx *Context) SubmitFence(ringIndex int32, queueID uint64, cookie uint64, mergeable bool) (bool, error) {
	queue, ok := ctx.table.Lookup(queueID, objtable.KindQueue)
	if !ok {
		return false, NewContextError("SubmitFence", ctx.ID, ErrCodeNotFound, "unknown queue object")
	}
	if !queue.HasParent {
		return false, NewContextError("SubmitFence", ctx.ID, ErrCodeInvalidParameters, "queue has no owning device")
	}
	device, ok := ctx.table.Lookup(queue.Parent, objtable.KindDevice)
	if !ok {
		return false, NewContextError("SubmitFence", ctx.ID, ErrCodeNotFound, "queue's device no longer present")
	}

	pipeline, err := ctx.pipelineFor(vkdriver.Handle(device.Native))
	if err != nil {
		return false, err
	}
	ok, err = pipeline.SubmitFence(ringIndex, vkdriver.Handle(queue.Native), cookie, mergeable)
	if err != nil {
		ctx.metrics.DriverErrors.Add(1)
		return false, WrapError("SubmitFence", err)
	}
	return ok, nil
}

// pipelineFor lazily creates this context's single queue sync pipeline,
// bound to device. A context submitting fences against queues owned by
// more than one device is outside this scope, same as a real renderer
// context that is conceptually single-device; see DESIGN.md.
func (ctx *Context) pipelineFor(device vkdriver.Handle) (*syncpipeline.Pipeline, error) {
	ctx.pipelineMu.Lock()
	defer ctx.pipelineMu.Unlock()

	if ctx.pipeline != nil {
		return ctx.pipeline, nil
	}
	p, err := syncpipeline.New(ctx.ID, ctx.driver, device, ctx.onFenceRetire, ctx.syncConfig)
	if err != nil {
		return nil, WrapError("SubmitFence", err)
	}
	ctx.pipeline = p
	return p, nil
}

// onFenceRetire is the RetireFunc handed to the sync pipeline: it records
// the retirement in metrics/observer before forwarding to the guest's own
// retire_cb, so every fence retirement is counted regardless of whether
// the guest supplied a callback.
func (ctx *Context) onFenceRetire(contextID uint32, ringIndex int32, cookie uint64, lost bool) {
	ctx.metrics.RecordFenceRetire(lost, false)
	ctx.observer.ObserveFenceRetire(lost, false)
	if ctx.guestRetire != nil {
		ctx.guestRetire(contextID, ringIndex, cookie, lost)
	}
}

// Destroy implements spec.md §4.7's `destroy`: stops every ring
// (dropping mu while joining, per spec.md §5), stops the sync pipeline,
// then destroys every instance object still in the table — each
// destruction cascades to its devices and their children via
// RemoveWithChildren, the same parent/child rule a live destroy_instance
// dispatch uses.
func (ctx *Context) Destroy() error {
	ctx.mu.Lock()
	ctx.ringMu.Lock()
	ringsSnapshot := make([]*ring.Ring, 0, len(ctx.rings))
	for _, r := range ctx.rings {
		ringsSnapshot = append(ringsSnapshot, r)
	}
	ctx.rings = make(map[int32]*ring.Ring)
	ctx.ringMu.Unlock()
	ctx.mu.Unlock()

	var g errgroup.Group
	for _, r := range ringsSnapshot {
		r := r
		g.Go(func() error {
			r.Stop()
			return nil
		})
	}
	_ = g.Wait()

	ctx.pipelineMu.Lock()
	pipeline := ctx.pipeline
	ctx.pipelineMu.Unlock()
	if pipeline != nil {
		pipeline.Stop()
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	var firstErr error
	for _, instanceID := range ctx.table.IDsOfKind(objtable.KindInstance) {
		removed := ctx.table.RemoveWithChildren(instanceID)
		for _, obj := range removed {
			var err error
			switch obj.Kind {
			case objtable.KindInstance:
				err = ctx.driver.DestroyInstance(vkdriver.Handle(obj.Native))
			case objtable.KindDevice:
				err = ctx.driver.DestroyDevice(vkdriver.Handle(obj.Native))
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	ctx.metrics.Stop()
	ctx.logger.Infof("context %d destroyed", ctx.ID)
	if firstErr != nil {
		return WrapError("Destroy", firstErr)
	}
	return nil
}

// ContextStats aggregates ring/object counts for the demo CLI and tests —
// a pure addition over spec.md §3's Context, not a redesign.
type ContextStats struct {
	ObjectCount int
	RingCount   int
	Fatal       bool
	Metrics     MetricsSnapshot
}

// Stats returns a ContextStats snapshot.
func (ctx *Context) Stats() ContextStats {
	ctx.ringMu.Lock()
	ringCount := len(ctx.rings)
	ctx.ringMu.Unlock()

	return ContextStats{
		ObjectCount: ctx.table.Len(),
		RingCount:   ringCount,
		Fatal:       ctx.codec.IsFatal(),
		Metrics:     ctx.metrics.Snapshot(),
	}
}

var (
	_ dispatch.RingHost     = (*Context)(nil)
	_ dispatch.ResourceHost = (*Context)(nil)
)
