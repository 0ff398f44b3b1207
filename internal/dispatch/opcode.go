// Package dispatch implements the per-opcode handler table: the dispatcher
// resolves a decoded opcode to a registered Handler, which reads arguments
// out of the decoder's arena, resolves identifiers through the object
// table, calls the native driver, and records a result. The individual
// Vulkan call grammar (the generated ~200-call surface) is out of scope;
// this package registers representative creation/destruction/passthrough
// handlers plus the full ring/reply-stream transport-extension opcode set.
package dispatch

// Opcode identifies a dispatchable command. The representative Vulkan
// object-lifecycle calls occupy the low range; the transport extension
// (ring/reply-stream control, never part of the generated call grammar)
// occupies the high range so the two spaces never collide.
type Opcode uint32

const (
	OpCreateInstance Opcode = iota + 1
	OpDestroyInstance
	OpEnumeratePhysicalDevices
	OpCreateDevice
	OpDestroyDevice
	OpGetDeviceQueue
	OpCreateBuffer
	OpDestroyBuffer
	OpCreateCommandPool
	OpResetCommandPool
	OpDestroyCommandPool
	OpAllocateCommandBuffer
	OpCreateFence
	OpDestroyFence

	// Blocking calls: spec.md §4.4 requires these be rejected as fatal
	// rather than ever reaching the native driver with an unbounded wait.
	OpWaitForFences
	OpDeviceWaitIdle
	OpQueueWaitIdle
)

const (
	// OpSetReplyCommandStream and the rest of the transport extension start
	// at a fixed offset away from the representative call range so adding
	// more representative calls later never renumbers these.
	OpSetReplyCommandStream Opcode = iota + 0x1000
	OpSeekReplyCommandStream
	OpExecuteCommandStreams
	OpCreateRing
	OpDestroyRing
	OpNotifyRing
	OpWriteRingExtra
	OpSubmitVirtqueueSeqno
	OpWaitVirtqueueSeqno
	OpWaitRingSeqno
	OpGetExperimentalFeatureData
)

var opcodeNames = map[Opcode]string{
	OpCreateInstance:             "create_instance",
	OpDestroyInstance:            "destroy_instance",
	OpEnumeratePhysicalDevices:   "enumerate_physical_devices",
	OpCreateDevice:               "create_device",
	OpDestroyDevice:              "destroy_device",
	OpGetDeviceQueue:             "get_device_queue",
	OpCreateBuffer:               "create_buffer",
	OpDestroyBuffer:              "destroy_buffer",
	OpCreateCommandPool:          "create_command_pool",
	OpResetCommandPool:           "reset_command_pool",
	OpDestroyCommandPool:         "destroy_command_pool",
	OpAllocateCommandBuffer:      "allocate_command_buffer",
	OpCreateFence:                "create_fence",
	OpDestroyFence:               "destroy_fence",
	OpWaitForFences:              "wait_for_fences",
	OpDeviceWaitIdle:             "device_wait_idle",
	OpQueueWaitIdle:              "queue_wait_idle",
	OpSetReplyCommandStream:      "set_reply_command_stream",
	OpSeekReplyCommandStream:     "seek_reply_command_stream",
	OpExecuteCommandStreams:      "execute_command_streams",
	OpCreateRing:                 "create_ring",
	OpDestroyRing:                "destroy_ring",
	OpNotifyRing:                 "notify_ring",
	OpWriteRingExtra:             "write_ring_extra",
	OpSubmitVirtqueueSeqno:       "submit_virtqueue_seqno",
	OpWaitVirtqueueSeqno:         "wait_virtqueue_seqno",
	OpWaitRingSeqno:              "wait_ring_seqno",
	OpGetExperimentalFeatureData: "get_experimental_feature_data",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "unknown_opcode"
}

// blockingOpcodes is the set spec.md §4.4 calls out as rejected outright:
// any command that would block the host unboundedly.
var blockingOpcodes = map[Opcode]bool{
	OpWaitForFences:  true,
	OpDeviceWaitIdle: true,
	OpQueueWaitIdle:  true,
}
