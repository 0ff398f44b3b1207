// Package objtable implements the per-context mapping from 64-bit guest
// object identifiers to typed host objects: insertion, type-checked
// lookup, and parent/child batch removal.
package objtable

// Kind enumerates the closed set of object kinds the table accepts.
// Unrecognized kinds are rejected at insertion.
type Kind int

const (
	KindInstance Kind = iota + 1
	KindPhysicalDevice
	KindDevice
	KindQueue
	KindCommandBuffer
	KindBuffer
	KindImage
	KindSemaphore
	KindFence
	KindDeviceMemory
	KindEvent
	KindQueryPool
	KindBufferView
	KindImageView
	KindShaderModule
	KindPipelineCache
	KindPipelineLayout
	KindPipeline
	KindRenderPass
	KindDescriptorSetLayout
	KindSampler
	KindDescriptorSet
	KindDescriptorPool
	KindFramebuffer
	KindCommandPool
	KindSamplerYcbcrConversion
	KindDescriptorUpdateTemplate
)

var kindNames = map[Kind]string{
	KindInstance:                 "instance",
	KindPhysicalDevice:           "physical_device",
	KindDevice:                   "device",
	KindQueue:                    "queue",
	KindCommandBuffer:            "command_buffer",
	KindBuffer:                   "buffer",
	KindImage:                    "image",
	KindSemaphore:                "semaphore",
	KindFence:                    "fence",
	KindDeviceMemory:             "device_memory",
	KindEvent:                    "event",
	KindQueryPool:                "query_pool",
	KindBufferView:               "buffer_view",
	KindImageView:                "image_view",
	KindShaderModule:             "shader_module",
	KindPipelineCache:            "pipeline_cache",
	KindPipelineLayout:           "pipeline_layout",
	KindPipeline:                 "pipeline",
	KindRenderPass:               "render_pass",
	KindDescriptorSetLayout:      "descriptor_set_layout",
	KindSampler:                  "sampler",
	KindDescriptorSet:            "descriptor_set",
	KindDescriptorPool:           "descriptor_pool",
	KindFramebuffer:              "framebuffer",
	KindCommandPool:              "command_pool",
	KindSamplerYcbcrConversion:   "sampler_ycbcr_conversion",
	KindDescriptorUpdateTemplate: "descriptor_update_template",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether k is one of the recognized kinds.
func (k Kind) IsValid() bool {
	_, ok := kindNames[k]
	return ok
}
