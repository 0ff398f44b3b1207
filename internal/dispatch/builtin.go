package dispatch

import (
	"encoding/binary"
	"errors"

	"github.com/vera-firefly/vkrcontext/internal/objtable"
	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

var errNoPhysicalDevices = errors.New("dispatch: no physical devices enumerated")

// RegisterBuiltins installs the representative object-lifecycle handlers
// (spec.md §4.4's contract end-to-end: creation, destruction, passthrough)
// plus the blocking-call opcodes' fatal rejection is handled in
// DispatchOne itself and needs no registration here.
func RegisterBuiltins(t *Table) {
	t.Register(OpCreateInstance, handleCreateInstance)
	t.Register(OpDestroyInstance, handleDestroyInstance)
	t.Register(OpEnumeratePhysicalDevices, handleEnumeratePhysicalDevices)
	t.Register(OpCreateDevice, handleCreateDevice)
	t.Register(OpDestroyDevice, handleDestroyDevice)
	t.Register(OpGetDeviceQueue, handleGetDeviceQueue)
	t.Register(OpCreateBuffer, handleCreateBuffer)
	t.Register(OpDestroyBuffer, handleDestroyBuffer)
	t.Register(OpCreateCommandPool, handleCreateCommandPool)
	t.Register(OpResetCommandPool, handleResetCommandPool)
	t.Register(OpDestroyCommandPool, handleDestroyCommandPool)
	t.Register(OpAllocateCommandBuffer, handleAllocateCommandBuffer)
	t.Register(OpCreateFence, handleCreateFence)
	t.Register(OpDestroyFence, handleDestroyFence)
}

// insertObject inserts a newly created object, setting up the parent link
// when parentID is non-zero.
func insertObject(ex *Exec, id uint64, kind objtable.Kind, native vkdriver.Handle, parentID uint64) bool {
	obj := objtable.Object{ID: id, Kind: kind, Native: objtable.NativeHandle(native)}
	if parentID != 0 {
		obj.Parent = parentID
		obj.HasParent = true
	}
	return ex.Table.Insert(obj)
}

// destroyWithChildren removes id and everything beneath it from the table
// (innermost-first) and issues one native destroy call per removed object
// via destroyNative, matching spec.md §4.3's "table removal plus a
// native-driver destroy call; must not re-enter the dispatcher."
func destroyWithChildren(ex *Exec, id uint64, destroyNative func(obj objtable.Object) error) error {
	removed := ex.Table.RemoveWithChildren(id)
	var firstErr error
	for _, obj := range removed {
		if err := destroyNative(obj); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func handleCreateInstance(ex *Exec) error {
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	native, err := ex.Driver.CreateInstance()
	if err != nil {
		return err
	}
	if !insertObject(ex, newID, objtable.KindInstance, native, 0) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleDestroyInstance(ex *Exec) error {
	id, ok := ex.readID()
	if !ok {
		return nil
	}
	return destroyWithChildren(ex, id, func(obj objtable.Object) error {
		switch obj.Kind {
		case objtable.KindInstance:
			return ex.Driver.DestroyInstance(vkdriver.Handle(obj.Native))
		case objtable.KindDevice:
			return ex.Driver.DestroyDevice(vkdriver.Handle(obj.Native))
		case objtable.KindBuffer:
			return nil // parent device already gone; native buffer dies with it
		default:
			return nil
		}
	})
}

func handleEnumeratePhysicalDevices(ex *Exec) error {
	instanceID, ok := ex.readID()
	if !ok {
		return nil
	}
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	instance, ok := ex.decoder().Lookup(instanceID, objtable.KindInstance)
	if !ok {
		return nil
	}
	devices, err := ex.Driver.EnumeratePhysicalDevices(vkdriver.Handle(instance.Native))
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errNoPhysicalDevices
	}
	if !insertObject(ex, newID, objtable.KindPhysicalDevice, devices[0], instanceID) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleCreateDevice(ex *Exec) error {
	physicalDeviceID, ok := ex.readID()
	if !ok {
		return nil
	}
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	pd, ok := ex.decoder().Lookup(physicalDeviceID, objtable.KindPhysicalDevice)
	if !ok {
		return nil
	}
	native, err := ex.Driver.CreateDevice(vkdriver.Handle(pd.Native))
	if err != nil {
		return err
	}
	// The device is linked under the instance so destroy_instance cascades
	// to it, per spec.md §4.3's parent/child deletion semantics.
	if !insertObject(ex, newID, objtable.KindDevice, native, pd.Parent) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleDestroyDevice(ex *Exec) error {
	id, ok := ex.readID()
	if !ok {
		return nil
	}
	return destroyWithChildren(ex, id, func(obj objtable.Object) error {
		switch obj.Kind {
		case objtable.KindDevice:
			return ex.Driver.DestroyDevice(vkdriver.Handle(obj.Native))
		default:
			// Buffers/pools/fences/command buffers: no separate native
			// destroy call. DestroyDevice releases every object that was
			// allocated against it; only the table entries need removing.
			return nil
		}
	})
}

func handleGetDeviceQueue(ex *Exec) error {
	deviceID, ok := ex.readID()
	if !ok {
		return nil
	}
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	familyIndexBytes, ok := ex.decoder().Read(4)
	if !ok {
		return nil
	}
	queueIndexBytes, ok := ex.decoder().Read(4)
	if !ok {
		return nil
	}
	device, ok := ex.decoder().Lookup(deviceID, objtable.KindDevice)
	if !ok {
		return nil
	}
	native, err := ex.Driver.GetDeviceQueue(
		vkdriver.Handle(device.Native),
		binary.LittleEndian.Uint32(familyIndexBytes),
		binary.LittleEndian.Uint32(queueIndexBytes),
	)
	if err != nil {
		return err
	}
	if !insertObject(ex, newID, objtable.KindQueue, native, deviceID) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleCreateBuffer(ex *Exec) error {
	deviceID, ok := ex.readID()
	if !ok {
		return nil
	}
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	sizeBytes, ok := ex.decoder().Read(8)
	if !ok {
		return nil
	}
	usageBytes, ok := ex.decoder().Read(4)
	if !ok {
		return nil
	}
	device, ok := ex.decoder().Lookup(deviceID, objtable.KindDevice)
	if !ok {
		return nil
	}

	desc := vkdriver.BufferDesc{
		Size:  binary.LittleEndian.Uint64(sizeBytes),
		Usage: binary.LittleEndian.Uint32(usageBytes),
	}
	native, err := ex.Driver.CreateBuffer(vkdriver.Handle(device.Native), desc)
	if err != nil {
		return err
	}
	if !insertObject(ex, newID, objtable.KindBuffer, native, deviceID) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleDestroyBuffer(ex *Exec) error {
	id, ok := ex.readID()
	if !ok {
		return nil
	}
	obj, ok := ex.Table.Remove(id)
	if !ok {
		ex.Codec.SetFatal()
		return nil
	}
	if !obj.HasParent {
		return nil
	}
	device, ok := ex.Table.Lookup(obj.Parent, objtable.KindDevice)
	if !ok {
		return nil
	}
	return ex.Driver.DestroyBuffer(vkdriver.Handle(device.Native), vkdriver.Handle(obj.Native))
}

func handleCreateCommandPool(ex *Exec) error {
	deviceID, ok := ex.readID()
	if !ok {
		return nil
	}
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	device, ok := ex.decoder().Lookup(deviceID, objtable.KindDevice)
	if !ok {
		return nil
	}
	native, err := ex.Driver.CreateCommandPool(vkdriver.Handle(device.Native))
	if err != nil {
		return err
	}
	if !insertObject(ex, newID, objtable.KindCommandPool, native, deviceID) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleResetCommandPool(ex *Exec) error {
	poolID, ok := ex.readID()
	if !ok {
		return nil
	}
	pool, ok := ex.decoder().Lookup(poolID, objtable.KindCommandPool)
	if !ok {
		return nil
	}
	// Child destruction portion only — the pool itself survives, per
	// spec.md §4.3's reset semantics.
	ex.Table.RemoveChildrenOnly(poolID)
	if !pool.HasParent {
		return ex.Driver.ResetCommandPool(0, vkdriver.Handle(pool.Native))
	}
	device, ok := ex.Table.Lookup(pool.Parent, objtable.KindDevice)
	if !ok {
		return ex.Driver.ResetCommandPool(0, vkdriver.Handle(pool.Native))
	}
	return ex.Driver.ResetCommandPool(vkdriver.Handle(device.Native), vkdriver.Handle(pool.Native))
}

func handleDestroyCommandPool(ex *Exec) error {
	id, ok := ex.readID()
	if !ok {
		return nil
	}
	return destroyWithChildren(ex, id, func(obj objtable.Object) error {
		if obj.Kind != objtable.KindCommandPool {
			return nil
		}
		if !obj.HasParent {
			return ex.Driver.DestroyCommandPool(0, vkdriver.Handle(obj.Native))
		}
		device, ok := ex.Table.Lookup(obj.Parent, objtable.KindDevice)
		if !ok {
			return ex.Driver.DestroyCommandPool(0, vkdriver.Handle(obj.Native))
		}
		return ex.Driver.DestroyCommandPool(vkdriver.Handle(device.Native), vkdriver.Handle(obj.Native))
	})
}

func handleAllocateCommandBuffer(ex *Exec) error {
	poolID, ok := ex.readID()
	if !ok {
		return nil
	}
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	pool, ok := ex.decoder().Lookup(poolID, objtable.KindCommandPool)
	if !ok {
		return nil
	}
	var deviceNative vkdriver.Handle
	if pool.HasParent {
		if device, ok := ex.Table.Lookup(pool.Parent, objtable.KindDevice); ok {
			deviceNative = vkdriver.Handle(device.Native)
		}
	}
	native, err := ex.Driver.AllocateCommandBuffer(deviceNative, vkdriver.Handle(pool.Native))
	if err != nil {
		return err
	}
	if !insertObject(ex, newID, objtable.KindCommandBuffer, native, poolID) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleCreateFence(ex *Exec) error {
	deviceID, ok := ex.readID()
	if !ok {
		return nil
	}
	newID, ok := ex.readID()
	if !ok {
		return nil
	}
	signaledByte, ok := ex.decoder().Read(1)
	if !ok {
		return nil
	}
	device, ok := ex.decoder().Lookup(deviceID, objtable.KindDevice)
	if !ok {
		return nil
	}
	native, err := ex.Driver.CreateFence(vkdriver.Handle(device.Native), vkdriver.FenceDesc{Signaled: signaledByte[0] != 0})
	if err != nil {
		return err
	}
	if !insertObject(ex, newID, objtable.KindFence, native, deviceID) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleDestroyFence(ex *Exec) error {
	id, ok := ex.readID()
	if !ok {
		return nil
	}
	obj, ok := ex.Table.Remove(id)
	if !ok {
		ex.Codec.SetFatal()
		return nil
	}
	if !obj.HasParent {
		return nil
	}
	device, ok := ex.Table.Lookup(obj.Parent, objtable.KindDevice)
	if !ok {
		return nil
	}
	return ex.Driver.DestroyFence(vkdriver.Handle(device.Native), vkdriver.Handle(obj.Native))
}
