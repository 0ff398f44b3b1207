// Command vkrctl is a demo harness for the vkrcontext paravirtualized
// Vulkan context engine. It drives a Context against the in-memory
// vkdriver.Stub (no real GPU or hypervisor channel required), exercising
// instance/device/queue creation, ring creation over a shm resource, and
// fence submission (pending fences are retired when the context is
// destroyed),
// then waits for a shutdown signal.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	vkrcontext "github.com/vera-firefly/vkrcontext"
	"github.com/vera-firefly/vkrcontext/internal/dispatch"
	"github.com/vera-firefly/vkrcontext/internal/logging"
	"github.com/vera-firefly/vkrcontext/internal/region"
	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

func main() {
	var (
		ringSize = flag.Int("ring-size", 64*1024, "size in bytes of the demo ring's backing shm resource")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	driver := vkdriver.NewStub()

	retired := make(chan uint64, 8)
	cfg := vkrcontext.Config{
		ID:        1,
		Driver:    driver,
		DebugName: "vkrctl-demo",
		InitFlags: vkrcontext.InitFlagThreadSync | vkrcontext.InitFlagAsyncFenceCallback,
		Logger:    logger,
		Retire: func(contextID uint32, ringIndex int32, cookie uint64, lost bool) {
			retired <- cookie
		},
	}

	ctx, err := vkrcontext.Create(cfg)
	if err != nil {
		logger.Error("failed to create context", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("destroying context")
		if err := ctx.Destroy(); err != nil {
			logger.Error("error destroying context", "error", err)
		} else {
			logger.Info("context destroyed successfully")
		}
	}()

	logger.Info("creating instance/device/queue graph")
	if err := submitGraph(ctx); err != nil {
		logger.Error("failed to build object graph", "error", err)
		os.Exit(1)
	}

	logger.Info("creating demo ring", "size", *ringSize)
	resource, ok := region.NewSHMResource(1, make([]byte, *ringSize), "vkrctl-ring")
	if !ok {
		logger.Error("failed to allocate ring backing store")
		os.Exit(1)
	}
	if err := ctx.AttachResource(resource); err != nil {
		logger.Error("failed to attach ring resource", "error", err)
		os.Exit(1)
	}

	const (
		baseOff    = 0
		headOff    = 0
		tailOff    = 4
		statusOff  = 8
		bufOff     = 64
		bufSize    = 4096
		extraOff   = bufOff + bufSize
		extraSize  = 128
		regionSize = extraOff + extraSize
	)
	createRing := newCmd(dispatch.OpCreateRing).
		i32(0).
		u32(1).
		u64(baseOff).u64(regionSize).
		u64(headOff).u64(tailOff).u64(statusOff).
		u64(bufOff).u32(bufSize).
		u64(extraOff).u64(extraSize).
		u64(1000)
	if err := ctx.SubmitCmd(createRing.bytes()); err != nil {
		logger.Error("failed to create ring", "error", err)
		os.Exit(1)
	}

	logger.Info("submitting a mergeable fence on the demo queue")
	ok, err = ctx.SubmitFence(0, 4, 42, true)
	if err != nil {
		logger.Error("failed to submit fence", "error", err)
	} else if !ok {
		logger.Info("fence submission was not accepted by the queue")
	}

	fmt.Printf("vkrctl demo context running (context id=%d)\n", ctx.ID)
	fmt.Printf("object count: %d, ring count: %d\n", ctx.Stats().ObjectCount, ctx.Stats().RingCount)
	fmt.Printf("press Ctrl+C to stop...\n")
	fmt.Printf("send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	go func() {
		for cookie := range retired {
			logger.Info("fence retired", "cookie", cookie)
		}
	}()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
}

// submitGraph builds the minimal instance/physical-device/device/queue
// object graph the demo ring and fence submission operate against.
func submitGraph(ctx *vkrcontext.Context) error {
	cmds := [][]byte{
		newCmd(dispatch.OpCreateInstance).u64(1).bytes(),
		newCmd(dispatch.OpEnumeratePhysicalDevices).u64(1).u64(2).bytes(),
		newCmd(dispatch.OpCreateDevice).u64(2).u64(3).bytes(),
		newCmd(dispatch.OpGetDeviceQueue).u64(3).u64(4).u32(0).u32(0).bytes(),
	}
	for _, c := range cmds {
		if err := ctx.SubmitCmd(c); err != nil {
			return err
		}
	}
	return nil
}

// cmdBuf builds a little-endian command stream: a 4-byte opcode header
// followed by fixed-width fields, matching the wire grammar internal/codec
// decodes.
type cmdBuf struct {
	buf []byte
}

func newCmd(op dispatch.Opcode) *cmdBuf {
	c := &cmdBuf{}
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], uint32(op))
	c.buf = append(c.buf, h[:]...)
	return c
}

func (c *cmdBuf) u64(v uint64) *cmdBuf {
	var h [8]byte
	binary.LittleEndian.PutUint64(h[:], v)
	c.buf = append(c.buf, h[:]...)
	return c
}

func (c *cmdBuf) u32(v uint32) *cmdBuf {
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], v)
	c.buf = append(c.buf, h[:]...)
	return c
}

func (c *cmdBuf) i32(v int32) *cmdBuf { return c.u32(uint32(v)) }

func (c *cmdBuf) bytes() []byte { return c.buf }
