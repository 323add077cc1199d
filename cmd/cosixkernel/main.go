// Command cosixkernel is the boot entry point: it assembles a
// kernel.BootInfo from flags (mirroring gVisor's own runsc command construction with
// google/subcommands), reads the initrd module from disk in place of a real
// Multiboot-loaded module, drives pkg/kernel's boot sequence off a real
// time.Ticker standing in for the PIT, and owns the top-level panic →
// logged halt → os.Exit boundary spec §7's "kernel panic" invariant
// describes (library code only ever panics or returns an error; only this
// command turns that into a process exit).
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	gocontext "github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/kernel"
	"github.com/sgielen/cosixgo/pkg/log"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&bootCommand{
		memoryBytes:  256 << 20,
		tickInterval: 10 * time.Millisecond,
		initPath:     "init",
	}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// bootCommand is the kernel's (and for now, only) subcommand: load an
// initrd image and boot off it. Real firmware hands the kernel a physical
// memory map and an already-loaded module; standing in for both, this
// binary allocates a single flat byte slice as "physical memory" and reads
// the initrd file into it at offset 0.
type bootCommand struct {
	initrdPath   string
	initPath     string
	memoryBytes  uint64
	tickInterval time.Duration
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "boot the kernel from an initrd image" }
func (*bootCommand) Usage() string {
	return "boot -initrd=<path> [-init=<path-in-initrd>] [-memory=<bytes>] [-tick=<duration>]\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.initrdPath, "initrd", "", "path to a ustar initrd image on the host filesystem")
	f.StringVar(&c.initPath, "init", c.initPath, "path within the initrd of the first process to run")
	f.Uint64Var(&c.memoryBytes, "memory", c.memoryBytes, "bytes of memory to report as available")
	f.DurationVar(&c.tickInterval, "tick", c.tickInterval, "interval between simulated PIT ticks")
}

func (c *bootCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) (status subcommands.ExitStatus) {
	defer func() {
		if r := recover(); r != nil {
			log.Warningf("kernel: halted on panic: %v", r)
			status = subcommands.ExitFailure
		}
	}()

	if c.initrdPath == "" {
		log.Warningf("kernel: -initrd is required")
		return subcommands.ExitUsageError
	}
	image, err := os.ReadFile(c.initrdPath)
	if err != nil {
		log.Warningf("kernel: reading initrd: %v", err)
		return subcommands.ExitFailure
	}

	physMem := make([]byte, uint64(len(image)))
	copy(physMem, image)

	info := kernel.BootInfo{
		MemoryMap: []kernel.MemoryMapEntry{
			{Base: 0, Length: c.memoryBytes, Type: kernel.MemoryAvailable},
		},
		Initrd: &kernel.Module{Start: 0, End: uint64(len(image))},
	}

	k, err := kernel.Boot(gocontext.Background(), info, physMem, newTickerSource(c.tickInterval))
	if err != nil {
		log.Warningf("kernel: boot failed: %v", err)
		return subcommands.ExitFailure
	}
	log.Infof("kernel: boot complete, memory=%d bytes", c.memoryBytes)

	_, th, errno := k.SpawnInit(gocontext.Background(), c.initPath, nil)
	if errno != cloudabi.ESuccess {
		log.Warningf("kernel: spawning %q: %v", c.initPath, errno)
		return subcommands.ExitFailure
	}
	log.Infof("kernel: init running as thread %d", th.ID())

	// The trap-entry layer that would actually dispatch init's syscalls
	// through k.Dispatcher is unmodeled (spec §1's bootstrap trampoline is
	// out of scope); block here the way a real kernel idles once its first
	// process is scheduled.
	select {}
}

// tickerSource backs clock.TickSource with a real time.Ticker, the
// production counterpart to the abstract x86 PIT driver (spec §4's
// supplemented x86_pit feature; pkg/clock keeps a fake for tests).
type tickerSource struct {
	ticker *time.Ticker
	ticks  chan time.Duration
}

func newTickerSource(interval time.Duration) *tickerSource {
	s := &tickerSource{
		ticker: time.NewTicker(interval),
		ticks:  make(chan time.Duration, 1),
	}
	go func() {
		for range s.ticker.C {
			select {
			case s.ticks <- interval:
			default:
				// Clock store hasn't drained the last tick yet; drop this
				// one rather than block the ticker goroutine.
			}
		}
	}()
	return s
}

func (s *tickerSource) Ticks() <-chan time.Duration { return s.ticks }
