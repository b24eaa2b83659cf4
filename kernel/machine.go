// Package kernel assembles the machine: boot hand-off, subsystem
// initialisation in dependency order, the periodic tick, the idle
// loop, and the userspace execution environment test programs and the
// init program run in.
package kernel

import (
	"io"
	"log/slog"

	"breenix-go/arch"
	"breenix-go/arch/aarch64"
	"breenix-go/arch/x8664"
	kerrors "breenix-go/errors"
	"breenix-go/fs"
	"breenix-go/ktime"
	"breenix-go/logging"
	"breenix-go/mem"
	"breenix-go/paging"
	"breenix-go/percpu"
	"breenix-go/proc"
	"breenix-go/signal"
	"breenix-go/socket"
	"breenix-go/syscall"
	"breenix-go/task"
	"breenix-go/tty"
)

// Program is the code of a userspace executable: the Go body run when
// the loader maps its image. Programs touch process memory only
// through the Env, so paging and copy-on-write apply; Go variables
// captured by a fork continuation behave as registers, not memory.
type Program func(*Env)

// Config is the boot configuration.
type Config struct {
	// Arch selects the backend: "x86_64" or "aarch64".
	Arch string
	// MemoryMiB sizes the usable-RAM region of the boot memory map.
	MemoryMiB int
	// TickHz is the periodic tick frequency.
	TickHz uint32
	// SliceTicks is the scheduling quantum in ticks.
	SliceTicks int
	// ConsoleOut receives TTY output; nil discards it.
	ConsoleOut io.Writer
	// Log overrides the boot logger.
	Log *slog.Logger
}

func (c *Config) fill() {
	if c.Arch == "" {
		c.Arch = "x86_64"
	}
	if c.MemoryMiB == 0 {
		c.MemoryMiB = 32
	}
	if c.TickHz == 0 {
		c.TickHz = 1000
	}
	if c.SliceTicks == 0 {
		c.SliceTicks = 10
	}
	if c.Log == nil {
		c.Log = logging.Default()
	}
}

// BootInfo is the bootloader hand-off: the usable-RAM map plus the
// optional framebuffer and firmware pointers the kernel records but
// does not interpret here.
type BootInfo struct {
	MemoryMap   []mem.Region
	Framebuffer *Framebuffer
	RsdpAddr    uint64
	EntryPhys   uint64
}

// Framebuffer is the boot-provided display descriptor.
type Framebuffer struct {
	Base   uint64
	Size   uint64
	Width  uint32
	Height uint32
	Stride uint32
	Format uint32
}

// Machine is the booted system.
type Machine struct {
	Cfg     Config
	Backend arch.Backend

	Cpu    *percpu.Cpu
	Sched  *task.Scheduler
	Phys   *mem.Physical
	Tlb    *paging.Tlb
	Mmu    *paging.Mmu
	Master *paging.AddressSpace
	Stacks *paging.StackAllocator
	Ists   *paging.StackAllocator
	Clock  *ktime.Clock
	Intc   arch.InterruptController
	Core   *proc.Core
	Table  *syscall.Table
	Fsys   *fs.MemFs
	Tty    *tty.Tty
	Net    *socket.Namespace

	programs map[string]Program

	boot       *task.Thread
	stop       bool
	tickAccum  int
	sliceLeft  int
	oomPending int
}

// backendFor resolves the architecture name.
func backendFor(name string) (arch.Backend, error) {
	switch name {
	case "x86_64":
		return x8664.Backend{}, nil
	case "aarch64":
		return aarch64.Backend{}, nil
	default:
		return nil, kerrors.New(kerrors.ErrInvalidArgument, "boot", "unknown architecture "+name)
	}
}

// Boot brings the machine up in dependency order: physical memory,
// the master address space and its contract-checked layout, per-CPU
// state and the scheduler, time, the interrupt controller, the
// filesystem and console collaborators, the process core, and the
// syscall table. The calling goroutine becomes the idle thread.
func Boot(cfg Config, info BootInfo) (*Machine, error) {
	cfg.fill()
	backend, err := backendFor(cfg.Arch)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(cfg.Log)

	m := &Machine{
		Cfg:      cfg,
		Backend:  backend,
		programs: make(map[string]Program),
	}

	if len(info.MemoryMap) == 0 {
		info.MemoryMap = []mem.Region{{Base: arch.PageSize, Size: uint64(cfg.MemoryMiB) << 20}}
	}
	m.Phys = mem.NewPhysical(info.MemoryMap)
	m.Tlb = paging.NewTlb()
	m.Mmu = paging.NewMmu(m.Phys, backend.Format(), m.Tlb)

	m.Master, err = paging.NewAddressSpace(m.Phys, backend.Format(), m.Tlb)
	if err != nil {
		return nil, err
	}

	// Seed the physical-map slot so the kernel-code contract holds.
	pmFrame, err := m.Phys.AllocateFrame()
	if err != nil {
		return nil, err
	}
	m.Phys.ZeroFrame(pmFrame)
	if err := m.Master.MapPage(paging.PhysMapBase, pmFrame, arch.KernelData()); err != nil {
		return nil, err
	}

	m.Cpu = percpu.NewCpu(0)
	m.Sched = task.NewScheduler(m.Cpu)
	m.boot = m.Sched.Bootstrap("idle")
	m.Sched.SetIdle(m.boot)
	m.Sched.SetSwitchHook(m.onSwitch)

	// Kernel and IST stacks come from distinct top-level slots; the
	// boot thread's stack seeds both regions so the separation
	// contract is checkable immediately.
	m.Stacks = paging.NewStackAllocator(m.Phys, m.Master, paging.KernelStackBase, paging.KernelStackEnd)
	m.Ists = paging.NewStackAllocator(m.Phys, m.Master, paging.IstStackBase, paging.IstStackEnd)

	bootStack, err := m.Stacks.Allocate()
	if err != nil {
		return nil, err
	}
	m.boot.KernelStackTop = bootStack
	m.Cpu.SetKernelStackTop(bootStack)
	if _, err := m.Ists.Allocate(); err != nil {
		return nil, err
	}

	m.verifyBootContracts()

	m.Mmu.SetRoot(m.Master.Root())

	m.Clock = ktime.NewClock(backend.NewTimer(), cfg.TickHz)
	m.sliceLeft = cfg.SliceTicks

	m.Intc = backend.NewInterruptController()
	m.Intc.Init()
	m.Intc.EnableIRQ(m.Intc.TimerLine())

	m.Fsys = fs.NewMemFs()
	m.Tty = tty.New(m.Sched, m.signalChecker, cfg.ConsoleOut)
	_ = m.Fsys.Mkdir("/dev")
	_ = m.Fsys.InstallDev("/dev/null", fs.NullDev{})
	_ = m.Fsys.InstallDev("/dev/zero", fs.ZeroDev{})
	_ = m.Fsys.InstallDev("/dev/console", m.Tty)

	m.Core = &proc.Core{
		Sched:   m.Sched,
		Phys:    m.Phys,
		Backend: backend,
		Mmu:     m.Mmu,
		Master:  m.Master,
		Stacks:  m.Stacks,
		Table:   proc.NewTable(),
		Clock:   m.Clock,
		Fs:      m.Fsys,
		Console: m.Tty,
		Log:     cfg.Log,
	}
	m.Core.SpawnUserThread = m.spawnUserThread
	m.Core.OnInitExit = func() { m.stop = true }

	m.Net = socket.NewNamespace(m.Sched, m.signalChecker)

	m.Table = syscall.NewTable()
	m.registerSyscalls()

	logging.Info("kernel booted", "arch", backend.Name(),
		"memory_mib", cfg.MemoryMiB, "tick_hz", cfg.TickHz)
	return m, nil
}

// verifyBootContracts panics on any violated layout invariant.
func (m *Machine) verifyBootContracts() {
	for _, check := range []error{
		paging.VerifyKernelCodeMapping(m.Master),
		paging.VerifyKernelIstSeparation(m.Master),
		paging.VerifyTssRsp0(m.Cpu.KernelStackTop()),
		paging.VerifyStackMapped(m.Master, m.Cpu.KernelStackTop()-paging.KStackSize, m.Cpu.KernelStackTop()),
		paging.VerifyGuardUnmapped(m.Master, paging.GuardPage(m.Cpu.KernelStackTop())),
	} {
		if check != nil {
			panic(check)
		}
	}
}

// signalChecker is the blocking-path EINTR probe handed to pipes,
// sockets and the TTY.
func (m *Machine) signalChecker(t *task.Thread) bool {
	return m.Core.SignalPending(t)
}

// onSwitch runs at every context switch: the incoming thread's address
// space becomes active, and the per-CPU trap stack follows the thread.
func (m *Machine) onSwitch(next *task.Thread) {
	if p, ok := next.Proc.(*proc.Process); ok && p.Space != nil {
		if m.Mmu.ReadRoot() != p.Space.Root() {
			m.Mmu.SetRoot(p.Space.Root())
		}
	}
}

// RegisterProgram installs an executable: an ELF image in the
// filesystem plus the program body the loader binds to its entry.
func (m *Machine) RegisterProgram(path string, image []byte, prog Program) error {
	if err := m.Fsys.Install(path, image, true); err != nil {
		return err
	}
	m.programs[path] = prog
	return nil
}

// StartInit creates pid 1 from a registered program and hands it the
// console as fds 0/1/2.
func (m *Machine) StartInit(path string, argv []string) (*proc.Process, error) {
	prog, ok := m.programs[path]
	if !ok {
		return nil, kerrors.ENOENT
	}

	space, err := paging.NewProcessSpace(m.Master)
	if err != nil {
		return nil, err
	}
	if err := paging.VerifyProcessSpace(space, m.Master); err != nil {
		panic(err)
	}

	p := &proc.Process{
		Pid:          m.Core.Table.AllocPid(),
		Ppid:         0,
		Space:        space,
		Fds:          proc.NewFdTable(),
		Sig:          signal.NewProcessState(),
		Tty:          m.Tty,
		Text:         make(map[uint64]any),
		NextTextAddr: proc.TextBase,
		MmapNext:     paging.MmapBase,
		ExecPath:     path,
		Continuation: prog,
	}
	p.Pgid, p.Sid = p.Pid, p.Pid
	m.Tty.SetForegroundPgid(p.Pgid)

	console := proc.NewDescription(m.Tty, fs.ORdwr)
	if _, err := p.Fds.Install(console, false); err != nil {
		return nil, err
	}
	if _, err := p.Fds.Dup(0, 1, false); err != nil {
		return nil, err
	}
	if _, err := p.Fds.Dup(0, 2, false); err != nil {
		return nil, err
	}

	m.Core.Table.Insert(p)
	m.Core.Table.Init = p

	p.MainThread = m.spawnUserThread(p)
	if p.MainThread == nil {
		return nil, kerrors.Wrap(kerrors.ErrFrameExhausted, kerrors.ErrNoMemory, "start_init")
	}
	if err := m.Core.Exec(p, path, argv, nil); err != nil {
		return nil, err
	}

	logging.Info("init started", "pid", p.Pid, "path", path)
	return p, nil
}

// Run drives the machine until init exits: the calling goroutine is
// the idle thread, yielding to runnable work and otherwise halting
// with interrupts enabled, which on this machine means letting the
// next timer tick fire.
func (m *Machine) Run() {
	for !m.stop {
		if m.Sched.HasRunnable() {
			m.Sched.Yield()
			continue
		}
		m.haltWithInterrupts()
	}
	logging.Info("machine halted", "uptime_ns", m.Clock.NowNs())
}

// haltWithInterrupts models the idle hlt: time advances one tick and
// its interrupt is serviced, possibly waking a sleeper.
func (m *Machine) haltWithInterrupts() {
	if !m.anyTimerArmed() && !m.Sched.HasRunnable() {
		// Nothing can ever wake: this is a hung machine, which the
		// emulator surfaces instead of spinning.
		if m.stop {
			return
		}
		panic("idle: no runnable thread, no armed timer; machine is hung")
	}
	m.timerInterrupt()
	m.Sched.PreemptPoint()
}

func (m *Machine) anyTimerArmed() bool {
	armed := false
	m.Core.Table.ForEach(func(p *proc.Process) {
		if p.Itimer.Armed() {
			armed = true
		}
	})
	return armed
}

// userStep charges one tick of virtual time to the running user code.
// The tick is serviced at the next trap boundary.
func (m *Machine) userStep() {
	m.tickAccum++
}

// serviceTicks delivers any accumulated timer interrupts.
func (m *Machine) serviceTicks() {
	for m.tickAccum > 0 {
		m.tickAccum--
		m.timerInterrupt()
	}
}

// timerInterrupt is the periodic tick handler: inside irq_enter/exit
// it advances the clock, fires interval timers, and charges the time
// slice, asking for a reschedule when the slice is spent.
func (m *Machine) timerInterrupt() {
	if picLike, ok := m.Intc.(interface{ Raise(uint8) bool }); ok {
		if !picLike.Raise(m.Intc.TimerLine()) {
			return
		}
	}
	m.Cpu.IrqEnter()

	m.Clock.OnTick()
	elapsedUs := m.Clock.TickPeriodNs() / 1000

	m.Core.Table.ForEach(func(p *proc.Process) {
		if !p.Itimer.Armed() || p.Life == proc.Zombie {
			return
		}
		for i := p.Itimer.Advance(elapsedUs); i > 0; i-- {
			_ = m.Core.SendSignal(p, signal.SIGALRM)
		}
	})

	m.sliceLeft--
	if m.sliceLeft <= 0 {
		m.sliceLeft = m.Cfg.SliceTicks
		m.Cpu.SetNeedResched(true)
	}

	m.Cpu.IrqExit()
	m.Intc.EndOfInterrupt(m.Intc.VectorBase() + m.Intc.TimerLine())
}

// spawnUserThread allocates a kernel stack and starts the thread
// goroutine that runs the process's program. Returns nil when the
// stack cannot be allocated; fork surfaces that as ENOMEM.
func (m *Machine) spawnUserThread(p *proc.Process) *task.Thread {
	top, err := m.Stacks.Allocate()
	if err != nil {
		return nil
	}
	if err := paging.VerifyTssRsp0(top); err != nil {
		panic(err)
	}

	t := m.Sched.Spawn(p.ExecPath, arch.PrivUser, func() {
		m.runUserThread(p)
	})
	t.Proc = p
	t.KernelStackTop = top
	return t
}

// runUserThread is the thread body: it runs the process's program,
// restarting on exec and unwinding cleanly on exit.
func (m *Machine) runUserThread(p *proc.Process) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(proc.ExitUnwind); ok {
			return
		}
		panic(r)
	}()

	for {
		prog, _ := p.Continuation.(Program)
		if prog == nil {
			logging.Error("no program bound to image", "pid", p.Pid, "path", p.ExecPath)
			m.Core.Exit(p, proc.ExitStatus(127))
		}
		m.runProgramOnce(p, prog)
	}
}

// runProgramOnce executes one image until it exits (unwinding further)
// or execs (returning so the loop picks up the new image).
func (m *Machine) runProgramOnce(p *proc.Process, prog Program) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if sw, ok := r.(proc.ExecSwitch); ok {
			p.Continuation = m.programs[sw.Path]
			return
		}
		panic(r)
	}()

	env := m.newEnv(p)
	prog(env)
	env.Exit(0)
}

// SimulateOomAfter arms frame-allocation failure after n successes.
func (m *Machine) SimulateOomAfter(n int) {
	if n < 0 {
		m.Phys.ClearFailAfter()
		return
	}
	m.Phys.SetFailAfter(n)
}
