// Package signal implements the signal core's state and policy: signal
// sets, dispositions, the default-action table, deliverable-signal
// selection, and the user-stack signal frame layout. The delivery
// engine itself lives with the process core, which owns the user stack
// and the register context.
package signal

// Signal numbers, 1..31 as in standard Unix.
const (
	SIGHUP    = 1
	SIGINT    = 2
	SIGQUIT   = 3
	SIGILL    = 4
	SIGTRAP   = 5
	SIGABRT   = 6
	SIGBUS    = 7
	SIGFPE    = 8
	SIGKILL   = 9
	SIGUSR1   = 10
	SIGSEGV   = 11
	SIGUSR2   = 12
	SIGPIPE   = 13
	SIGALRM   = 14
	SIGTERM   = 15
	SIGSTKFLT = 16
	SIGCHLD   = 17
	SIGCONT   = 18
	SIGSTOP   = 19
	SIGTSTP   = 20
	SIGTTIN   = 21
	SIGTTOU   = 22
	SIGURG    = 23
	SIGXCPU   = 24
	SIGXFSZ   = 25
	SIGVTALRM = 26
	SIGPROF   = 27
	SIGWINCH  = 28
	SIGIO     = 29
	SIGPWR    = 30
	SIGSYS    = 31

	// NumSignals bounds the valid range: 1..NumSignals-1.
	NumSignals = 32
)

// Handler special values.
const (
	HandlerDefault = 0 // SIG_DFL
	HandlerIgnore  = 1 // SIG_IGN
)

// sigprocmask how values.
const (
	Block   = 0 // SIG_BLOCK
	Unblock = 1 // SIG_UNBLOCK
	SetMask = 2 // SIG_SETMASK
)

// sigaction flags.
const (
	SaSiginfo  = 0x00000004 // SA_SIGINFO
	SaRestorer = 0x04000000 // SA_RESTORER
	SaOnstack  = 0x08000000 // SA_ONSTACK
	SaRestart  = 0x10000000 // SA_RESTART
	SaNodefer  = 0x40000000 // SA_NODEFER
)

// Valid reports whether sig is a usable signal number.
func Valid(sig int) bool { return sig >= 1 && sig < NumSignals }

var names = [NumSignals]string{
	SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT", SIGILL: "SIGILL",
	SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT", SIGBUS: "SIGBUS", SIGFPE: "SIGFPE",
	SIGKILL: "SIGKILL", SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM", SIGSTKFLT: "SIGSTKFLT",
	SIGCHLD: "SIGCHLD", SIGCONT: "SIGCONT", SIGSTOP: "SIGSTOP", SIGTSTP: "SIGTSTP",
	SIGTTIN: "SIGTTIN", SIGTTOU: "SIGTTOU", SIGURG: "SIGURG", SIGXCPU: "SIGXCPU",
	SIGXFSZ: "SIGXFSZ", SIGVTALRM: "SIGVTALRM", SIGPROF: "SIGPROF", SIGWINCH: "SIGWINCH",
	SIGIO: "SIGIO", SIGPWR: "SIGPWR", SIGSYS: "SIGSYS",
}

// Name returns the symbolic name for sig.
func Name(sig int) string {
	if Valid(sig) && names[sig] != "" {
		return names[sig]
	}
	return "SIG?"
}
