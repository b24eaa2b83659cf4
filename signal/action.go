package signal

// Action is one signal's disposition: a handler address (or the
// default/ignore special values), the mask applied during the handler,
// flags, and the user-supplied restorer that issues sigreturn.
type Action struct {
	Handler  uint64
	Mask     Set
	Flags    uint64
	Restorer uint64
}

// IsDefault reports SIG_DFL.
func (a Action) IsDefault() bool { return a.Handler == HandlerDefault }

// IsIgnore reports SIG_IGN.
func (a Action) IsIgnore() bool { return a.Handler == HandlerIgnore }

// IsHandler reports a user handler.
func (a Action) IsHandler() bool { return a.Handler > HandlerIgnore }

// Default is the kind of default action a signal performs.
type Default int

const (
	// ActTerminate kills the process, recording the signal in the wait
	// status. Core-dumping signals terminate the same way here.
	ActTerminate Default = iota
	// ActIgnore discards the signal.
	ActIgnore
	// ActStop stops the process (job control).
	ActStop
	// ActContinue resumes a stopped process.
	ActContinue
)

// defaultTable is the POSIX default-action table for signals 1..31.
var defaultTable = [NumSignals]Default{
	SIGHUP:    ActTerminate,
	SIGINT:    ActTerminate,
	SIGQUIT:   ActTerminate,
	SIGILL:    ActTerminate,
	SIGTRAP:   ActTerminate,
	SIGABRT:   ActTerminate,
	SIGBUS:    ActTerminate,
	SIGFPE:    ActTerminate,
	SIGKILL:   ActTerminate,
	SIGUSR1:   ActTerminate,
	SIGSEGV:   ActTerminate,
	SIGUSR2:   ActTerminate,
	SIGPIPE:   ActTerminate,
	SIGALRM:   ActTerminate,
	SIGTERM:   ActTerminate,
	SIGSTKFLT: ActTerminate,
	SIGCHLD:   ActIgnore,
	SIGCONT:   ActContinue,
	SIGSTOP:   ActStop,
	SIGTSTP:   ActStop,
	SIGTTIN:   ActStop,
	SIGTTOU:   ActStop,
	SIGURG:    ActIgnore,
	SIGXCPU:   ActTerminate,
	SIGXFSZ:   ActTerminate,
	SIGVTALRM: ActTerminate,
	SIGPROF:   ActTerminate,
	SIGWINCH:  ActIgnore,
	SIGIO:     ActTerminate,
	SIGPWR:    ActTerminate,
	SIGSYS:    ActTerminate,
}

// DefaultActionFor returns the default action for sig.
func DefaultActionFor(sig int) Default {
	if !Valid(sig) {
		return ActIgnore
	}
	return defaultTable[sig]
}

// Catchable reports whether sig's disposition may be changed. SIGKILL
// and SIGSTOP cannot be caught, blocked, or ignored.
func Catchable(sig int) bool { return sig != SIGKILL && sig != SIGSTOP }
