package proc

// Wait-status encoding: the low 7 bits hold the terminating signal
// (zero for a normal exit), bit 7 marks a job-control stop, and the
// exit code (or stop signal) occupies bits 8..15.

// ExitStatus encodes a normal exit.
func ExitStatus(code int) int { return (code & 0xff) << 8 }

// SignalStatus encodes death by signal.
func SignalStatus(sig int) int { return sig & 0x7f }

// StopStatus encodes a job-control stop.
func StopStatus(sig int) int { return 0x80 | (sig&0xff)<<8 }

// WIFEXITED reports a normal exit.
func WIFEXITED(status int) bool { return status&0xff == 0 }

// WEXITSTATUS extracts the exit code.
func WEXITSTATUS(status int) int { return (status >> 8) & 0xff }

// WIFSIGNALED reports death by signal.
func WIFSIGNALED(status int) bool { return status&0x7f != 0 && status&0x80 == 0 }

// WTERMSIG extracts the terminating signal.
func WTERMSIG(status int) int { return status & 0x7f }

// WIFSTOPPED reports a job-control stop.
func WIFSTOPPED(status int) bool { return status&0x80 != 0 }

// WSTOPSIG extracts the stopping signal.
func WSTOPSIG(status int) int { return (status >> 8) & 0xff }
