// breenix-go is a hosted kernel core: preemptive multitasking,
// per-process address spaces with demand paging and copy-on-write, a
// POSIX-shaped syscall surface, and full signal delivery, running
// against an emulated machine with x86_64 and aarch64 page-table
// backends.
//
// Commands:
//
//	boot     - boot the machine and run the init program
//	version  - print version information
package main

import (
	"fmt"
	"os"

	"breenix-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
