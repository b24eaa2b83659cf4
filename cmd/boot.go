package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"breenix-go/console"
	"breenix-go/kernel"
	"breenix-go/proc"
)

var bootInit string

// bootCmd boots the machine and runs init until it exits.
var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "boot the kernel and run init",
	RunE: func(cmd *cobra.Command, args []string) error {
		host := console.Stdout()

		m, err := kernel.Boot(kernel.Config{
			Arch:       flagArch,
			MemoryMiB:  flagMemoryMiB,
			TickHz:     flagTickHz,
			ConsoleOut: host,
		}, kernel.BootInfo{})
		if err != nil {
			return err
		}
		if err := m.InstallCoreutils(); err != nil {
			return err
		}

		init, err := m.StartInit(bootInit, []string{bootInit})
		if err != nil {
			return err
		}

		m.Run()

		status := init.ExitStatus
		if proc.WIFEXITED(status) {
			fmt.Fprintf(cmd.OutOrStdout(), "init exited with status %d\n", proc.WEXITSTATUS(status))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "init killed by signal %d\n", proc.WTERMSIG(status))
		}
		return nil
	},
}

func init() {
	bootCmd.Flags().StringVar(&bootInit, "init", "/bin/init", "path of the init program")
	rootCmd.AddCommand(bootCmd)
}
