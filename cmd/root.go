// Package cmd implements the devicewatch CLI surface (§6): a single
// command that watches USB/serial/ADB devices and streams their state as
// line-delimited JSON, following the teacher's own spf13/cobra wiring.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version of devicewatch.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "devicewatch",
	Short:   "Observe USB, serial, and ADB device state and stream deltas as JSON",
	Version: Version,
	Long: `devicewatch enumerates USB interfaces (including usbserial tty nodes and
ADB/fastboot/HDC endpoints), correlates them against a running ADB server,
and streams create/update/remove deltas as line-delimited JSON on stdout.`,
	RunE: runWatch,
}

func init() {
	flags := rootCmd.Flags()
	flags.Bool("pretty", false, "pretty-print each JSON event with 4-space indentation")
	flags.Bool("watch", false, "keep running and streaming deltas until EOF on stdin")
	flags.String("vids", "", "comma-separated vendor ids (decimal or 0x-hex; prefix with ! to exclude)")
	flags.String("pids", "", "comma-separated product ids (decimal or 0x-hex; prefix with ! to exclude)")
	flags.String("types", "", `type filter, e.g. "adb,fastboot|serial" (comma = AND, | = OR)`)
	flags.String("drivers", "", "comma-separated kernel driver allowlist")
	flags.String("ip_list", "", "comma-separated host:port entries issued as host:connect on startup")
	flags.String("usbserial_vidpid", "", "comma-separated vid:pid pairs considered usbserial tty candidates (Linux only)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
