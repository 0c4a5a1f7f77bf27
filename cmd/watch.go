package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/FluidXR/devicewatch/internal/model"
	"github.com/FluidXR/devicewatch/internal/watcher"
)

func runWatch(cmd *cobra.Command, args []string) error {
	settings, err := settingsFromFlags(cmd)
	if err != nil {
		return err
	}

	pretty, _ := cmd.Flags().GetBool("pretty")
	watch, _ := cmd.Flags().GetBool("watch")

	emit := eventEmitter(pretty)

	w := watcher.New()
	if err := w.Start(settings, emit); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	if !watch {
		w.Stop()
		return nil
	}

	// §6: "if set, process runs until EOF on stdin".
	io.Copy(io.Discard, os.Stdin)
	w.Stop()
	return nil
}

// eventEmitter returns the onEvent callback handed to the watcher: a
// colorized one-line-per-event renderer when stdout is an interactive
// terminal, or the line-delimited JSON stream §6 specifies otherwise.
func eventEmitter(pretty bool) func(model.DeviceInterface) {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		out := colorable.NewColorableStdout()
		return func(d model.DeviceInterface) { writeHumanEvent(out, d) }
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "    ")
	}
	return func(d model.DeviceInterface) {
		_ = model.EncodeEvent(enc, d)
	}
}

func writeHumanEvent(w io.Writer, d model.DeviceInterface) {
	const (
		green = "\x1b[32m"
		red   = "\x1b[31m"
		reset = "\x1b[0m"
	)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	color, verb := green, "+"
	if d.Off {
		color, verb = red, "-"
	}
	label := d.Serial
	if label == "" {
		label = d.Devpath
	}
	if label == "" {
		label = d.Hub
	}
	fmt.Fprintf(bw, "%s%s %-8s %-20s%s  %s\n", color, verb, d.Type.String(), label, reset, d.Identity)
}
