package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/FluidXR/devicewatch/internal/config"
	"github.com/FluidXR/devicewatch/internal/model"
)

// settingsFromFlags loads the on-disk WatchSettings default and overrides
// whichever §6 flags were explicitly set on cmd, exactly as the teacher's
// CLI flags override config-file destinations (SPEC_FULL.md §A.3).
func settingsFromFlags(cmd *cobra.Command) (model.WatchSettings, error) {
	cfg, err := config.Load()
	if err != nil {
		return model.WatchSettings{}, err
	}
	settings, err := cfg.ToWatchSettings()
	if err != nil {
		return model.WatchSettings{}, err
	}

	flags := cmd.Flags()

	if flags.Changed("types") {
		v, _ := flags.GetString("types")
		settings.TypeFilters = model.ParseTypeFilters(v)
	}
	if flags.Changed("vids") {
		v, _ := flags.GetString("vids")
		include, exclude, err := parseVidPidTokens(splitCSV(v))
		if err != nil {
			return model.WatchSettings{}, err
		}
		settings.IncludeVids, settings.ExcludeVids = include, exclude
	}
	if flags.Changed("pids") {
		v, _ := flags.GetString("pids")
		include, exclude, err := parseVidPidTokens(splitCSV(v))
		if err != nil {
			return model.WatchSettings{}, err
		}
		settings.IncludePids, settings.ExcludePids = include, exclude
	}
	if flags.Changed("drivers") {
		v, _ := flags.GetString("drivers")
		settings.Drivers = splitCSV(v)
	}
	if flags.Changed("ip_list") {
		v, _ := flags.GetString("ip_list")
		settings.IPList = splitCSV(v)
	}
	if flags.Changed("usbserial_vidpid") {
		v, _ := flags.GetString("usbserial_vidpid")
		flagCfg := &config.Config{UsbserialVidPid: splitCSV(v)}
		parsed, err := flagCfg.ToWatchSettings()
		if err != nil {
			return model.WatchSettings{}, err
		}
		settings.UsbserialVidPid = parsed.UsbserialVidPid
	}

	return settings, nil
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseVidPidTokens(toks []string) (include, exclude []uint16, err error) {
	for _, tok := range toks {
		excl := false
		if strings.HasPrefix(tok, "!") {
			excl = true
			tok = tok[1:]
		}
		v, err := model.ParseVidOrPid(tok)
		if err != nil {
			return nil, nil, err
		}
		if excl {
			exclude = append(exclude, v)
		} else {
			include = append(include, v)
		}
	}
	return include, exclude, nil
}
