package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, cfg *am.Config, a *app, addr string) {
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	bold := "\033[1m"
	reset := "\033[0m"

	info := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════╗\n")
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ║    ◉  l o o k o u t                   ║\n")
	fmt.Printf("   ║       upload · search · detect        ║\n")
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ lookout ──────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, info.Version, info.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, info.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	fmt.Printf("%s│%s Listening: http://%s\n", green, reset, addr)
	fmt.Printf("%s│%s Reports:   %s\n", green, reset, a.reportsDir)
	fmt.Printf("%s│%s Search:    %s\n", green, reset, enabled(a.search.Configured()))
	fmt.Printf("%s│%s Alerts:    %s\n", green, reset, enabled(cfg.Notify.SMTPHost != ""))
	if cfg.Archive.Path != "" {
		fmt.Printf("%s│%s Archive:   %s\n", green, reset, cfg.Paths.Resolve(cfg.Archive.Path))
	}
	if cfg.Storage.S3.Bucket != "" {
		fmt.Printf("%s│%s Mirror:    s3://%s/%s\n", green, reset, cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix)
	}
	fmt.Printf("%s└────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s💡 Press Ctrl+C to stop%s\n\n", yellow, bold, reset)
	if !info.Release {
		pterm.Warning.Println("Development build (no version stamped)")
	}
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
