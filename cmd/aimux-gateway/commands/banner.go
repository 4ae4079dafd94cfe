package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/aimux/gateway/config"
	"github.com/aimux/gateway/version"
)

// printStartupBanner prints the gateway's startup summary via pterm's
// bare color functions and Info/Warning/Success printers.
func printStartupBanner(cfg config.Config) {
	info := version.Get()

	pterm.Printf("%s\n", pterm.LightMagenta("aimux-gateway"))
	pterm.Printf("  %s %s\n", pterm.LightCyan("Version:"), pterm.Green(info.Short()))
	pterm.Printf("  %s %s\n", pterm.LightCyan("Listening:"), pterm.Green(fmt.Sprintf("%s:%d", cfg.Listen.BindAddress, cfg.Listen.Port)))
	pterm.Printf("  %s %s\n", pterm.LightCyan("Providers:"), pterm.Green(fmt.Sprintf("%d configured", len(cfg.Providers))))

	if len(cfg.Providers) == 0 {
		pterm.Warning.Println("no providers configured, every request will fail to route")
	} else {
		pterm.Success.Println("gateway ready")
	}
	pterm.Info.Println("Press Ctrl+C to stop")
}
