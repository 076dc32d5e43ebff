package main

import (
	"fmt"
	"os"

	"fleet-steward/cmd/ledgerctl/ui"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"
)

func main() {
	ledger := flag.String("ledger", "http://127.0.0.1:9400", "Ledger base URL")
	device := flag.StringP("device", "d", "", "Device whose queue to open")
	flag.Parse()

	p := tea.NewProgram(ui.NewRootModel(*ledger, *device), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}
