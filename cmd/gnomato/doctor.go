package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gitter-badger/gnomato/internal/config"
	"github.com/gitter-badger/gnomato/internal/doctor"
	"github.com/mattn/go-isatty"
)

var statusStyles = map[string]lipgloss.Style{
	"PASS": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	"FAIL": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	"WARN": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	"SKIP": lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
}

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		switch arg {
		case "-json", "--json":
			jsonOutput = true
		default:
			fmt.Fprintln(os.Stderr, "usage: gnomato doctor [-json]")
			return 2
		}
	}

	cfg, err := config.Load()
	var cfgPtr *config.Config
	if err != nil {
		// Diagnose anyway; the Config check reports the failure.
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
	} else {
		cfgPtr = &cfg
	}

	diag := doctor.Run(ctx, cfgPtr, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding json: %v\n", err)
			return 1
		}
		return 0
	}

	styled := isatty.IsTerminal(os.Stdout.Fd())
	fmt.Printf("Gnomato Doctor Report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("System: %s/%s (%s) %s\n", diag.System.OS, diag.System.Arch, diag.System.Go, diag.System.Version)
	fmt.Println("---")

	for _, res := range diag.Results {
		status := fmt.Sprintf("[%s]", res.Status)
		if styled {
			status = statusStyles[res.Status].Render(status)
		}
		fmt.Printf("%s %-12s: %s\n", status, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("    %s\n", res.Detail)
		}
	}

	if diag.Failed() {
		return 1
	}
	return 0
}
