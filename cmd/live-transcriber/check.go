package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"live-transcriber/internal/config"
	"live-transcriber/internal/diagnostics"
	"live-transcriber/internal/domain"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify external tools, model, and scratch directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck()
	},
}

func runCheck() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	report := diagnostics.NewChecker().Run(cfg.Pipeline)
	for _, item := range report.Items {
		marker := "ok"
		if item.Status == domain.DiagnosticStatusFail {
			marker = "FAIL"
		}
		fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", marker, item.Name, item.Message)
		if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
			fmt.Fprintf(os.Stdout, "       hint: %s\n", item.Hint)
		}
	}

	if report.HasFailures {
		return fmt.Errorf("dependency checks failed")
	}
	return nil
}
