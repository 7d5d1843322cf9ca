package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/knbase/pkg/log"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one full ingestion pass over every knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, scanner, err := openHub()
		if err != nil {
			return err
		}
		defer h.Close()
		defer scanner.Close()

		// Ctrl-C interrupts the pass cleanly; state resumes next scan
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			log.Warn("interrupt received, unwinding")
			h.Interrupt()
		}()

		if err := h.Scan(); err != nil {
			return fmt.Errorf("scan pass failed: %w", err)
		}
		fmt.Println("Scan complete")
		return nil
	},
}
