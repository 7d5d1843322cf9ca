package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuemby/knbase/pkg/filescanner"
)

var baseCmd = &cobra.Command{
	Use:   "base",
	Short: "Manage knowledge bases",
}

var baseCreateCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Register a directory as a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		h, scanner, err := openHub()
		if err != nil {
			return err
		}
		defer h.Close()
		defer scanner.Close()

		module, err := h.ResourceModule(filescanner.ModuleID)
		if err != nil {
			return err
		}
		params, err := json.Marshal(filescanner.BaseParams{
			Path: path,
			Name: filepath.Base(path),
		})
		if err != nil {
			return err
		}
		base, err := h.CreateKnowledgeBase(module, params)
		if err != nil {
			return err
		}
		fmt.Printf("Created knowledge base %d for %s\n", base.ID, path)
		return nil
	},
}

var baseListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List knowledge bases",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, scanner, err := openHub()
		if err != nil {
			return err
		}
		defer h.Close()
		defer scanner.Close()

		bases, err := h.GetKnowledgeBases()
		if err != nil {
			return err
		}
		if len(bases) == 0 {
			fmt.Println("No knowledge bases registered")
			return nil
		}
		fmt.Printf("%-6s %-14s %s\n", "ID", "MODULE", "PARAMS")
		for _, base := range bases {
			fmt.Printf("%-6d %-14s %s\n", base.ID, base.ResourceModule.ID(), string(base.ResourceParams))
		}
		return nil
	},
}

var baseRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a knowledge base and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid base id %q", args[0])
		}

		h, scanner, err := openHub()
		if err != nil {
			return err
		}
		defer h.Close()
		defer scanner.Close()

		base, err := h.GetKnowledgeBase(id)
		if err != nil {
			return err
		}
		if err := h.RemoveKnowledgeBase(base); err != nil {
			return err
		}
		fmt.Printf("Removed knowledge base %d\n", id)
		return nil
	},
}

func init() {
	baseCmd.AddCommand(baseCreateCmd)
	baseCmd.AddCommand(baseListCmd)
	baseCmd.AddCommand(baseRemoveCmd)
}
