// Package main provides the ziptag CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brifl/ziptag"
	"github.com/brifl/ziptag/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ziptag",
		Short: "ziptag - embeddable tag-and-link graph store",
		Long: `ziptag is an embeddable graph-flavored data store: tags (typed,
versioned values) and untyped links between them, queried through a
small pipeline DSL.`,
	}
	rootCmd.PersistentFlags().String("data-dir", "./data", "ZipTag data directory")

	rootCmd.AddCommand(queryCmd(), explainCmd(), statsCmd(), recoverCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(cmd *cobra.Command) (*ziptag.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg := config.Default()
	cfg.Path = dataDir
	return ziptag.Open(cfg)
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <dsl>",
		Short: "Run a DSL query against the data directory and print matching trefs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer s.Close()

			result, err := s.Fetch(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			fmt.Printf("%d result(s)\n", len(result))
			for _, tref := range result {
				fmt.Println(tref)
			}
			return nil
		},
	}
}

func explainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <dsl>",
		Short: "Print the planned operator tree for a DSL query without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer s.Close()

			out, err := s.Explain(args[0])
			if err != nil {
				return fmt.Errorf("explain failed: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print coarse counters about the current data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer s.Close()

			st := s.Stats()
			fmt.Printf("current_rev: %d\n", st.CurrentRev)
			fmt.Printf("tags:        %d\n", st.TagCount)
			fmt.Printf("links:       %d\n", st.LinkCount)
			return nil
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Replay the WAL tail over the latest snapshot and report the resulting revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			rev, err := ziptag.Recover(dataDir)
			if err != nil {
				return fmt.Errorf("recovery failed: %w", err)
			}
			fmt.Printf("recovered at rev %d\n", rev)
			return nil
		},
	}
}
