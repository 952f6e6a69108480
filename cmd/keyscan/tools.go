package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/MJE43/keyscan/internal/address"
	"github.com/MJE43/keyscan/internal/api"
	"github.com/MJE43/keyscan/internal/checkpoint"
)

var deriveCmd = &cobra.Command{
	Use:   "derive <hexkey>",
	Short: "Print the P2PKH address for a private key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		addr, err := address.DeriveHex(args[0])
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear the saved checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved checkpoint as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCheckpoints(func(s checkpoint.Store) error {
			rec, err := s.Load(cmd.Context())
			if errors.Is(err, checkpoint.ErrNotFound) {
				fmt.Fprintln(os.Stderr, "no checkpoint saved")
				return nil
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		})
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCheckpoints(func(s checkpoint.Store) error {
			return s.Delete(cmd.Context())
		})
	},
}

// withCheckpoints opens the configured checkpoint store for fn.
func withCheckpoints(fn func(checkpoint.Store) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openCheckpoints(cfg)
	if err != nil {
		return err
	}
	if c, ok := s.(interface{ Close() error }); ok {
		defer func() { err = multierr.Append(err, c.Close()) }()
	}
	return fn(s)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		v := api.GetVersionInfo()
		dirty := ""
		if v.Modified {
			dirty = ", modified"
		}
		fmt.Printf("keyscan %s (commit %s%s, built %s, %s)\n", v.EngineVersion, v.GitCommit, dirty, v.BuildTime, v.GoVersion)
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointClearCmd)
}
