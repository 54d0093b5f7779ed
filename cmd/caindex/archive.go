package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/caindex/pkg/config"
	"github.com/cuemby/caindex/pkg/manager"
	"github.com/cuemby/caindex/pkg/storeclient"
	"github.com/cuemby/caindex/pkg/types"
)

var archiveOutputPath string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Disaster-recovery archive operations",
}

var archiveExportCmd = &cobra.Command{
	Use:   "export <cid>",
	Short: "Export a CAR archive of the DAG rooted at cid",
	Long: `Streams dag_export's raw CAR-format bytes for the DAG rooted at the
given CID to a file (--output) or stdout. Upload to object storage and CAR
restore are out of scope; this only produces the byte stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runArchiveExport,
}

func init() {
	archiveExportCmd.Flags().StringVarP(&archiveOutputPath, "output", "o", "", "write the archive to this file instead of stdout")
	archiveCmd.AddCommand(archiveExportCmd)
}

func runArchiveExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	gw := storeclient.NewHTTPGateway(cfg.StoreAPIURL)
	mgr := manager.New(gw, cfg, cfg.SnapshotLockPath)

	body, err := mgr.Archive(context.Background(), types.CID(args[0]))
	if err != nil {
		return fmt.Errorf("export archive: %w", err)
	}
	defer body.Close()

	out := os.Stdout
	if archiveOutputPath != "" {
		f, err := os.Create(archiveOutputPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	n, err := io.Copy(out, body)
	if err != nil {
		return fmt.Errorf("stream archive bytes: %w", err)
	}
	if archiveOutputPath != "" {
		fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", n, archiveOutputPath)
	}
	return nil
}
