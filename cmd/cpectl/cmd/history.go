package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/metadata"
)

func newHistoryCmd() *cobra.Command {
	var destDir string

	cmd := &cobra.Command{
		Use:   "history [packet-id]",
		Short: "List builds recorded in a packet's metadata catalog",
		Long: `History reads the SQLite catalog a build writes to
<dest>/metadata.db and lists every recorded version of packet-id,
oldest first. Omitting packet-id lists every packet the catalog
at --dest has ever recorded a build for.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var packetID string
			if len(args) == 1 {
				packetID = args[0]
			}
			return runHistory(cmd, destDir, packetID)
		},
	}

	cmd.Flags().StringVar(&destDir, "dest", "", "Packet directory containing metadata.db; required")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

func runHistory(cmd *cobra.Command, destDir, packetID string) error {
	ctx := cmd.Context()

	store, err := metadata.Open(filepath.Join(destDir, "metadata.db"))
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()

	if packetID == "" {
		packets, err := store.Packets(ctx)
		if err != nil {
			return cerr.Wrap(cerr.KindIoError, err)
		}
		if len(packets) == 0 {
			fmt.Fprintln(out, "No builds recorded in this catalog yet.")
			return nil
		}
		for _, id := range packets {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	records, err := store.History(ctx, packetID)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "No builds recorded for packet %q.\n", packetID)
		return nil
	}

	for _, r := range records {
		fmt.Fprintf(out, "%-30s %-12s docs=%-6d %s\n",
			r.Version, r.CreatedAt.Format(time.RFC3339), r.Manifest.Counts.Docs, r.Manifest.Embedding.Model)
	}
	return nil
}
