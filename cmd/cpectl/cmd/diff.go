package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/diff"
	"github.com/Aman-CERP/cpe/internal/packet"
)

func newDiffCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "diff <packet-dir-a> <packet-dir-b>",
		Short: "Compare two packet versions and report drift",
		Long: `Diff pairs chunks between two built packets by id, classifies each as
added, removed, or changed, and reports the mean cosine distance
between changed chunks' vectors, overall and per section.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, args[0], args[1], jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	return cmd
}

func loadPacketVersion(dir string) (diff.PacketVersion, error) {
	lp, err := packet.Open(dir)
	if err != nil {
		return diff.PacketVersion{}, err
	}

	docs, err := packet.ReadDocs(dir)
	if err != nil {
		return diff.PacketVersion{}, err
	}

	rows, err := packet.ReadVectors(dir, lp.Manifest.Counts.Vectors, lp.Manifest.Embedding.Dim)
	if err != nil {
		return diff.PacketVersion{}, err
	}

	vectors := make(map[string][]float32, len(docs))
	for i, d := range docs {
		if i < len(rows) {
			vectors[d.ID] = rows[i]
		}
	}

	return diff.PacketVersion{Chunks: docs, Vectors: vectors}, nil
}

func runDiff(cmd *cobra.Command, dirA, dirB string, jsonOut bool) error {
	a, err := loadPacketVersion(dirA)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}
	b, err := loadPacketVersion(dirB)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}

	report, err := diff.Compare(a, b)
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, err)
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Drift score: %.4f\n\n", report.DriftScore)
	for _, c := range report.Chunks {
		if c.Kind == diff.Changed {
			fmt.Fprintf(out, "changed  %-12s %-30s cosine_distance=%.4f\n", c.ChunkID, c.Section, c.CosineDistance)
		} else {
			fmt.Fprintf(out, "%-8s %-12s %-30s\n", c.Kind, c.ChunkID, c.Section)
		}
	}
	fmt.Fprintln(out, "\nBy section:")
	for _, s := range report.SectionDrift {
		fmt.Fprintf(out, "  %-30s drift=%.4f changed=%d\n", s.Section, s.DriftScore, s.Changed)
	}

	return nil
}
