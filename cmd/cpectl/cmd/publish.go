package cmd

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/packet"
	"github.com/Aman-CERP/cpe/internal/publish"
)

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <packet-dir> <registry-ref>",
		Short: "Publish a built packet to an OCI registry",
		Long: `Publish packages a packet directory (the output of cpectl build) as a
single-layer OCI image annotated with its manifest fields, then pushes
it to registry-ref, e.g. ghcr.io/org/repo:v1.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, args[0], args[1])
		},
	}
	return cmd
}

func runPublish(cmd *cobra.Command, packetDir, registryRef string) error {
	lp, err := packet.Open(packetDir)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}

	result, err := publish.Push(packetDir, *lp.Manifest, registryRef, crane.WithContext(cmd.Context()))
	if err != nil {
		return cerr.New(cerr.KindFetchError, fmt.Sprintf("pushing %s: %v", registryRef, err), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published %s@%s to %s\n", lp.Manifest.PacketID, lp.Manifest.Version, result.Reference)
	fmt.Fprintf(cmd.OutOrStdout(), "Digest: %s\n", result.Digest)

	return nil
}
