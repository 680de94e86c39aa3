package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/source"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <packet-uri> <dest-dir>",
		Short: "Resolve and fetch a packet into a local directory",
		Long: `Fetch resolves a packet URI (dir:// or oci://) to a content digest and
downloads its artifacts into dest-dir, the same fetch step cpectl query
runs before verifying and retrieving. hub:// URIs are not accepted here.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], args[1])
		},
	}
	return cmd
}

func runFetch(cmd *cobra.Command, uri, destDir string) error {
	ctx := cmd.Context()

	registry := source.NewRegistry(source.NewDirSource(), source.NewOciSource())

	ref, err := registry.Resolve(ctx, uri)
	if err != nil {
		return cerr.New(cerr.KindSourceResolveError, fmt.Sprintf("resolving %s: %v", uri, err), err)
	}

	if err := registry.Fetch(ctx, ref, destDir); err != nil {
		return cerr.New(cerr.KindFetchError, fmt.Sprintf("fetching %s: %v", uri, err), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %s (digest %s) into %s\n", uri, ref.Digest, destDir)
	return nil
}
