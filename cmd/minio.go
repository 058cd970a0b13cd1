package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"craftworker/config"
	"craftworker/storage"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Inspect the MinIO bucket",
	Long:  `List podcast parts and crafts in the MinIO bucket, show bucket statistics or delete a prefix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MinIO: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		client, err := storage.NewMinioClient(cfg)
		if err != nil {
			return err
		}
		store := storage.NewMinioStore(client, cfg.MinioBucket, cfg.MinioRegion)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		if minioDelete {
			if minioPrefix == "" {
				return fmt.Errorf("--delete requires --prefix")
			}
			n, err := store.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %d objects under %s\n", n, minioPrefix)
			return nil
		}

		objects, stats, err := store.ListObjects(ctx, minioPrefix)
		if err != nil {
			return err
		}
		if !minioStats {
			storage.PrintTree(out, objects)
			return nil
		}

		fmt.Fprintf(out, "Objects:       %d\n", stats.TotalObjects)
		fmt.Fprintf(out, "Total size:    %s\n", storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Fprintf(out, "Last modified: %s\n", stats.LastModified.Format(time.RFC3339))
		}
		exts := make([]string, 0, len(stats.ByExt))
		for ext := range stats.ByExt {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		for _, ext := range exts {
			fmt.Fprintf(out, "  .%-8s %d\n", ext, stats.ByExt[ext])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "only objects under this prefix, e.g. crafts/")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "print bucket statistics")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "delete every object under --prefix")

	minioCmd.Example = `  # list everything
  craftworker minio

  # list finished crafts
  craftworker minio -p crafts/

  # bucket statistics
  craftworker minio -s

  # delete cached parts
  craftworker minio -d -p podcast-parts/`
}
