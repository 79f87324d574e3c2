package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"relecloud/internal/config"
	"relecloud/internal/pkg/logger"
	"relecloud/internal/ports"
	"relecloud/internal/storage"
	"relecloud/internal/upload"
)

// openStore builds the configured object store.
type openStore func(ctx context.Context) (ports.ObjectStore, *logger.Logger, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, openConfiguredStore)
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openConfiguredStore(ctx context.Context) (ports.ObjectStore, *logger.Logger, error) {
	cfg, err := config.LoadTool()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      os.Stderr,
		ServiceName: "relecloud-upload",
		AddSource:   cfg.Log.AddSource,
	})
	store, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return store, log, nil
}

func newRootCmd(out io.Writer, open openStore) *cobra.Command {
	var (
		name  string
		asZip bool
	)

	cmd := &cobra.Command{
		Use:   "relecloud-upload <path>",
		Short: "Upload a file, ZIP archive or directory to the configured object store",
		Long: `Uploads <path> through the same pipeline as the API and prints the signed URL.

  relecloud-upload report.pdf            # single object "report.pdf"
  relecloud-upload site.zip              # one object per entry, "site.zip/<entry>"
  relecloud-upload ./public --name web   # one object per file, "web/<relpath>"

A directory upload prints nothing: per-file URLs are logged.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			store, log, err := open(ctx)
			if err != nil {
				return err
			}

			objectName := name
			if objectName == "" {
				objectName = filepath.Base(filepath.Clean(path))
			}

			url, err := uploadPath(ctx, upload.New(store, upload.Options{Log: log}), path, objectName, asZip)
			if err != nil {
				if keys := upload.OrphanedKeys(err); len(keys) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "partial upload left %d object(s): %s\n", len(keys), strings.Join(keys, ", "))
				}
				return err
			}
			if url != "" {
				fmt.Fprintln(out, url)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "object name or key prefix (default: base name of <path>)")
	cmd.Flags().BoolVar(&asZip, "zip", false, "treat <path> as a ZIP archive regardless of extension")
	return cmd
}

// uploadPath picks the shape from the local path: directories are walked,
// .zip files (or --zip) are expanded, anything else is a single object.
func uploadPath(ctx context.Context, n *upload.Normalizer, path, name string, asZip bool) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return n.UploadDir(ctx, path, name)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if asZip || strings.EqualFold(filepath.Ext(path), ".zip") {
		return n.UploadZip(ctx, f, name)
	}
	return n.UploadFile(ctx, f, st.Size(), name)
}
