package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/partflow/partflow/client"
)

var (
	uploadContentType string
	uploadPartSize    int64
	uploadResume      string
	uploadQuiet       bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <local-path> <remote-key>",
	Short: "Upload a file as a resumable transfer",
	Long: `Upload a file as a resumable chunked transfer.

The file is split into parts, each uploaded with its SHA256 checksum,
and assembled on the server once all parts are stored. If the upload
is interrupted, rerun with --resume <transfer-id>: parts the server
already holds are skipped.

Examples:
  partflow-cli upload ./big.iso images/big.iso
  partflow-cli upload --part-size 16777216 ./big.iso images/big.iso
  partflow-cli upload --resume 6a1f8f3e-... ./big.iso images/big.iso`,
	Args: cobra.ExactArgs(2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadContentType, "content-type", "t", "", "override content-type")
	uploadCmd.Flags().Int64Var(&uploadPartSize, "part-size", 0, "part size in bytes (default: 8 MiB)")
	uploadCmd.Flags().StringVar(&uploadResume, "resume", "", "transfer id to resume")
	uploadCmd.Flags().BoolVarP(&uploadQuiet, "quiet", "q", false, "suppress per-part output")
}

func runUpload(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	remoteKey := args[1]

	c, err := getClient()
	if err != nil {
		return err
	}

	opts := client.UploadOptions{
		LocalPath:   localPath,
		Key:         remoteKey,
		ContentType: uploadContentType,
		PartSize:    uploadPartSize,
	}

	if uploadResume != "" {
		id, err := uuid.Parse(uploadResume)
		if err != nil {
			return fmt.Errorf("invalid transfer id %q: %w", uploadResume, err)
		}
		opts.TransferID = id
	}

	if !uploadQuiet {
		opts.Progress = func(index int, skipped bool) {
			if skipped {
				fmt.Printf("part %d: already stored\n", index)
			} else {
				fmt.Printf("part %d: uploaded\n", index)
			}
		}
	}

	res, err := c.UploadFile(cmd.Context(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		return err
	}

	fmt.Printf("uploaded %s -> %s (etag %s)\n", localPath, res.Key, res.ETag)
	return nil
}
