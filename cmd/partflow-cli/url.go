package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	urlExpiry time.Duration
	urlPut    bool
)

var urlCmd = &cobra.Command{
	Use:   "url <key>",
	Short: "Issue a signed URL for an object",
	Long: `Issue a time-limited signed URL for direct object access.

By default a download (GET) URL is issued; --put issues an upload
URL instead. The server caps the expiry.`,
	Args: cobra.ExactArgs(1),
	RunE: runURL,
}

func init() {
	urlCmd.Flags().DurationVar(&urlExpiry, "expiry", time.Hour, "URL lifetime")
	urlCmd.Flags().BoolVar(&urlPut, "put", false, "issue an upload (PUT) URL")
}

func runURL(cmd *cobra.Command, args []string) error {
	key := args[0]

	c, err := getClient()
	if err != nil {
		return err
	}

	var signed string
	if urlPut {
		signed, err = c.UploadURL(cmd.Context(), key, urlExpiry)
	} else {
		signed, err = c.DownloadURL(cmd.Context(), key, urlExpiry)
	}
	if err != nil {
		return err
	}

	fmt.Println(signed)
	return nil
}
