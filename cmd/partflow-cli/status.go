package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/partflow/partflow"
)

var statusParts bool

var statusCmd = &cobra.Command{
	Use:   "status <transfer-id>",
	Short: "Show the state of a transfer",
	Long: `Show the state of a transfer and, with --parts, which part
indices the server already holds.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusParts, "parts", false, "list part records")
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid transfer id %q: %w", args[0], err)
	}

	c, err := getClient()
	if err != nil {
		return err
	}

	t, err := c.Status(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Printf("transfer:  %s\n", t.ID)
	fmt.Printf("key:       %s\n", t.TargetKey)
	fmt.Printf("status:    %s\n", t.Status)
	fmt.Printf("size:      %d bytes in %d parts of %d bytes\n", t.FileSize, t.PartCount, t.PartSize)
	fmt.Printf("created:   %s\n", t.CreatedAt)

	if !statusParts {
		return nil
	}

	parts, err := c.Parts(cmd.Context(), id)
	if err != nil {
		return err
	}

	storedCount := 0
	for _, p := range parts {
		if p.Status == partflow.PartStored {
			storedCount++
		}
		fmt.Printf("  part %-4d %-8s %d bytes\n", p.Index, p.Status, p.Size)
	}
	fmt.Printf("stored %d of %d parts\n", storedCount, t.PartCount)

	return nil
}
