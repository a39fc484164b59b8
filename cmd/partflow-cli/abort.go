package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var abortCmd = &cobra.Command{
	Use:   "abort <transfer-id>",
	Short: "Abort a transfer and release its parts",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

func runAbort(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid transfer id %q: %w", args[0], err)
	}

	c, err := getClient()
	if err != nil {
		return err
	}

	if err := c.Abort(cmd.Context(), id); err != nil {
		return err
	}

	fmt.Printf("aborted %s\n", id)
	return nil
}
