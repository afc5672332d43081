package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <cleansedDataId>",
	Short: "Show the status of a cleansed batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type batchStatus struct {
	ID          string         `json:"id"`
	SourceURI   string         `json:"sourceUri"`
	Version     int            `json:"version"`
	Status      string         `json:"status"`
	ItemCount   int            `json:"itemCount"`
	CleansedAt  time.Time      `json:"cleansedAt"`
	Diagnostics map[string]any `json:"diagnostics"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	var result batchStatus
	if err := newAPIClient().get(ctx, "/cleansed-data-status/"+args[0], nil, &result); err != nil {
		return err
	}

	fmt.Printf("Batch:      %s\n", result.ID)
	fmt.Printf("Source:     %s\n", result.SourceURI)
	fmt.Printf("Version:    %d\n", result.Version)
	fmt.Printf("Status:     %s\n", result.Status)
	fmt.Printf("Items:      %d\n", result.ItemCount)
	fmt.Printf("CleansedAt: %s\n", result.CleansedAt.Format(time.RFC3339))
	if len(result.Diagnostics) > 0 {
		pretty, err := json.MarshalIndent(result.Diagnostics, "", "  ")
		if err == nil {
			fmt.Printf("Summary:\n%s\n", pretty)
		}
	}
	return nil
}
