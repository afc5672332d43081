package commands

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var refineCmd = &cobra.Command{
	Use:   "refine <query>",
	Short: "Suggest refinement chips for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRefine,
}

func init() {
	rootCmd.AddCommand(refineCmd)
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	query := url.Values{"query": {strings.Join(args, " ")}}
	var result struct {
		Chips []struct {
			Type  string  `json:"type"`
			Value string  `json:"value"`
			Score float64 `json:"score"`
			Count int     `json:"count"`
		} `json:"chips"`
	}
	if err := newAPIClient().get(ctx, "/api/refine", query, &result); err != nil {
		return err
	}

	if len(result.Chips) == 0 {
		fmt.Println("No refinement suggestions.")
		return nil
	}
	fmt.Printf("%-28s %-24s %8s %6s\n", "TYPE", "VALUE", "SCORE", "COUNT")
	for _, chip := range result.Chips {
		fmt.Printf("%-28s %-24s %8.3f %6d\n", chip.Type, chip.Value, chip.Score, chip.Count)
	}
	return nil
}
