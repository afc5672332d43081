package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	searchTags      []string
	searchKeywords  []string
	searchField     string
	searchThreshold float64
	searchLimit     int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a semantic search over enriched content",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "filter by tag (repeatable, substring match)")
	searchCmd.Flags().StringSliceVar(&searchKeywords, "keyword", nil, "filter by keyword (repeatable, exact match)")
	searchCmd.Flags().StringVar(&searchField, "field", "", "filter by original field name")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "maximum cosine distance (0 disables)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (default 20)")
	rootCmd.AddCommand(searchCmd)
}

type searchHit struct {
	Score             float64  `json:"score"`
	ChunkText         string   `json:"chunkText"`
	SourceURI         string   `json:"sourceUri"`
	SectionPath       string   `json:"sectionPath"`
	OriginalFieldName string   `json:"originalFieldName"`
	Summary           string   `json:"summary"`
	Keywords          []string `json:"keywords"`
	Tags              []string `json:"tags"`
	Sentiment         string   `json:"sentiment"`
	Classification    string   `json:"classification"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	body := map[string]any{
		"query": strings.Join(args, " "),
	}
	if searchField != "" {
		body["original_field_name"] = searchField
	}
	if len(searchTags) > 0 {
		body["tags"] = searchTags
	}
	if len(searchKeywords) > 0 {
		body["keywords"] = searchKeywords
	}
	if searchThreshold > 0 {
		body["threshold"] = searchThreshold
	}
	if searchLimit > 0 {
		body["limit"] = searchLimit
	}

	var result struct {
		Results []searchHit `json:"results"`
	}
	if err := newAPIClient().post(ctx, "/api/search", body, &result); err != nil {
		return err
	}

	if len(result.Results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, hit := range result.Results {
		fmt.Printf("--- Result %d (score %.3f) ---\n", i+1, hit.Score)
		fmt.Printf("Section: %s [%s]\n", hit.SectionPath, hit.OriginalFieldName)
		fmt.Printf("Source:  %s\n", hit.SourceURI)
		if hit.Summary != "" {
			fmt.Printf("Summary: %s\n", hit.Summary)
		}
		if len(hit.Tags) > 0 {
			fmt.Printf("Tags:    %s\n", strings.Join(hit.Tags, ", "))
		}
		fmt.Printf("Text:    %s\n\n", hit.ChunkText)
	}
	return nil
}
