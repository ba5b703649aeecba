package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-cluster/internal/metric"
)

var compareCmd = &cobra.Command{
	Use:   "compare <embedding1.json> <embedding2.json>",
	Short: "Compare two face embeddings",
	Long: `Compute the cosine similarity of two face embeddings.

Each file holds either a JSON array of numbers or an object with an
"embedding" array. Faces with a similarity above 0.6 are a match.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().Bool("json", false, "Print the result as JSON")
}

// readEmbedding loads an embedding from a bare JSON array or an {"embedding": [...]} object.
func readEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var embedding []float32
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		embedding = wrapped.Embedding
	} else if err := json.Unmarshal(trimmed, &embedding); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return embedding, nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	a, err := readEmbedding(args[0])
	if err != nil {
		return err
	}
	b, err := readEmbedding(args[1])
	if err != nil {
		return err
	}

	result, err := metric.Compare(a, b)
	if err != nil {
		return fmt.Errorf("comparing embeddings: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return writeJSON("", result)
	}

	fmt.Printf("Similarity: %.4f\n", result.Similarity)
	if result.Match {
		fmt.Println("Match: yes (same person)")
	} else {
		fmt.Println("Match: no")
	}
	return nil
}
