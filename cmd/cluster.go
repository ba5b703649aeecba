package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/detector"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/metric"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster the faces of all images in a folder",
	Long: `Detect faces in every image of a folder and group them by identity.

The JSON result is printed to stdout or written to --output. Clustering
parameters default to the configured preset and can be overridden per flag.

Examples:
  face-cluster cluster --input ./party
  face-cluster cluster --input ./party --preset strict --output result.json
  face-cluster cluster --input ./party --algorithm hdbscan --min-cluster-size 3 --annotate-dir ./out`,
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)
	addClusterFlags(clusterCmd)
	_ = clusterCmd.MarkFlagRequired("input")
}

// underscoreFlags accepts --min_size style spellings for the dashed flag names.
func underscoreFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func addClusterFlags(cmd *cobra.Command) {
	cmd.Flags().SetNormalizeFunc(underscoreFlags)
	cmd.Flags().String("input", "", "Folder with images to cluster (required)")
	cmd.Flags().String("output", "", "Write the JSON result to this file instead of stdout")
	cmd.Flags().String("task-id", "", "Task ID used in face identifiers (random when empty)")
	cmd.Flags().String("annotate-dir", "", "Store originals and annotated faces in this folder")
	cmd.Flags().String("detector-url", "", "Face detector URL (overrides DETECTOR_URL)")
	cmd.Flags().Int("concurrency", 0, "Parallel detector requests (overrides DETECTOR_CONCURRENCY)")

	cmd.Flags().String("preset", "", "Clustering preset (overrides CLUSTER_PRESET)")
	cmd.Flags().String("algorithm", "", "Clustering algorithm: dbscan or hdbscan")
	cmd.Flags().Float64("eps", 0, "DBSCAN neighborhood radius")
	cmd.Flags().Int("min-samples", 0, "Neighbors required for a core point")
	cmd.Flags().Int("min-cluster-size", 0, "HDBSCAN minimum cluster size")
	cmd.Flags().String("metric", "", "Distance metric: cosine or euclidean")
	cmd.Flags().String("neighbor-index", "", "Neighbor search: exact or hnsw")

	cmd.Flags().Int("min-size", 0, "Minimum face width and height in pixels")
	cmd.Flags().Float64("det-thresh", 0, "Minimum detector confidence")
	cmd.Flags().Float64("max-overlap", 0, "IoU above which overlapping faces are deduplicated, 0 disables")
}

// clusterOptions resolves the run options from the configuration and the flags
// that were set explicitly.
func clusterOptions(cmd *cobra.Command, cfg *config.Config) (pipeline.Options, error) {
	if cmd.Flags().Changed("preset") {
		preset, err := config.Preset(mustGetString(cmd, "preset"))
		if err != nil {
			return pipeline.Options{}, err
		}
		cfg.Clustering = preset
	}

	params := cfg.Clustering.Params()
	if cmd.Flags().Changed("algorithm") {
		params.Algorithm = cluster.Algorithm(mustGetString(cmd, "algorithm"))
	}
	if cmd.Flags().Changed("eps") {
		params.Eps = mustGetFloat64(cmd, "eps")
	}
	if cmd.Flags().Changed("min-samples") {
		params.MinSamples = mustGetInt(cmd, "min-samples")
	}
	if cmd.Flags().Changed("min-cluster-size") {
		params.MinClusterSize = mustGetInt(cmd, "min-cluster-size")
	}
	if cmd.Flags().Changed("metric") {
		params.Metric = metric.Metric(mustGetString(cmd, "metric"))
	}
	if cmd.Flags().Changed("neighbor-index") {
		params.NeighborIndex = cluster.NeighborIndex(mustGetString(cmd, "neighbor-index"))
	}

	engine, err := cluster.NewEngine(params)
	if err != nil {
		return pipeline.Options{}, err
	}

	filter := cfg.Detection.FilterOptions()
	if cmd.Flags().Changed("min-size") {
		filter.MinSize = mustGetInt(cmd, "min-size")
	}
	if cmd.Flags().Changed("det-thresh") {
		filter.MinConfidence = mustGetFloat64(cmd, "det-thresh")
	}
	if cmd.Flags().Changed("max-overlap") {
		filter.MaxOverlap = mustGetFloat64(cmd, "max-overlap")
	}

	return pipeline.Options{Clustering: engine.Params(), Filter: filter}, nil
}

// readImageDir loads all images of dir with a supported extension, sorted by name.
func readImageDir(dir string) ([]pipeline.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input folder: %w", err)
	}

	var images []pipeline.Image
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !slices.Contains(constants.ImageExtensions, ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		images = append(images, pipeline.Image{Name: entry.Name(), Data: data})
	}
	return images, nil
}

func newStageBar(stage pipeline.Stage, total int) *progressbar.ProgressBar {
	description := map[pipeline.Stage]string{
		pipeline.StageDetect:   "Detecting faces",
		pipeline.StageCluster:  "Clustering",
		pipeline.StageAnnotate: "Storing images",
	}[stage]
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func runCluster(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if url := mustGetString(cmd, "detector-url"); url != "" {
		cfg.Detector.URL = url
	}
	if concurrency := mustGetInt(cmd, "concurrency"); concurrency > 0 {
		cfg.Detector.Concurrency = concurrency
	}

	opts, err := clusterOptions(cmd, cfg)
	if err != nil {
		return err
	}

	inputDir := mustGetString(cmd, "input")
	images, err := readImageDir(inputDir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s (supported: %s)", inputDir, strings.Join(constants.ImageExtensions, ", "))
	}
	fmt.Fprintf(os.Stderr, "Found %d images in %s\n", len(images), inputDir)

	pcfg := pipeline.Config{
		Detector:    detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout),
		Annotator:   cfg.Storage.Annotator(),
		Logger:      logger,
		Concurrency: cfg.Detector.Concurrency,
		RateLimit:   cfg.Detector.RateLimit,
	}
	if dir := mustGetString(cmd, "annotate-dir"); dir != "" {
		store, err := imagestore.NewLocalStore(dir)
		if err != nil {
			return fmt.Errorf("opening annotate dir: %w", err)
		}
		pcfg.Store = store
	}
	p, err := pipeline.New(pcfg)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	var (
		bar      *progressbar.ProgressBar
		barStage pipeline.Stage
	)
	opts.Progress = func(stage pipeline.Stage, done, total int) {
		if bar == nil || stage != barStage {
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			bar = newStageBar(stage, total)
			barStage = stage
		}
		_ = bar.Set(done)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := p.Run(ctx, pipeline.Request{
		TaskID:  mustGetString(cmd, "task-id"),
		Images:  images,
		Options: opts,
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	for _, failed := range resp.FailedImages {
		fmt.Fprintf(os.Stderr, "Skipped %s: %s\n", failed.Name, failed.Error)
	}

	if err := writeJSON(mustGetString(cmd, "output"), resp); err != nil {
		return err
	}

	if !resp.Success {
		if errors.Is(resp.Err(), pipeline.ErrNoFaces) {
			return fmt.Errorf("no faces found in %d images", len(images))
		}
		return fmt.Errorf("clustering failed: %w", resp.Err())
	}

	fmt.Fprintf(os.Stderr, "Clustered %d faces into %d persons (task %s)\n", resp.TotalFaces, resp.UniquePersons, resp.TaskID)
	return nil
}

// writeJSON writes v as indented JSON to path, or to stdout when path is empty.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Result written to %s\n", path)
	return nil
}
