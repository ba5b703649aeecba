package config

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/face"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/metric"
)

//go:embed presets.yaml
var presetsYAML []byte

type Config struct {
	Server     ServerConfig
	Detector   DetectorConfig
	Clustering ClusteringConfig
	Detection  DetectionConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host           string        // defaults to 0.0.0.0
	Port           int           // defaults to 8080
	RequestTimeout time.Duration // defaults to 5 minutes, synchronous processing included
	AllowedOrigins []string      // CORS origins, defaults to *
}

type DetectorConfig struct {
	URL         string        // defaults to http://localhost:8000
	Timeout     time.Duration // per request, defaults to 60 seconds
	Concurrency int           // parallel detector requests per run, defaults to 4
	RateLimit   float64       // requests per second across a run, 0 disables
}

// ClusteringConfig is the selected preset after environment overrides.
type ClusteringConfig struct {
	Preset         string  `yaml:"-"`
	Algorithm      string  `yaml:"algorithm"`
	Eps            float64 `yaml:"eps"`
	MinSamples     int     `yaml:"min_samples"`
	MinClusterSize int     `yaml:"min_cluster_size"`
	Metric         string  `yaml:"metric"`
	NeighborIndex  string  `yaml:"neighbor_index"`
}

// Params converts the clustering section into engine parameters. Values are
// validated by cluster.NewEngine.
func (c ClusteringConfig) Params() cluster.Params {
	return cluster.Params{
		Algorithm:      cluster.Algorithm(c.Algorithm),
		Eps:            c.Eps,
		MinSamples:     c.MinSamples,
		MinClusterSize: c.MinClusterSize,
		Metric:         metric.Metric(c.Metric),
		NeighborIndex:  cluster.NeighborIndex(c.NeighborIndex),
	}
}

type DetectionConfig struct {
	MinSize       int     // minimum face width and height in pixels, defaults to 30
	MinConfidence float64 // minimum detector score, defaults to 0.5
	MaxOverlap    float64 // IoU above which the weaker of two boxes is dropped, 0 disables
}

func (c DetectionConfig) FilterOptions() face.FilterOptions {
	return face.FilterOptions{
		MinSize:       c.MinSize,
		MinConfidence: c.MinConfidence,
		MaxOverlap:    c.MaxOverlap,
	}
}

type StorageConfig struct {
	Backend   string // local (default), minio or memory
	UploadDir string // local backend root, defaults to uploads
	Minio     MinioConfig

	// AnnotationMaxSize bounds the longer side of annotated images in pixels, 0 keeps the original size
	AnnotationMaxSize int
}

// Annotator returns the face box annotator for stored images.
func (c StorageConfig) Annotator() imagestore.Annotator {
	a := imagestore.DefaultAnnotator()
	a.MaxSize = c.AnnotationMaxSize
	return a
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string // defaults to faces
	Prefix    string
	UseSSL    bool
}

type LogConfig struct {
	Level  string // debug, info (default), warn, error
	Format string // text (default) or json
}

type presetsFile struct {
	Default string                      `yaml:"default"`
	Presets map[string]ClusteringConfig `yaml:"presets"`
}

var presets = mustParsePresets(presetsYAML)

func mustParsePresets(data []byte) presetsFile {
	var p presetsFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded presets.yaml: " + err.Error())
	}
	if _, ok := p.Presets[p.Default]; !ok {
		panic("embedded presets.yaml: default preset " + p.Default + " is not defined")
	}
	return p
}

// PresetNames returns the names of the built-in clustering presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets.Presets))
	for name := range presets.Presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Preset returns a built-in clustering preset by name.
func Preset(name string) (ClusteringConfig, error) {
	c, ok := presets.Presets[name]
	if !ok {
		return ClusteringConfig{}, fmt.Errorf("unknown clustering preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	c.Preset = name
	return c, nil
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultVal
}

func envSeconds(key string, defaultVal time.Duration) time.Duration {
	return time.Duration(envInt(key, int(defaultVal/time.Second))) * time.Second
}

func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads the configuration from the environment. It fails only when
// CLUSTER_PRESET names a preset that does not exist.
func Load() (*Config, error) {
	clustering, err := Preset(envString("CLUSTER_PRESET", presets.Default))
	if err != nil {
		return nil, err
	}
	clustering.Algorithm = envString("CLUSTER_ALGORITHM", clustering.Algorithm)
	clustering.Eps = envFloat("CLUSTER_EPS", clustering.Eps)
	clustering.MinSamples = envInt("CLUSTER_MIN_SAMPLES", clustering.MinSamples)
	clustering.MinClusterSize = envInt("CLUSTER_MIN_CLUSTER_SIZE", clustering.MinClusterSize)
	clustering.Metric = envString("CLUSTER_METRIC", clustering.Metric)
	clustering.NeighborIndex = envString("CLUSTER_NEIGHBOR_INDEX", clustering.NeighborIndex)

	return &Config{
		Server: ServerConfig{
			Host:           envString("HOST", "0.0.0.0"),
			Port:           envInt("PORT", 8080),
			RequestTimeout: envSeconds("REQUEST_TIMEOUT_SECONDS", 5*time.Minute),
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Detector: DetectorConfig{
			URL:         envString("DETECTOR_URL", "http://localhost:8000"),
			Timeout:     envSeconds("DETECTOR_TIMEOUT_SECONDS", 60*time.Second),
			Concurrency: envInt("DETECTOR_CONCURRENCY", 4),
			RateLimit:   envFloat("DETECTOR_RATE_LIMIT", 0),
		},
		Clustering: clustering,
		Detection: DetectionConfig{
			MinSize:       envInt("DETECTION_MIN_SIZE", 30),
			MinConfidence: envFloat("DETECTION_MIN_CONFIDENCE", 0.5),
			MaxOverlap:    envFloat("DETECTION_MAX_OVERLAP", 0),
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(envString("STORAGE_BACKEND", "local")),
			UploadDir: envString("UPLOAD_DIR", "uploads"),
			Minio: MinioConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				Bucket:    envString("MINIO_BUCKET", "faces"),
				Prefix:    os.Getenv("MINIO_PREFIX"),
				UseSSL:    envBool("MINIO_USE_SSL", false),
			},
			AnnotationMaxSize: envInt("ANNOTATION_MAX_SIZE", 0),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "text")),
		},
	}, nil
}
