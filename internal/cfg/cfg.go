package cfg

import (
	"errors"
	"fmt"
	"os"
	"time"

	"scene-bench/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	TrainPath    string
	TestPath     string
	DatasetDir   string
	CachePath    string
	OutputPath   string
	ModelFile    string
	NumPatches   int
	StepSize     int
	PatchSize    int
	MaxImageSide int
	Clusters     int
	Samples      int
	Levels       int
	Norm         string
	Folds        int
	Jobs         int
	Workers      int
	Seed         int64
	MetricsPort  int
	FetchTimeout time.Duration
}

type ConfigFile struct {
	Data struct {
		TrainPath  string `yaml:"trainPath"`
		TestPath   string `yaml:"testPath"`
		DatasetDir string `yaml:"datasetDir"`
		CachePath  string `yaml:"cachePath"`
		OutputPath string `yaml:"outputPath"`
	} `yaml:"data"`

	SIFT struct {
		StepSize     int `yaml:"stepSize"`
		PatchSize    int `yaml:"patchSize"`
		MaxImageSide int `yaml:"maxImageSide"`
	} `yaml:"sift"`

	MLP struct {
		ModelFile    string `yaml:"modelFile"`
		NumPatches   int    `yaml:"numPatches"`
		FetchTimeout string `yaml:"fetchTimeout"`
	} `yaml:"mlp"`

	BoW struct {
		Clusters int    `yaml:"clusters"`
		Samples  int    `yaml:"samples"`
		Levels   int    `yaml:"levels"`
		Norm     string `yaml:"norm"`
	} `yaml:"bow"`

	Search struct {
		Folds   int   `yaml:"folds"`
		Jobs    int   `yaml:"jobs"`
		Workers int   `yaml:"workers"`
		Seed    int64 `yaml:"seed"`
	} `yaml:"search"`

	System struct {
		MetricsPort int `yaml:"metricsPort"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// A local .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(config.MLP.FetchTimeout)
	if err != nil {
		fetchTimeout = 2 * time.Minute
	}

	settings := Settings{
		TrainPath:    getEnvOrDefault(common.EnvTrainPath, orString(config.Data.TrainPath, common.DefaultTrainPath)),
		TestPath:     getEnvOrDefault(common.EnvTestPath, orString(config.Data.TestPath, common.DefaultTestPath)),
		DatasetDir:   getEnvOrDefault(common.EnvDatasetDir, orString(config.Data.DatasetDir, common.DefaultDatasetDir)),
		CachePath:    getEnvOrDefault(common.EnvCachePath, orString(config.Data.CachePath, common.DefaultCachePath)),
		OutputPath:   getEnvOrDefault(common.EnvOutputPath, orString(config.Data.OutputPath, common.DefaultOutputPath)),
		ModelFile:    getEnvOrDefault(common.EnvModelFile, config.MLP.ModelFile),
		NumPatches:   getIntFromEnvOrConfig(common.EnvNumPatches, config.MLP.NumPatches, common.DefaultNumPatches),
		StepSize:     getIntFromEnvOrConfig(common.EnvStepSize, config.SIFT.StepSize, common.DefaultStepSize),
		PatchSize:    getIntFromEnvOrConfig(common.EnvPatchSize, config.SIFT.PatchSize, common.DefaultPatchSize),
		MaxImageSide: getIntFromEnvOrConfig(common.EnvMaxImageSide, config.SIFT.MaxImageSide, common.DefaultMaxImageSide),
		Clusters:     getIntFromEnvOrConfig(common.EnvClusters, config.BoW.Clusters, common.DefaultClusters),
		Samples:      getIntFromEnvOrConfig(common.EnvSamples, config.BoW.Samples, common.DefaultSamples),
		Levels:       getIntFromEnvOrConfig(common.EnvPyramidLevels, config.BoW.Levels, common.DefaultPyramidLevels),
		Norm:         getEnvOrDefault(common.EnvNorm, orString(config.BoW.Norm, common.DefaultNorm)),
		Folds:        getIntFromEnvOrConfig(common.EnvFolds, config.Search.Folds, common.DefaultFolds),
		Jobs:         getIntFromEnvOrConfig(common.EnvJobs, config.Search.Jobs, 0),
		Workers:      getIntFromEnvOrConfig(common.EnvWorkers, config.Search.Workers, 0),
		Seed:         int64(getIntFromEnvOrConfig(common.EnvSeed, int(config.Search.Seed), common.DefaultSeed)),
		MetricsPort:  getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort, common.DefaultMetricsPort),
		FetchTimeout: getDurationOrDefault(common.EnvFetchTimeout, fetchTimeout),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		TrainPath:    getEnvOrDefault(common.EnvTrainPath, common.DefaultTrainPath),
		TestPath:     getEnvOrDefault(common.EnvTestPath, common.DefaultTestPath),
		DatasetDir:   getEnvOrDefault(common.EnvDatasetDir, common.DefaultDatasetDir),
		CachePath:    getEnvOrDefault(common.EnvCachePath, common.DefaultCachePath),
		OutputPath:   getEnvOrDefault(common.EnvOutputPath, common.DefaultOutputPath),
		ModelFile:    os.Getenv(common.EnvModelFile), // optional
		NumPatches:   getIntOrDefault(common.EnvNumPatches, common.DefaultNumPatches),
		StepSize:     getIntOrDefault(common.EnvStepSize, common.DefaultStepSize),
		PatchSize:    getIntOrDefault(common.EnvPatchSize, common.DefaultPatchSize),
		MaxImageSide: getIntOrDefault(common.EnvMaxImageSide, common.DefaultMaxImageSide),
		Clusters:     getIntOrDefault(common.EnvClusters, common.DefaultClusters),
		Samples:      getIntOrDefault(common.EnvSamples, common.DefaultSamples),
		Levels:       getIntOrDefault(common.EnvPyramidLevels, common.DefaultPyramidLevels),
		Norm:         getEnvOrDefault(common.EnvNorm, common.DefaultNorm),
		Folds:        getIntOrDefault(common.EnvFolds, common.DefaultFolds),
		Jobs:         getIntOrDefault(common.EnvJobs, 0),
		Workers:      getIntOrDefault(common.EnvWorkers, 0),
		Seed:         int64(getIntOrDefault(common.EnvSeed, common.DefaultSeed)),
		MetricsPort:  getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		FetchTimeout: getDurationOrDefault(common.EnvFetchTimeout, 2*time.Minute),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

var validNorms = map[string]bool{"none": true, "l1": true, "l2": true, "power": true}

// validateSettings range-checks every numeric field and the normalization name
func validateSettings(settings *Settings) error {
	if settings.CachePath == "" {
		return fmt.Errorf("cache path cannot be empty")
	}

	if settings.StepSize <= 0 || settings.StepSize > 256 {
		return fmt.Errorf("SIFT step size must be between 1 and 256, got %d", settings.StepSize)
	}
	if settings.PatchSize < 4 || settings.PatchSize > 256 {
		return fmt.Errorf("SIFT patch size must be between 4 and 256, got %d", settings.PatchSize)
	}
	if settings.MaxImageSide < 0 {
		return fmt.Errorf("max image side cannot be negative, got %d", settings.MaxImageSide)
	}
	if settings.NumPatches <= 0 || settings.NumPatches > 100000 {
		return fmt.Errorf("number of patches must be between 1 and 100000, got %d", settings.NumPatches)
	}

	if settings.Clusters < 2 || settings.Clusters > 100000 {
		return fmt.Errorf("number of clusters must be between 2 and 100000, got %d", settings.Clusters)
	}
	if settings.Samples < settings.Clusters {
		return fmt.Errorf("codebook samples (%d) must be at least the number of clusters (%d)", settings.Samples, settings.Clusters)
	}
	if settings.Levels < 1 || settings.Levels > 4 {
		return fmt.Errorf("pyramid levels must be between 1 and 4, got %d", settings.Levels)
	}
	if !validNorms[settings.Norm] {
		return fmt.Errorf("unknown histogram norm %q", settings.Norm)
	}

	if settings.Folds < 2 || settings.Folds > 20 {
		return fmt.Errorf("CV folds must be between 2 and 20, got %d", settings.Folds)
	}
	if settings.Jobs < 0 || settings.Workers < 0 {
		return fmt.Errorf("jobs and workers cannot be negative")
	}

	if settings.MetricsPort != 0 && (settings.MetricsPort < 1024 || settings.MetricsPort > 65535) {
		return fmt.Errorf("metrics port must be 0 or between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.FetchTimeout < time.Second || settings.FetchTimeout > time.Hour {
		return fmt.Errorf("fetch timeout must be between 1s and 1h, got %v", settings.FetchTimeout)
	}

	return nil
}
