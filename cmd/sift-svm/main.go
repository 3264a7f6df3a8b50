// Command sift-svm classifies scene images with dense SIFT descriptors, a
// spatial pyramid of visual words and an RBF SVM tuned by cross-validation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"scene-bench/internal/bow"
	"scene-bench/internal/cfg"
	"scene-bench/internal/common"
	"scene-bench/internal/descriptors"
	"scene-bench/internal/experiment"
	"scene-bench/internal/learn"
	"scene-bench/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		trainPath  = flag.String("train_path", "", "Training images, one directory per class (default "+common.DefaultTrainPath+")")
		testPath   = flag.String("test_path", "", "Test images, one directory per class (default "+common.DefaultTestPath+")")
		cachePath  = flag.String("cache_path", "", "Descriptor cache directory (default "+common.DefaultCachePath+")")
		outputPath = flag.String("output", "", "Output directory for reports (default "+common.DefaultOutputPath+")")
		gridFile   = flag.String("grid", "", "YAML file with the hyperparameter grid (default: a single candidate)")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		jobs       = flag.Int("jobs", 0, "Parallel cross-validation fits (0 uses all CPUs)")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Override config with command line arguments
	if *trainPath != "" {
		config.TrainPath = *trainPath
	}
	if *testPath != "" {
		config.TestPath = *testPath
	}
	if *cachePath != "" {
		config.CachePath = *cachePath
	}
	if *outputPath != "" {
		config.OutputPath = *outputPath
	}
	if *jobs > 0 {
		config.Jobs = *jobs
	}

	grid := learn.Grid{}
	if *gridFile != "" {
		g, err := cfg.LoadGrid(*gridFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load grid")
		}
		grid = learn.Grid(g)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	metrics.Serve(metricsCtx, m, config.MetricsPort)
	defer stopMetrics()

	sift := descriptors.NewDenseSIFT(config.StepSize, config.PatchSize)
	sift.MaxSide = config.MaxImageSide
	pipeline := newPipeline(config, m)

	fmt.Println("=== SIFT + SVM Configuration ===")
	fmt.Printf("Train Path: %s\n", config.TrainPath)
	fmt.Printf("Test Path: %s\n", config.TestPath)
	fmt.Printf("Cache Path: %s\n", config.CachePath)
	fmt.Printf("Output Directory: %s\n", config.OutputPath)
	fmt.Printf("SIFT Step/Patch: %d/%d\n", config.StepSize, config.PatchSize)
	fmt.Printf("Pyramid: %d levels, %d words, %s norm\n", config.Levels, config.Clusters, config.Norm)
	fmt.Printf("Pipeline: %s\n", strings.Join(pipeline.StageNames(), " -> "))
	fmt.Printf("Candidates: %d, Folds: %d\n", grid.Size(), config.Folds)
	fmt.Println("================================")

	search := learn.NewGridSearch[descriptors.Set](pipeline, grid)
	search.CV.K = config.Folds
	search.Jobs = config.Jobs
	search.ReturnTrainScore = true
	search.Metrics = m

	runner, err := experiment.NewRunner(experiment.Config{
		Name:       "sift-svm",
		TrainPath:  config.TrainPath,
		TestPath:   config.TestPath,
		CachePath:  config.CachePath,
		OutputPath: config.OutputPath,
		Workers:    config.Workers,
	}, sift, search, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create runner")
	}
	runner.OnClose(func() error {
		stopMetrics()
		return nil
	})

	if err := run(ctx, runner, config.OutputPath, m); err != nil {
		if cerr := runner.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to close runner")
		}
		log.Fatal().Err(err).Msg("Experiment failed")
	}
	if err := runner.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close runner")
	}
}

// newPipeline builds the spatial pyramid, scaler and RBF SVM pipeline. Grid
// parameters address its stages as transformer__, scaler__ and classifier__.
func newPipeline(config cfg.Settings, m *metrics.Metrics) *learn.Pipeline[descriptors.Set] {
	transformer := bow.SpatialPyramid(config.Levels)
	transformer.Clusters = config.Clusters
	transformer.Samples = config.Samples
	transformer.Norm = config.Norm
	transformer.Seed = config.Seed

	memory := learn.NewMemory()
	if m != nil {
		memory.Metrics = m
	}
	return learn.NewPipeline[descriptors.Set]("transformer", transformer).
		Add("scaler", learn.NewStandardScaler()).
		Classify("classifier", learn.NewSVC(common.DefaultSVMC, learn.KernelRBF, common.DefaultSIFTGamma)).
		WithMemory(memory)
}

func run(ctx context.Context, runner *experiment.Runner, outputPath string, m *metrics.Metrics) error {
	if err := runner.Run(ctx); err != nil {
		return err
	}

	reporter := experiment.NewReporter(runner.GetResults(), outputPath, m)
	if err := reporter.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("Failed to generate reports")
	}

	// Print summary to console
	reporter.PrintSummary()

	log.Info().
		Str("output", reporter.Dir()).
		Msg("Experiment completed successfully")
	return nil
}
