// Command mlp-bow classifies scene images with a bag of visual words built
// from patch embeddings of a pretrained network and an SVM tuned by
// cross-validation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"scene-bench/internal/bow"
	"scene-bench/internal/cfg"
	"scene-bench/internal/common"
	"scene-bench/internal/descriptors"
	"scene-bench/internal/experiment"
	"scene-bench/internal/learn"
	"scene-bench/internal/metrics"
	"scene-bench/internal/mlp"
	"scene-bench/internal/remote"
	"scene-bench/internal/runname"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		datasetDir = flag.String("dataset_dir", "", "Dataset root holding train/ and test/ (default "+common.DefaultDatasetDir+")")
		numPatches = flag.Int("num_patches", 0, "Patches sampled per image (default 128)")
		modelFile  = flag.String("model_file", "", "Pretrained model, a JSON file or an http(s) URL (required)")
		cachePath  = flag.String("cache_path", "", "Descriptor and model cache directory (default "+common.DefaultCachePath+")")
		outputPath = flag.String("output", "", "Output directory for reports (default "+common.DefaultOutputPath+")")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		jobs       = flag.Int("jobs", 0, "Parallel cross-validation fits (0 uses all CPUs)")
		searchKind = flag.String("search", "grid", "Hyperparameter search: grid or random")
		nIter      = flag.Int("n_iter", 10, "Candidates sampled by the random search")
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
	if *datasetDir != "" {
		config.DatasetDir = *datasetDir
	}
	if *numPatches > 0 {
		config.NumPatches = *numPatches
	}
	if *modelFile != "" {
		config.ModelFile = *modelFile
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
	if config.ModelFile == "" {
		fmt.Fprintln(os.Stderr, "--model_file is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	metrics.Serve(metricsCtx, m, config.MetricsPort)
	defer stopMetrics()

	model, err := loadModel(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load model")
	}
	fmt.Print(model.Summary())

	pipeline := newPipeline(config, m)
	search, err := newSearch(*searchKind, *nIter, pipeline, config, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build search")
	}

	fmt.Println("=== MLP + BoW Configuration ===")
	fmt.Printf("Dataset Directory: %s\n", config.DatasetDir)
	fmt.Printf("Model File: %s\n", config.ModelFile)
	fmt.Printf("Patches per Image: %d\n", config.NumPatches)
	fmt.Printf("Embedding Size: %d\n", model.OutputSize())
	fmt.Printf("Cache Path: %s\n", config.CachePath)
	fmt.Printf("Output Directory: %s\n", config.OutputPath)
	fmt.Printf("Pipeline: %s\n", strings.Join(pipeline.StageNames(), " -> "))
	fmt.Printf("Search: %s, Folds: %d\n", *searchKind, config.Folds)
	fmt.Println("===============================")

	runner, err := experiment.NewRunner(experiment.Config{
		Name:       runName(config.ModelFile, model),
		TrainPath:  filepath.Join(config.DatasetDir, "train"),
		TestPath:   filepath.Join(config.DatasetDir, "test"),
		CachePath:  config.CachePath,
		OutputPath: config.OutputPath,
		Workers:    config.Workers,
	}, descriptors.NewEmbedding(model, config.NumPatches, config.Seed), search, m)
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

// loadModel fetches the model if it is a URL, loads it and drops the
// classification layer so the second-to-last layer becomes the output.
func loadModel(ctx context.Context, config cfg.Settings) (*mlp.Model, error) {
	path := config.ModelFile
	if remote.IsURL(path) {
		client := remote.New(config.FetchTimeout)
		local, err := client.Download(ctx, path, filepath.Join(config.CachePath, "models"))
		if err != nil {
			return nil, err
		}
		path = local
	}

	model, err := mlp.Load(path)
	if err != nil {
		return nil, err
	}
	return model.Truncate(1)
}

// runName names the run after the model file when the file name encodes the
// network's training parameters.
func runName(modelFile string, model *mlp.Model) string {
	stem := strings.TrimSuffix(filepath.Base(modelFile), filepath.Ext(modelFile))
	params, err := runname.Decode(stem)
	if err != nil {
		log.Debug().Err(err).Str("model", stem).Msg("Model file name carries no training parameters")
		return "mlp-bow"
	}

	log.Info().
		Ints("units", params.Units).
		Strs("activation", params.Activation).
		Str("loss", params.Loss).
		Str("optimizer", params.Optimizer).
		Int("image_size", params.ImageSize).
		Msg("Model training parameters")
	if h, w, _ := model.PatchSize(); params.ImageSize != h || params.ImageSize != w {
		log.Warn().
			Int("image_size", params.ImageSize).
			Int("patch_height", h).
			Int("patch_width", w).
			Msg("Model file name does not match its input shape")
	}
	return "mlp-bow-" + stem
}

// newPipeline builds the bag of words, scaler and SVM pipeline searched over
// by newSearch.
func newPipeline(config cfg.Settings, m *metrics.Metrics) *learn.Pipeline[descriptors.Set] {
	transformer := bow.BoW(common.DefaultMLPClusters, config.Samples, common.DefaultMLPNorm)
	transformer.Seed = config.Seed

	memory := learn.NewMemory()
	if m != nil {
		memory.Metrics = m
	}
	return learn.NewPipeline[descriptors.Set]("bowtransformer", transformer).
		Add("standardscaler", learn.NewStandardScaler()).
		Classify("svc", learn.NewSVC(common.DefaultSVMC, learn.KernelIntersection, common.DefaultMLPGamma)).
		WithMemory(memory)
}

func newSearch(kind string, nIter int, pipeline *learn.Pipeline[descriptors.Set], config cfg.Settings, m *metrics.Metrics) (learn.Searcher[descriptors.Set], error) {
	grid := learn.Grid{
		"svc__C":      learn.LogSpace(-3, 15, 5, 2),
		"svc__kernel": {learn.KernelLinear, learn.KernelRBF, learn.KernelSigmoid},
		"svc__gamma":  learn.LogSpace(-15, 3, 5, 2),
	}

	configure := func(s *learn.GridSearch[descriptors.Set]) {
		s.CV.K = config.Folds
		s.Jobs = config.Jobs
		s.Metrics = m
	}

	switch kind {
	case "grid":
		s := learn.NewGridSearch[descriptors.Set](pipeline, grid)
		configure(s)
		return s, nil
	case "random":
		s := learn.NewRandomizedSearch[descriptors.Set](pipeline, grid, nIter, config.Seed)
		configure(&s.GridSearch)
		return s, nil
	}
	return nil, fmt.Errorf("unknown search %q, want grid or random", kind)
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
