package common

// Environment variable keys
const (
	EnvConfigFile    = "CONFIG_FILE"
	EnvTrainPath     = "TRAIN_PATH"
	EnvTestPath      = "TEST_PATH"
	EnvDatasetDir    = "DATASET_DIR"
	EnvCachePath     = "CACHE_PATH"
	EnvOutputPath    = "OUTPUT_PATH"
	EnvModelFile     = "MODEL_FILE"
	EnvNumPatches    = "NUM_PATCHES"
	EnvStepSize      = "SIFT_STEP_SIZE"
	EnvPatchSize     = "SIFT_PATCH_SIZE"
	EnvMaxImageSide  = "MAX_IMAGE_SIDE"
	EnvClusters      = "BOW_CLUSTERS"
	EnvSamples       = "BOW_SAMPLES"
	EnvPyramidLevels = "PYRAMID_LEVELS"
	EnvNorm          = "BOW_NORM"
	EnvFolds         = "CV_FOLDS"
	EnvJobs          = "JOBS"
	EnvWorkers       = "EXTRACT_WORKERS"
	EnvSeed          = "SEED"
	EnvMetricsPort   = "METRICS_PORT"
	EnvFetchTimeout  = "FETCH_TIMEOUT"
)

// Configuration defaults
const (
	DefaultTrainPath     = "../data/MIT_split/train"
	DefaultTestPath      = "../data/MIT_split/test"
	DefaultDatasetDir    = "/home/mcv/datasets/MIT_split"
	DefaultCachePath     = "../data/cache"
	DefaultOutputPath    = "results"
	DefaultNumPatches    = 128
	DefaultStepSize      = 16
	DefaultPatchSize     = 16
	DefaultMaxImageSide  = 0
	DefaultClusters      = 512
	DefaultSamples       = 100000
	DefaultPyramidLevels = 2
	DefaultNorm          = "l2"
	DefaultFolds         = 3
	DefaultSeed          = 42
	DefaultMetricsPort   = 0
)

// Pipeline B defaults
const (
	DefaultMLPClusters = 760
	DefaultMLPNorm     = "power"
	DefaultSVMC        = 1.0
	DefaultSIFTGamma   = 0.002
	DefaultMLPGamma    = 0.001
)

// Image file extensions accepted by the dataset loader
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}
