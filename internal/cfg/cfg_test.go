package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scene-bench/internal/common"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, settings Settings) {
				if settings.TrainPath != "../data/MIT_split/train" {
					t.Errorf("expected default train path, got %s", settings.TrainPath)
				}
				if settings.CachePath != "../data/cache" {
					t.Errorf("expected default cache path, got %s", settings.CachePath)
				}
				if settings.StepSize != 16 {
					t.Errorf("expected default step size 16, got %d", settings.StepSize)
				}
				if settings.NumPatches != 128 {
					t.Errorf("expected default patch count 128, got %d", settings.NumPatches)
				}
				if settings.Folds != 3 {
					t.Errorf("expected 3 folds, got %d", settings.Folds)
				}
				if settings.FetchTimeout != 2*time.Minute {
					t.Errorf("expected fetch timeout 2m, got %v", settings.FetchTimeout)
				}
			},
		},
		{
			name: "custom values",
			envVars: map[string]string{
				"TRAIN_PATH":     "/data/train",
				"SIFT_STEP_SIZE": "8",
				"BOW_CLUSTERS":   "128",
				"BOW_NORM":       "power",
				"CV_FOLDS":       "5",
				"JOBS":           "4",
				"METRICS_PORT":   "9100",
				"FETCH_TIMEOUT":  "30s",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.TrainPath != "/data/train" {
					t.Errorf("expected TrainPath /data/train, got %s", settings.TrainPath)
				}
				if settings.StepSize != 8 {
					t.Errorf("expected StepSize 8, got %d", settings.StepSize)
				}
				if settings.Clusters != 128 {
					t.Errorf("expected Clusters 128, got %d", settings.Clusters)
				}
				if settings.Norm != "power" {
					t.Errorf("expected Norm power, got %s", settings.Norm)
				}
				if settings.Folds != 5 || settings.Jobs != 4 {
					t.Errorf("expected folds 5 and jobs 4, got %d and %d", settings.Folds, settings.Jobs)
				}
				if settings.MetricsPort != 9100 {
					t.Errorf("expected MetricsPort 9100, got %d", settings.MetricsPort)
				}
				if settings.FetchTimeout != 30*time.Second {
					t.Errorf("expected FetchTimeout 30s, got %v", settings.FetchTimeout)
				}
			},
		},
		{
			name:    "unknown norm",
			envVars: map[string]string{"BOW_NORM": "l3"},
			wantErr: true,
		},
		{
			name:    "single fold",
			envVars: map[string]string{"CV_FOLDS": "1"},
			wantErr: true,
		},
		{
			name:    "privileged metrics port",
			envVars: map[string]string{"METRICS_PORT": "80"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "valid YAML config",
			yamlContent: `
data:
  trainPath: "/mit/train"
  testPath: "/mit/test"
  cachePath: "/tmp/cache"

sift:
  stepSize: 8
  patchSize: 24

mlp:
  modelFile: "models/mlp.json"
  numPatches: 64
  fetchTimeout: "45s"

bow:
  clusters: 256
  samples: 5000
  levels: 3
  norm: "l1"

search:
  folds: 4
  jobs: 2
  seed: 7
`,
			validate: func(t *testing.T, settings Settings) {
				if settings.TrainPath != "/mit/train" || settings.TestPath != "/mit/test" {
					t.Errorf("unexpected dataset paths %s %s", settings.TrainPath, settings.TestPath)
				}
				if settings.StepSize != 8 || settings.PatchSize != 24 {
					t.Errorf("unexpected SIFT geometry %d/%d", settings.StepSize, settings.PatchSize)
				}
				if settings.ModelFile != "models/mlp.json" {
					t.Errorf("expected model file models/mlp.json, got %s", settings.ModelFile)
				}
				if settings.NumPatches != 64 {
					t.Errorf("expected NumPatches 64, got %d", settings.NumPatches)
				}
				if settings.FetchTimeout != 45*time.Second {
					t.Errorf("expected FetchTimeout 45s, got %v", settings.FetchTimeout)
				}
				if settings.Clusters != 256 || settings.Samples != 5000 || settings.Levels != 3 {
					t.Errorf("unexpected BoW settings %+v", settings)
				}
				if settings.Seed != 7 {
					t.Errorf("expected Seed 7, got %d", settings.Seed)
				}
				// Unset keys fall back to defaults
				if settings.DatasetDir != "/home/mcv/datasets/MIT_split" {
					t.Errorf("expected default dataset dir, got %s", settings.DatasetDir)
				}
			},
		},
		{
			name: "env overrides YAML",
			yamlContent: `
sift:
  stepSize: 8
`,
			envOverrides: map[string]string{
				"SIFT_STEP_SIZE": "32",
				"CACHE_PATH":     "/env/cache",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.StepSize != 32 {
					t.Errorf("expected env StepSize 32, got %d", settings.StepSize)
				}
				if settings.CachePath != "/env/cache" {
					t.Errorf("expected env CachePath, got %s", settings.CachePath)
				}
			},
		},
		{
			name:        "invalid YAML",
			yamlContent: "sift: [unterminated",
			wantErr:     true,
		},
		{
			name: "samples below clusters",
			yamlContent: `
bow:
  clusters: 1000
  samples: 10
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			settings, err := loadFromYAML(configPath)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.validate(t, settings)
		})
	}
}

func TestLoad_UsesConfigFile(t *testing.T) {
	clearTestEnv(t)
	t.Chdir(t.TempDir())

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("bow:\n  clusters: 64\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(common.EnvConfigFile, configPath)

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Clusters != 64 {
		t.Errorf("expected Clusters 64 from config file, got %d", settings.Clusters)
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	clearTestEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SIFT_PATCH_SIZE=32\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv sets the variable process-wide; restore it after the test.
	t.Setenv(common.EnvPatchSize, "")
	os.Unsetenv(common.EnvPatchSize)

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.PatchSize != 32 {
		t.Errorf("expected PatchSize 32 from .env, got %d", settings.PatchSize)
	}
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			CachePath:    "cache",
			StepSize:     16,
			PatchSize:    16,
			NumPatches:   128,
			Clusters:     512,
			Samples:      100000,
			Levels:       2,
			Norm:         "l2",
			Folds:        3,
			FetchTimeout: time.Minute,
		}
	}

	if err := validateSettings(valid()); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	cases := map[string]func(s *Settings){
		"empty cache path":   func(s *Settings) { s.CachePath = "" },
		"zero step":          func(s *Settings) { s.StepSize = 0 },
		"tiny patch":         func(s *Settings) { s.PatchSize = 2 },
		"negative max side":  func(s *Settings) { s.MaxImageSide = -1 },
		"zero patches":       func(s *Settings) { s.NumPatches = 0 },
		"one cluster":        func(s *Settings) { s.Clusters = 1 },
		"deep pyramid":       func(s *Settings) { s.Levels = 5 },
		"negative jobs":      func(s *Settings) { s.Jobs = -1 },
		"short timeout":      func(s *Settings) { s.FetchTimeout = time.Millisecond },
		"too many cv folds":  func(s *Settings) { s.Folds = 21 },
		"unknown norm":       func(s *Settings) { s.Norm = "max" },
		"out of range port":  func(s *Settings) { s.MetricsPort = 70000 },
		"samples < clusters": func(s *Settings) { s.Samples = 10 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := valid()
			mutate(s)
			if err := validateSettings(s); err == nil {
				t.Errorf("expected validation error for %s", name)
			}
		})
	}
}

func clearTestEnv(t *testing.T) {
	envVars := []string{
		common.EnvConfigFile, common.EnvTrainPath, common.EnvTestPath, common.EnvDatasetDir,
		common.EnvCachePath, common.EnvOutputPath, common.EnvModelFile, common.EnvNumPatches,
		common.EnvStepSize, common.EnvPatchSize, common.EnvMaxImageSide, common.EnvClusters,
		common.EnvSamples, common.EnvPyramidLevels, common.EnvNorm, common.EnvFolds,
		common.EnvJobs, common.EnvWorkers, common.EnvSeed, common.EnvMetricsPort,
		common.EnvFetchTimeout,
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}

func TestLoadGrid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.yaml")
	content := `
classifier__C: [0.5, 1, 2.5]
classifier__kernel: [linear, rbf]
transformer__levels: [1, 2]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	grid, err := LoadGrid(path)
	if err != nil {
		t.Fatalf("LoadGrid failed: %v", err)
	}
	if len(grid) != 3 {
		t.Fatalf("expected 3 parameters, got %d", len(grid))
	}
	if got := grid["classifier__C"]; len(got) != 3 || got[0] != 0.5 || got[1] != 1 {
		t.Errorf("unexpected C candidates %#v", got)
	}
	if got := grid["classifier__kernel"]; len(got) != 2 || got[1] != "rbf" {
		t.Errorf("unexpected kernel candidates %#v", got)
	}
}

func TestLoadGrid_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no_stage.yaml": "C: [1, 2]\n",
		"empty.yaml":    "classifier__C: []\n",
		"not_list.yaml": "classifier__C: 1\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadGrid(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}

	if _, err := LoadGrid(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
