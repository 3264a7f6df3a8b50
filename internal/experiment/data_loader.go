package experiment

import (
	"fmt"

	"scene-bench/internal/dataset"

	"github.com/rs/zerolog/log"
)

// DataLoader holds the train and test splits of an experiment and the label
// encoding fitted on the training labels.
type DataLoader struct {
	Train   dataset.Dataset
	Test    dataset.Dataset
	Encoder *dataset.LabelEncoder

	YTrain []int
	YTest  []int
}

// NewDataLoader creates an empty data loader
func NewDataLoader() *DataLoader {
	return &DataLoader{Encoder: new(dataset.LabelEncoder)}
}

// Load reads both splits and encodes their labels. A test label missing from
// the training split is an error.
func (dl *DataLoader) Load(trainPath, testPath string) error {
	log.Info().
		Str("train", trainPath).
		Str("test", testPath).
		Msg("Loading datasets")

	var err error
	if dl.Train, err = dataset.Load(trainPath); err != nil {
		return fmt.Errorf("failed to load training set: %w", err)
	}
	if dl.Test, err = dataset.Load(testPath); err != nil {
		return fmt.Errorf("failed to load test set: %w", err)
	}

	dl.Encoder.Fit(dl.Train.Labels)
	if dl.YTrain, err = dl.Encoder.Transform(dl.Train.Labels); err != nil {
		return fmt.Errorf("encode training labels: %w", err)
	}
	if dl.YTest, err = dl.Encoder.Transform(dl.Test.Labels); err != nil {
		return fmt.Errorf("encode test labels: %w", err)
	}

	log.Info().
		Int("train", dl.Train.Len()).
		Int("test", dl.Test.Len()).
		Strs("classes", dl.Encoder.Classes()).
		Msg("Datasets loaded")
	return nil
}

// Classes returns the class names in label index order.
func (dl *DataLoader) Classes() []string {
	return dl.Encoder.Classes()
}
