package cfg

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadGrid reads a hyperparameter grid from a YAML mapping of
// "stage__param" to a list of candidate values:
//
//	classifier__C: [0.5, 1, 2]
//	transformer__levels: [1, 2, 3]
func LoadGrid(path string) (map[string][]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grid file %s: %w", path, err)
	}

	var grid map[string][]any
	if err := yaml.Unmarshal(data, &grid); err != nil {
		return nil, fmt.Errorf("failed to parse grid file: %w", err)
	}

	if err := validateGrid(grid); err != nil {
		return nil, fmt.Errorf("invalid grid %s: %w", path, err)
	}
	return grid, nil
}

func validateGrid(grid map[string][]any) error {
	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.Contains(name, "__") {
			return fmt.Errorf("parameter %q is not of the form stage__param", name)
		}
		if len(grid[name]) == 0 {
			return fmt.Errorf("parameter %q has no candidate values", name)
		}
	}
	return nil
}
