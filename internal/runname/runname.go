// Package runname encodes the hyperparameters of a trained network as a
// filename-safe string such as "2048-1024_relu-relu_categorical-crossentropy_sgd_accuracy_32",
// and decodes it back.
package runname

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	fieldSep = "_"
	listSep  = "-"
	fields   = 6
)

// ErrMalformed is returned by Decode for strings Encode could not have produced.
var ErrMalformed = errors.New("runname: malformed run name")

// Params are the settings a network was trained with.
type Params struct {
	Units      []int
	Activation []string
	Loss       string
	Optimizer  string
	Metrics    []string
	ImageSize  int
}

// Validate rejects values that would not survive a round trip.
func (p Params) Validate() error {
	if len(p.Units) == 0 || len(p.Activation) == 0 || len(p.Metrics) == 0 {
		return errors.New("runname: units, activation and metrics must not be empty")
	}
	for _, u := range p.Units {
		if u < 0 {
			return fmt.Errorf("runname: negative unit count %d", u)
		}
	}
	if p.ImageSize < 0 {
		return fmt.Errorf("runname: negative image size %d", p.ImageSize)
	}

	check := func(field, v string, list bool) error {
		switch {
		case v == "":
			return fmt.Errorf("runname: empty %s", field)
		case strings.Contains(v, fieldSep):
			return fmt.Errorf("runname: %s %q contains %q", field, v, fieldSep)
		case list && strings.Contains(v, listSep):
			return fmt.Errorf("runname: %s %q contains %q", field, v, listSep)
		}
		return nil
	}
	for _, a := range p.Activation {
		if err := check("activation", a, true); err != nil {
			return err
		}
	}
	for _, m := range p.Metrics {
		if err := check("metric", m, true); err != nil {
			return err
		}
	}
	if err := check("loss", p.Loss, false); err != nil {
		return err
	}
	return check("optimizer", p.Optimizer, false)
}

// Encode joins the fields with '_' and list elements with '-'.
func Encode(p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	units := make([]string, len(p.Units))
	for i, u := range p.Units {
		units[i] = strconv.Itoa(u)
	}
	return strings.Join([]string{
		strings.Join(units, listSep),
		strings.Join(p.Activation, listSep),
		p.Loss,
		p.Optimizer,
		strings.Join(p.Metrics, listSep),
		strconv.Itoa(p.ImageSize),
	}, fieldSep), nil
}

// Decode parses a string produced by Encode.
func Decode(s string) (Params, error) {
	parts := strings.Split(s, fieldSep)
	if len(parts) != fields {
		return Params{}, fmt.Errorf("%w: %q has %d fields, want %d", ErrMalformed, s, len(parts), fields)
	}

	var p Params
	for _, u := range strings.Split(parts[0], listSep) {
		n, err := strconv.Atoi(u)
		if err != nil || n < 0 {
			return Params{}, fmt.Errorf("%w: bad unit count %q", ErrMalformed, u)
		}
		p.Units = append(p.Units, n)
	}
	size, err := strconv.Atoi(parts[5])
	if err != nil || size < 0 {
		return Params{}, fmt.Errorf("%w: bad image size %q", ErrMalformed, parts[5])
	}

	p.Activation = strings.Split(parts[1], listSep)
	p.Loss = parts[2]
	p.Optimizer = parts[3]
	p.Metrics = strings.Split(parts[4], listSep)
	p.ImageSize = size
	if err := p.Validate(); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}
