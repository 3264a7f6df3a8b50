package learn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Step is a named intermediate stage of a Pipeline.
type Step struct {
	Name        string
	Transformer Transformer
}

// Pipeline chains a featurizer, any number of transformers and a final
// classifier. Fit fits each stage on the output of the previous one.
//
// With Memory set and a fold id on the context (see WithFold), the fitted
// stages before the classifier are shared between pipelines that agree on
// their parameters, so a search over classifier parameters fits the
// featurizer once per fold.
type Pipeline[T any] struct {
	HeadName  string
	Head      Featurizer[T]
	Steps     []Step
	FinalName string
	Final     Classifier
	Memory    *Memory
}

// NewPipeline starts a pipeline with its featurizer stage.
func NewPipeline[T any](name string, head Featurizer[T]) *Pipeline[T] {
	return &Pipeline[T]{HeadName: name, Head: head}
}

// Add appends a transformer stage.
func (p *Pipeline[T]) Add(name string, t Transformer) *Pipeline[T] {
	p.Steps = append(p.Steps, Step{Name: name, Transformer: t})
	return p
}

// Classify sets the final stage.
func (p *Pipeline[T]) Classify(name string, c Classifier) *Pipeline[T] {
	p.FinalName = name
	p.Final = c
	return p
}

// WithMemory enables prefix memoization.
func (p *Pipeline[T]) WithMemory(m *Memory) *Pipeline[T] {
	p.Memory = m
	return p
}

// StageNames lists stage names in order.
func (p *Pipeline[T]) StageNames() []string {
	names := []string{p.HeadName}
	for _, s := range p.Steps {
		names = append(names, s.Name)
	}
	return append(names, p.FinalName)
}

type fittedPrefix[T any] struct {
	head  Featurizer[T]
	steps []Transformer
	Xt    [][]float64
}

func (p *Pipeline[T]) Fit(ctx context.Context, X []T, y []int) error {
	if p.Head == nil || p.Final == nil {
		return errors.New("learn: pipeline needs a featurizer and a classifier")
	}
	if err := checkXY(len(X), y); err != nil {
		return err
	}

	var prefix *fittedPrefix[T]
	fold, ok := foldFrom(ctx)
	if p.Memory != nil && ok {
		v, err := p.Memory.do(fold+"|"+p.prefixKey(), func() (any, error) {
			return p.fitPrefix(ctx, X, y, true)
		})
		if err != nil {
			return err
		}
		prefix = v.(*fittedPrefix[T])
	} else {
		var err error
		if prefix, err = p.fitPrefix(ctx, X, y, false); err != nil {
			return err
		}
	}

	p.Head = prefix.head
	for i := range p.Steps {
		p.Steps[i].Transformer = prefix.steps[i]
	}
	if err := p.Final.Fit(ctx, prefix.Xt, y); err != nil {
		return fmt.Errorf("fit %s: %w", p.FinalName, err)
	}
	return nil
}

// fitPrefix fits every stage but the classifier. Shared results are fit on
// clones so that no caller holds a reference another pipeline may refit.
func (p *Pipeline[T]) fitPrefix(ctx context.Context, X []T, y []int, clone bool) (*fittedPrefix[T], error) {
	head := p.Head
	if clone {
		head = head.Clone()
	}
	if err := head.Fit(ctx, X, y); err != nil {
		return nil, fmt.Errorf("fit %s: %w", p.HeadName, err)
	}
	Xt, err := head.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", p.HeadName, err)
	}

	steps := make([]Transformer, len(p.Steps))
	for i, s := range p.Steps {
		t := s.Transformer
		if clone {
			t = t.Clone()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.Fit(ctx, Xt, y); err != nil {
			return nil, fmt.Errorf("fit %s: %w", s.Name, err)
		}
		if Xt, err = t.Transform(Xt); err != nil {
			return nil, fmt.Errorf("transform %s: %w", s.Name, err)
		}
		steps[i] = t
	}
	return &fittedPrefix[T]{head: head, steps: steps, Xt: Xt}, nil
}

// prefixKey renders the parameters of the non-final stages.
func (p *Pipeline[T]) prefixKey() string {
	params := make(map[string]any)
	add := func(stage string, ps map[string]any) {
		for k, v := range ps {
			params[stage+"__"+k] = v
		}
	}
	add(p.HeadName, p.Head.Params())
	for _, s := range p.Steps {
		add(s.Name, s.Transformer.Params())
	}
	return FormatParams(params)
}

// Transform runs every stage but the classifier.
func (p *Pipeline[T]) Transform(X []T) ([][]float64, error) {
	Xt, err := p.Head.Transform(X)
	if err != nil {
		return nil, err
	}
	for _, s := range p.Steps {
		if Xt, err = s.Transformer.Transform(Xt); err != nil {
			return nil, err
		}
	}
	return Xt, nil
}

func (p *Pipeline[T]) Predict(X []T) ([]int, error) {
	Xt, err := p.Transform(X)
	if err != nil {
		return nil, err
	}
	return p.Final.Predict(Xt)
}

// Score returns the accuracy on X.
func (p *Pipeline[T]) Score(X []T, y []int) (float64, error) {
	pred, err := p.Predict(X)
	if err != nil {
		return 0, err
	}
	return Accuracy(y, pred)
}

// Params returns every stage parameter as stage__param.
func (p *Pipeline[T]) Params() map[string]any {
	out := make(map[string]any)
	p.eachStage(func(name string, s Params) {
		for k, v := range s.Params() {
			out[name+"__"+k] = v
		}
	})
	return out
}

func (p *Pipeline[T]) SetParams(params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		stage, name, ok := strings.Cut(key, "__")
		if !ok {
			return unknownParam(key)
		}
		target := p.stage(stage)
		if target == nil {
			return fmt.Errorf("%w: no stage named %q", ErrUnknownParam, stage)
		}
		if err := target.SetParam(name, params[key]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline[T]) stage(name string) Params {
	var found Params
	p.eachStage(func(n string, s Params) {
		if n == name && found == nil {
			found = s
		}
	})
	return found
}

func (p *Pipeline[T]) eachStage(fn func(name string, s Params)) {
	if p.Head != nil {
		fn(p.HeadName, p.Head)
	}
	for _, s := range p.Steps {
		fn(s.Name, s.Transformer)
	}
	if p.Final != nil {
		fn(p.FinalName, p.Final)
	}
}

// Clone returns an unfitted copy that shares the Memory.
func (p *Pipeline[T]) Clone() Estimator[T] {
	c := &Pipeline[T]{
		HeadName:  p.HeadName,
		Head:      p.Head.Clone(),
		FinalName: p.FinalName,
		Final:     p.Final.Clone(),
		Memory:    p.Memory,
	}
	for _, s := range p.Steps {
		c.Steps = append(c.Steps, Step{Name: s.Name, Transformer: s.Transformer.Clone()})
	}
	return c
}

// FormatParams renders params with sorted keys, e.g. "svc__C=1 svc__kernel=rbf".
func FormatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, params[k])
	}
	return b.String()
}
