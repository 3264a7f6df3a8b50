package mlp

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Summary renders a table of layers with output shapes and parameter counts.
func (m *Model) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %q\n", m.Name)

	tw := tabwriter.NewWriter(&sb, 0, 4, 3, ' ', 0)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #")
	h, w, c := m.PatchSize()
	fmt.Fprintf(tw, "input (InputLayer)\t(None, %d, %d, %d)\t0\n", h, w, c)
	fmt.Fprintf(tw, "flatten (Flatten)\t(None, %d)\t0\n", m.InputSize())
	for _, l := range m.Layers {
		fmt.Fprintf(tw, "%s (Dense, %s)\t(None, %d)\t%d\n", l.Name, l.Activation, l.Units(), l.Params())
	}
	tw.Flush()

	fmt.Fprintf(&sb, "Total params: %d\n", m.Params())
	return sb.String()
}
