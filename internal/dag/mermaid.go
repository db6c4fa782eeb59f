// Package dag renders declared flows as mermaid graph descriptions.
package dag

import (
	"sort"
	"strings"

	"github.com/jpuglielli/penstock/pkg/api"
)

const header = "graph TD"

// Mermaid renders every declared edge of fd as one "pred --> step" line
// under a fixed header. Edges are sorted lexicographically by (pred, step)
// and deduplicated, so the output is stable regardless of registration
// order. A flow whose steps declare no edges lists each step as a
// standalone node instead.
func Mermaid(fd api.FlowDefinition) string {
	type edge struct{ from, to string }

	var edges []edge
	for _, name := range fd.Order {
		for _, pred := range fd.Steps[name].After {
			edges = append(edges, edge{from: pred, to: name})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})

	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')

	if len(edges) == 0 {
		names := append([]string(nil), fd.Order...)
		sort.Strings(names)
		for _, n := range names {
			b.WriteString("    ")
			b.WriteString(n)
			b.WriteByte('\n')
		}
		return b.String()
	}

	var prev edge
	for i, e := range edges {
		if i > 0 && e == prev {
			continue
		}
		prev = e
		b.WriteString("    ")
		b.WriteString(e.from)
		b.WriteString(" --> ")
		b.WriteString(e.to)
		b.WriteByte('\n')
	}
	return b.String()
}
