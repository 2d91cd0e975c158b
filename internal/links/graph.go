package links

import "sort"

// Graph maps a normalized page title to the normalized titles it links
// to. Every page in the source set appears as a key, even with no
// outgoing links, so membership checks distinguish "no links" from
// "page does not exist".
type Graph map[string][]string

// BuildGraph assembles the link graph for a set of pages. The input
// maps each raw page title to its content lines. Outgoing links are
// sorted and deduplicated per page.
func BuildGraph(pages map[string][]string) Graph {
	g := make(Graph, len(pages))

	for title, lines := range pages {
		targets := Internal(lines)
		sort.Strings(targets)
		g[Normalize(title)] = targets
	}

	return g
}

// Missing returns the links that point at pages absent from the graph,
// mapped to the sorted list of pages that reference them. These are
// either dangling references or pages that exist only as link stubs.
func (g Graph) Missing() map[string][]string {
	missing := make(map[string][]string)

	for source, targets := range g {
		for _, target := range targets {
			if _, ok := g[target]; ok {
				continue
			}
			missing[target] = append(missing[target], source)
		}
	}

	for target := range missing {
		sort.Strings(missing[target])
	}

	return missing
}

// EdgeCount returns the total number of outgoing links in the graph.
func (g Graph) EdgeCount() int {
	total := 0
	for _, targets := range g {
		total += len(targets)
	}
	return total
}
