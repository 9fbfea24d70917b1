package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Dependency Graph
// =============================================================================

// ReleaseOrder returns repository names sorted so that every repository
// appears after all of its dependencies, using Kahn's algorithm. Ties are
// broken alphabetically so the order is deterministic.
func ReleaseOrder(t *Topology) ([]string, error) {
	inDegree := make(map[string]int, len(t.Repositories))
	dependents := make(map[string][]string)

	for _, repo := range t.Repositories {
		inDegree[repo.Name] = len(repo.DependsOn)
		for _, dep := range repo.DependsOn {
			dependents[dep] = append(dependents[dep], repo.Name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(t.Repositories))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
		sort.Strings(queue)
	}

	if len(order) < len(t.Repositories) {
		var stuck []string
		for name, degree := range inDegree {
			if degree > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving: %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

// RollbackOrder is the exact reverse of ReleaseOrder: dependents are rolled
// back before the repositories they depend on.
func RollbackOrder(t *Topology) ([]string, error) {
	order, err := ReleaseOrder(t)
	if err != nil {
		return nil, err
	}
	reversed := make([]string, len(order))
	for i, name := range order {
		reversed[len(order)-1-i] = name
	}
	return reversed, nil
}

// Dependents returns the names of repositories that directly depend on repo,
// sorted alphabetically.
func Dependents(t *Topology, repo string) []string {
	var out []string
	for _, r := range t.Repositories {
		for _, dep := range r.DependsOn {
			if dep == repo {
				out = append(out, r.Name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// MermaidDiagram renders the dependency graph as a mermaid "graph TD"
// definition, suitable for embedding in documentation.
func MermaidDiagram(t *Topology) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	names := make([]string, 0, len(t.Repositories))
	byName := make(map[string]Repository, len(t.Repositories))
	for _, repo := range t.Repositories {
		names = append(names, repo.Name)
		byName[repo.Name] = repo
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "    %s[%s]\n", nodeID(name), name)
	}
	for _, name := range names {
		deps := append([]string(nil), byName[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			fmt.Fprintf(&b, "    %s --> %s\n", nodeID(dep), nodeID(name))
		}
	}
	return b.String()
}

func nodeID(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
