package config

import (
	"sort"
	"strings"
)

// detectCycle returns the operators participating in a connection cycle, or
// nil if data flows acyclically.
func detectCycle(doc *Document) []string {
	graph := make(map[string][]string, len(doc.Operators))
	for _, op := range doc.Operators {
		graph[op.Name] = nil
	}
	for _, conn := range doc.Connections {
		from, _, _ := strings.Cut(conn.Output, ".")
		to, _, _ := strings.Cut(conn.Input, ".")
		graph[from] = append(graph[from], to)
	}

	visiting := make(map[string]bool, len(graph))
	visited := make(map[string]bool, len(graph))
	var stack []string

	var cycle []string
	var dfs func(string) bool
	dfs = func(node string) bool {
		visiting[node] = true
		stack = append(stack, node)

		for _, next := range graph[node] {
			if !visited[next] {
				if visiting[next] {
					idx := indexOf(stack, next)
					if idx >= 0 {
						cycle = append([]string{}, stack[idx:]...)
						cycle = append(cycle, next)
					}
					return true
				}
				if dfs(next) {
					return true
				}
			}
		}

		visiting[node] = false
		visited[node] = true
		stack = stack[:len(stack)-1]
		return false
	}

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visited[name] {
			continue
		}
		if dfs(name) {
			break
		}
	}

	return cycle
}

func indexOf(slice []string, target string) int {
	for i, v := range slice {
		if v == target {
			return i
		}
	}
	return -1
}
