package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// Visualization formats
const (
	FormatASCII   = "ascii"
	FormatJSON    = "json"
	FormatMermaid = "mermaid"
)

// VisualizeGraph renders the graph and node statuses in the given format
func (o *Orchestrator) VisualizeGraph(format string) (string, error) {
	g := o.GetExecutionGraph()
	status := o.Status()

	switch strings.ToLower(format) {
	case FormatASCII:
		return renderASCII(o.name, status, g), nil
	case FormatJSON:
		data, err := json.MarshalIndent(struct {
			RunID  string           `json:"run_id"`
			Name   string           `json:"name,omitempty"`
			Status domain.RunStatus `json:"status"`
			domain.ExecutionGraph
		}{o.runID, o.name, status, g}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal graph: %w", err)
		}
		return string(data), nil
	case FormatMermaid:
		return renderMermaid(g), nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
}

func renderASCII(name string, status domain.RunStatus, g domain.ExecutionGraph) string {
	var b strings.Builder
	if name == "" {
		name = "workflow"
	}
	fmt.Fprintf(&b, "Graph: %s [%s]\n", name, status)

	b.WriteString("Nodes:\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  [%s] %s (agent: %s)", n.Status, n.ID, n.AgentID)
		if n.Name != "" && n.Name != n.ID {
			fmt.Fprintf(&b, " %q", n.Name)
		}
		b.WriteString("\n")
	}

	if len(g.Edges) > 0 {
		b.WriteString("Edges:\n")
		for _, e := range g.Edges {
			fmt.Fprintf(&b, "  %s %s %s (%s", e.Source, asciiArrow(e.Type), e.Target, e.Type)
			if e.Condition != "" {
				fmt.Fprintf(&b, ": %s", e.Condition)
			}
			b.WriteString(")\n")
		}
	}

	if len(g.Branches) > 0 {
		b.WriteString("Parallel branches:\n")
		for _, br := range g.Branches {
			fmt.Fprintf(&b, "  %s: {%s} => %s\n", br.Name, strings.Join(br.Members, ", "), br.JoinNode)
		}
	}
	return b.String()
}

func asciiArrow(t domain.EdgeType) string {
	switch t {
	case domain.EdgeTypeParallel:
		return "-||->"
	case domain.EdgeTypeConditional:
		return "-?->"
	case domain.EdgeTypeSynchronize:
		return "==>"
	default:
		return "-->"
	}
}

func renderMermaid(g domain.ExecutionGraph) string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	for _, n := range g.Nodes {
		label := n.Name
		if label == "" {
			label = n.ID
		}
		fmt.Fprintf(&b, "    %s[\"%s<br/>%s\"]\n", mermaidID(n.ID), mermaidText(label), n.Status)
	}

	for _, e := range g.Edges {
		src, dst := mermaidID(e.Source), mermaidID(e.Target)
		switch e.Type {
		case domain.EdgeTypeConditional:
			if e.Condition != "" {
				fmt.Fprintf(&b, "    %s -.->|\"%s\"| %s\n", src, mermaidText(e.Condition), dst)
			} else {
				fmt.Fprintf(&b, "    %s -.-> %s\n", src, dst)
			}
		case domain.EdgeTypeSynchronize:
			fmt.Fprintf(&b, "    %s ==> %s\n", src, dst)
		case domain.EdgeTypeParallel:
			fmt.Fprintf(&b, "    %s -->|parallel| %s\n", src, dst)
		default:
			fmt.Fprintf(&b, "    %s --> %s\n", src, dst)
		}
	}

	for _, br := range g.Branches {
		fmt.Fprintf(&b, "    subgraph %s [\"%s\"]\n", mermaidID("branch_"+br.Name), mermaidText(br.Name))
		for _, m := range br.Members {
			fmt.Fprintf(&b, "        %s\n", mermaidID(m))
		}
		b.WriteString("    end\n")
	}

	b.WriteString("    classDef pending fill:#eeeeee,stroke:#999999\n")
	b.WriteString("    classDef ready fill:#fff5cc,stroke:#d4a017\n")
	b.WriteString("    classDef running fill:#cce5ff,stroke:#004085\n")
	b.WriteString("    classDef completed fill:#d4edda,stroke:#155724\n")
	b.WriteString("    classDef failed fill:#f8d7da,stroke:#721c24\n")
	b.WriteString("    classDef skipped fill:#e2e3e5,stroke:#6c757d,stroke-dasharray: 4 4\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "    class %s %s\n", mermaidID(n.ID), n.Status)
	}
	return b.String()
}

// mermaidID maps a node id onto the identifier charset mermaid accepts
func mermaidID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func mermaidText(s string) string {
	return strings.ReplaceAll(s, "\"", "#quot;")
}
