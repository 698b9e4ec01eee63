// Package templates loads submission templates and applies them to jobs.
//
// A template is a YAML document whose top-level keys mirror a Job's data
// sections (study, sample, experiment, run, center_name, laboratory,
// checklist) plus an optional "analysis" section used for AnalysisJobs.
// All scalar values are read as strings.
package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrTemplateNotFound is returned when the named template does not exist.
var ErrTemplateNotFound = errors.New("template not found")

// Store resolves a template name to its document.
type Store interface {
	Load(ctx context.Context, name string) (map[string]any, error)
}

// validName rejects names that could escape the template location.
func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid template name %q", ErrTemplateNotFound, name)
	}
	return nil
}

// Decode parses a YAML template. Scalars of any tag are kept as their source
// text so that "0001" or "9606" survive unchanged.
func Decode(raw []byte) (map[string]any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return map[string]any{}, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse template: top level must be a mapping, got %s", kindName(doc.Kind))
	}
	v, err := nodeValue(doc)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value, nil
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse template: line %d: mapping keys must be scalars", k.Line)
			}
			val, err := nodeValue(v)
			if err != nil {
				return nil, err
			}
			out[k.Value] = val
		}
		return out, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	default:
		return nil, fmt.Errorf("parse template: unsupported node kind %s", kindName(n.Kind))
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
