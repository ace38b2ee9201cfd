package payload

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLCodec is a Codec that treats payloads as YAML mappings.
//
// Each key of the top-level mapping becomes a fragment. Scalar values are used
// verbatim, any other value is stored as its YAML representation. Fragments
// are produced in document order.
type YAMLCodec struct{}

var _ Codec = YAMLCodec{}

// Decode splits a YAML mapping into fragments.
//
// An empty payload produces no fragments.
func (YAMLCodec) Decode(data []byte) ([]Fragment, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, DecodeError{err}
	}

	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, DecodeError{fmt.Errorf("expected a mapping, got %s", kindName(root.Kind))}
	}

	var fragments []Fragment

	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]

		f := Fragment{Name: k.Value}

		if v.Kind == yaml.ScalarNode {
			f.Value = v.Value
		} else {
			data, err := yaml.Marshal(v)
			if err != nil {
				return nil, DecodeError{err}
			}

			f.Value = strings.TrimSuffix(string(data), "\n")
		}

		fragments = append(fragments, f)
	}

	return fragments, nil
}

// Encode combines fragments into a YAML mapping of fragment name to value.
func (YAMLCodec) Encode(fragments []Fragment) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	for _, f := range fragments {
		root.Content = append(
			root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Value},
		)
	}

	return yaml.Marshal(root)
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "a document"
	}
}
