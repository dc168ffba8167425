package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UpdateAllowedTools reads the config file, updates the top-level
// allowed_tools list, and writes it back preserving other content.
// Adapted from the teacher's UpdateAliases (which rewrote
// proxy.backends.routing.aliases in place), generalized from a nested
// routing-table edit to AgentConfig's flat allowed_tools key.
func UpdateAllowedTools(path string, tools []string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(buf, &root); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	doc := unwrapDocument(&root)
	if doc == nil || doc.Kind != yaml.MappingNode {
		return fmt.Errorf("config file is not a YAML mapping")
	}

	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, t := range tools {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: t})
	}

	if !setMappingValue(doc, "allowed_tools", seq) {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "allowed_tools"},
			seq,
		)
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// yaml.Marshal adds a document separator; strip it if original didn't have one
	outStr := string(out)
	if !strings.HasPrefix(string(buf), "---") && strings.HasPrefix(outStr, "---") {
		outStr = strings.TrimPrefix(outStr, "---\n")
	}

	if err := os.WriteFile(path, []byte(outStr), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// unwrapDocument returns the mapping node under a parsed yaml.Node tree's
// document wrapper, if any.
func unwrapDocument(node *yaml.Node) *yaml.Node {
	if node != nil && node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		return node.Content[0]
	}
	return node
}

// setMappingValue replaces the value node for key in a mapping node,
// reporting whether key was found.
func setMappingValue(node *yaml.Node, key string, value *yaml.Node) bool {
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Value == key {
			node.Content[i+1] = value
			return true
		}
	}
	return false
}
