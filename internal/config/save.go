package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SaveWatch replaces the watch section of the config file, keeping comments
// and formatting elsewhere in the file.
func SaveWatch(configPath string, watch WatchConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := setSection(&doc, "watch", buildWatchNode(watch)); err != nil {
		return err
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := os.WriteFile(configPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// setSection sets key in the document's root mapping, creating the document
// when it is empty.
func setSection(doc *yaml.Node, key string, value *yaml.Node) error {
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}

	if doc.Kind == 0 {
		*doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{{
				Kind:    yaml.MappingNode,
				Content: []*yaml.Node{keyNode, value},
			}},
		}
		return nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config root is not a mapping")
	}

	root := doc.Content[0]
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1] = value
			return nil
		}
	}
	root.Content = append(root.Content, keyNode, value)
	return nil
}

func buildWatchNode(watch WatchConfig) *yaml.Node {
	paths := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	if len(watch.Paths) == 0 {
		paths.Style = yaml.FlowStyle
	}
	for _, p := range watch.Paths {
		paths.Content = append(paths.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: p})
	}

	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: "paths"},
			paths,
			{Kind: yaml.ScalarNode, Value: "recursive"},
			{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(watch.Recursive)},
			{Kind: yaml.ScalarNode, Value: "quiet_window"},
			{Kind: yaml.ScalarNode, Value: watch.QuietWindow.String()},
		},
	}
}
