package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/chunkrun/internal/log"
)

// defaultHeader is written above the generated default config.
const defaultHeader = `# chunkrun configuration
#
# Every key can be overridden with an environment variable prefixed by
# CHUNKRUN_, e.g. CHUNKRUN_CACHE_DIR. A .env file in the working directory is
# loaded first.
#
# flags:
#   durable-registry: keep the chunk output registry in SQLite (registry.db_path)
#   registry-cache:   cache registry listings in memory
#   redis-notify:     republish notifications to notify.redis_addr
`

// DefaultConfigYAML renders Defaults as YAML with the explanatory header.
func DefaultConfigYAML() ([]byte, error) {
	var body bytes.Buffer
	enc := yaml.NewEncoder(&body)
	enc.SetIndent(2)
	if err := enc.Encode(Defaults()); err != nil {
		return nil, fmt.Errorf("marshaling defaults: %w", err)
	}
	_ = enc.Close()
	return append([]byte(defaultHeader+"\n"), body.Bytes()...), nil
}

// WriteDefaultConfig creates a config file at the given path with default settings.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	data, err := DefaultConfigYAML()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

// SaveEngine sets engines.<name> to interpreter in the config file, keeping
// comments and every other key as they are.
func SaveEngine(configPath, name, interpreter string) error {
	if name == "" || interpreter == "" {
		return fmt.Errorf("engine name and interpreter are required")
	}
	return updateMapping(configPath, "engines", func(engines *yaml.Node) {
		setScalar(engines, name, interpreter)
	})
}

// RemoveEngine deletes engines.<name> from the config file. Removing an
// engine that is not present is not an error.
func RemoveEngine(configPath, name string) error {
	return updateMapping(configPath, "engines", func(engines *yaml.Node) {
		for i := 0; i+1 < len(engines.Content); i += 2 {
			if engines.Content[i].Value == name {
				engines.Content = append(engines.Content[:i], engines.Content[i+2:]...)
				return
			}
		}
	})
}

// updateMapping parses configPath into a yaml.Node tree, hands the mapping
// under key to edit (creating it when missing) and writes the file back.
func updateMapping(configPath, key string, edit func(*yaml.Node)) error {
	data, err := os.ReadFile(configPath) //nolint:gosec // G304: user config path
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parsing config: top level is not a mapping")
	}

	var target *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			target = root.Content[i+1]
			break
		}
	}
	switch {
	case target == nil:
		target = &yaml.Node{Kind: yaml.MappingNode}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			target,
		)
	case target.Kind != yaml.MappingNode:
		*target = yaml.Node{Kind: yaml.MappingNode}
	}
	edit(target)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := writeAtomic(configPath, buf.Bytes()); err != nil {
		return err
	}
	log.Debug(log.CatConfig, "Updated config", "path", configPath, "key", key)
	return nil
}

func setScalar(mapping *yaml.Node, key, value string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Value: value}
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Value: value},
	)
}

// writeAtomic writes to a temp file next to path, then renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".chunkrun.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
