package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// Load reads .uci.kdl from the project root, falling back to defaults when
// the file does not exist.
func Load(projectRoot string) (*Config, error) {
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	path := filepath.Join(absRoot, ".uci.kdl")
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(absRoot), nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg, err := parseKDL(absRoot, string(content))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func parseKDL(root, content string) (*Config, error) {
	cfg := Default(root)

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children { // project { root "." name "foo" }
				assignSimpleString(cn, "root", func(v string) {
					if !filepath.IsAbs(v) {
						v = filepath.Join(root, v)
					}
					cfg.Project.Root = filepath.Clean(v)
				})
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "build":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "parallelism":
					if v, ok := firstIntArg(cn); ok {
						cfg.Build.Parallelism = v
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Build.DebounceMs = v
					}
				case "cache_dir":
					if s, ok := firstStringArg(cn); ok {
						if !filepath.IsAbs(s) {
							s = filepath.Join(cfg.Project.Root, s)
						}
						cfg.Build.CacheDir = s
					}
				case "watch_mode":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Build.WatchMode = b
					}
				case "compiler":
					if args := collectStringArgs(cn); len(args) > 0 {
						cfg.Build.CompilerCommand = args
					}
				case "manifest":
					if s, ok := firstStringArg(cn); ok {
						cfg.Build.ManifestPath = s
					}
				}
			}
		case "include":
			cfg.Include = collectStringArgs(n)
		case "exclude":
			// Replace defaults when an exclude block is present.
			cfg.Exclude = collectStringArgs(n)
		case "project_files":
			cfg.ProjectFiles = append(cfg.ProjectFiles, collectStringArgs(n)...)
		}
	}

	return cfg, nil
}

// Helpers over the kdl-go document model.
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	// Block form: strings appear as child nodes.
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
