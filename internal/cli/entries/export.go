package entries

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/models"
)

// Export is the document written by the export command.
type Export struct {
	Identity   string         `json:"identity" yaml:"identity" toml:"identity"`
	Namespace  string         `json:"namespace" yaml:"namespace" toml:"namespace"`
	ExportedAt time.Time      `json:"exported_at" yaml:"exported_at" toml:"exported_at"`
	Entries    []models.Entry `json:"entries" yaml:"entries" toml:"entries"`
}

type encoder func(Export) ([]byte, error)

var encoders = map[string]encoder{
	"json": func(doc Export) ([]byte, error) {
		return json.MarshalIndent(doc, "", "  ")
	},
	"yaml": func(doc Export) ([]byte, error) {
		return yaml.Marshal(doc)
	},
	"toml": func(doc Export) ([]byte, error) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
	"md": encodeMarkdown,
}

type ExportCmd struct {
	Format string `short:"f" help:"Output format." enum:"json,yaml,toml,md" default:"json"`
	Output string `short:"o" help:"Write to this file instead of stdout." type:"path"`
}

func (c *ExportCmd) Run(ctx *cli.Context) error {
	enc, ok := encoders[c.Format]
	if !ok {
		return fmt.Errorf("unsupported export format: %s", c.Format)
	}

	vm, err := ctx.Open(context.Background())
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	doc := Export{
		Identity:   vm.Identity,
		Namespace:  ctx.Config().Namespace,
		ExportedAt: ctx.Now().UTC().Truncate(time.Second),
		Entries:    []models.Entry{},
	}
	for _, e := range vm.OrderedEntries {
		if e.Pending() || e.Placeholder {
			continue
		}
		doc.Entries = append(doc.Entries, e)
	}

	data, err := enc(doc)
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	if c.Output == "" {
		_, err = ctx.Out.Write(data)
		return err
	}
	if err := os.WriteFile(c.Output, data, 0600); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	ctx.Printf("✓ Exported %d entries to %s\n", len(doc.Entries), c.Output)
	return nil
}

// encodeMarkdown writes each entry as a section with YAML frontmatter.
func encodeMarkdown(doc Export) ([]byte, error) {
	var buf bytes.Buffer
	for i, e := range doc.Entries {
		if i > 0 {
			buf.WriteString("\n")
		}
		meta, err := yaml.Marshal(map[string]interface{}{
			"id":         e.ID,
			"date":       e.DateKey,
			"created_at": e.CreatedAt,
		})
		if err != nil {
			return nil, err
		}
		buf.WriteString("---\n")
		buf.Write(meta)
		buf.WriteString("---\n")
		fmt.Fprintf(&buf, "# %s\n\n%s\n", e.Headline(), strings.TrimSpace(e.Text))
	}
	return buf.Bytes(), nil
}
