package entries

import (
	"context"
	"fmt"
	"strings"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/diary"
)

type DeleteCmd struct {
	ID string `arg:"" help:"Entry id, or a unique prefix of it as shown by 'list'."`
}

func (c *DeleteCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	vm, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	id, err := matchID(vm, c.ID)
	if err != nil {
		return err
	}
	entry := ""
	for _, e := range vm.OrderedEntries {
		if e.ID == id {
			entry = e.DateKey
			break
		}
	}

	if err := ctx.Session.Core.Delete(bg, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	ctx.Printf("Deleted entry %s from %s\n", id, entry)
	return nil
}

// matchID resolves a full id or a unique prefix against the current snapshot.
func matchID(vm diary.ViewModel, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("entry id is required")
	}

	var matches []string
	for _, e := range vm.OrderedEntries {
		if e.ID == prefix {
			return e.ID, nil
		}
		if strings.HasPrefix(e.ID, prefix) {
			matches = append(matches, e.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no entry matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d entries, use more characters", prefix, len(matches))
	}
}
