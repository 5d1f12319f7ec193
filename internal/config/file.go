package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/daybook/internal/constants"
)

// FileEnv overrides the config file location.
const FileEnv = "DAYBOOK_CONFIG"

// FilePath returns the config file to read.
func FilePath() string {
	if p := os.Getenv(FileEnv); p != "" {
		return ExpandHome(p)
	}
	return ExpandHome(constants.DefaultConfigFile)
}

// FileResolver reads the JSON config file at path. Keys are flag names in
// snake_case, e.g. "mutation_retries". A missing file resolves nothing.
func FileResolver(path string) (kong.Resolver, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return kong.ResolverFunc(func(*kong.Context, *kong.Path, *kong.Flag) (any, error) {
			return nil, nil
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	r, err := kong.JSON(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return envFirst(r), nil
}

// envFirst defers to a flag's environment variable when one is set. kong
// applies environment values as defaults, which resolvers would otherwise
// overwrite.
func envFirst(r kong.Resolver) kong.Resolver {
	return kong.ResolverFunc(func(ctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		for _, env := range flag.Envs {
			if _, ok := os.LookupEnv(env); ok {
				return nil, nil
			}
		}
		return r.Resolve(ctx, parent, flag)
	})
}
