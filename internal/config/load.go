// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/credence/credence/internal/xdg"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CREDENCE_"

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// File is an explicit config file. It must exist. When empty the XDG
	// default is used if present.
	File string

	// EnvFile is an explicit dotenv file. It must exist. When empty the
	// XDG default is used if present.
	EnvFile string

	// Flags are applied last. Only flags the user set take effect, and
	// only those named in FlagKeys.
	Flags *pflag.FlagSet

	// FlagKeys maps flag names to config keys, e.g. "addr" to "http.addr".
	FlagKeys map[string]string
}

// Load builds the configuration. It does not validate it.
func Load(opts LoadOptions) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(defaultsProvider{}, nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	path, explicit := opts.File, opts.File != ""
	if !explicit {
		path = defaultPath(xdg.ConfigFile)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("file", path).Wrap(err)
			}
		}
	}

	if err := loadDotenv(opts.EnvFile); err != nil {
		return Config{}, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", EnvKey), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

// EnvKey maps CREDENCE_SECTION_KEY to section.key. A double underscore
// nests explicitly, so CREDENCE_RATELIMIT__CATEGORIES__AUTH__LIMIT becomes
// ratelimit.categories.auth.limit.
func EnvKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if strings.Contains(key, "__") {
		return strings.ReplaceAll(key, "__", ".")
	}
	return strings.Replace(key, "_", ".", 1)
}

// loadDotenv copies a dotenv file into the process environment without
// overriding variables that are already set.
func loadDotenv(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultPath(xdg.EnvFile)
	}
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("env_file", path).Wrap(err)
	}
	return nil
}

func defaultPath(lookup func() (string, error)) string {
	path, err := lookup()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// defaultsProvider feeds Default() into koanf as the bottom layer, so later
// layers merge into it key by key.
type defaultsProvider struct{}

func (defaultsProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("defaults provider does not support ReadBytes")
}

func (defaultsProvider) Read() (map[string]any, error) {
	raw, err := yamlv3.Marshal(Default())
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	var out map[string]any
	if err := yamlv3.Unmarshal(raw, &out); err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return out, nil
}
