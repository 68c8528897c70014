package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// envSource is one env file location. Only a file the user named must exist.
type envSource struct {
	path     string
	explicit bool
}

type envVar struct {
	key, value string
}

func envSources() []envSource {
	var sources []envSource
	if named := strings.TrimSpace(os.Getenv(Prefix + "_ENV_FILE")); named != "" {
		sources = append(sources, envSource{path: named, explicit: true})
	}
	sources = append(sources, envSource{path: ".env"})
	if home, err := os.UserHomeDir(); err == nil {
		sources = append(sources, envSource{path: filepath.Join(home, ".config", "ixingest", "env")})
	}
	return sources
}

// LoadEnvFileCandidates applies IXINGEST_ENV_FILE, ./.env and
// ~/.config/ixingest/env in that order. Variables that are already set are
// kept, so earlier files win over later ones. Unreadable default files are
// skipped; the file named by IXINGEST_ENV_FILE must be readable.
func LoadEnvFileCandidates() error {
	seen := make(map[string]bool)
	for _, src := range envSources() {
		path := src.path
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if seen[path] {
			continue
		}
		seen[path] = true

		err := loadEnvFile(path)
		if err != nil && src.explicit {
			return fmt.Errorf("%s_ENV_FILE %s: %w", Prefix, path, err)
		}
	}
	return nil
}

// loadEnvFile reads the whole file before setting anything, so a read error
// leaves the environment untouched.
func loadEnvFile(path string) error {
	vars, err := readEnvFile(path)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if _, set := os.LookupEnv(v.key); set {
			continue
		}
		if err := os.Setenv(v.key, v.value); err != nil {
			return fmt.Errorf("set %s: %w", v.key, err)
		}
	}
	return nil
}

// readEnvFile parses KEY=VALUE lines. Blank lines, comments and lines
// without a key are ignored; an "export " prefix and matching quotes are
// stripped.
func readEnvFile(path string) ([]envVar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vars []envVar
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := parseEnvLine(sc.Text()); ok {
			vars = append(vars, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}

func parseEnvLine(line string) (envVar, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return envVar{}, false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return envVar{}, false
	}
	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		value = value[1 : n-1]
	}
	return envVar{key: key, value: value}, true
}
