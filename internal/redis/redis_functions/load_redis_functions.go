package redis_functions

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:embed *.lua
var fs embed.FS

type library struct {
	name string
	file string
	code string
}

// libraries reads every embedded Lua library and its declared name.
func libraries() ([]library, error) {
	files, err := fs.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embed dir: %w", err)
	}
	var out []library
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".lua") {
			continue
		}
		code, err := fs.ReadFile(f.Name())
		if err != nil {
			return nil, err
		}
		name, err := libraryName(string(code))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		out = append(out, library{name: name, file: f.Name(), code: string(code)})
	}
	return out, nil
}

// libraryName parses the "#!lua name=<lib>" header every function
// library must start with.
func libraryName(code string) (string, error) {
	sc := bufio.NewScanner(strings.NewReader(code))
	if !sc.Scan() {
		return "", fmt.Errorf("empty library")
	}
	for _, field := range strings.Fields(strings.TrimPrefix(sc.Text(), "#!lua")) {
		if name, ok := strings.CutPrefix(field, "name="); ok && name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("missing #!lua name= header")
}

// LoadAll loads or replaces every embedded library in Redis and returns
// their names.
func LoadAll(ctx context.Context, rdb *redis.Client) ([]string, error) {
	libs, err := libraries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(libs))
	for _, lib := range libs {
		if err := rdb.FunctionLoadReplace(ctx, lib.code).Err(); err != nil {
			return nil, fmt.Errorf("load lua %s: %w", lib.file, err)
		}
		zap.L().Info("lua function loaded", zap.String("file", lib.file), zap.String("library", lib.name))
		names = append(names, lib.name)
	}
	return names, nil
}
