package redis_scripts

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:embed *.lua
var fs embed.FS

// BidAccepted appends an accepted bid to the bid stream and publishes it on
// the auction's event channel in one atomic step.
var BidAccepted = mustScript("bid_accepted.lua")

var scripts = map[string]*redis.Script{
	"bid_accepted.lua": BidAccepted,
}

func mustScript(name string) *redis.Script {
	code, err := fs.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("embedded script %s: %v", name, err))
	}
	return redis.NewScript(string(code))
}

// LoadAll finds every embedded Lua file and loads it into the script cache.
func LoadAll(ctx context.Context, rdb redis.Scripter) error {
	files, err := fs.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read embed dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".lua") {
			continue
		}
		script, ok := scripts[f.Name()]
		if !ok {
			return fmt.Errorf("lua %s is embedded but not registered", f.Name())
		}
		if err := script.Load(ctx, rdb).Err(); err != nil {
			return fmt.Errorf("load lua %s: %w", f.Name(), err)
		}
		zap.L().Info("lua script loaded", zap.String("file", f.Name()), zap.String("sha", script.Hash()))
	}
	return nil
}
