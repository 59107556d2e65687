package invoxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// rawDefinition mirrors the on-disk TSD record shape. Durations are declared
// in milliseconds on disk; hooks are either a plain name or a
// {module, export} map.
type rawDefinition struct {
	ToolName          string          `mapstructure:"toolName"`
	RetryPolicy       *rawRetryPolicy `mapstructure:"retryPolicy"`
	TimeoutMS         int             `mapstructure:"timeoutMs"`
	InputValidation   map[string]any  `mapstructure:"inputValidation"`
	PreHook           any             `mapstructure:"preHook"`
	PostHook          any             `mapstructure:"postHook"`
	FallbackTool      string          `mapstructure:"fallbackTool"`
	RequiresElevation bool            `mapstructure:"requiresElevation"`
	RateLimits        *rawRateLimit   `mapstructure:"rateLimits"`
}

type rawRetryPolicy struct {
	MaxRetries      int      `mapstructure:"maxRetries"`
	Backoff         string   `mapstructure:"backoff"`
	BaseDelayMS     int      `mapstructure:"baseDelayMs"`
	RetryableErrors []string `mapstructure:"retryableErrors"`
}

type rawRateLimit struct {
	MaxCallsPerSecond float64 `mapstructure:"maxCallsPerSecond"`
	BurstAllowance    int     `mapstructure:"burstAllowance"`
}

type rawHookRef struct {
	Name   string `mapstructure:"name"`
	Module string `mapstructure:"module"`
	Export string `mapstructure:"export"`
}

// LoadDefinitions reads every *.yaml, *.yml, and *.json file in dir and
// returns the decoded task definitions keyed by tool name. A file may hold one
// record or a list. A malformed or name-less record is logged and skipped, not
// fatal; a duplicate tool name is overwritten with a warning, last one wins.
// Only an unreadable directory is an error.
func LoadDefinitions(dir string, logger *zap.Logger) (map[string]*TaskDefinition, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}
	defs := make(map[string]*TaskDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable definition file", zap.String("file", path), zap.Error(err))
			continue
		}
		for _, record := range splitRecords(data, path, logger) {
			def, err := decodeDefinition(record)
			if err != nil {
				logger.Warn("skipping malformed definition", zap.String("file", path), zap.Error(err))
				continue
			}
			if _, ok := defs[def.ToolName]; ok {
				logger.Warn("duplicate definition, last one wins",
					zap.String("tool", def.ToolName),
					zap.String("file", path))
			}
			defs[def.ToolName] = def
		}
	}
	return defs, nil
}

// splitRecords parses one file into its record maps. YAML is a superset of
// JSON, so a single decoder covers both extensions.
func splitRecords(data []byte, path string, logger *zap.Logger) []any {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.Warn("skipping undecodable definition file", zap.String("file", path), zap.Error(err))
		return nil
	}
	switch v := doc.(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

// decodeDefinition converts one raw record into an immutable TaskDefinition,
// compiling the stricter input schema when present.
func decodeDefinition(record any) (*TaskDefinition, error) {
	var raw rawDefinition
	if err := mapstructure.Decode(record, &raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if raw.ToolName == "" {
		return nil, fmt.Errorf("record has no toolName")
	}
	def := &TaskDefinition{
		ToolName:          raw.ToolName,
		Timeout:           time.Duration(raw.TimeoutMS) * time.Millisecond,
		InputValidation:   raw.InputValidation,
		FallbackTool:      raw.FallbackTool,
		RequiresElevation: raw.RequiresElevation,
	}
	if raw.RetryPolicy != nil {
		retry, err := decodeRetryPolicy(raw.RetryPolicy)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", raw.ToolName, err)
		}
		def.Retry = retry
	}
	if raw.RateLimits != nil {
		if raw.RateLimits.MaxCallsPerSecond <= 0 {
			return nil, fmt.Errorf("tool %s: rateLimits.maxCallsPerSecond must be positive", raw.ToolName)
		}
		def.RateLimits = &RateLimitPolicy{
			MaxCallsPerSecond: raw.RateLimits.MaxCallsPerSecond,
			BurstAllowance:    raw.RateLimits.BurstAllowance,
		}
	}
	pre, err := decodeHookRef(raw.PreHook)
	if err != nil {
		return nil, fmt.Errorf("tool %s: preHook: %w", raw.ToolName, err)
	}
	def.PreHook = pre
	post, err := decodeHookRef(raw.PostHook)
	if err != nil {
		return nil, fmt.Errorf("tool %s: postHook: %w", raw.ToolName, err)
	}
	def.PostHook = post
	if err := def.CompileValidation(); err != nil {
		return nil, err
	}
	return def, nil
}

func decodeRetryPolicy(raw *rawRetryPolicy) (*RetryPolicy, error) {
	kind := BackoffKind(raw.Backoff)
	switch kind {
	case "", BackoffNone:
		kind = BackoffNone
	case BackoffLinear, BackoffExponential:
	default:
		return nil, fmt.Errorf("unknown backoff kind %q", raw.Backoff)
	}
	if raw.MaxRetries < 0 {
		return nil, fmt.Errorf("maxRetries must not be negative")
	}
	codes := make([]Code, 0, len(raw.RetryableErrors))
	for _, c := range raw.RetryableErrors {
		codes = append(codes, Code(c))
	}
	return &RetryPolicy{
		MaxRetries:      raw.MaxRetries,
		Backoff:         kind,
		BaseDelay:       time.Duration(raw.BaseDelayMS) * time.Millisecond,
		RetryableErrors: codes,
	}, nil
}

// decodeHookRef accepts a plain name string or a {module, export} map; name
// and module/export are exclusive.
func decodeHookRef(v any) (*HookRef, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return &HookRef{Name: t}, nil
	default:
		var raw rawHookRef
		if err := mapstructure.Decode(v, &raw); err != nil {
			return nil, fmt.Errorf("decode hook ref: %w", err)
		}
		if raw.Name != "" && (raw.Module != "" || raw.Export != "") {
			return nil, fmt.Errorf("hook ref must be a name or a module/export pair, not both")
		}
		if raw.Name != "" {
			return &HookRef{Name: raw.Name}, nil
		}
		if raw.Module == "" || raw.Export == "" {
			return nil, fmt.Errorf("hook ref needs both module and export")
		}
		return &HookRef{Module: raw.Module, Export: raw.Export}, nil
	}
}
