// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so date windows are computed consistently.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. If APP_ENV != "local", resolve _SSM_PARAM pointers via the SecretProvider.
//  4. Read *_FILE secrets (mounted Docker/Kubernetes secrets).
//  5. Use envconfig to populate the Config struct.
//  6. Populate BuildInfo from linker-injected variables.
//  7. Validate the struct using go-playground/validator and cross-field rules.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// ConfigError is the diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks SSM pointer variables: DATABASE_URL_SSM_PARAM points
// to the SSM path holding DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// fileSuffix marks secret-file variables: OPENPODCAST_ENCRYPTION_KEY_FILE
// names a file whose trimmed content is OPENPODCAST_ENCRYPTION_KEY.
const fileSuffix = "_FILE"

// fileBackedKeys are the only variables that may be supplied via *_FILE.
var fileBackedKeys = []string{
	"DATABASE_URL",
	"OPENPODCAST_ENCRYPTION_KEY",
	"PODIGEE_CLIENT_SECRET",
}

const localEnv = "local"

type envLookup func(key string) (string, bool)

type envSet func(key, value string) error

type environ func() []string

type readFile func(name string) ([]byte, error)

// loaderDeps holds the injectable dependencies for the loader so tests do not
// mutate global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
	readFile  readFile
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		readFile:  os.ReadFile,
	}
}

// LoadConfig loads and validates the configuration.
// The provider is used for SSM resolution outside local environments and may
// be nil when APP_ENV is "local".
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does NOT override existing environment variables.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != "" && appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	if err := resolveSecretFiles(deps); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.validateCrossField(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateCrossField enforces rules that span sub-configs.
func (c *Config) validateCrossField() error {
	if c.Dispatch.Mode == ModeQueue && c.AWS.TaskQueueURL == "" {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "SQS_TASK_QUEUE is required when DISPATCH_MODE=queue",
		}
	}
	if c.Dispatch.LockTTL <= c.Dispatch.TaskTimeout {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("LOCK_TTL (%s) must exceed TASK_TIMEOUT (%s)", c.Dispatch.LockTTL, c.Dispatch.TaskTimeout),
		}
	}
	if _, err := cron.ParseStandard(c.Dispatch.Schedule); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("invalid DISPATCH_SCHEDULE %q", c.Dispatch.Schedule),
			Err:     err,
		}
	}
	return nil
}

// ResolveSecrets performs only the SSM resolution step. It is used by entry
// points that need secrets injected before LoadConfig runs (Lambda handlers).
// It is a no-op when APP_ENV is "local".
func ResolveSecrets(provider SecretProvider) error {
	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv == "" || appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

// resolveSecretFiles reads KEY_FILE into KEY for every file-backed key that
// is not already set.
func resolveSecretFiles(deps loaderDeps) error {
	for _, key := range fileBackedKeys {
		if v, ok := deps.lookupEnv(key); ok && v != "" {
			continue
		}
		path, ok := deps.lookupEnv(key + fileSuffix)
		if !ok || path == "" {
			continue
		}
		data, err := deps.readFile(path)
		if err != nil {
			return &ConfigError{
				Type:    ErrSecretFile,
				Message: fmt.Sprintf("failed to read %s%s", key, fileSuffix),
				Err:     err,
			}
		}
		if err := deps.setEnv(key, strings.TrimSpace(string(data))); err != nil {
			return &ConfigError{
				Type:    ErrSecretFile,
				Message: fmt.Sprintf("failed to set %s from file", key),
				Err:     err,
			}
		}
	}
	return nil
}

// resolveSSMParams fetches every *_SSM_PARAM pointer whose target variable is
// unset and injects the values into the environment.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	var paths []string

	for _, entry := range deps.environ() {
		eq := strings.IndexByte(entry, '=')
		if eq < 0 {
			continue
		}
		key := entry[:eq]
		if !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		path := entry[eq+1:]
		if path == "" {
			continue
		}
		pathToTarget[path] = target
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return nil
	}

	if provider == nil {
		targets := make([]string, 0, len(paths))
		for _, p := range paths {
			targets = append(targets, pathToTarget[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, pathToTarget[p])
			continue
		}
		if err := deps.setEnv(pathToTarget[p], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", pathToTarget[p]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
