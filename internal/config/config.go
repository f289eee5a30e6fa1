// Package config loads the immutable server configuration from the
// environment once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of tunables the server reads at startup. It is
// built once by Load and never mutated afterwards; components that need
// a subset of it take that subset by value or pointer at construction.
type Config struct {
	// Model / engine
	ModelName         string
	ModelRevision     string
	HFToken           string
	TrustRemoteCode   bool
	TensorParallelSize int
	Dtype             string
	Quantization      string

	GPUMemoryUtilization float64
	MaxModelLen          int
	MaxNumSeqs           int

	// Scheduler limits (spec.md section 6 env vars)
	MaxQueueDepth          int
	MaxRequestsPerJob      int
	MaxTotalQueuedRequests int
	ChunkSize              int
	RetryAttempts          int
	HeartbeatInterval      time.Duration
	CompletionWindow       time.Duration

	// Storage
	StoragePath     string
	DatabasePath    string
	CleanupAfterDays int
	MaxBatchFileSizeMB int

	// HTTP
	Host   string
	Port   int
	APIKey string

	// EngineURL is the base URL of the out-of-scope inference engine
	// process the worker's HTTP engine client calls into; not part of
	// spec.md's enumerated env vars since the inference engine itself is
	// explicitly out of scope, but required to actually dial one.
	EngineURL string
}

// EnvPrefix-free defaults mirror spec.md section 6's table.
func defaults() Config {
	return Config{
		ModelName:              "meta-llama/Llama-3.1-8B-Instruct",
		ModelRevision:          "main",
		TensorParallelSize:     1,
		Dtype:                  "auto",
		GPUMemoryUtilization:   0.9,
		MaxModelLen:            8192,
		MaxNumSeqs:             256,
		MaxQueueDepth:          5,
		MaxRequestsPerJob:      50000,
		MaxTotalQueuedRequests: 100000,
		ChunkSize:              100,
		RetryAttempts:          3,
		HeartbeatInterval:      15 * time.Second,
		CompletionWindow:       24 * time.Hour,
		StoragePath:            "./data/files",
		DatabasePath:           "./data/batchserver.db",
		CleanupAfterDays:       30,
		MaxBatchFileSizeMB:     500,
		Host:                   "0.0.0.0",
		Port:                   8000,
		EngineURL:              "http://127.0.0.1:8001",
	}
}

// Load reads Config fields from the process environment, falling back to
// defaults() for anything unset, and validates ranges spec.md names.
func Load() (Config, error) {
	c := defaults()

	c.ModelName = envString("MODEL_NAME", c.ModelName)
	c.ModelRevision = envString("MODEL_REVISION", c.ModelRevision)
	c.HFToken = envString("HF_TOKEN", c.HFToken)
	c.TrustRemoteCode = envBool("TRUST_REMOTE_CODE", c.TrustRemoteCode)
	c.TensorParallelSize = envInt("TENSOR_PARALLEL_SIZE", c.TensorParallelSize)
	c.Dtype = envString("DTYPE", c.Dtype)
	c.Quantization = envString("QUANTIZATION", c.Quantization)

	var err error
	if c.GPUMemoryUtilization, err = envFloat("GPU_MEMORY_UTILIZATION", c.GPUMemoryUtilization); err != nil {
		return c, err
	}
	c.MaxModelLen = envInt("MAX_MODEL_LEN", c.MaxModelLen)
	c.MaxNumSeqs = envInt("MAX_NUM_SEQS", c.MaxNumSeqs)

	c.MaxQueueDepth = envInt("MAX_QUEUE_DEPTH", c.MaxQueueDepth)
	c.MaxRequestsPerJob = envInt("MAX_REQUESTS_PER_JOB", c.MaxRequestsPerJob)
	c.MaxTotalQueuedRequests = envInt("MAX_TOTAL_QUEUED_REQUESTS", c.MaxTotalQueuedRequests)
	c.ChunkSize = envInt("CHUNK_SIZE", c.ChunkSize)
	c.RetryAttempts = envInt("RETRY_ATTEMPTS", c.RetryAttempts)
	c.HeartbeatInterval = envSeconds("HEARTBEAT_INTERVAL_SECONDS", c.HeartbeatInterval)
	c.CompletionWindow = envSeconds("COMPLETION_WINDOW_SECONDS", c.CompletionWindow)

	c.StoragePath = envString("STORAGE_PATH", c.StoragePath)
	c.DatabasePath = envString("DATABASE_PATH", c.DatabasePath)
	c.CleanupAfterDays = envInt("CLEANUP_AFTER_DAYS", c.CleanupAfterDays)
	c.MaxBatchFileSizeMB = envInt("MAX_BATCH_FILE_SIZE_MB", c.MaxBatchFileSizeMB)

	c.Host = envString("HOST", c.Host)
	c.Port = envInt("PORT", c.Port)
	c.APIKey = envString("API_KEY", c.APIKey)
	c.EngineURL = envString("ENGINE_URL", c.EngineURL)

	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.GPUMemoryUtilization <= 0 || c.GPUMemoryUtilization > 1 {
		return fmt.Errorf("GPU_MEMORY_UTILIZATION must be in (0,1], got %f", c.GPUMemoryUtilization)
	}
	if c.MaxQueueDepth < 1 {
		return fmt.Errorf("MAX_QUEUE_DEPTH must be >= 1")
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("CHUNK_SIZE must be >= 1")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}

// ProcessEnvValue resolves a string of the form "env.NAME" against the
// process environment; other strings are returned unchanged. Load reads
// the environment directly and does not call it.
func ProcessEnvValue(value string) (string, error) {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "env.") {
		return value, nil
	}
	key := strings.TrimSpace(strings.TrimPrefix(v, "env."))
	if key == "" {
		return "", fmt.Errorf("environment variable name missing in %q", value)
	}
	if ev, ok := os.LookupEnv(key); ok {
		return ev, nil
	}
	return "", fmt.Errorf("environment variable %s not found", key)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
