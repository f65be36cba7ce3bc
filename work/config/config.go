package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration for the playlist and DRM proxy
// gateway: server identity, catalog storage location, cache behavior, and the
// fixed timeouts the relay endpoints operate under.
type Config struct {
	BaseURL             string        `json:"baseURL"`             // Absolute base URL used when rendering gateway endpoints into playlists
	Port                int           `json:"port"`                // HTTP listen port
	DatabasePath        string        `json:"databasePath"`        // Path to the sqlite catalog database
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate origin URLs in log output
	LogLevel            string        `json:"logLevel"`            // Minimum log level (DEBUG/INFO/WARN/ERROR)
	WorkerThreads       int           `json:"workerThreads"`       // Worker pool size for background tasks
	CacheEnabled        bool          `json:"cacheEnabled"`        // Whether playlist/manifest caching is enabled
	CacheDuration       time.Duration `json:"cacheDuration"`       // Expiry for cached rendered playlists
	RefreshTickInterval time.Duration `json:"refreshTickInterval"` // Source refresher tick cadence
	SourceFetchTimeout  time.Duration `json:"sourceFetchTimeout"`  // Per-source refresh fetch timeout
	CorsTimeout         time.Duration `json:"corsTimeout"`         // Cross-origin relay fetch timeout
	DefaultUserAgent    string        `json:"defaultUserAgent"`    // User-Agent applied when a channel has none
}

// ConfigFile mirrors Config for JSON marshaling, with durations held as
// strings (e.g. "30m") and parsed on load.
type ConfigFile struct {
	BaseURL             string `json:"baseURL"`
	Port                int    `json:"port"`
	DatabasePath        string `json:"databasePath"`
	Debug               bool   `json:"debug"`
	ObfuscateUrls       bool   `json:"obfuscateUrls"`
	LogLevel            string `json:"logLevel"`
	WorkerThreads       int    `json:"workerThreads"`
	CacheEnabled        bool   `json:"cacheEnabled"`
	CacheDuration       string `json:"cacheDuration"`
	RefreshTickInterval string `json:"refreshTickInterval"`
	SourceFetchTimeout  string `json:"sourceFetchTimeout"`
	CorsTimeout         string `json:"corsTimeout"`
	DefaultUserAgent    string `json:"defaultUserAgent"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Protects configCache
)

// DefaultConfigPath is where LoadConfig looks for the JSON config file.
const DefaultConfigPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached
// instance. Uses double-checked locking so concurrent callers never trigger
// redundant reloads; falls back to defaults when the file is missing or
// invalid.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// double-check under the write lock
	if configCache != nil {
		return configCache
	}

	config, err := loadFromFile(DefaultConfigPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", DefaultConfigPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	return config
}

// ClearConfigCache resets the cached config, forcing a reload on the next
// LoadConfig call. Used by the admin restart path.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:          cf.BaseURL,
		Port:             cf.Port,
		DatabasePath:     cf.DatabasePath,
		Debug:            cf.Debug,
		ObfuscateUrls:    cf.ObfuscateUrls,
		LogLevel:         cf.LogLevel,
		WorkerThreads:    cf.WorkerThreads,
		CacheEnabled:     cf.CacheEnabled,
		DefaultUserAgent: cf.DefaultUserAgent,
	}

	var err error
	if cf.CacheDuration != "" {
		if config.CacheDuration, err = time.ParseDuration(cf.CacheDuration); err != nil {
			return nil, fmt.Errorf("invalid cacheDuration: %w", err)
		}
	}
	if cf.RefreshTickInterval != "" {
		if config.RefreshTickInterval, err = time.ParseDuration(cf.RefreshTickInterval); err != nil {
			return nil, fmt.Errorf("invalid refreshTickInterval: %w", err)
		}
	}
	if cf.SourceFetchTimeout != "" {
		if config.SourceFetchTimeout, err = time.ParseDuration(cf.SourceFetchTimeout); err != nil {
			return nil, fmt.Errorf("invalid sourceFetchTimeout: %w", err)
		}
	}
	if cf.CorsTimeout != "" {
		if config.CorsTimeout, err = time.ParseDuration(cf.CorsTimeout); err != nil {
			return nil, fmt.Errorf("invalid corsTimeout: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://localhost:8080",
		Port:                8080,
		DatabasePath:        "/settings/catalog.db",
		Debug:               false,
		ObfuscateUrls:       false,
		LogLevel:            "INFO",
		WorkerThreads:       8,
		CacheEnabled:        true,
		CacheDuration:       30 * time.Second,
		RefreshTickInterval: 60 * time.Second,
		SourceFetchTimeout:  20 * time.Second,
		CorsTimeout:         15 * time.Second,
		DefaultUserAgent:    "VLC/3.0.18 LibVLC/3.0.18",
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Port <= 0 {
		config.Port = 8080
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/catalog.db"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 30 * time.Second
	}
	if config.RefreshTickInterval <= 0 {
		config.RefreshTickInterval = 60 * time.Second
	}
	if config.SourceFetchTimeout <= 0 {
		config.SourceFetchTimeout = 20 * time.Second
	}
	if config.CorsTimeout <= 0 {
		config.CorsTimeout = 15 * time.Second
	}
	if config.DefaultUserAgent == "" {
		config.DefaultUserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	}
}

// CreateExampleConfig writes an example config file to disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:             "http://localhost:8080",
		Port:                8080,
		DatabasePath:        "/settings/catalog.db",
		Debug:               false,
		ObfuscateUrls:       true,
		LogLevel:            "INFO",
		WorkerThreads:       4,
		CacheEnabled:        true,
		CacheDuration:       "30s",
		RefreshTickInterval: "60s",
		SourceFetchTimeout:  "20s",
		CorsTimeout:         "15s",
		DefaultUserAgent:    "VLC/3.0.18 LibVLC/3.0.18",
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
