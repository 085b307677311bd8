package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the Prism server.
// It covers the HTTP listener, EPG ingestion, the channel catalog database,
// the resource proxy cache, and playback engine tuning.
type Config struct {
	ListenAddr        string        `json:"listenAddr"`        // Address the HTTP/WebSocket server binds to
	BaseURL           string        `json:"baseURL"`           // Base URL for the application (used for links in responses)
	DatabasePath      string        `json:"databasePath"`      // Path to the SQLite channel catalog database
	EPGURL            string        `json:"epgURL"`            // Upstream XMLTV feed URL
	EPGCacheTTL       time.Duration `json:"epgCacheTTL"`       // How long a fetched EPG snapshot is served before refresh
	EPGChannelLimit   int           `json:"epgChannelLimit"`   // Maximum channels kept from the upstream feed
	ProxyCacheSize    int           `json:"proxyCacheSize"`    // Maximum entries held by the resource proxy cache
	ProxyCacheTTL     time.Duration `json:"proxyCacheTTL"`     // Expiry for proxied upstream responses
	WorkerThreads     int           `json:"workerThreads"`     // Worker pool size for background tasks
	FetchRateLimit    int           `json:"fetchRateLimit"`    // Upstream requests per second for the adaptive engine
	StreamTimeout     time.Duration `json:"streamTimeout"`     // Timeout for upstream fetch operations
	UserAgent         string        `json:"userAgent"`         // HTTP User-Agent header for outbound requests
	ReqOrigin         string        `json:"reqOrigin"`         // HTTP Origin header for outbound requests
	ReqReferrer       string        `json:"reqReferrer"`       // HTTP Referer header for outbound requests
	LogLevel          string        `json:"logLevel"`          // Minimum log level: DEBUG, INFO, WARN, ERROR
	Debug             bool          `json:"debug"`             // Enable debug logging
	ObfuscateUrls     bool          `json:"obfuscateUrls"`     // Obfuscate URLs in logs
	FilterKeywords    []string      `json:"filterKeywords"`    // Channel name keywords dropped during catalog sync
	FilterExcludeExpr string        `json:"filterExcludeExpr"` // Regex of channel names dropped during catalog sync
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling
// configuration. Duration fields (e.g., "1h") are parsed into time.Duration.
type ConfigFile struct {
	ListenAddr        string   `json:"listenAddr"`
	BaseURL           string   `json:"baseURL"`
	DatabasePath      string   `json:"databasePath"`
	EPGURL            string   `json:"epgURL"`
	EPGCacheTTL       string   `json:"epgCacheTTL"` // Duration as string (e.g., "1h")
	EPGChannelLimit   int      `json:"epgChannelLimit"`
	ProxyCacheSize    int      `json:"proxyCacheSize"`
	ProxyCacheTTL     string   `json:"proxyCacheTTL"` // Duration as string (e.g., "5m")
	WorkerThreads     int      `json:"workerThreads"`
	FetchRateLimit    int      `json:"fetchRateLimit"`
	StreamTimeout     string   `json:"streamTimeout"` // Duration as string (e.g., "30s")
	UserAgent         string   `json:"userAgent"`
	ReqOrigin         string   `json:"reqOrigin"`
	ReqReferrer       string   `json:"reqReferrer"`
	LogLevel          string   `json:"logLevel"`
	Debug             bool     `json:"debug"`
	ObfuscateUrls     bool     `json:"obfuscateUrls"`
	FilterKeywords    []string `json:"filterKeywords"`
	FilterExcludeExpr string   `json:"filterExcludeExpr"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// DefaultConfigPath is where LoadConfig looks for the JSON config file.
const DefaultConfigPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from DefaultConfigPath.
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	config, err := loadFromFile(DefaultConfigPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", DefaultConfigPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Listen: %s", config.ListenAddr)
		log.Printf("  EPG URL: %s", obfuscateURL(config.EPGURL))
		log.Printf("  EPG Cache TTL: %s", config.EPGCacheTTL)
		log.Printf("  Database: %s", config.DatabasePath)
		log.Printf("  Debug: %v", config.Debug)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
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

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:        cf.ListenAddr,
		BaseURL:           cf.BaseURL,
		DatabasePath:      cf.DatabasePath,
		EPGURL:            cf.EPGURL,
		EPGChannelLimit:   cf.EPGChannelLimit,
		ProxyCacheSize:    cf.ProxyCacheSize,
		WorkerThreads:     cf.WorkerThreads,
		FetchRateLimit:    cf.FetchRateLimit,
		UserAgent:         cf.UserAgent,
		ReqOrigin:         cf.ReqOrigin,
		ReqReferrer:       cf.ReqReferrer,
		LogLevel:          cf.LogLevel,
		Debug:             cf.Debug,
		ObfuscateUrls:     cf.ObfuscateUrls,
		FilterKeywords:    cf.FilterKeywords,
		FilterExcludeExpr: cf.FilterExcludeExpr,
	}

	// Parse duration fields
	var err error
	if config.EPGCacheTTL, err = time.ParseDuration(cf.EPGCacheTTL); err != nil {
		return nil, fmt.Errorf("invalid epgCacheTTL: %w", err)
	}
	if config.ProxyCacheTTL, err = time.ParseDuration(cf.ProxyCacheTTL); err != nil {
		return nil, fmt.Errorf("invalid proxyCacheTTL: %w", err)
	}
	if config.StreamTimeout, err = time.ParseDuration(cf.StreamTimeout); err != nil {
		return nil, fmt.Errorf("invalid streamTimeout: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":3001",
		BaseURL:         "http://localhost:3001",
		DatabasePath:    "/settings/prism.db",
		EPGURL:          "https://i.mjh.nz/PlutoTV/us.xml",
		EPGCacheTTL:     time.Hour,       // Serve a fetched guide for an hour
		EPGChannelLimit: 50,              // Bound the guide size for the client
		ProxyCacheSize:  256,             // Resource proxy cache entries
		ProxyCacheTTL:   5 * time.Minute, // Proxied response expiry
		WorkerThreads:   8,
		FetchRateLimit:  20, // Upstream requests per second
		StreamTimeout:   30 * time.Second,
		UserAgent:       "PrismServer/1.0",
		LogLevel:        "INFO",
		Debug:           false,
		ObfuscateUrls:   false,
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.ListenAddr == "" {
		config.ListenAddr = ":3001"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:3001"
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/prism.db"
	}
	if config.EPGURL == "" {
		config.EPGURL = "https://i.mjh.nz/PlutoTV/us.xml"
	}
	if config.EPGCacheTTL <= 0 {
		config.EPGCacheTTL = time.Hour
	}
	if config.EPGChannelLimit <= 0 {
		config.EPGChannelLimit = 50
	}
	if config.ProxyCacheSize <= 0 {
		config.ProxyCacheSize = 256
	}
	if config.ProxyCacheTTL <= 0 {
		config.ProxyCacheTTL = 5 * time.Minute
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.FetchRateLimit <= 0 {
		config.FetchRateLimit = 20
	}
	if config.StreamTimeout <= 0 {
		config.StreamTimeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "PrismServer/1.0"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	// ReqOrigin and ReqReferrer may remain empty
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		ListenAddr:      ":3001",
		BaseURL:         "http://localhost:3001",
		DatabasePath:    "/settings/prism.db",
		EPGURL:          "https://i.mjh.nz/PlutoTV/us.xml",
		EPGCacheTTL:     "1h",
		EPGChannelLimit: 50,
		ProxyCacheSize:  256,
		ProxyCacheTTL:   "5m",
		WorkerThreads:   8,
		FetchRateLimit:  20,
		StreamTimeout:   "30s",
		UserAgent:       "PrismServer/1.0",
		LogLevel:        "INFO",
		Debug:           false,
		ObfuscateUrls:   true,
		FilterKeywords:  []string{},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.m3u8?token=abc"
//	Output: "http://example.com/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
