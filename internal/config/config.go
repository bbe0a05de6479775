package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"tabdeck/internal/tablayout"
	"tabdeck/internal/tabs"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	renameRetryBaseDelay = 10 * time.Millisecond
	// maxValidPort is the highest TCP port number. Port 0 means "OS auto-assign".
	maxValidPort = 65535
	// maxTabsCeiling bounds max_tabs; each tab owns a renderer process.
	maxTabsCeiling = 500
	appDirName     = "tabdeck"
)

// ErrInvalidHomePage is returned when home_page uses an unsupported scheme.
var ErrInvalidHomePage = errors.New("config: invalid home_page")

// defaultConfigDirFn is a test seam; tests override it to simulate
// directory-resolution failures in validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir
var windowsEnvTokenPattern = regexp.MustCompile(`%[A-Za-z_][A-Za-z0-9_]*%`)
var posixEnvTokenPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)
var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

var allowedHomeSchemes = map[string]bool{
	"about": true,
	"http":  true,
	"https": true,
	"file":  true,
}

// Config is the on-disk shell configuration.
type Config struct {
	HomePage      string            `yaml:"home_page" json:"home_page"`
	StorageDir    string            `yaml:"storage_dir,omitempty" json:"storage_dir,omitempty"`
	Incognito     bool              `yaml:"incognito" json:"incognito"`
	Headless      bool              `yaml:"headless" json:"headless"`
	MaxTabs       int               `yaml:"max_tabs" json:"max_tabs"`
	WebSocketPort int               `yaml:"websocket_port" json:"websocket_port"`
	Preload       PreloadConfig     `yaml:"preload" json:"preload"`
	Show          ShowConfig        `yaml:"show" json:"show"`
	Layout        tablayout.Metrics `yaml:"layout" json:"layout"`
}

// PreloadConfig tunes the hidden home-page tab kept ready for new-tab requests.
type PreloadConfig struct {
	Enabled             bool `yaml:"enabled" json:"enabled"`
	NavigationTimeoutMs int  `yaml:"navigation_timeout_ms" json:"navigation_timeout_ms"`
	SettleDelayMs       int  `yaml:"settle_delay_ms" json:"settle_delay_ms"`
	InitialDelayMs      int  `yaml:"initial_delay_ms" json:"initial_delay_ms"`
}

// ShowConfig tunes deferred display of tabs that have not rendered yet.
type ShowConfig struct {
	PendingFallbackMs int `yaml:"pending_fallback_ms" json:"pending_fallback_ms"`
	PendingSettleMs   int `yaml:"pending_settle_ms" json:"pending_settle_ms"`
}

func DefaultConfig() Config {
	return Config{
		HomePage: tabs.DefaultHomePage,
		MaxTabs:  tabs.DefaultMaxTabs,
		Preload: PreloadConfig{
			Enabled:             true,
			NavigationTimeoutMs: int(tabs.DefaultPreloadNavigationTimeout / time.Millisecond),
			SettleDelayMs:       int(tabs.DefaultPreloadSettleDelay / time.Millisecond),
			InitialDelayMs:      int(tabs.DefaultPreloadInitialDelay / time.Millisecond),
		},
		Show: ShowConfig{
			PendingFallbackMs: int(tabs.DefaultPendingShowFallback / time.Millisecond),
			PendingSettleMs:   int(tabs.DefaultPendingShowSettle / time.Millisecond),
		},
		Layout: tablayout.DefaultMetrics(),
	}
}

// TabOptions converts the config into manager options. Strip and Now are
// left for the caller.
func (c Config) TabOptions() tabs.Options {
	mode := tabs.ModeWindow
	if c.Incognito {
		mode = tabs.ModeEphemeral
	}
	// Incognito sessions get a throwaway profile from the engine.
	storageDir := c.StorageDir
	switch {
	case c.Incognito:
		storageDir = ""
	case storageDir == "":
		storageDir = DefaultStorageDir()
	}
	return tabs.Options{
		HomePage:                 c.HomePage,
		StorageDir:               storageDir,
		Mode:                     mode,
		MaxTabs:                  c.MaxTabs,
		DisablePreload:           !c.Preload.Enabled,
		PreloadNavigationTimeout: millis(c.Preload.NavigationTimeoutMs),
		PreloadSettleDelay:       millis(c.Preload.SettleDelayMs),
		PreloadInitialDelay:      millis(c.Preload.InitialDelayMs),
		PendingShowFallback:      millis(c.Show.PendingFallbackMs),
		PendingShowSettle:        millis(c.Show.PendingSettleMs),
		Layout:                   c.Layout,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := make([]string, len(defaultPathWarningState.messages))
	copy(out, defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// DefaultPath resolves the config file path. Order: LOCALAPPDATA, APPDATA,
// XDG_CONFIG_HOME, ~/.config, and finally os.TempDir() when the home
// directory cannot be resolved. The temp-dir fallback is not a stable
// persistence location.
func DefaultPath() string {
	base := ""
	for _, key := range []string{"LOCALAPPDATA", "APPDATA", "XDG_CONFIG_HOME"} {
		if base = strings.TrimSpace(os.Getenv(key)); base != "" {
			break
		}
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve the config or home directory. Using temp directory; settings persistence may be limited.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, appDirName, "config.yaml")
}

// DefaultStorageDir is the browsing-data directory used when storage_dir is
// unset. It sits next to the config file.
func DefaultStorageDir() string {
	return filepath.Join(filepath.Dir(DefaultPath()), "profile")
}

// Load reads the config file. A missing or empty file yields defaults.
// Keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureFile writes default config if missing and returns loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Save validates cfg and writes it atomically. The path must be inside the
// default config directory. The normalized config is returned.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// atomicWrite writes data using temp-file + rename and retries the rename on
// Windows to tolerate transient file locks.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and keeps config writes inside the
// default config directory.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}
	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
// Windows cross-drive paths are rejected because filepath.Rel returns an
// absolute path when roots differ.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

// applyDefaultsAndValidate fills missing defaults and validates cfg in-place.
// MUTATES: cfg is directly modified.
// Only an unusable home page is fatal; every other problem is logged and
// replaced by its default so the shell still starts.
func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()
	if isZeroConfig(*cfg) {
		*cfg = defaults
		return nil
	}

	cfg.HomePage = strings.TrimSpace(cfg.HomePage)
	if cfg.HomePage == "" {
		cfg.HomePage = defaults.HomePage
	}
	if err := validateHomePage(cfg.HomePage); err != nil {
		return err
	}

	switch {
	case cfg.MaxTabs <= 0:
		cfg.MaxTabs = defaults.MaxTabs
	case cfg.MaxTabs > maxTabsCeiling:
		slog.Warn("[WARN-CONFIG] max_tabs too large, clamping", "configured", cfg.MaxTabs, "max", maxTabsCeiling)
		cfg.MaxTabs = maxTabsCeiling
	}

	validateWebSocketPort(cfg)
	validateStorageDir(cfg)
	validateTimings(cfg, defaults)

	if cfg.Layout == (tablayout.Metrics{}) {
		cfg.Layout = defaults.Layout
	} else if err := cfg.Layout.Validate(); err != nil {
		slog.Warn("[WARN-CONFIG] invalid layout metrics, using defaults", "error", err)
		cfg.Layout = defaults.Layout
	}
	return nil
}

func validateHomePage(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidHomePage, raw, err)
	}
	if !allowedHomeSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidHomePage, raw, u.Scheme)
	}
	return nil
}

// validateWebSocketPort resets out-of-range ports to 0 (auto-assign).
// NOTE: non-fatal so a bad port never prevents startup.
func validateWebSocketPort(cfg *Config) {
	if cfg.WebSocketPort < 0 || cfg.WebSocketPort > maxValidPort {
		slog.Warn("[WARN-CONFIG] websocket_port out of valid range (0-65535), falling back to 0 (auto-assign)",
			"configured", cfg.WebSocketPort, "max", maxValidPort)
		cfg.WebSocketPort = 0
	}
}

// validateTimings replaces negative durations with their defaults. Zero is
// kept: it disables the settle and initial delays.
func validateTimings(cfg *Config, defaults Config) {
	fix := func(name string, v *int, def int, zeroAllowed bool) {
		if *v < 0 || (*v == 0 && !zeroAllowed) {
			if *v < 0 {
				slog.Warn("[WARN-CONFIG] negative duration, using default", "field", name, "configured", *v)
			}
			*v = def
		}
	}
	fix("preload.navigation_timeout_ms", &cfg.Preload.NavigationTimeoutMs, defaults.Preload.NavigationTimeoutMs, false)
	fix("preload.settle_delay_ms", &cfg.Preload.SettleDelayMs, defaults.Preload.SettleDelayMs, true)
	fix("preload.initial_delay_ms", &cfg.Preload.InitialDelayMs, defaults.Preload.InitialDelayMs, true)
	fix("show.pending_fallback_ms", &cfg.Show.PendingFallbackMs, defaults.Show.PendingFallbackMs, false)
	fix("show.pending_settle_ms", &cfg.Show.PendingSettleMs, defaults.Show.PendingSettleMs, true)
}

// validateStorageDir expands ~ and environment tokens in StorageDir and
// clears non-absolute results with a warning (non-fatal).
func validateStorageDir(cfg *Config) {
	dir := strings.TrimSpace(cfg.StorageDir)
	if dir == "" {
		cfg.StorageDir = ""
		return
	}
	if strings.HasPrefix(dir, "~") {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] storage_dir: failed to expand ~, ignoring", "path", dir, "error", err)
			cfg.StorageDir = ""
			return
		}
		dir = filepath.Join(home, dir[1:])
	}
	dir = filepath.Clean(expandEnvTokens(dir))
	if !filepath.IsAbs(dir) {
		slog.Warn("[WARN-CONFIG] storage_dir is not an absolute path, ignoring", "path", dir)
		cfg.StorageDir = ""
		return
	}
	cfg.StorageDir = dir
}

// expandEnvTokens expands %VAR% on every platform, then $VAR and ${VAR}.
// Unset variables are left as written.
func expandEnvTokens(dir string) string {
	if dir == "" {
		return ""
	}
	expanded := windowsEnvTokenPattern.ReplaceAllStringFunc(dir, func(token string) string {
		if value, ok := os.LookupEnv(strings.Trim(token, "%")); ok {
			return value
		}
		return token
	})
	return posixEnvTokenPattern.ReplaceAllStringFunc(expanded, func(token string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(token, "$"), "{"), "}")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return token
	})
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func isZeroConfig(cfg Config) bool {
	// reflect.DeepEqual guards against field-addition drift that manual checks miss.
	return reflect.DeepEqual(cfg, Config{})
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
