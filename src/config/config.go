package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeystoreDir is the default name of the folder containing the
	// Badger keystore with the device identity and pinned peer certificates.
	DefaultKeystoreDir = "keystore"

	// DefaultDatabaseFile is the default name of the SQLite database file.
	DefaultDatabaseFile = "classlog.db"
)

// Default configuration values.
const (
	DefaultLogLevel    = "debug"
	DefaultSyncPort    = 8080
	DefaultServiceAddr = "127.0.0.1:8000"
	DefaultDialTimeout = 3000 * time.Millisecond
	DefaultMaxSessions = 8
)

// Config contains all the configuration properties of a classlog node.
type Config struct {
	// DataDir is the top-level directory containing classlog configuration
	// and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// SyncPort is the TCP port where this node accepts sync connections from
	// other devices. It is also the port advertised over mDNS.
	SyncPort int `mapstructure:"sync-port"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoDiscovery disables mDNS advertisement and browsing. Peers can still
	// be added manually through the pairing API.
	NoDiscovery bool `mapstructure:"no-discovery"`

	// DialTimeout is the timeout applied when connecting out to a peer.
	DialTimeout time.Duration `mapstructure:"dial-timeout"`

	// MaxSessions bounds the number of concurrent inbound sync sessions.
	MaxSessions int `mapstructure:"max-sessions"`

	// KeystoreDir is the directory containing the Badger keystore files.
	KeystoreDir string `mapstructure:"keystore"`

	// DatabaseFile is the SQLite database file holding the record store and
	// the change log.
	DatabaseFile string `mapstructure:"db"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:      DefaultDataDir(),
		LogLevel:     DefaultLogLevel,
		SyncPort:     DefaultSyncPort,
		ServiceAddr:  DefaultServiceAddr,
		DialTimeout:  DefaultDialTimeout,
		MaxSessions:  DefaultMaxSessions,
		KeystoreDir:  filepath.Join(DefaultDataDir(), DefaultKeystoreDir),
		DatabaseFile: filepath.Join(DefaultDataDir(), DefaultDatabaseFile),
	}

	return config
}

// SetDataDir sets the top-level classlog directory, and updates the keystore
// and database paths if they are currently set to the default values. If they
// are not, the user has explicitely set them to something else, so avoid
// changing them again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.KeystoreDir == filepath.Join(DefaultDataDir(), DefaultKeystoreDir) {
		c.KeystoreDir = filepath.Join(dataDir, DefaultKeystoreDir)
	}
	if c.DatabaseFile == filepath.Join(DefaultDataDir(), DefaultDatabaseFile) {
		c.DatabaseFile = filepath.Join(dataDir, DefaultDatabaseFile)
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "classlog".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "classlog")
}

// WithLogger sets the underlying logger. It is used by tests to capture the
// log output.
func (c *Config) WithLogger(logger *logrus.Logger) *Config {
	c.logger = logger
	return c
}

// DefaultDataDir return the default directory name for top-level classlog
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Classlog")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Classlog")
		} else {
			return filepath.Join(home, ".classlog")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
