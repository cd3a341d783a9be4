package commands

import (
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/classlog/classlog/src/classlog"
	"github.com/classlog/classlog/src/config"
)

//NewRunCmd returns the command that starts a classlog node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runClasslog,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runClasslog(cmd *cobra.Command, args []string) error {
	engine := classlog.NewClasslog(&_config.Classlog)

	if err := engine.Init(); err != nil {
		_config.Classlog.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		engine.Shutdown()
	}()

	return engine.Run()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Classlog.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Classlog.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("discard", _config.Discard, "Discard log output to stderr and stdout")

	// Network
	cmd.Flags().IntP("sync-port", "p", _config.Classlog.SyncPort, "TCP port for incoming sync connections, also advertised over mDNS")
	cmd.Flags().DurationP("dial-timeout", "t", _config.Classlog.DialTimeout, "Timeout when connecting out to a peer")
	cmd.Flags().Int("max-sessions", _config.Classlog.MaxSessions, "Max number of concurrent inbound sync sessions")
	cmd.Flags().Bool("no-discovery", _config.Classlog.NoDiscovery, "Do not advertise or browse for peers over mDNS")

	// Service
	cmd.Flags().Bool("no-service", _config.Classlog.NoService, "Do not start the HTTP API service")
	cmd.Flags().StringP("service-listen", "s", _config.Classlog.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().String("keystore", _config.Classlog.KeystoreDir, "Keystore directory")
	cmd.Flags().String("db", _config.Classlog.DatabaseFile, "Database file")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --keystore or --db, this will
	// update the default keystore and database paths to be inside the new
	// datadir
	_config.Classlog.SetDataDir(_config.Classlog.DataDir)

	_config.Classlog.WithLogger(newLogger())

	_config.Classlog.Logger().WithFields(logrus.Fields{
		"DataDir":      _config.Classlog.DataDir,
		"LogLevel":     _config.Classlog.LogLevel,
		"SyncPort":     _config.Classlog.SyncPort,
		"NoDiscovery":  _config.Classlog.NoDiscovery,
		"NoService":    _config.Classlog.NoService,
		"ServiceAddr":  _config.Classlog.ServiceAddr,
		"DialTimeout":  _config.Classlog.DialTimeout,
		"MaxSessions":  _config.Classlog.MaxSessions,
		"KeystoreDir":  _config.Classlog.KeystoreDir,
		"DatabaseFile": _config.Classlog.DatabaseFile,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/classlog.toml (.json, .yaml also work)
	viper.SetConfigName("classlog")
	viper.AddConfigPath(_config.Classlog.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Classlog.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Classlog.Logger().Debugf("No config file found in: %s", _config.Classlog.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Level = config.LogLevel(_config.Classlog.LogLevel)

	pathMap := lfshook.PathMap{}

	_, err := os.OpenFile("classlog_info.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open classlog_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = "classlog_info.log"
	}

	_, err = os.OpenFile("classlog_debug.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open classlog_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = "classlog_debug.log"
	}

	if err == nil && _config.Discard {
		logger.Out = ioutil.Discard
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))

	return logger
}
