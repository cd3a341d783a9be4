package config

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/classlog-test")

	assert.Equal(t, "/tmp/classlog-test", conf.DataDir)
	assert.Equal(t, filepath.Join("/tmp/classlog-test", DefaultKeystoreDir), conf.KeystoreDir)
	assert.Equal(t, filepath.Join("/tmp/classlog-test", DefaultDatabaseFile), conf.DatabaseFile)
}

func TestSetDataDirKeepsExplicitPaths(t *testing.T) {
	conf := NewDefaultConfig()
	conf.DatabaseFile = "/elsewhere/records.db"
	conf.SetDataDir("/tmp/classlog-test")

	assert.Equal(t, "/elsewhere/records.db", conf.DatabaseFile)
	assert.Equal(t, filepath.Join("/tmp/classlog-test", DefaultKeystoreDir), conf.KeystoreDir)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, LogLevel("info"))
	assert.Equal(t, logrus.ErrorLevel, LogLevel("error"))
	assert.Equal(t, logrus.DebugLevel, LogLevel("nonsense"))
}
