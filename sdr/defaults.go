package sdr

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName        = "clinic-sdr"
	DefaultCollectionName = "clinic_knowledge"
	DefaultEmbeddingDims  = 1536
	DefaultHTTPAddr       = ":8080"
)

var (
	DefaultConfigPath   = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDatabaseDir  = filepath.Join(userCacheDir(), DefaultAppName)
	DefaultDatabasePath = filepath.Join(DefaultDatabaseDir, "knowledge.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
