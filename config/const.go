package config

import "strings"

// AppVersion is the version of the service.
var AppVersion string // Set with -ldflags at build time

// AppName is the name of the service.
const AppName = "DailyWallpaper"

// ServiceName names the crop daemon.
const ServiceName = "cropd"

// LogWinSubDir is the sub directory for the log files on windows.
var LogWinSubDir = AppName

// LogSubDir is the sub directory for the log files.
var LogSubDir = "." + strings.ToLower(AppName)

// LogExt is the extension for the log files.
var LogExt = ".log"

// Cache backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)
