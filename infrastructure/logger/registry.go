package logger

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// backendLog is the logging backend used to create all subsystem loggers.
var backendLog = NewBackend()

var (
	subsystemsMutex sync.Mutex
	subsystems      = make(map[string]*Logger)
)

// RegisterSubSystem returns the logger for the given subsystem tag,
// creating it if it was not registered before. Loggers registered with
// the same tag share level configuration.
func RegisterSubSystem(subsystem string) *Logger {
	subsystemsMutex.Lock()
	defer subsystemsMutex.Unlock()
	logger, ok := subsystems[subsystem]
	if !ok {
		logger = backendLog.Logger(subsystem)
		subsystems[subsystem] = logger
	}
	return logger
}

// InitLog attaches log file and error log file to the backend log and
// launches it.
func InitLog(logFile, errLogFile string) {
	err := backendLog.AddLogFile(logFile, LevelTrace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s", logFile, LevelTrace, err)
		os.Exit(1)
	}
	err = backendLog.AddLogFile(errLogFile, LevelWarn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s", errLogFile, LevelWarn, err)
		os.Exit(1)
	}
	err = backendLog.AddLogWriter(os.Stdout, LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding stdout to the loggerfor level %s: %s", LevelInfo, err)
		os.Exit(1)
	}
	err = backendLog.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting the logger: %s ", err)
		os.Exit(1)
	}
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored. Only subsystems already registered through
// RegisterSubSystem are affected; none are created here.
func SetLogLevel(subsystemID string, logLevel string) {
	level, _ := LevelFromString(logLevel)

	subsystemsMutex.Lock()
	defer subsystemsMutex.Unlock()
	if logger, ok := subsystems[subsystemID]; ok {
		logger.SetLevel(level)
	}
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level. Only subsystems already registered through RegisterSubSystem are
// affected; none are created here.
func SetLogLevels(logLevel string) error {
	level, ok := LevelFromString(logLevel)
	if !ok {
		return fmt.Errorf("invalid log level %s", logLevel)
	}

	subsystemsMutex.Lock()
	defer subsystemsMutex.Unlock()
	for _, logger := range subsystems {
		logger.SetLevel(level)
	}
	return nil
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	subsystemsMutex.Lock()
	defer subsystemsMutex.Unlock()
	ids := make([]string, 0, len(subsystems))
	for id := range subsystems {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close shuts the logging backend down, flushing any pending writes.
func Close() {
	if backendLog.IsRunning() {
		backendLog.Close()
	}
}
