package main

import (
	"os"

	"github.com/loykin/dbmigrate/internal/common"
)

// ExitHandler provides a testable way to handle program termination
type ExitHandler interface {
	Exit(code int)
	LogFatalError(err error, msg string, keyvals ...any)
}

// DefaultExitHandler implements ExitHandler for production use
type DefaultExitHandler struct{}

func NewDefaultExitHandler() *DefaultExitHandler {
	return &DefaultExitHandler{}
}

func (h *DefaultExitHandler) Exit(code int) {
	os.Exit(code)
}

// LogFatalError logs err through the logger configured by the command, then
// exits with status 1.
func (h *DefaultExitHandler) LogFatalError(err error, msg string, keyvals ...any) {
	logger := common.GetLogger().WithComponent("main")
	allKeyvals := append([]any{"error", err}, keyvals...)
	logger.Error(msg, allKeyvals...)
	h.Exit(1)
}

// Global exit handler (can be replaced for testing)
var exitHandler ExitHandler = NewDefaultExitHandler()
