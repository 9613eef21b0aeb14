package server

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestMain silences the package loggers once before any test runs, so
// session goroutines still draining after a test never race a test
// swapping loggers out.
func TestMain(m *testing.M) {
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}
