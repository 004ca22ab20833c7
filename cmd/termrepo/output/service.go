// Package output sets up logging and run output files.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OutputManager owns the timestamped output directory of a run.
type OutputManager struct {
	baseDir   string
	timestamp string
	logFile   *os.File
	log       zerolog.Logger
}

// NewOutputManager creates {baseDir}/{timestamp}/logs/app.log and a logger
// that writes to both the console and that file.
func NewOutputManager(baseDir, level string) (*OutputManager, error) {
	timestamp := time.Now().Format("20060102_150405")

	outputPath := filepath.Join(baseDir, timestamp)
	logsDir := filepath.Join(outputPath, "logs")
	if err := os.MkdirAll(logsDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile, err := os.Create(filepath.Join(logsDir, "app.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	return &OutputManager{
		baseDir:   outputPath,
		timestamp: timestamp,
		logFile:   logFile,
		log:       newLogger(zerolog.MultiLevelWriter(consoleWriter(os.Stdout), logFile), level),
	}, nil
}

// NewLogger returns the console logger used when no output directory is
// configured.
func NewLogger(out io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(out), level)
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = out
	})
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).
		With().
		Timestamp().
		Caller().
		Logger()
}

// WriteToJSON writes data to {prefix}_{timestamp}.json in the output directory.
func (om *OutputManager) WriteToJSON(data any, prefix string) (string, error) {
	filename := fmt.Sprintf("%s_%s.json", prefix, om.timestamp)
	outputPath := filepath.Join(om.baseDir, filename)

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(data); err != nil {
		return "", fmt.Errorf("failed to encode data to JSON: %w", err)
	}

	om.log.Debug().
		Str("file", outputPath).
		Str("prefix", prefix).
		Msg("Wrote data to JSON file")
	return outputPath, nil
}

func (om *OutputManager) GetLogger() zerolog.Logger {
	return om.log
}

func (om *OutputManager) GetBaseDir() string {
	return om.baseDir
}

func (om *OutputManager) Close() error {
	return om.logFile.Close()
}
