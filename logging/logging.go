// Copyright 2025 The Agentstack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging configures the process-wide structured logger.
//
// Priority for level/file/format resolution is CLI flag > environment
// variable > default, matching the bootstrap every cmd/agentstackd
// subcommand shares.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	// LevelEnvVar overrides the log level when no CLI flag is given.
	LevelEnvVar = "AGENTSTACK_LOG_LEVEL"
	// FileEnvVar overrides the log file path when no CLI flag is given.
	FileEnvVar = "AGENTSTACK_LOG_FILE"
	// FormatEnvVar overrides the log format ("text" or "json").
	FormatEnvVar = "AGENTSTACK_LOG_FORMAT"

	// DefaultFormat is used when no format is configured anywhere.
	DefaultFormat = "text"
)

// ParseLevel parses a case-insensitive level name into a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (want debug, info, warn, error)", name)
	}
}

// OpenLogFile opens (creating if necessary) a log file for appending and
// returns a cleanup func that closes it.
func OpenLogFile(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// Options configures Init.
type Options struct {
	Level  string
	File   string
	Format string
}

// resolve applies env-var fallbacks over zero-valued fields.
func (o Options) resolve() Options {
	if o.Level == "" {
		o.Level = os.Getenv(LevelEnvVar)
	}
	if o.File == "" {
		o.File = os.Getenv(FileEnvVar)
	}
	if o.Format == "" {
		o.Format = os.Getenv(FormatEnvVar)
	}
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	return o
}

// Init builds and installs the process-wide default slog logger.
// Returns a cleanup func (closes the log file, if one was opened) that
// callers should defer.
func Init(opts Options) (func(), error) {
	opts = opts.resolve()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var output *os.File
	var cleanup func()
	if opts.File != "" {
		f, c, err := OpenLogFile(opts.File)
		if err != nil {
			return nil, err
		}
		output, cleanup = f, c
	} else {
		output, cleanup = os.Stderr, func() {}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, handlerOpts)
	default:
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}
