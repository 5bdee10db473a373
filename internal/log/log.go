// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package log provides the process-wide logger, a zap SugaredLogger writing
// to stdout and optionally also to a file.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.SugaredLogger
var baseLogger *zap.Logger
var logMutex sync.RWMutex
var fallbackOnce sync.Once
var logFileOS *os.File

// Initializes the package-level logger. If fileName is not empty, log
// entries are also written to that file, which is truncated first.
func Init(fileName string, debug bool) error {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encCfg := zap.NewProductionEncoderConfig()
	if debug {
		level.SetLevel(zapcore.DebugLevel)
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}
	if fileName != "" {
		f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return fmt.Errorf("can't open log file %s: %w", fileName, err)
		}
		closeFile()
		logFileOS = f
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), level))
	}
	SetCore(zapcore.NewTee(cores...))
	return nil
}

// Replaces the destination of all log entries, e.g. with an observer in tests
func SetCore(core zapcore.Core) {
	logMutex.Lock()
	defer logMutex.Unlock()
	baseLogger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	log = baseLogger.Sugar()
}

// Returns the process-wide logger. Without a prior Init or SetCore, this is
// a production logger to stderr
func GetSugaredLogger() *zap.SugaredLogger {
	logMutex.RLock()
	l := log
	logMutex.RUnlock()
	if l != nil {
		return l
	}
	fallbackOnce.Do(func() {
		logMutex.Lock()
		defer logMutex.Unlock()
		if log == nil {
			baseLogger, _ = zap.NewProduction(zap.AddCallerSkip(1))
			log = baseLogger.Sugar()
		}
	})
	logMutex.RLock()
	defer logMutex.RUnlock()
	return log
}

// Flushes buffered log entries
func Sync() {
	logMutex.RLock()
	l := log
	logMutex.RUnlock()
	if l != nil {
		l.Sync()
	}
	if logFileOS != nil {
		logFileOS.Sync()
	}
}

func closeFile() {
	if logFileOS != nil {
		logFileOS.Close()
		logFileOS = nil
	}
}

func Debugf(template string, args ...interface{}) {
	GetSugaredLogger().Debugf(template, args...)
}

func Printf(template string, args ...interface{}) {
	GetSugaredLogger().Infof(template, args...)
}

func Println(args ...interface{}) {
	GetSugaredLogger().Infoln(args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	GetSugaredLogger().Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	GetSugaredLogger().Errorf(template, args...)
}

func Fatal(args ...interface{}) {
	GetSugaredLogger().Error(args...)
	Sync()
	closeFile()
	os.Exit(1)
}

func Fatalf(template string, args ...interface{}) {
	GetSugaredLogger().Errorf(template, args...)
	Sync()
	closeFile()
	os.Exit(1)
}

// Returns a writer which turns every line written to it into one info entry.
// Incomplete trailing lines are held back until completed or flushed.
func Writer() *LineWriter {
	return &LineWriter{}
}

// Adapts progress output written with fmt.Fprintf into log entries
type LineWriter struct {
	mu  sync.Mutex
	buf []byte
}

var _ io.Writer = (*LineWriter)(nil)

func (w *LineWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Logs any incomplete trailing line
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		emit(w.buf)
		w.buf = nil
	}
}

func emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	GetSugaredLogger().Info(string(line))
}
