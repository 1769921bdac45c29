// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// The gateway writes lifecycle, access, and error events to one JSON log
// per day under `<dir>/YYYY-MM-DD.log`.  When Console is set the same
// events are teed, in console format, to stdout.  Rotation, compression,
// and retention are handled by Lumberjack; no external log-rotate job is
// required.
//
// Usage
// -----
//
//	log, err := logger.New(logger.Options{Dir: cfg.Log.Dir, Level: "info"})
//	if err != nil { … }
//	log.Info("tenant online", zap.String("host", host))
//
// Notes
// -----
// • Zap core uses ISO-8601 timestamps and lowercase levels.
// • Errors are written to the same sink via `ErrorOutput`.
// • Oxford commas, two spaces after periods.
package logger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects sinks.  An empty Dir disables the file sink, in which
// case Console is forced on so events are never dropped.
type Options struct {
	Dir     string
	Level   string // debug, info, warn, error; empty → info
	Console bool
}

// New builds the process logger and installs it via zap.ReplaceGlobals so
// zap.L() works everywhere after startup.
func New(o Options) (*zap.Logger, error) {
	lvl := zap.InfoLevel
	if o.Level != "" {
		if err := lvl.UnmarshalText([]byte(o.Level)); err != nil {
			return nil, err
		}
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
		EncodeName:   zapcore.FullNameEncoder,
	}

	var (
		cores   []zapcore.Core
		errSink = zapcore.Lock(os.Stderr)
	)

	if o.Dir != "" {
		if err := os.MkdirAll(o.Dir, 0o755); err != nil {
			return nil, err
		}
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(o.Dir, time.Now().Format("2006-01-02")+".log"),
			MaxSize:    50, // MB
			MaxBackups: 7,
			MaxAge:     14, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, lvl))
		errSink = fileSink
	} else {
		o.Console = true
	}

	if o.Console {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			lvl,
		))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.ErrorOutput(errSink))
	zap.ReplaceGlobals(z)

	z.Info("logger online", zap.String("dir", o.Dir), zap.Bool("console", o.Console), zap.Stringer("level", lvl))
	return z, nil
}
