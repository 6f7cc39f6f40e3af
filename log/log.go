package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Verbosity levels. Warnings always reach the console.
// -v adds info.log, -vv additionally debug.log (incl. outbound device commands).
const (
	LevelWarn = iota
	LevelInfo
	LevelDebug
)

var (
	start    = time.Now()
	level    = LevelWarn
	quiet    bool
	infoLog  *log.Logger
	debugLog *log.Logger
)

func newFileLogger(path string) *log.Logger {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxBackups: 3,
		MaxAge:     28, //days
	}
	return log.New(lj, "", log.LstdFlags)
}

// Setup configures log output for the process.
// File log lines carry the elapsed time since process start.
func Setup(verbosity int, beQuiet bool) {
	quiet = beQuiet
	if quiet {
		level = LevelWarn
		return
	}

	level = verbosity
	if level > LevelDebug {
		level = LevelDebug
	}

	if level >= LevelInfo {
		infoLog = newFileLogger("info.log")
	}
	if level >= LevelDebug {
		debugLog = newFileLogger("debug.log")
	}
}

// SetOutput redirects the info log. Used by tests.
func SetOutput(w io.Writer) {
	infoLog = log.New(w, "", 0)
	level = LevelInfo
}

func elapsed() string {
	return fmt.Sprintf("[%.3f seconds]", time.Since(start).Seconds())
}

func Debugf(format string, v ...interface{}) {
	if debugLog == nil {
		return
	}
	debugLog.Println(elapsed(), fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if infoLog != nil {
		infoLog.Println(elapsed(), msg)
	}
	if debugLog != nil {
		debugLog.Println(elapsed(), msg)
	}
}

func Println(v ...interface{}) {
	log.Println(v...)
	if infoLog != nil {
		infoLog.Println(append([]interface{}{elapsed()}, v...)...)
	}
}

func Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
	if infoLog != nil {
		infoLog.Println(elapsed(), fmt.Sprintf(format, v...))
	}
}

// Progress prints acquisition progress to stdout, unless quiet.
func Progress(format string, v ...interface{}) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stdout, format, v...)
}

func Fatal(v ...interface{}) {
	log.Fatal(v...)
}
