package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

var minStatus = INFO

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),                //Verbose
		color.New(color.FgWhite, color.Italic),                //Debug
		color.New(color.FgWhite),                              //Info
		color.New(color.FgHiGreen),                            //Success
		color.New(color.FgGreen, color.Italic),                //New
		color.New(color.FgYellow, color.Italic),               //Remove
		color.New(color.FgHiYellow),                           //Stop
		color.New(color.FgYellow, color.Underline),            //Warning
		color.New(color.FgHiRed, color.Bold),                  //Error
		color.New(color.FgHiRed, color.Bold, color.Underline), //PANIC
	}[e]
}

// Level returns the numeric severity of this status, suitable for
// passing to SetMinLoggingLevel.
func (e LogStatus) Level() int { return int(e) }

// ParseLevel converts a textual level (as found in configuration) to
// a LogStatus. Unknown values return INFO and false.
func ParseLevel(level string) (LogStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "verbose", "trace":
		return VERBOSE, true
	case "debug":
		return DEBUG, true
	case "info", "":
		return INFO, true
	case "warning", "warn":
		return WARNING, true
	case "error":
		return ERROR, true
	}

	return INFO, false
}

// SetMinLoggingLevel adjusts the minimum level a message must
// have to be printed. Messages below this level are discarded.
func SetMinLoggingLevel(level int) {
	Log.setMinLevel(LogStatus(level))
}

type Logger interface {
	Emit(LogStatus, string, ...interface{})
	Verbosef(string, ...interface{})
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Successf(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})

	// Printf satisfies the logger interfaces of goose and the echo
	// rate limiter so that third-party output flows through here.
	Printf(string, ...interface{})
	Fatalf(string, ...interface{})
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...interface{}) {
	Log.Emit(status, l.name, message, interpolations...)
}

func (l *loggerImpl) Verbosef(m string, a ...interface{}) { l.Emit(VERBOSE, m, a...) }
func (l *loggerImpl) Debugf(m string, a ...interface{})   { l.Emit(DEBUG, m, a...) }
func (l *loggerImpl) Infof(m string, a ...interface{})    { l.Emit(INFO, m, a...) }
func (l *loggerImpl) Successf(m string, a ...interface{}) { l.Emit(SUCCESS, m, a...) }
func (l *loggerImpl) Warnf(m string, a ...interface{})    { l.Emit(WARNING, m, a...) }
func (l *loggerImpl) Errorf(m string, a ...interface{})   { l.Emit(ERROR, m, a...) }
func (l *loggerImpl) Printf(m string, a ...interface{})   { l.Emit(INFO, ensureNewline(m), a...) }
func (l *loggerImpl) Fatalf(m string, a ...interface{})   { l.Emit(FATAL, ensureNewline(m), a...) }

type LoggerManager interface {
	GetLogger(string) Logger
	Emit(LogStatus, string, string, ...interface{})
	setMinLevel(LogStatus)
}

var Log LoggerManager = &loggerMgr{
	offset: 0,
}

type loggerMgr struct {
	sync.Mutex
	offset int
}

func (l *loggerMgr) GetLogger(name string) Logger {
	return &loggerImpl{name: name}
}

func (l *loggerMgr) Emit(status LogStatus, name string, message string, interpolations ...interface{}) {
	l.Lock()
	defer l.Unlock()
	if status < minStatus {
		return
	}

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))

	status.Color().Print(msg)
}

func (l *loggerMgr) setMinLevel(status LogStatus) {
	l.Lock()
	defer l.Unlock()
	minStatus = status
}

func (l *loggerMgr) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

func ensureNewline(message string) string {
	if strings.HasSuffix(message, "\n") {
		return message
	}

	return message + "\n"
}

func Get(name string) Logger {
	return Log.GetLogger(name)
}
