package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DEBUG = iota
	INFO
	WARN
	ERROR
)

func ParseLevel(level string) int {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return DEBUG
	}
}

var levelMap = map[int][]byte{
	DEBUG: []byte("DEBUG"),
	INFO:  []byte("INFO"),
	WARN:  []byte("WARN"),
	ERROR: []byte("ERROR"),
}

var (
	leftBracket  = []byte("[")
	rightBracket = []byte("]")
	space        = []byte(" ")
	colon        = []byte(":")
	funcBracket  = []byte("()")
	lineFeed     = []byte("\n")
)

var (
	red     = []byte{27, 91, 51, 49, 109}
	green   = []byte{27, 91, 51, 50, 109}
	yellow  = []byte{27, 91, 51, 51, 109}
	blue    = []byte{27, 91, 51, 52, 109}
	magenta = []byte{27, 91, 51, 53, 109}
	cyan    = []byte{27, 91, 51, 54, 109}
	reset   = []byte{27, 91, 48, 109}
)

const (
	defaultFileMaxSize = 10485760
	logInfoChanSize    = 1000
	maxWriteCacheNum   = 1000
)

var (
	logger *Logger = nil
	config *Config = nil
	// Output receives console output; stderr unless replaced before InitLogger.
	Output io.Writer = os.Stderr
)

// fallback is used while no logger is running. Lines are written synchronously.
var fallback = &Config{
	AppName:      "osmem",
	Level:        WARN,
	TrackLine:    false,
	TrackThread:  false,
	EnableFile:   false,
	DisableColor: true,
}

var fallbackLock sync.Mutex

func GetConfig() *Config {
	return config
}

type Config struct {
	AppName      string
	Level        int
	TrackLine    bool
	TrackThread  bool
	EnableFile   bool
	FileDir      string
	FileMaxSize  int32
	DisableColor bool
}

type Logger struct {
	FileTagMap    map[string]*os.File
	LogInfoChan   chan *LogInfo
	FlushChan     chan chan struct{}
	WriteBuf      []byte
	WriteCacheNum int32
	CloseChan     chan struct{}
}

type LogInfo struct {
	Time        time.Time
	Level       int
	Msg         *[]byte
	FileName    string
	FuncName    string
	Line        int
	GoroutineId string
	ThreadId    string
	TrackLine   bool
	TrackThread bool
}

func InitLogger(cfg *Config) {
	if cfg == nil {
		cfg = &Config{
			AppName:      "osmem",
			Level:        DEBUG,
			TrackLine:    true,
			TrackThread:  false,
			EnableFile:   false,
			FileMaxSize:  0,
			DisableColor: false,
		}
	}
	config = cfg
	if config.FileMaxSize == 0 {
		config.FileMaxSize = defaultFileMaxSize
	}
	if config.FileDir == "" {
		config.FileDir = "./log"
	}

	logger = new(Logger)
	logger.FileTagMap = make(map[string]*os.File)
	logger.LogInfoChan = make(chan *LogInfo, logInfoChanSize)
	logger.FlushChan = make(chan chan struct{})
	logger.WriteBuf = make([]byte, 0)
	logger.WriteCacheNum = 0
	logger.CloseChan = make(chan struct{})
	go logger.doLog()
}

func CloseLogger() {
	if logger == nil {
		return
	}
	logger.CloseChan <- struct{}{}
	<-logger.CloseChan
	for _, f := range logger.FileTagMap {
		_ = f.Close()
	}
	logger = nil
	config = nil
}

// Flush blocks until every queued entry has been written.
func Flush() {
	if logger == nil {
		return
	}
	done := make(chan struct{})
	logger.FlushChan <- done
	<-done
}

func (l *Logger) doLog() {
	var logBuf bytes.Buffer
	exit := false
	for {
		select {
		case <-l.CloseChan:
			exit = true
		case done := <-l.FlushChan:
			l.drain(&logBuf)
			close(done)
			continue
		case logInfo := <-l.LogInfoChan:
			l.write(&logBuf, logInfo)
			continue
		}
		if exit {
			l.drain(&logBuf)
			l.CloseChan <- struct{}{}
			return
		}
	}
}

func (l *Logger) drain(logBuf *bytes.Buffer) {
	for {
		select {
		case logInfo := <-l.LogInfoChan:
			l.write(logBuf, logInfo)
		default:
			l.flushBuf()
			return
		}
	}
}

func (l *Logger) write(logBuf *bytes.Buffer, logInfo *LogInfo) {
	formatLine(logBuf, config, logInfo)
	l.writeLog(logBuf.Bytes())
	putBuf(logInfo.Msg)
	logInfoPool.Put(logInfo)
	logBuf.Reset()
}

func formatLine(logBuf *bytes.Buffer, cfg *Config, logInfo *LogInfo) {
	timeBuf := make([]byte, 0, 64)
	if !cfg.DisableColor {
		logBuf.Write(cyan)
	}
	logBuf.Write(leftBracket)
	logBuf.Write(logInfo.Time.AppendFormat(timeBuf, "2006-01-02 15:04:05.000"))
	logBuf.Write(rightBracket)
	if !cfg.DisableColor {
		logBuf.Write(reset)
	}
	logBuf.Write(space)

	if !cfg.DisableColor {
		switch logInfo.Level {
		case DEBUG:
			logBuf.Write(blue)
		case INFO:
			logBuf.Write(green)
		case WARN:
			logBuf.Write(yellow)
		case ERROR:
			logBuf.Write(red)
		}
	}
	logBuf.Write(leftBracket)
	logBuf.Write(levelMap[logInfo.Level])
	logBuf.Write(rightBracket)
	if !cfg.DisableColor {
		logBuf.Write(reset)
	}
	logBuf.Write(space)

	if !cfg.DisableColor && logInfo.Level == ERROR {
		logBuf.Write(red)
		logBuf.Write(*logInfo.Msg)
		logBuf.Write(reset)
	} else {
		logBuf.Write(*logInfo.Msg)
	}

	if logInfo.TrackLine {
		logBuf.Write(space)
		if !cfg.DisableColor {
			logBuf.Write(magenta)
		}
		logBuf.Write(leftBracket)
		logBuf.WriteString(logInfo.FileName)
		logBuf.Write(colon)
		logBuf.WriteString(strconv.Itoa(logInfo.Line))
		logBuf.Write(space)
		logBuf.WriteString(logInfo.FuncName)
		logBuf.Write(funcBracket)
		if logInfo.TrackThread {
			logBuf.Write(space)
			logBuf.WriteString("goroutine")
			logBuf.Write(colon)
			logBuf.WriteString(logInfo.GoroutineId)
			logBuf.Write(space)
			logBuf.WriteString("thread")
			logBuf.Write(colon)
			logBuf.WriteString(logInfo.ThreadId)
		}
		logBuf.Write(rightBracket)
		if !cfg.DisableColor {
			logBuf.Write(reset)
		}
	}

	logBuf.Write(lineFeed)
}

func (l *Logger) writeLog(logData []byte) {
	l.WriteBuf = append(l.WriteBuf, logData...)
	l.WriteCacheNum++
	if len(l.LogInfoChan) != 0 && l.WriteCacheNum < maxWriteCacheNum {
		return
	}
	l.flushBuf()
}

func (l *Logger) flushBuf() {
	if len(l.WriteBuf) == 0 {
		return
	}
	_, _ = Output.Write(l.WriteBuf)
	if config.EnableFile {
		l.writeLogFile(l.WriteBuf)
	}
	l.WriteBuf = l.WriteBuf[0:0]
	l.WriteCacheNum = 0
}

func (l *Logger) openLogFile() (*os.File, error) {
	fileName := path.Join(config.FileDir, config.AppName+".log")
	return os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func (l *Logger) writeLogFile(logData []byte) {
	logFile := l.FileTagMap[""]
	if logFile == nil {
		file, err := l.openLogFile()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, string(red)+"open new log file error: %v\n"+string(reset), err)
			return
		}
		logFile = file
		l.FileTagMap[""] = logFile
	}
	fileStat, err := logFile.Stat()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, string(red)+"get log file stat error: %v\n"+string(reset), err)
		return
	}
	if fileStat.Size() >= int64(config.FileMaxSize) {
		err := logFile.Close()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, string(red)+"close old log file error: %v\n"+string(reset), err)
			return
		}
		timeStr := time.Now().Format("20060102150405")
		err = os.Rename(logFile.Name(), logFile.Name()+"."+timeStr)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, string(red)+"rename old log file error: %v\n"+string(reset), err)
			return
		}
		file, err := l.openLogFile()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, string(red)+"open new log file error: %v\n"+string(reset), err)
			return
		}
		logFile = file
		l.FileTagMap[""] = logFile
	}
	_, err = logFile.Write(logData)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, string(red)+"write log file error: %v\n"+string(reset), err)
		return
	}
}

var bufPool = sync.Pool{New: func() any { return new([]byte) }}

func getBuf() *[]byte {
	p := bufPool.Get().(*[]byte)
	*p = (*p)[0:0]
	return p
}

func putBuf(p *[]byte) {
	if cap(*p) > 64<<10 {
		*p = nil
	}
	bufPool.Put(p)
}

var logInfoPool = sync.Pool{New: func() any { return new(LogInfo) }}

func formatLog(cfg *Config, level int, msg string, param []any) {
	logInfo := logInfoPool.Get().(*LogInfo)
	logInfo.Time = time.Now()
	logInfo.Level = level
	buf := getBuf()
	*buf = fmt.Appendf(*buf, msg, param...)
	logInfo.Msg = buf
	logInfo.TrackLine = false
	logInfo.TrackThread = false
	if cfg.TrackLine {
		logInfo.FileName, logInfo.Line, logInfo.FuncName = getLineFunc()
		logInfo.TrackLine = true
	}
	if cfg.TrackThread {
		logInfo.GoroutineId = getGoroutineId()
		logInfo.ThreadId = getThreadId()
		logInfo.TrackThread = true
	}
	if logger == nil {
		fallbackLock.Lock()
		var logBuf bytes.Buffer
		formatLine(&logBuf, cfg, logInfo)
		_, _ = Output.Write(logBuf.Bytes())
		fallbackLock.Unlock()
		putBuf(logInfo.Msg)
		logInfoPool.Put(logInfo)
		return
	}
	logger.LogInfoChan <- logInfo
}

func current() *Config {
	if config == nil {
		return fallback
	}
	return config
}

func Debug(msg string, param ...any) {
	cfg := current()
	if cfg.Level > DEBUG {
		return
	}
	formatLog(cfg, DEBUG, msg, param)
}

func Info(msg string, param ...any) {
	cfg := current()
	if cfg.Level > INFO {
		return
	}
	formatLog(cfg, INFO, msg, param)
}

func Warn(msg string, param ...any) {
	cfg := current()
	if cfg.Level > WARN {
		return
	}
	formatLog(cfg, WARN, msg, param)
}

func Error(msg string, param ...any) {
	cfg := current()
	if cfg.Level > ERROR {
		return
	}
	formatLog(cfg, ERROR, msg, param)
}

func getGoroutineId() (goroutineId string) {
	buf := make([]byte, 32)
	runtime.Stack(buf, false)
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	goroutineId = string(buf)
	return goroutineId
}

func getLineFunc() (fileName string, line int, funcName string) {
	var pc uintptr
	var file string
	var ok bool
	pc, file, line, ok = runtime.Caller(3)
	if !ok {
		return "???", -1, "???"
	}
	fileName = path.Base(file)
	funcName = runtime.FuncForPC(pc).Name()
	split := strings.Split(funcName, ".")
	if len(split) != 0 {
		funcName = split[len(split)-1]
	}
	return fileName, line, funcName
}

func Stack() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

func getThreadId() string {
	tid := threadId()
	if tid < 0 {
		return "?"
	}
	return strconv.Itoa(tid)
}
