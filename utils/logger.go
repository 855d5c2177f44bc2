package utils

import (
	"log"
	"sync/atomic"
)

// Logger 简单日志封装
type Logger struct {
	debug atomic.Bool
}

// SetDebug 开关诊断日志（对应网关设置里的 debug 标志）
func (l *Logger) SetDebug(on bool) {
	l.debug.Store(on)
}

// Info 信息日志
func (l *Logger) Info(msg string, args ...interface{}) {
	log.Printf("[INFO] "+msg, args...)
}

// Warn 警告日志
func (l *Logger) Warn(msg string, args ...interface{}) {
	log.Printf("[WARN] "+msg, args...)
}

// Error 错误日志
func (l *Logger) Error(msg string, args ...interface{}) {
	log.Printf("[ERROR] "+msg, args...)
}

// Debug 诊断日志（仅 debug 开启时输出，内部错误细节只进这里，不回给客户）
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.debug.Load() {
		log.Printf("[DEBUG] "+msg, args...)
	}
}

var DefaultLogger = &Logger{}
