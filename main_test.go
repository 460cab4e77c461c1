package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level   string
		slowLog bool
		want    gormlogger.LogLevel
	}{
		{"debug", false, gormlogger.Info},
		{"DEBUG", true, gormlogger.Info},
		{"info", true, gormlogger.Warn},
		{"info", false, gormlogger.Error},
		{"warn", true, gormlogger.Warn},
		{"error", true, gormlogger.Error},
		{"silent", true, gormlogger.Silent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gormLogLevel(tt.level, tt.slowLog), tt.level)
	}
}
