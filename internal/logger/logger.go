package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"whiteboard-backend/internal/config"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// New 설정에 맞는 루트 로거 생성 (전역 zerolog 로거도 함께 교체)
func New(cfg config.LogConfig) zerolog.Logger {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	l := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	log.Logger = l
	return l
}

// ParseLevel 알 수 없는 값은 info 로 처리
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// PrintfWriter Printf 형태의 로거를 요구하는 라이브러리(gorm, cron)용 어댑터
type PrintfWriter struct {
	l     zerolog.Logger
	level zerolog.Level
}

// Printf 지정된 레벨로 한 줄 기록
func (w PrintfWriter) Printf(format string, args ...interface{}) {
	w.l.WithLevel(w.level).Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Writer component 필드를 붙인 PrintfWriter 생성
func Writer(l zerolog.Logger, component string, level zerolog.Level) PrintfWriter {
	return PrintfWriter{
		l:     l.With().Str("component", component).Logger(),
		level: level,
	}
}
