package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// 지원하는 저장소 드라이버
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverS3       = "s3"
	DriverMemory   = "memory"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Board     BoardConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	S3        S3Config
	Auth      AuthConfig
	CORS      CORSConfig
	Log       LogConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	SendQueueSize    int // 연결당 송신 큐 크기
}

// BoardConfig 보드 세션 엔진 설정
type BoardConfig struct {
	AutosaveInterval time.Duration
	SaveTimeout      time.Duration
	LoadTimeout      time.Duration
	MaxObjects       int
	FormatVersion    string
	CursorRate       float64 // 참가자당 초당 커서/드로잉 이벤트
	CursorBurst      int
}

// StoreConfig 영속 저장소 선택
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

// DatabaseConfig PostgreSQL 설정
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	TimeZone     string
	MaxIdleConns int
	MaxOpenConns int
}

// DSN PostgreSQL 연결 문자열
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone,
	)
}

// RedisConfig Redis 설정 (Addr 가 비어 있으면 비활성화)
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	SnapshotTTL time.Duration
	KeyPrefix   string
}

// Enabled Redis 사용 여부
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// S3Config AWS S3 설정
type S3Config struct {
	Region          string
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Endpoint        string // MinIO 등 S3 호환 스토리지
}

// AuthConfig 인증 설정 (JWTSecret 이 비어 있으면 모두 게스트로 처리)
type AuthConfig struct {
	JWTSecret string
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// LogConfig 로깅 설정
type LogConfig struct {
	Level   string
	Console bool
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			PingInterval:     getDuration("WS_PING_INTERVAL", 25*time.Second),
			PongWait:         getDuration("WS_PONG_WAIT", 60*time.Second),
			MaxMessageSize:   int64(getInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
			SendQueueSize:    getInt("WS_SEND_QUEUE_SIZE", 256),
		},
		Board: BoardConfig{
			AutosaveInterval: getDuration("BOARD_AUTOSAVE_INTERVAL", 5*time.Minute),
			SaveTimeout:      getDuration("BOARD_SAVE_TIMEOUT", 10*time.Second),
			LoadTimeout:      getDuration("BOARD_LOAD_TIMEOUT", 10*time.Second),
			MaxObjects:       getInt("BOARD_MAX_OBJECTS", 10000),
			FormatVersion:    getEnv("BOARD_FORMAT_VERSION", "5.3.0"),
			CursorRate:       getFloat("BOARD_CURSOR_RATE", 30),
			CursorBurst:      getInt("BOARD_CURSOR_BURST", 5),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "./data/whiteboard.db"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			DBName:       getEnv("DB_NAME", "postgres"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			TimeZone:     getEnv("DB_TIMEZONE", "Asia/Seoul"),
			MaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 50),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getInt("REDIS_DB", 0),
			SnapshotTTL: getDuration("REDIS_SNAPSHOT_TTL", 24*time.Hour),
			KeyPrefix:   getEnv("REDIS_KEY_PREFIX", "whiteboard"),
		},
		S3: S3Config{
			Region:          getEnv("AWS_REGION", "ap-northeast-2"),
			BucketName:      getEnv("AWS_S3_BUCKET", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("S3_BOARD_PREFIX", "boards"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Log: LogConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Console: getBool("LOG_CONSOLE", true),
		},
	}
}

// Validate 부팅 전에 잘못된 설정을 걸러냄
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverPostgres, DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverS3:
		if c.S3.BucketName == "" {
			errs = append(errs, errors.New("AWS_S3_BUCKET is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	if c.Board.AutosaveInterval <= 0 {
		errs = append(errs, errors.New("BOARD_AUTOSAVE_INTERVAL must be positive"))
	}
	if c.Board.SaveTimeout <= 0 {
		errs = append(errs, errors.New("BOARD_SAVE_TIMEOUT must be positive"))
	}
	if c.Board.MaxObjects <= 0 {
		errs = append(errs, errors.New("BOARD_MAX_OBJECTS must be positive"))
	}
	if c.WebSocket.SendQueueSize <= 0 {
		errs = append(errs, errors.New("WS_SEND_QUEUE_SIZE must be positive"))
	}
	if c.Auth.JWTSecret == "change-this-secret-in-production" {
		errs = append(errs, errors.New("JWT_SECRET must be changed from default value"))
	}

	return errors.Join(errs...)
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getFloat 실수형 환경 변수 조회
func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
