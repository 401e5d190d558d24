package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RegistryFile     string
	APIPort          string
	LogLevel         string
	LogFormat        string
	DatabaseURL      string        // 为空时不落库
	RPCTimeout       time.Duration // 单次端点尝试超时
	PoolDialTimeout  time.Duration
	LivenessInterval time.Duration
	SweepInterval    time.Duration
	StopGrace        time.Duration
	OutputLines      int
	MinerPaths       []string // 按顺序查找的矿工可执行文件路径
	EndpointRPS      float64
	EventBuffer      int
	OrderPolicy      string
}

func Load() *Config {
	_ = godotenv.Load() // .env文件是可选的

	return &Config{
		RegistryFile:     getEnv("REGISTRY_FILE", "registry.yaml"),
		APIPort:          getEnv("API_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RPCTimeout:       getEnvAsSeconds("RPC_TIMEOUT_SECONDS", 10),
		PoolDialTimeout:  getEnvAsSeconds("POOL_DIAL_TIMEOUT_SECONDS", 5),
		LivenessInterval: getEnvAsSeconds("LIVENESS_INTERVAL_SECONDS", 30),
		SweepInterval:    getEnvAsSeconds("SWEEP_INTERVAL_SECONDS", 60),
		StopGrace:        getEnvAsSeconds("STOP_GRACE_SECONDS", 5),
		OutputLines:      int(getEnvAsInt64("OUTPUT_BUFFER_LINES", 200)),
		MinerPaths:       getEnvAsList("MINER_PATHS"),
		EndpointRPS:      getEnvAsFloat("ENDPOINT_RPS", 0),
		EventBuffer:      int(getEnvAsInt64("EVENT_BUFFER", 256)),
		OrderPolicy:      getEnvAsChoice("ORDER_POLICY", "ordered", "ordered", "health"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSeconds(key string, defaultSeconds int64) time.Duration {
	return time.Duration(getEnvAsInt64(key, defaultSeconds)) * time.Second
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil || value < 0 {
		log.Printf("Invalid %s: %s, using default %g", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsList 解析逗号分隔列表，空项会被跳过
func getEnvAsList(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsChoice 大小写不敏感地匹配允许值，未知值告警并回退到默认值
func getEnvAsChoice(key, defaultValue string, allowed ...string) string {
	valueStr := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if valueStr == "" {
		return defaultValue
	}
	for _, a := range allowed {
		if valueStr == a {
			return a
		}
	}
	log.Printf("Invalid %s: %s (allowed: %s), using default %s", key, os.Getenv(key), strings.Join(allowed, ", "), defaultValue)
	return defaultValue
}
