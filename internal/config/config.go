package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Sessions
	SessionDefaultDuration time.Duration
	SessionMaxDuration     time.Duration
	SessionIdleTimeout     time.Duration
	SessionCapacity        int
	SweepInterval          time.Duration

	// Backups
	BackupDir      string
	MaxBackupSize  int64 // bytes; applies to files only
	AutoBackup     bool
	RequireConfirm bool

	// Command safety. Overrides the built-in critical pattern table
	// when set (comma-separated).
	DangerousPatterns []string

	// Remote defaults
	ConnectTimeout time.Duration
	ExecTimeout    time.Duration
}

func Load() *Config {
	defaultMinutes, _ := strconv.Atoi(getEnv("SESSION_DEFAULT_MINUTES", "30"))
	maxMinutes, _ := strconv.Atoi(getEnv("SESSION_MAX_MINUTES", "120"))
	idleMinutes, _ := strconv.Atoi(getEnv("SESSION_IDLE_MINUTES", "10"))
	capacity, _ := strconv.Atoi(getEnv("SESSION_CAPACITY", "20"))
	sweepSeconds, _ := strconv.Atoi(getEnv("SWEEP_INTERVAL_SECONDS", "60"))
	backupMB, _ := strconv.Atoi(getEnv("MAX_BACKUP_SIZE_MB", "100"))
	connectSeconds, _ := strconv.Atoi(getEnv("CONNECT_TIMEOUT_SECONDS", "30"))
	execSeconds, _ := strconv.Atoi(getEnv("REMOTE_EXEC_TIMEOUT_SECONDS", "30"))

	var dangerous []string
	if raw := getEnv("DANGEROUS_COMMANDS", ""); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				dangerous = append(dangerous, p)
			}
		}
	}

	return &Config{
		Port:                   getEnv("PORT", "8090"),
		DBHost:                 getEnv("DB_HOST", "localhost"),
		DBPort:                 getEnv("DB_PORT", "5432"),
		DBUser:                 getEnv("DB_USER", "postgres"),
		DBPassword:             getEnv("DB_PASSWORD", ""),
		DBName:                 getEnv("DB_NAME", "coreastra_db"),
		DBSSLMode:              getEnv("DB_SSLMODE", "disable"),
		SessionDefaultDuration: time.Duration(defaultMinutes) * time.Minute,
		SessionMaxDuration:     time.Duration(maxMinutes) * time.Minute,
		SessionIdleTimeout:     time.Duration(idleMinutes) * time.Minute,
		SessionCapacity:        capacity,
		SweepInterval:          time.Duration(sweepSeconds) * time.Second,
		BackupDir:              getEnv("BACKUP_DIR", "./backups"),
		MaxBackupSize:          int64(backupMB) * 1024 * 1024,
		AutoBackup:             getEnv("AUTO_BACKUP_ENABLED", "true") == "true",
		RequireConfirm:         getEnv("REQUIRE_CONFIRMATION_FOR_RISKY", "true") == "true",
		DangerousPatterns:      dangerous,
		ConnectTimeout:         time.Duration(connectSeconds) * time.Second,
		ExecTimeout:            time.Duration(execSeconds) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
