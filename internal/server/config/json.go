package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/archivekeeper/internal/flagx"
	"github.com/dmitrijs2005/archivekeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Interval
// fields use timex.Duration so both "5m" and integer nanoseconds parse.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	MetricsAddr      string `json:"metrics_addr"`
	DatabaseDSN      string `json:"database_dsn"`
	LogLevel         string `json:"log_level"`

	MasterKey string `json:"master_key"`

	AccessTokenSecret    string `json:"access_token_secret"`
	RefreshTokenSecret   string `json:"refresh_token_secret"`
	AccessTokenLifetime  string `json:"access_token_lifetime"`
	RefreshTokenLifetime string `json:"refresh_token_lifetime"`
	TokenIssuer          string `json:"token_issuer"`
	TokenAudience        string `json:"token_audience"`

	MaxConcurrentSessions int            `json:"max_concurrent_sessions"`
	LockoutMaxAttempts    int            `json:"lockout_max_attempts"`
	LockoutDuration       timex.Duration `json:"lockout_duration"`

	EmailVerificationTTL timex.Duration `json:"email_verification_ttl"`
	PasswordResetTTL     timex.Duration `json:"password_reset_ttl"`

	PasswordMinLength     int  `json:"password_min_length"`
	PasswordRequireUpper  bool `json:"password_require_upper"`
	PasswordRequireLower  bool `json:"password_require_lower"`
	PasswordRequireDigit  bool `json:"password_require_digit"`
	PasswordRequireSymbol bool `json:"password_require_symbol"`

	Argon2MemoryKiB uint32 `json:"argon2_memory_kib"`
	Argon2Time      uint32 `json:"argon2_time"`
	Argon2Threads   uint8  `json:"argon2_threads"`

	SweepInterval  timex.Duration `json:"sweep_interval"`
	UsageQueueSize int            `json:"usage_queue_size"`
	PresignTTL     timex.Duration `json:"presign_ttl"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:      c.EndpointAddrGRPC,
		MetricsAddr:           c.MetricsAddr,
		DatabaseDSN:           c.DatabaseDSN,
		LogLevel:              c.LogLevel,
		MasterKey:             c.MasterKey,
		AccessTokenSecret:     c.AccessTokenSecret,
		RefreshTokenSecret:    c.RefreshTokenSecret,
		AccessTokenLifetime:   c.AccessTokenLifetime,
		RefreshTokenLifetime:  c.RefreshTokenLifetime,
		TokenIssuer:           c.TokenIssuer,
		TokenAudience:         c.TokenAudience,
		MaxConcurrentSessions: c.MaxConcurrentSessions,
		LockoutMaxAttempts:    c.LockoutMaxAttempts,
		LockoutDuration:       timex.Duration{Duration: c.LockoutDuration},
		EmailVerificationTTL:  timex.Duration{Duration: c.EmailVerificationTTL},
		PasswordResetTTL:      timex.Duration{Duration: c.PasswordResetTTL},
		PasswordMinLength:     c.PasswordMinLength,
		PasswordRequireUpper:  c.PasswordRequireUpper,
		PasswordRequireLower:  c.PasswordRequireLower,
		PasswordRequireDigit:  c.PasswordRequireDigit,
		PasswordRequireSymbol: c.PasswordRequireSymbol,
		Argon2MemoryKiB:       c.Argon2MemoryKiB,
		Argon2Time:            c.Argon2Time,
		Argon2Threads:         c.Argon2Threads,
		SweepInterval:         timex.Duration{Duration: c.SweepInterval},
		UsageQueueSize:        c.UsageQueueSize,
		PresignTTL:            timex.Duration{Duration: c.PresignTTL},
		S3RootUser:            c.S3RootUser,
		S3RootPassword:        c.S3RootPassword,
		S3Bucket:              c.S3Bucket,
		S3Region:              c.S3Region,
		S3BaseEndpoint:        c.S3BaseEndpoint,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.MetricsAddr = j.MetricsAddr
	c.DatabaseDSN = j.DatabaseDSN
	c.LogLevel = j.LogLevel
	c.MasterKey = j.MasterKey
	c.AccessTokenSecret = j.AccessTokenSecret
	c.RefreshTokenSecret = j.RefreshTokenSecret
	c.AccessTokenLifetime = j.AccessTokenLifetime
	c.RefreshTokenLifetime = j.RefreshTokenLifetime
	c.TokenIssuer = j.TokenIssuer
	c.TokenAudience = j.TokenAudience
	c.MaxConcurrentSessions = j.MaxConcurrentSessions
	c.LockoutMaxAttempts = j.LockoutMaxAttempts
	c.LockoutDuration = j.LockoutDuration.Duration
	c.EmailVerificationTTL = j.EmailVerificationTTL.Duration
	c.PasswordResetTTL = j.PasswordResetTTL.Duration
	c.PasswordMinLength = j.PasswordMinLength
	c.PasswordRequireUpper = j.PasswordRequireUpper
	c.PasswordRequireLower = j.PasswordRequireLower
	c.PasswordRequireDigit = j.PasswordRequireDigit
	c.PasswordRequireSymbol = j.PasswordRequireSymbol
	c.Argon2MemoryKiB = j.Argon2MemoryKiB
	c.Argon2Time = j.Argon2Time
	c.Argon2Threads = j.Argon2Threads
	c.SweepInterval = j.SweepInterval.Duration
	c.UsageQueueSize = j.UsageQueueSize
	c.PresignTTL = j.PresignTTL.Duration
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
}

// parseJson overlays values from the JSON file named by -c/-config onto
// config. Keys absent from the file keep their current values. An
// unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}
	c.apply(config)
}
