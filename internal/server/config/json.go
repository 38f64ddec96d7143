package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/flagx"
	"github.com/dmitrijs2005/sharekeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// Fields are pointers so that keys missing from the file leave the
// corresponding Config value untouched.
type JsonConfig struct {
	ListenAddr        *string         `json:"listen_addr"`
	DatabaseDSN       *string         `json:"database_dsn"`
	SecretKey         *string         `json:"secret_key"`
	HandshakeTTL      *timex.Duration `json:"handshake_ttl"`
	SessionTTL        *timex.Duration `json:"session_ttl"`
	MaxClockAhead     *timex.Duration `json:"max_clock_ahead"`
	MaxClockBehind    *timex.Duration `json:"max_clock_behind"`
	InviteValidity    *timex.Duration `json:"invite_validity"`
	S3RootUser        *string         `json:"s3_root_user"`
	S3RootPassword    *string         `json:"s3_root_password"`
	S3Bucket          *string         `json:"s3_bucket"`
	S3Region          *string         `json:"s3_region"`
	S3BaseEndpoint    *string         `json:"s3_base_endpoint"`
	PurgeInterval     *timex.Duration `json:"purge_interval"`
	ShutdownTimeout   *timex.Duration `json:"shutdown_timeout"`
	ReadTimeout       *timex.Duration `json:"read_timeout"`
	ReadHeaderTimeout *timex.Duration `json:"read_header_timeout"`
	WriteTimeout      *timex.Duration `json:"write_timeout"`
	LogLevel          *string         `json:"log_level"`
}

// parseJson loads configuration values from the JSON file named by the -c
// or -config flag into config. Without the flag nothing is loaded. If the
// file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.HandshakeTTL, c.HandshakeTTL)
	setDuration(&config.SessionTTL, c.SessionTTL)
	setDuration(&config.MaxClockAhead, c.MaxClockAhead)
	setDuration(&config.MaxClockBehind, c.MaxClockBehind)
	setDuration(&config.InviteValidity, c.InviteValidity)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDuration(&config.PurgeInterval, c.PurgeInterval)
	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)
	setDuration(&config.ReadTimeout, c.ReadTimeout)
	setDuration(&config.ReadHeaderTimeout, c.ReadHeaderTimeout)
	setDuration(&config.WriteTimeout, c.WriteTimeout)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
