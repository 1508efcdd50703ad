package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/mediaarchive/internal/flagx"
	"github.com/dmitrijs2005/mediaarchive/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// It is filled from the current Config before decoding, so keys missing
// from the file keep their previous values.
type JsonConfig struct {
	DatabaseDSN           string         `json:"database_dsn"`
	S3RootUser            string         `json:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password"`
	S3Bucket              string         `json:"s3_bucket"`
	S3Region              string         `json:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint"`
	BlobBackend           string         `json:"blob_backend"`
	BlobRoot              string         `json:"blob_root"`
	IndexPath             string         `json:"index_path"`
	RedisAddr             string         `json:"redis_addr"`
	RedisPassword         string         `json:"redis_password"`
	RedisDB               int            `json:"redis_db"`
	StreamMaxLen          int64          `json:"stream_max_len"`
	LockBackend           string         `json:"lock_backend"`
	LockTTL               timex.Duration `json:"lock_ttl"`
	InspectionBackend     string         `json:"inspection_backend"`
	InspectionTimeout     timex.Duration `json:"inspection_timeout"`
	InspectionResultTTL   timex.Duration `json:"inspection_result_ttl"`
	FetchTimeout          timex.Duration `json:"fetch_timeout"`
	ChecksumType          string         `json:"checksum_type"`
	DeliveryMode          string         `json:"delivery_mode"`
	DeliveryBaseURL       string         `json:"delivery_base_url"`
	DeliverySecretKey     string         `json:"delivery_secret_key"`
	DeliveryTokenValidity timex.Duration `json:"delivery_token_validity"`
	SystemUserName        string         `json:"system_user_name"`
	LogLevel              string         `json:"log_level"`
	LogFormat             string         `json:"log_format"`
	PopulateIndex         bool           `json:"populate_index"`
}

func newJsonConfig(c *Config) *JsonConfig {
	return &JsonConfig{
		DatabaseDSN:           c.DatabaseDSN,
		S3RootUser:            c.S3RootUser,
		S3RootPassword:        c.S3RootPassword,
		S3Bucket:              c.S3Bucket,
		S3Region:              c.S3Region,
		S3BaseEndpoint:        c.S3BaseEndpoint,
		BlobBackend:           c.BlobBackend,
		BlobRoot:              c.BlobRoot,
		IndexPath:             c.IndexPath,
		RedisAddr:             c.RedisAddr,
		RedisPassword:         c.RedisPassword,
		RedisDB:               c.RedisDB,
		StreamMaxLen:          c.StreamMaxLen,
		LockBackend:           c.LockBackend,
		LockTTL:               timex.Duration{Duration: c.LockTTL},
		InspectionBackend:     c.InspectionBackend,
		InspectionTimeout:     timex.Duration{Duration: c.InspectionTimeout},
		InspectionResultTTL:   timex.Duration{Duration: c.InspectionResultTTL},
		FetchTimeout:          timex.Duration{Duration: c.FetchTimeout},
		ChecksumType:          c.ChecksumType,
		DeliveryMode:          c.DeliveryMode,
		DeliveryBaseURL:       c.DeliveryBaseURL,
		DeliverySecretKey:     c.DeliverySecretKey,
		DeliveryTokenValidity: timex.Duration{Duration: c.DeliveryTokenValidity},
		SystemUserName:        c.SystemUserName,
		LogLevel:              c.LogLevel,
		LogFormat:             c.LogFormat,
		PopulateIndex:         c.PopulateIndex,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.DatabaseDSN = j.DatabaseDSN
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.BlobBackend = j.BlobBackend
	c.BlobRoot = j.BlobRoot
	c.IndexPath = j.IndexPath
	c.RedisAddr = j.RedisAddr
	c.RedisPassword = j.RedisPassword
	c.RedisDB = j.RedisDB
	c.StreamMaxLen = j.StreamMaxLen
	c.LockBackend = j.LockBackend
	c.LockTTL = j.LockTTL.Duration
	c.InspectionBackend = j.InspectionBackend
	c.InspectionTimeout = j.InspectionTimeout.Duration
	c.InspectionResultTTL = j.InspectionResultTTL.Duration
	c.FetchTimeout = j.FetchTimeout.Duration
	c.ChecksumType = j.ChecksumType
	c.DeliveryMode = j.DeliveryMode
	c.DeliveryBaseURL = j.DeliveryBaseURL
	c.DeliverySecretKey = j.DeliverySecretKey
	c.DeliveryTokenValidity = j.DeliveryTokenValidity.Duration
	c.SystemUserName = j.SystemUserName
	c.LogLevel = j.LogLevel
	c.LogFormat = j.LogFormat
	c.PopulateIndex = j.PopulateIndex
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags. If it is
// not set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := newJsonConfig(config)
	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}
