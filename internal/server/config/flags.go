package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/flagx"
)

var (
	allowedFlags = []string{
		"-a", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e", "-i", "-r", "-k", "-l", "-f", "-P",
		"-blob", "-blob-root", "-lock", "-lock-ttl", "-inspection", "-inspection-timeout",
		"-delivery", "-redis-password", "-redis-db", "-system-user",
	}
	boolFlags = []string{"-P"}
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   delivery base URL
//	-d string   PostgreSQL DSN
//	-s string   delivery token secret key
//	-t int      delivery token validity, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-i string   index directory (empty = in memory)
//	-r string   Redis address (empty = no Redis)
//	-k string   checksum type for missing checksums
//	-l string   log level
//	-f string   log format (json or console)
//	-P          populate an empty index on start
//	-blob, -blob-root, -lock, -lock-ttl, -inspection, -inspection-timeout,
//	-delivery, -redis-password, -redis-db, -system-user
//
// The function first filters os.Args to the flags it recognizes using
// flagx.FilterArgs, so -c/-config and foreign flags are ignored.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], allowedFlags, boolFlags...)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DeliveryBaseURL, "a", config.DeliveryBaseURL, "delivery base URL")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DeliverySecretKey, "s", config.DeliverySecretKey, "delivery token secret key")
	tokenValidity := fs.Int("t", int(config.DeliveryTokenValidity.Minutes()), "delivery token validity (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.IndexPath, "i", config.IndexPath, "index directory")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.ChecksumType, "k", config.ChecksumType, "checksum type")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")
	fs.BoolVar(&config.PopulateIndex, "P", config.PopulateIndex, "populate empty index on start")

	fs.StringVar(&config.BlobBackend, "blob", config.BlobBackend, "blob backend (s3|fs)")
	fs.StringVar(&config.BlobRoot, "blob-root", config.BlobRoot, "fs blob root")
	fs.StringVar(&config.LockBackend, "lock", config.LockBackend, "lock backend (local|redis)")
	fs.DurationVar(&config.LockTTL, "lock-ttl", config.LockTTL, "redis lock ttl")
	fs.StringVar(&config.InspectionBackend, "inspection", config.InspectionBackend, "inspection backend (local|redis)")
	fs.DurationVar(&config.InspectionTimeout, "inspection-timeout", config.InspectionTimeout, "inspection job timeout")
	fs.StringVar(&config.DeliveryMode, "delivery", config.DeliveryMode, "delivery mode (base|signed|presign)")
	fs.StringVar(&config.RedisPassword, "redis-password", config.RedisPassword, "redis password")
	fs.IntVar(&config.RedisDB, "redis-db", config.RedisDB, "redis database")
	fs.StringVar(&config.SystemUserName, "system-user", config.SystemUserName, "system user name")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DeliveryTokenValidity = time.Duration(*tokenValidity) * time.Minute
}
