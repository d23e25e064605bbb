package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/archivekeeper/internal/flagx"
)

var serverFlags = []string{
	"-a", "-m", "-d", "-k", "-s", "-r", "-t", "-l", "-i", "-v",
	"-u", "-p", "-b", "-g", "-e",
}

// FlagNames lists every configuration flag that takes a value, including
// the config file flags.
func FlagNames() []string {
	names := append([]string{"-c", "-config"}, serverFlags...)
	return names
}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-m string     metrics bind address
//	-d string     PostgreSQL DSN
//	-k string     envelope master key
//	-s string     access token signing secret
//	-r string     refresh token signing secret
//	-t string     access token lifetime ("15m")
//	-l string     refresh token lifetime ("7d")
//	-i duration   expiry sweep interval ("5m")
//	-v string     log level
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// os.Args is first filtered with flagx.FilterArgs so flags owned by other
// components do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port for the metrics endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MasterKey, "k", config.MasterKey, "envelope master key")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret")
	fs.StringVar(&config.RefreshTokenSecret, "r", config.RefreshTokenSecret, "refresh token secret")
	fs.StringVar(&config.AccessTokenLifetime, "t", config.AccessTokenLifetime, "access token lifetime (e.g. 15m)")
	fs.StringVar(&config.RefreshTokenLifetime, "l", config.RefreshTokenLifetime, "refresh token lifetime (e.g. 7d)")
	fs.DurationVar(&config.SweepInterval, "i", config.SweepInterval, "grant expiry sweep interval")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
