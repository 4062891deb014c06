package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/beamup/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   database DSN
//	-driver     database driver (sqlite or pgx)
//	-access     remote access key
//	-secret     remote secret key
//	-p int      max simultaneous transfers
//	-w int      max wait for bucket creation (seconds)
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-driver", "-access", "-secret", "-p", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.DatabaseDriver, "driver", cfg.DatabaseDriver, "database driver (sqlite or pgx)")
	fs.StringVar(&cfg.AccessKey, "access", cfg.AccessKey, "remote access key")
	fs.StringVar(&cfg.SecretKey, "secret", cfg.SecretKey, "remote secret key")
	fs.IntVar(&cfg.MaxSimultaneous, "p", cfg.MaxSimultaneous, "max simultaneous transfers")
	maxBucketWait := fs.Int("w", int(cfg.MaxBucketWait.Seconds()), "max wait for bucket creation (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.MaxBucketWait = time.Duration(*maxBucketWait) * time.Second
}
