package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment variables that override flags.
const EnvPrefix = "QAMLAB_"

// EnvName returns the variable that overrides a flag: QAMLAB_SAMPLE_RATE
// for --sample-rate.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.Replace(flag, "-", "_", -1))
}

// EnvOverride sets every flag not given on the command line from its
// environment variable, if present. A malformed value leaves the flag at its
// previous value and is reported in the returned error.
func EnvOverride(fs *pflag.FlagSet, log logrus.FieldLogger) error {
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envName := EnvName(f.Name)
		flagValue := os.Getenv(envName)
		if flagValue == "" {
			return
		}
		// pflag stores the parsed zero value before reporting a parse error.
		prev := f.Value.String()
		if err := fs.Set(f.Name, flagValue); err != nil {
			if rerr := f.Value.Set(prev); rerr != nil {
				log.WithError(rerr).WithField("flag", f.Name).Error("failed to restore flag")
			}
			log.WithFields(logrus.Fields{"env": envName, "flag": f.Name, "value": flagValue}).
				WithError(err).Warn("environment variable failed to override flag")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "%s=%q", envName, flagValue)
			}
			return
		}
		log.WithFields(logrus.Fields{"env": envName, "flag": f.Name, "value": flagValue}).
			Debug("environment variable overrides flag")
	})
	return firstErr
}
