package common

import (
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/entropylabs/entropyd/common/logging"
)

const (
	cfgLogFile   = "log.file"
	cfgLogFmt    = "log.format"
	cfgLogLevel  = "log.level"
	cfgLogStdout = "log.stdout"
	cfgDebug     = "debug"
)

var loggingFlags = flag.NewFlagSet("", flag.ContinueOnError)

func initLogging() error {
	var logLevel logging.Level
	if err := logLevel.Set(viper.GetString(cfgLogLevel)); err != nil {
		return err
	}
	if viper.GetBool(cfgDebug) {
		logLevel = logging.LevelDebug
	}

	var logFmt logging.Format
	if err := logFmt.Set(viper.GetString(cfgLogFmt)); err != nil {
		return err
	}

	moduleLevels := map[string]logging.Level{}
	for k, v := range viper.GetStringMapString(cfgLogLevel + ".module") {
		var lvl logging.Level
		if err := lvl.Set(v); err != nil {
			return err
		}
		moduleLevels[k] = lvl
	}

	// Default sink is the kernel ring buffer, the way a boot-time
	// daemon is expected to log.  -S or a log file override it.
	var w io.Writer
	switch {
	case viper.GetString(cfgLogFile) != "":
		var err error
		if w, err = os.OpenFile(viper.GetString(cfgLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
			return err
		}
	case viper.GetBool(cfgLogStdout):
		w = os.Stdout
	default:
		var err error
		if w, err = logging.NewKmsgWriter("entropyd"); err != nil {
			// Unprivileged runs (tests, --help exploration) still
			// deserve log output.
			w = os.Stderr
		}
	}

	return logging.Initialize(w, logFmt, logLevel, moduleLevels)
}

func init() {
	logFmt := logging.FmtLogfmt
	logLevel := logging.LevelInfo

	loggingFlags.String(cfgLogFile, "", "log file")
	loggingFlags.Var(&logFmt, cfgLogFmt, "log format")
	loggingFlags.Var(&logLevel, cfgLogLevel, "log level")
	loggingFlags.BoolP(cfgLogStdout, "S", false, "log to stdout instead of the kernel ring buffer")
	loggingFlags.BoolP(cfgDebug, "d", false, "enable debug messages")

	_ = viper.BindPFlags(loggingFlags)
}
