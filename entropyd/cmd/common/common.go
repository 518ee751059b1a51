// Package common implements the common config and initialization bits
// shared by the entropyd commands.
package common

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/entropylabs/entropyd/common/logging"
)

const cfgConfigFile = "config"

// RootFlags has the flags that are common across all commands.
var RootFlags = flag.NewFlagSet("", flag.ContinueOnError)

var rootLog = logging.GetLogger("entropyd")

// Logger returns the top-level logger instance.
func Logger() *logging.Logger {
	return rootLog
}

// InitConfig initializes the config file, if one was specified.  Meant
// to be run via cobra.OnInitialize, before any command executes.
func InitConfig() {
	if cfgFile := viper.GetString(cfgConfigFile); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			EarlyLogAndExit(fmt.Errorf("failed to read config file: %w", err))
		}
	}
}

// Init performs the common initialization: for now that is bringing up
// the logging backend from the parsed configuration.
func Init() error {
	return initLogging()
}

// EarlyLogAndExit reports an error encountered before the logging
// backend was usable and terminates the process.
func EarlyLogAndExit(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func init() {
	RootFlags.String(cfgConfigFile, "", "config file")
	RootFlags.AddFlagSet(loggingFlags)

	_ = viper.BindPFlags(RootFlags)
}
