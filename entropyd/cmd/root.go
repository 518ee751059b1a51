// Package cmd implements the commands for the entropyd executable.
package cmd

import (
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	cmnBackoff "github.com/entropylabs/entropyd/common/backoff"
	"github.com/entropylabs/entropyd/common/logging"
	"github.com/entropylabs/entropyd/common/version"
	"github.com/entropylabs/entropyd/dispatch"
	"github.com/entropylabs/entropyd/entropy/engine"
	"github.com/entropylabs/entropyd/entropy/extfile"
	"github.com/entropylabs/entropyd/entropy/jitter"
	cmdCommon "github.com/entropylabs/entropyd/entropyd/cmd/common"
	"github.com/entropylabs/entropyd/entropyd/cmd/common/background"
	"github.com/entropylabs/entropyd/entropyd/cmd/common/metrics"
	"github.com/entropylabs/entropyd/entropyd/cmd/common/pprof"
	"github.com/entropylabs/entropyd/kernel/pool"
)

const (
	cfgDevice = "device"
	cfgSource = "source"

	// Boot-time device nodes can show up after the daemon, give a
	// configured external source a short grace period to appear.
	externalOpenGrace = 15 * time.Second
)

var (
	rootCmd = &cobra.Command{
		Use:     "entropyd",
		Short:   "Kernel entropy feeding daemon",
		Version: version.SoftwareVersion,
		Run:     runRoot,
	}

	rootFlags = flag.NewFlagSet("", flag.ContinueOnError)

	logger = logging.GetLogger("cmd")
)

// Execute spawns the main entry point after handling the command line
// arguments.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRoot(*cobra.Command, []string) {
	var startOk bool
	defer func() {
		if !startOk {
			os.Exit(1)
		}
	}()

	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	svcMgr := background.NewServiceManager(logger)
	defer svcMgr.Cleanup()

	// Bring up the entropy estimator first: a host without usable
	// timing jitter has no business running this daemon.
	jc, err := jitter.New()
	if err != nil {
		logger.Error("failed to initialize jitter collector",
			"err", err,
		)
		return
	}

	// The privileged pool handle, held for the process lifetime.
	p, err := pool.Open(viper.GetString(cfgDevice))
	if err != nil {
		logger.Error("failed to open random pool device",
			"err", err,
			"device", viper.GetString(cfgDevice),
		)
		_ = jc.Close()
		return
	}

	var ext *extfile.Source
	if path := viper.GetString(cfgSource); path != "" {
		if ext, err = openExternalSource(path); err != nil {
			logger.Error("failed to open external entropy source",
				"err", err,
				"source", path,
			)
			_ = jc.Close()
			_ = p.Close()
			return
		}
	}

	d, err := dispatch.New()
	if err != nil {
		logger.Error("failed to initialize dispatcher",
			"err", err,
		)
		_ = jc.Close()
		_ = p.Close()
		if ext != nil {
			_ = ext.Close()
		}
		return
	}
	defer func() { _ = d.Close() }()

	cfg := engine.Config{
		Pool:       p,
		Jitter:     jc,
		Dispatcher: d,
	}
	if ext != nil {
		cfg.External = ext
	}

	// The engine takes ownership of the handles from here on.
	eng, err := engine.New(cfg)
	if err != nil {
		logger.Error("failed to initialize entropy engine",
			"err", err,
		)
		_ = jc.Close()
		_ = p.Close()
		if ext != nil {
			_ = ext.Close()
		}
		return
	}
	svcMgr.Register(eng)

	metricsSvc, err := metrics.New(svcMgr.Ctx)
	if err != nil {
		logger.Error("failed to initialize metrics service",
			"err", err,
		)
		return
	}
	svcMgr.Register(metricsSvc)

	pprofSvc, err := pprof.New(svcMgr.Ctx)
	if err != nil {
		logger.Error("failed to initialize pprof service",
			"err", err,
		)
		return
	}
	svcMgr.Register(pprofSvc)

	for _, svc := range []struct {
		name string
		fn   func() error
	}{
		{"pprof", pprofSvc.Start},
		{"metrics", metricsSvc.Start},
		{"entropy engine", eng.Start},
	} {
		if err = svc.fn(); err != nil {
			logger.Error("failed to start service",
				"err", err,
				"service", svc.name,
			)
			return
		}
	}

	logger.Info("started",
		"version", version.SoftwareVersion,
	)

	startOk = true
	svcMgr.Wait()
}

// openExternalSource opens the configured external source, retrying
// with capped backoff while the node does not exist yet.
func openExternalSource(path string) (*extfile.Source, error) {
	var src *extfile.Source
	op := func() error {
		s, err := extfile.Open(path)
		switch {
		case err == nil:
			src = s
			return nil
		case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	if err := backoff.Retry(op, cmnBackoff.NewCappedExponentialBackOff(externalOpenGrace)); err != nil {
		return nil, err
	}

	return src, nil
}

func init() {
	rootFlags.String(cfgDevice, pool.DevRandom, "kernel random pool device")
	rootFlags.StringP(cfgSource, "s", "", "external entropy source (device node or named pipe)")
	_ = viper.BindPFlags(rootFlags)

	rootCmd.PersistentFlags().AddFlagSet(cmdCommon.RootFlags)
	rootCmd.Flags().AddFlagSet(rootFlags)
	rootCmd.Flags().AddFlagSet(metrics.Flags)
	rootCmd.Flags().AddFlagSet(pprof.Flags)

	cobra.OnInitialize(cmdCommon.InitConfig)

	registerStatusCmd(rootCmd)
}
