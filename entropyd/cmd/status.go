package cmd

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/procfs"
	"github.com/spf13/cobra"

	cmdCommon "github.com/entropylabs/entropyd/entropyd/cmd/common"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the kernel random pool status",
	Run:   doStatus,
}

func doStatus(*cobra.Command, []string) {
	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Error("failed to open procfs",
			"err", err,
		)
		os.Exit(1)
	}

	kr, err := fs.KernelRandom()
	if err != nil {
		logger.Error("failed to read kernel random pool status",
			"err", err,
		)
		os.Exit(1)
	}

	fmtVal := func(v *uint64) string {
		if v == nil {
			return "unknown"
		}
		return strconv.FormatUint(*v, 10)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Parameter", "Value"})
	table.AppendBulk([][]string{
		{"entropy_avail (bits)", fmtVal(kr.EntropyAvaliable)},
		{"poolsize (bits)", fmtVal(kr.PoolSize)},
		{"urandom_min_reseed_secs", fmtVal(kr.URandomMinReseedSeconds)},
		{"write_wakeup_threshold (bits)", fmtVal(kr.WriteWakeupThreshold)},
		{"read_wakeup_threshold (bits)", fmtVal(kr.ReadWakeupThreshold)},
	})
	table.Render()
}

func registerStatusCmd(parentCmd *cobra.Command) {
	parentCmd.AddCommand(statusCmd)
}
