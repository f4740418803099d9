package cmd

import (
	"os"

	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/config"
	"github.com/sarchlab/vmswap/kern"
	"github.com/sarchlab/vmswap/loader"
	"github.com/sarchlab/vmswap/monitoring"
	"github.com/sarchlab/vmswap/recording"
	"github.com/sarchlab/vmswap/workload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [executable]",
	Short: "Run an ELF executable or a synthetic workload.",
	Long: "`run prog.elf` loads the executable, runs its entry point and " +
		"reads its pages. Without an executable, `run` starts programs " +
		"that fill, fork and check their memory.",
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.Int("procs", 4, "Number of programs that run at the same time.")
	f.Int("pages", 32, "Number of data pages each program touches.")
	f.Int("rounds", 2, "Number of times each program rewrites its pages.")
	f.Bool("fork", true, "Fork a child after every round.")
	f.Bool("monitor", false, "Serve the state of the kernel over HTTP.")
	f.Bool("open", false, "Open the monitor in a browser.")
	f.Bool("wait", false, "Keep the monitor running after the run.")
	f.String("record", "", "Record events into this SQLite file.")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if record, _ := flags.GetString("record"); record != "" {
		cfg.Record = record
	}

	log := logrus.StandardLogger()
	counter := recording.NewCounter()
	builder := kern.MakeBuilder().
		WithConfig(cfg).
		WithLogger(log).
		WithHook(counter)

	var exec *recording.ExecRecorder
	if cfg.Record != "" {
		recorder := recording.New(cfg.Record)
		defer recorder.Close()

		builder = builder.WithHook(recording.NewEventRecorder(recorder))
		exec = recording.NewExecRecorder(recorder)
		exec.Start()
	}

	k, err := builder.Build()
	if err != nil {
		return err
	}
	defer k.Shutdown()

	m, err := startMonitor(cmd, cfg, k, counter)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		err = runExecutable(k, args[0], log)
	} else {
		err = runWorkload(cmd, k, m, log)
	}

	if exec != nil {
		exec.End()
	}

	log.WithFields(logrus.Fields{
		"evictions": k.Frames.Stats().Evictions,
		"events":    counter.Counts(),
	}).Info("run finished")

	if wait, _ := cmd.Flags().GetBool("wait"); wait && m != nil && err == nil {
		select {}
	}

	return err
}

func startMonitor(
	cmd *cobra.Command,
	cfg config.Config,
	k *kern.Kernel,
	counter *recording.Counter,
) (*monitoring.Monitor, error) {
	enabled, _ := cmd.Flags().GetBool("monitor")
	if !enabled {
		return nil, nil
	}

	m := monitoring.NewMonitor().WithPortNumber(cfg.MonitorPort)
	m.RegisterKernel(k)
	m.RegisterCounter(counter)

	url, err := m.StartServer()
	if err != nil {
		return nil, errors.Wrap(err, "start monitor")
	}

	if open, _ := cmd.Flags().GetBool("open"); open {
		if err := browser.OpenURL(url); err != nil {
			logrus.WithError(err).Warn("cannot open browser")
		}
	}

	return m, nil
}

func runExecutable(k *kern.Kernel, path string, log logrus.FieldLogger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := loader.Parse(f)
	if err != nil {
		return errors.Wrap(err, path)
	}

	return workload.RunImage(k, img, log)
}

func runWorkload(
	cmd *cobra.Command,
	k *kern.Kernel,
	m *monitoring.Monitor,
	log logrus.FieldLogger,
) error {
	flags := cmd.Flags()

	opt := workload.Options{}
	opt.Processes, _ = flags.GetInt("procs")
	opt.Pages, _ = flags.GetInt("pages")
	opt.Rounds, _ = flags.GetInt("rounds")
	opt.Fork, _ = flags.GetBool("fork")

	var bar workload.Progress
	if m != nil {
		pb := m.CreateProgressBar("workload", workload.Steps(opt))
		defer m.CompleteProgressBar(pb)

		bar = pb
	}

	res, err := workload.Run(k, opt, bar, log)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"spawned": res.Spawned,
		"forked":  res.Forked,
		"checked": res.Checked,
	}).Info("workload passed")

	return nil
}
