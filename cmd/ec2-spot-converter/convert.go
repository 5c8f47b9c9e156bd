package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ec2-spot-converter/pkg/cloudapi"
	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/engine"
	"github.com/cuemby/ec2-spot-converter/pkg/log"
	"github.com/cuemby/ec2-spot-converter/pkg/registry"
	"github.com/cuemby/ec2-spot-converter/pkg/store"
)

var cfg = config.New()

var (
	flagConfigFile      string
	flagListSteps       bool
	flagResetStep       string
	flagLocalStateDir   string
	flagMetricsAddr     string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a single EC2 instance's billing model",
	Long: `convert walks the named instance through the full step registry,
resuming from whatever Conversion Record already exists for it. Re-running
with the same --instance-id after a partial failure picks up where the last
completed step left off.`,
	RunE: runConvert,
}

func init() {
	flags := convertCmd.Flags()

	flags.StringVar(&cfg.InstanceID, "instance-id", "", "ID of the instance to convert (required)")
	flags.StringVar((*string)(&cfg.TargetBillingModel), "target-billing-model", string(config.BillingModelSpot), "Target billing model: spot or on-demand")
	flags.StringVar(&cfg.TargetInstanceType, "target-instance-type", "", "Target instance type (default: keep current type)")
	flags.BoolVar(&cfg.IgnoreUserData, "ignore-userdata", false, "Do not carry the original instance's user data forward")
	flags.BoolVar(&cfg.IgnoreHibernationOptions, "ignore-hibernation-options", false, "Do not carry hibernation options forward")
	flags.StringVar(&cfg.CPUOptions, "cpu-options", "", `CPU options override: a JSON object, or "ignore" to suppress carry-forward`)
	flags.Float64Var(&cfg.MaxSpotPrice, "max-spot-price", 0, "Maximum spot price (spot target only; default: the original spot request's price when the instance type is unchanged, otherwise none is set)")
	flags.StringVar(&cfg.VolumeKMSKeyID, "volume-kms-key-id", "", "KMS key id used to encrypt the new instance's unencrypted AMI volumes")
	flags.BoolVar(&cfg.StopInstance, "stop-instance", false, "Stop the instance first instead of requiring it already stopped")
	flags.BoolVar(&cfg.RebootIfNeeded, "reboot-if-needed", false, "Reboot the new instance if a volume had to be reattached post-boot")
	flags.StringSliceVar(&cfg.UpdateCWAlarms, "update-cw-alarms", nil, "CloudWatch alarm name prefixes to repoint at the new instance (\"*\" for all)")
	flags.BoolVar(&cfg.DeleteAMI, "delete-ami", false, "Deregister the intermediate AMI and delete its snapshots on completion")
	flags.StringSliceVar(&cfg.CheckTargetGroups, "check-targetgroups", nil, "Target group ARNs to migrate registration for (\"*\" for all)")
	flags.StringSliceVar(&cfg.WaitForTGStates, "wait-for-tg-states", config.DefaultWaitForTGStates, "Target-group health states to wait for after registration")
	flags.BoolVar(&cfg.DoNotRequireStoppedInstance, "do-not-require-stopped-instance", false, "Do not stop a running instance; the stop-instance step records FailedStop and proceeds")
	flags.StringVar(&cfg.DynamoDBTableName, "dynamodb-tablename", config.DefaultDynamoDBTableName, "DynamoDB table name for the state store")
	flags.BoolVar(&cfg.GenerateDynamoDBTable, "generate-dynamodb-table", false, "Create the DynamoDB state table if it does not already exist")
	flags.BoolVar(&cfg.Force, "force", false, "Convert even when the instance is already in the target billing model")
	flags.BoolVar(&cfg.DoNotPauseOnMajorWarnings, "do-not-pause-on-major-warnings", false, "Do not pause for operator confirmation on major warnings")
	flags.StringVar(&flagResetStep, "reset-step", "", "Rewind the conversion to the named or numbered step and exit (1 deletes all state)")
	flags.BoolVar(&flagListSteps, "list-steps", false, "Print the canonical step table and exit")
	flags.BoolVar(&cfg.ReviewConversionResult, "review-conversion-result", false, "Diff the before/after instance descriptors at the end of the run")
	flags.StringVar(&cfg.Region, "region", "", "AWS region override (default: SDK default resolution)")
	flags.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging for this run")
	flags.StringVar(&flagConfigFile, "config-file", "", "Optional YAML file overlaying these flags' defaults")
	flags.StringVar(&flagLocalStateDir, "local-state-dir", "", "Use a local BoltDB file under this directory instead of DynamoDB (testing/offline use)")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address for the duration of the run")
}

func runConvert(cmd *cobra.Command, args []string) error {
	if flagConfigFile != "" {
		if err := cfg.LoadFile(flagConfigFile); err != nil {
			return err
		}
		// Flags win over the file: re-apply anything the operator explicitly
		// set on the command line.
		if err := cmd.Flags().Parse(os.Args[1:]); err != nil {
			return err
		}
	}

	if cfg.Debug {
		log.Init(log.Config{Level: log.DebugLevel, JSONOutput: false})
	}

	if flagListSteps {
		printStepTable()
		return nil
	}

	if cfg.InstanceID == "" {
		return fmt.Errorf("--instance-id is required")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if flagResetStep != "" {
		return runResetStep(st)
	}

	if flagMetricsAddr != "" {
		stopMetricsServer := serveMetrics(flagMetricsAddr)
		defer stopMetricsServer()
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-interrupts
		log.Logger.Error().Str("signal", sig.String()).Str("job_id", cfg.InstanceID).Msg("interrupted, safe to restart: re-run the same command to resume")
		os.Exit(1)
	}()

	sess := cloudapi.NewSession(cfg.Region)
	e := &engine.Engine{
		Store: st,
		Clients: engine.Clients{
			Compute:       cloudapi.NewEC2Client(sess),
			Accelerator:   cloudapi.NewAcceleratorClient(sess),
			KeyManagement: cloudapi.NewKMSClient(sess),
			LoadBalancer:  cloudapi.NewELBClient(sess),
			MetricAlarm:   cloudapi.NewCloudWatchClient(sess),
		},
		Logger:              log.Logger,
		PauseOnMajorWarning: pauseOnMajorWarning(cfg.DoNotPauseOnMajorWarnings),
	}

	report, err := e.Run(cfg)
	if err != nil {
		if report != nil {
			log.Logger.Error().Str("job_id", report.JobId).Msg("conversion did not complete; re-run the same command to resume")
		}
		return err
	}

	log.Logger.Info().
		Str("job_id", report.JobId).
		Str("new_instance_id", report.NewInstanceId).
		Dur("elapsed", report.Elapsed).
		Msg("conversion completed")
	return nil
}

func openStore() (store.Store, error) {
	if flagLocalStateDir != "" {
		return store.NewBoltStore(flagLocalStateDir)
	}
	sess := cloudapi.NewSession(cfg.Region)
	ds := store.NewDynamoStore(sess, cfg.DynamoDBTableName)
	if cfg.GenerateDynamoDBTable {
		if err := ds.EnsureTable(); err != nil {
			return nil, fmt.Errorf("generate dynamodb table: %w", err)
		}
	}
	return ds, nil
}

func runResetStep(st store.Store) error {
	n, err := resolveResetStep(flagResetStep)
	if err != nil {
		return err
	}
	e := &engine.Engine{Store: st, Logger: log.Logger}
	if err := e.ResetStep(cfg.InstanceID, n); err != nil {
		return err
	}
	fmt.Printf("reset job %s to step %d\n", cfg.InstanceID, n)
	return nil
}

// resolveResetStep accepts either a 1-indexed step number or a step's pretty
// name (as printed by --list-steps), per SPEC_FULL's supplemented
// operator-ergonomics.
func resolveResetStep(raw string) (int, error) {
	if name, found := registry.ByPrettyName(raw); found {
		return registry.IndexOf(name) + 1, nil
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 1 {
		return 0, fmt.Errorf("--reset-step must be a step number >= 1 or a known step name, got %q", raw)
	}
	return n, nil
}

func printStepTable() {
	fmt.Printf("%-3s  %-32s  %-28s  %s\n", "#", "NAME", "PRETTY NAME", "DESCRIPTION")
	for i, step := range registry.Steps {
		fmt.Printf("%-3d  %-32s  %-28s  %s\n", i+1, step.Name, step.PrettyName, step.Description)
	}
}

// pauseOnMajorWarning returns the real 10-second operator pause, or, when
// do-not-pause-on-major-warnings suppresses it, a function that only logs the
// warning.
func pauseOnMajorWarning(suppressed bool) func(string) {
	if suppressed {
		return func(reason string) {
			log.Logger.Warn().Str("reason", reason).Msg("major warning (pause suppressed by --do-not-pause-on-major-warnings)")
		}
	}
	return func(reason string) {
		log.Logger.Warn().Str("reason", reason).Msg("major warning detected; pausing 10s for operator interrupt (Ctrl-C) before continuing")
		time.Sleep(10 * time.Second)
	}
}
