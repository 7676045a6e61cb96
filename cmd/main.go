package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"membench/internal/bench"
	"membench/internal/config"
	"membench/internal/export"
	"membench/internal/host"
	"membench/internal/logging"
	"membench/internal/output"
	"membench/internal/patterns"
	"membench/internal/plot"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.1.0"

// runOptions collects the run command's flag values. Flags the user did not
// set keep the profile's values; applyFlagOverrides consults Flags().Changed
// to tell the two apart.
type runOptions struct {
	configFile     string
	pattern        string
	sizesGB        []float64
	iterations     uint64
	threads        int
	cacheHierarchy bool
	pCores         bool
	eCores         bool
	matrixSize     int
	matrixDouble   bool
	ceiling        float64
	maxSeconds     int
	format         string
}

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

// Execute builds the command tree and runs it.
func Execute() error {
	loadEnvironment()

	var logLevel string
	var opts runOptions
	var infoFormat string
	var configFile string
	var artifactPath string
	var patternFilter []string
	var minVal, maxVal float64
	var minSet, maxSet bool
	var onlyPlot, onlyWrapper bool

	rootCmd := &cobra.Command{
		Use:   "membench",
		Short: "Memory subsystem benchmark",
		Long:  "A configurable memory bandwidth and latency benchmark with cache hierarchy sweeps, multithreaded scaling, and core class affinity",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark",
		Long:  "Run the benchmark described by a profile file, command-line flags, or both; flags override profile fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, &opts, logLevel != "")
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the detected hardware inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showSystemInfo(infoFormat)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a run profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateProfile(configFile)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the membench version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	plotCmd := &cobra.Command{
		Use:   "plot",
		Short: "Generate plots from benchmark results",
		Long:  "Generate LaTeX/TikZ plots from exported benchmark artifacts",
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Generate a cache hierarchy sweep plot",
		Long:  "Generate a bandwidth over working-set-size plot from a spooled artifact file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var minPtr, maxPtr *float64
			if minSet {
				minPtr = &minVal
			}
			if maxSet {
				maxPtr = &maxVal
			}
			return generateSweepPlot(artifactPath, patternFilter, minPtr, maxPtr, onlyPlot, onlyWrapper)
		},
	}

	registerRunFlags(runCmd, &opts)

	infoCmd.Flags().StringVarP(&infoFormat, "format", "f", "markdown", "Output format (markdown, json, csv)")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML run profile")
	validateCmd.MarkFlagRequired("config")

	sweepCmd.Flags().StringVar(&artifactPath, "artifact", "", "Path to a spooled artifact file")
	sweepCmd.Flags().StringSliceVar(&patternFilter, "patterns", []string{}, "Comma-separated list of pattern slugs to plot")
	sweepCmd.Flags().Float64Var(&minVal, "min", 0, "Minimum Y-axis value")
	sweepCmd.Flags().Float64Var(&maxVal, "max", 0, "Maximum Y-axis value")
	sweepCmd.Flags().BoolVar(&onlyPlot, "plot", false, "Print only the plot file (TikZ)")
	sweepCmd.Flags().BoolVar(&onlyWrapper, "wrapper", false, "Print only the wrapper file (LaTeX)")
	sweepCmd.MarkFlagRequired("artifact")

	sweepCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		minSet = cmd.Flags().Changed("min")
		maxSet = cmd.Flags().Changed("max")
		return nil
	}

	plotCmd.AddCommand(sweepCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(plotCmd)

	return rootCmd.Execute()
}

func registerRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML run profile")
	cmd.Flags().StringVarP(&opts.pattern, "pattern", "p", "", "Access pattern (all or one of sequential_read, sequential_write, random_read, random_write, copy, triad, matrix_multiply)")
	cmd.Flags().Float64SliceVar(&opts.sizesGB, "size", nil, "Working-set sizes in GB, comma separated")
	cmd.Flags().Uint64Var(&opts.iterations, "iterations", 0, "Base iteration count per step")
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 0, "Worker thread count")
	cmd.Flags().BoolVar(&opts.cacheHierarchy, "cache-hierarchy", false, "Sweep working sets derived from the cache hierarchy instead of fixed sizes")
	cmd.Flags().BoolVar(&opts.pCores, "p-cores", false, "Pin workers to performance cores")
	cmd.Flags().BoolVar(&opts.eCores, "e-cores", false, "Pin workers to efficiency cores")
	cmd.Flags().IntVar(&opts.matrixSize, "matrix-size", 0, "Square matrix dimension for matrix_multiply")
	cmd.Flags().BoolVar(&opts.matrixDouble, "matrix-double", false, "Use 64-bit matrix elements")
	cmd.Flags().Float64Var(&opts.ceiling, "bandwidth-ceiling", 0, "Plausibility ceiling in GB/s for result validation")
	cmd.Flags().IntVar(&opts.maxSeconds, "max-seconds", 0, "Stop the run after this many seconds")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format (markdown, json, csv)")
}

// applyFlagOverrides layers explicitly set run flags over the profile.
func applyFlagOverrides(cmd *cobra.Command, profile *config.Profile, opts *runOptions) error {
	flags := cmd.Flags()
	if flags.Changed("pattern") {
		profile.Run.Pattern = opts.pattern
	}
	if flags.Changed("size") {
		profile.Run.SizesGB = opts.sizesGB
	}
	if flags.Changed("iterations") {
		profile.Run.Iterations = opts.iterations
	}
	if flags.Changed("threads") {
		profile.Run.Threads = opts.threads
	}
	if flags.Changed("cache-hierarchy") {
		profile.Run.CacheHierarchy = opts.cacheHierarchy
	}
	if flags.Changed("matrix-size") {
		profile.Run.MatrixSize = opts.matrixSize
	}
	if flags.Changed("matrix-double") {
		profile.Run.MatrixDouble = opts.matrixDouble
	}
	if flags.Changed("format") {
		profile.Run.Format = opts.format
	}
	if flags.Changed("bandwidth-ceiling") {
		profile.Benchmark.BandwidthCeilingGBps = opts.ceiling
	}
	if flags.Changed("max-seconds") {
		profile.Benchmark.MaxT = opts.maxSeconds
	}

	if opts.pCores && opts.eCores {
		return fmt.Errorf("--p-cores and --e-cores are mutually exclusive")
	}
	if opts.pCores {
		profile.Run.Affinity = "performance"
	}
	if opts.eCores {
		profile.Run.Affinity = "efficiency"
	}
	return nil
}

func runBenchmark(cmd *cobra.Command, opts *runOptions, logLevelFromFlag bool) error {
	logger := logging.GetLogger()

	var profile *config.Profile
	var configContent string
	var err error
	if opts.configFile != "" {
		profile, configContent, err = config.LoadProfileWithContent(opts.configFile)
		if err != nil {
			logger.WithField("profile", opts.configFile).WithError(err).Error("Failed to load profile")
			return fmt.Errorf("failed to load profile: %w", err)
		}
	} else {
		profile = config.DefaultProfile()
	}

	if err := applyFlagOverrides(cmd, profile, opts); err != nil {
		return err
	}
	if err := config.Validate(profile); err != nil {
		return err
	}

	// The profile's log level applies unless --log-level was given.
	if profile.Benchmark.LogLevel != "" && !logLevelFromFlag {
		if err := logging.SetLogLevel(profile.Benchmark.LogLevel); err != nil {
			logger.WithField("log_level", profile.Benchmark.LogLevel).WithError(err).Warn("Invalid log level in profile, using INFO")
			logging.SetLogLevel("info")
		}
	}

	selected, err := patterns.ParseSelection(profile.Run.Pattern)
	if err != nil {
		return err
	}
	class, err := profile.Run.AffinityClass()
	if err != nil {
		return err
	}

	platform, err := host.GetPlatform()
	if err != nil {
		logger.WithError(err).Error("Failed to detect platform")
		return fmt.Errorf("failed to detect platform: %w", err)
	}
	info := platform.SystemInfo()

	logger.WithFields(logrus.Fields{
		"platform":        platform.Name(),
		"hostname":        info.Hostname,
		"cpu":             info.CPUName,
		"physical_cores":  info.PhysicalCores,
		"logical_threads": info.LogicalThreads,
		"l3_cache_mb":     info.Cache.L3Size / (1024 * 1024),
	}).Info("Platform detected")

	stop := new(atomic.Bool)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, stopping after the current step")
		stop.Store(true)
	}()

	if limit := profile.GetMaxDuration(); limit > 0 {
		cancel := bench.StartWatchdog(limit, stop)
		defer cancel()
	}

	runner := bench.NewRunner(platform, bench.Options{
		Class:        class,
		CeilingGBps:  profile.Benchmark.BandwidthCeilingGBps,
		MatrixSize:   profile.Run.MatrixSize,
		MatrixDouble: profile.Run.MatrixDouble,
		Stop:         stop,
	})

	logger.WithFields(logrus.Fields{
		"name":     profile.Benchmark.Name,
		"pattern":  profile.Run.Pattern,
		"threads":  profile.Run.Threads,
		"affinity": class.String(),
	}).Info("Starting benchmark")

	startTime := time.Now()
	var results []bench.TestResult
	if profile.Run.CacheHierarchy {
		results, err = runSweeps(runner, profile, selected, stop)
	} else {
		results, err = runSteps(runner, profile, selected, stop)
	}
	if err != nil {
		return err
	}
	endTime := time.Now()

	format, err := output.ParseFormat(profile.Run.Format)
	if err != nil {
		return err
	}
	report := output.Report{
		GeneratedAt: endTime,
		Sweep:       profile.Run.CacheHierarchy,
		System:      info,
		Results:     results,
	}
	if err := output.Write(os.Stdout, format, report); err != nil {
		logger.WithError(err).Error("Failed to write report")
		return err
	}

	if profile.Export.Enabled {
		artifact := export.BuildArtifact(profile, configContent, info, results, startTime, endTime)
		if err := export.Ship(profile.Export, artifact); err != nil {
			logger.WithError(err).Error("Failed to export results")
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"results":  len(results),
		"duration": endTime.Sub(startTime).Round(time.Millisecond),
	}).Info("Benchmark completed")

	return nil
}

// runSteps executes the fixed-size runs. Matrix multiply is its own branch
// since its footprint comes from the matrix dimension, not the size list.
func runSteps(runner *bench.Runner, profile *config.Profile, selected []patterns.Pattern, stop *atomic.Bool) ([]bench.TestResult, error) {
	logger := logging.GetLogger()

	if len(selected) == 1 && selected[0] == patterns.MatrixMultiply {
		label := fmt.Sprintf("%dx%d", profile.Run.MatrixSize, profile.Run.MatrixSize)
		result, err := runner.Run(patterns.MatrixMultiply, 0, profile.Run.Iterations, profile.Run.Threads, label)
		if err != nil {
			logger.WithError(err).Error("Matrix multiply failed")
			return nil, err
		}
		return []bench.TestResult{result}, nil
	}

	var results []bench.TestResult
steps:
	for _, size := range profile.Run.SizesGB {
		label := fmt.Sprintf("%g GB", size)
		totalSize := uint64(size * float64(1<<30))
		for _, pattern := range selected {
			result, err := runner.Run(pattern, totalSize, profile.Run.Iterations, profile.Run.Threads, label)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"pattern": pattern.Slug(),
					"size_gb": size,
				}).WithError(err).Error("Benchmark step failed")
				return nil, err
			}
			results = append(results, result)
			if stop.Load() {
				break steps
			}
		}
	}
	return results, nil
}

// runSweeps executes one cache hierarchy sweep per pattern. Sweeps keep
// their completed steps when individual working sets fail; a sweep with no
// results at all aborts the run.
func runSweeps(runner *bench.Runner, profile *config.Profile, selected []patterns.Pattern, stop *atomic.Bool) ([]bench.TestResult, error) {
	logger := logging.GetLogger()

	var results []bench.TestResult
	for _, pattern := range selected {
		stepResults, err := runner.Sweep(pattern, profile.Run.Iterations, profile.Run.Threads)
		if err != nil {
			if len(stepResults) == 0 {
				logger.WithField("pattern", pattern.Slug()).WithError(err).Error("Sweep produced no results")
				return nil, err
			}
			logger.WithField("pattern", pattern.Slug()).WithError(err).Warn("Some sweep steps were skipped")
		}
		results = append(results, stepResults...)
		if stop.Load() {
			break
		}
	}
	return results, nil
}

func showSystemInfo(formatName string) error {
	logger := logging.GetLogger()

	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}
	platform, err := host.GetPlatform()
	if err != nil {
		logger.WithError(err).Error("Failed to detect platform")
		return fmt.Errorf("failed to detect platform: %w", err)
	}

	report := output.Report{
		GeneratedAt: time.Now(),
		System:      platform.SystemInfo(),
	}
	return output.Write(os.Stdout, format, report)
}

func validateProfile(configFile string) error {
	logger := logging.GetLogger()

	if _, err := config.LoadProfile(configFile); err != nil {
		logger.WithField("profile", configFile).WithError(err).Error("Profile validation failed")
		return err
	}
	logger.WithField("profile", configFile).Info("Profile is valid")
	return nil
}

func generateSweepPlot(artifactPath string, patternFilter []string, minPtr, maxPtr *float64, onlyPlot, onlyWrapper bool) error {
	logger := logging.GetLogger()
	logger.WithFields(logrus.Fields{
		"artifact": artifactPath,
		"patterns": patternFilter,
	}).Debug("Generating sweep plot")

	gen := plot.NewSweepPlotGenerator(logger)
	plotTikz, wrapperTex, err := gen.Generate(plot.PlotOptions{
		ArtifactPath: artifactPath,
		Patterns:     patternFilter,
		YMinOverride: minPtr,
		YMaxOverride: maxPtr,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to generate plot")
		return fmt.Errorf("failed to generate plot: %w", err)
	}

	// Determine what to print
	showPlot := !onlyWrapper
	showWrapper := !onlyPlot

	if showPlot {
		fmt.Println(plotTikz)
		if showWrapper {
			fmt.Println()
		}
	}

	if showWrapper {
		fmt.Println(wrapperTex)
	}

	logger.Debug("Sweep plot generated successfully")
	return nil
}
