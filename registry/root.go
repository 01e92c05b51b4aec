package registry

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rockslide/rockslide/configuration"
	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/registry/storage"
	"github.com/rockslide/rockslide/registry/storage/driver/factory"
	"github.com/rockslide/rockslide/version"
)

var showVersion bool

var (
	dryRun   bool
	purgeAge time.Duration
)

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(PurgeUploadsCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
	PurgeUploadsCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "report the uploads that would be removed without removing them")
	PurgeUploadsCmd.Flags().DurationVar(&purgeAge, "age", storage.DefaultPurgeOption().Age, "remove uploads started longer ago than this")
}

// RootCmd is the main command for the 'rockslide' binary.
var RootCmd = &cobra.Command{
	Use:   "rockslide",
	Short: "`rockslide` is a container image registry",
	Long:  "`rockslide` serves the OCI distribution API over content addressed storage",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

// ServeCmd is a cobra command for running the registry.
var ServeCmd = &cobra.Command{
	Use:   "serve [config]",
	Short: "`serve` stores and distributes container images",
	Long:  "`serve` stores and distributes container images. Without a configuration the defaults are used.",
	Run: func(cmd *cobra.Command, args []string) {
		// setup context
		ctx := dcontext.WithVersion(dcontext.Background(), version.Version())

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		registry, err := NewRegistry(ctx, config)
		if err != nil {
			logrus.Fatalln(err)
		}

		if err = registry.ListenAndServe(); err != nil {
			logrus.Fatalln(err)
		}
	},
}

// PurgeUploadsCmd removes upload sessions that were never finished.
var PurgeUploadsCmd = &cobra.Command{
	Use:   "purge-uploads [config]",
	Short: "`purge-uploads` deletes stale upload sessions",
	Long:  "`purge-uploads` deletes the staging areas of uploads started before --age",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		purged, errs, err := purgeUploads(config, purgeAge, dryRun)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		for _, id := range purged {
			fmt.Println(id)
		}
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "purge error: %v\n", err)
		}
		if len(errs) > 0 {
			os.Exit(1)
		}
	},
}

func purgeUploads(config *configuration.Configuration, age time.Duration, dryRun bool) ([]string, []error, error) {
	if age <= 0 {
		return nil, nil, fmt.Errorf("age must be positive, got %s", age)
	}

	ctx := dcontext.Background()
	ctx, err := configureLogging(ctx, config)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to configure logging with config: %w", err)
	}

	driver, err := factory.Create(ctx, config.Storage.Type(), config.Storage.Parameters())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to construct %s driver: %w", config.Storage.Type(), err)
	}

	registry, err := storage.NewRegistry(ctx, driver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to construct registry: %w", err)
	}

	purged, errs := registry.PurgeUploads(ctx, time.Now().Add(-age), !dryRun)
	return purged, errs, nil
}

// resolveConfiguration reads the configuration named by the first argument,
// or by REGISTRY_CONFIGURATION_PATH. With neither, the defaults apply,
// still subject to environment overrides.
func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("REGISTRY_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("REGISTRY_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return configuration.Parse(strings.NewReader("version: 0.1\n"))
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}

	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", configurationPath, err)
	}

	return config, nil
}
