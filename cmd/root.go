package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/entrascope/entrascope/internal/logs"
	"github.com/entrascope/entrascope/internal/message"
	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
)

var (
	cfgFile   string
	rawToken  string
	deviceID  string
	logFile   string
	quiet     bool
	noColor   bool
	verbose   bool
	outputCSV string

	logClose func() error

	session = directory.NewSession()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "entrascope",
	Short: "Entrascope inspects and modifies Entra ID group memberships and Intune assignments.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		if logFile != "" {
			logger, closer, err := logs.FileLogger(logFile, level)
			if err != nil {
				message.Warning("Cannot open log file %s: %v", logFile, err)
				logs.ConsoleLogger(level)
			} else {
				slog.SetDefault(logger)
				logClose = closer
			}
		} else {
			logs.ConsoleLogger(level)
		}
		message.SetQuiet(quiet)
		message.SetNoColor(noColor)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logClose != nil {
			logClose()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.entrascope.yaml)")
	rootCmd.PersistentFlags().StringVar(&rawToken, "token", "", "Graph bearer token (falls back to the Azure credential chain)")
	rootCmd.PersistentFlags().StringVarP(&deviceID, "device-id", "d", "", "Intune managed device ID")
	rootCmd.PersistentFlags().StringVarP(&outputCSV, "output", "o", "", "write results to a CSV file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append JSON diagnostic logs to a file instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational messages")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("device-id", rootCmd.PersistentFlags().Lookup("device-id"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".entrascope" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".entrascope")
	}

	viper.SetEnvPrefix("ENTRASCOPE")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func defaultAzureCredential() (*azidentity.DefaultAzureCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build Azure credential chain: %w", err)
	}
	return cred, nil
}

// tokenSource builds the Graph token source from the --token flag, the
// config file, or the ambient Azure credential chain, in that order.
func tokenSource() (oauth2.TokenSource, error) {
	token := rawToken
	if token == "" {
		token = viper.GetString("token")
	}
	if token != "" {
		return graph.NewStaticTokenSource(token)
	}
	return graph.NewDefaultTokenSource()
}

func newGraphClient() (*graph.Client, error) {
	source, err := tokenSource()
	if err != nil {
		return nil, err
	}
	return graph.NewClient(source), nil
}

func requireDeviceID() (string, error) {
	id := deviceID
	if id == "" {
		id = viper.GetString("device-id")
	}
	if id == "" {
		return "", fmt.Errorf("a managed device ID is required (--device-id)")
	}
	return id, nil
}
