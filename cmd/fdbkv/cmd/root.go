package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
	"github.com/Wonshtrum/foundationdb-go/pkg/logging"

	// engines register themselves
	_ "github.com/Wonshtrum/foundationdb-go/pkg/fdb/localengine"
	_ "github.com/Wonshtrum/foundationdb-go/pkg/fdb/memengine"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fdbkv",
	Short: "fdbkv inspects and edits an ordered key-value store through the client library",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
		logging.SetLevel(viper.GetString("logging.level"))
		logging.SetOutputFormat(viper.GetString("logging.format"))
		logging.SetOutputs(viper.GetStringSlice("logging.outputs"), 0, 0)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.fdbkv.yaml)")
	rootCmd.PersistentFlags().String("engine", "local", "engine to open (one of: "+strings.Join(native.Engines(), ", ")+")")
	rootCmd.PersistentFlags().String("directory", "", "data directory for the local engine")
	_ = viper.BindPFlag("engine.type", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("engine.directory", rootCmd.PersistentFlags().Lookup("directory"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	logger := logging.Default().WithField("phase", "startup")
	if cfgFile != "" {
		logger.WithField("file", cfgFile).Info("Configuration file")
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName(".fdbkv")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("FDBKV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // support nested config
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		var errFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &errFileNotFound) {
			logger.WithError(err).Fatal("Failed to read config file")
		}
	}
}

func engineParams() native.Params {
	params := native.Params{Type: viper.GetString("engine.type")}
	switch params.Type {
	case "local":
		params.Local = &native.LocalParams{
			DirectoryPath: viper.GetString("engine.directory"),
		}
	case "mem":
		params.Mem = &native.MemParams{}
	}
	return params
}
