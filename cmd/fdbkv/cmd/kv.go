package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb"
	"github.com/Wonshtrum/foundationdb-go/pkg/logging"
)

const (
	GetCmdNumArgs        = 1
	SetCmdNumArgs        = 2
	DeleteCmdNumArgs     = 1
	ClearRangeCmdNumArgs = 2
	ScanCmdMaxArgs       = 1
)

func openDatabase(cmd *cobra.Command) *fdb.Database {
	logger := logging.Default()
	db, err := fdb.Open(cmd.Context(), engineParams())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	return db
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Return the value stored at the given key",
	Args:  cobra.ExactArgs(GetCmdNumArgs),
	Run: func(cmd *cobra.Command, args []string) {
		logger := logging.Default()
		db := openDatabase(cmd)
		defer func() { _ = db.Close() }()

		value, err := db.ReadTransact(cmd.Context(), func(tx *fdb.Transaction) (interface{}, error) {
			return tx.Get(cmd.Context(), []byte(args[0]))
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to get value")
		}
		fmt.Printf("%s\n", value)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value at the given key",
	Args:  cobra.ExactArgs(SetCmdNumArgs),
	Run: func(cmd *cobra.Command, args []string) {
		logger := logging.Default()
		db := openDatabase(cmd)
		defer func() { _ = db.Close() }()

		_, err := db.Transact(cmd.Context(), fdb.Void(func(tx *fdb.Transaction) error {
			return tx.Set([]byte(args[0]), []byte(args[1]))
		}))
		if err != nil {
			logger.WithError(err).Fatal("Failed to set value")
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove the given key",
	Args:  cobra.ExactArgs(DeleteCmdNumArgs),
	Run: func(cmd *cobra.Command, args []string) {
		logger := logging.Default()
		db := openDatabase(cmd)
		defer func() { _ = db.Close() }()

		_, err := db.Transact(cmd.Context(), fdb.Void(func(tx *fdb.Transaction) error {
			return tx.Clear([]byte(args[0]))
		}))
		if err != nil {
			logger.WithError(err).Fatal("Failed to delete key")
		}
	},
}

var clearRangeCmd = &cobra.Command{
	Use:   "clear-range <begin> <end>",
	Short: "Remove every key in [begin, end)",
	Args:  cobra.ExactArgs(ClearRangeCmdNumArgs),
	Run: func(cmd *cobra.Command, args []string) {
		logger := logging.Default()
		db := openDatabase(cmd)
		defer func() { _ = db.Close() }()

		_, err := db.Transact(cmd.Context(), fdb.Void(func(tx *fdb.Transaction) error {
			return tx.ClearRange([]byte(args[0]), []byte(args[1]))
		}))
		if err != nil {
			logger.WithError(err).Fatal("Failed to clear range")
		}
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [<start>]",
	Short: "Scan keys and values in order. An optional key can be specified as a starting point (inclusive)",
	Args:  cobra.MaximumNArgs(ScanCmdMaxArgs),
	Run: func(cmd *cobra.Command, args []string) {
		logger := logging.Default()
		db := openDatabase(cmd)
		defer func() { _ = db.Close() }()

		var start []byte
		if len(args) > 0 {
			start = []byte(args[0])
		}
		limit, _ := cmd.Flags().GetInt("limit")

		kvs, err := db.ReadTransact(cmd.Context(), func(tx *fdb.Transaction) (interface{}, error) {
			it := tx.GetRange(
				fdb.FirstGreaterOrEqual(start),
				fdb.FirstGreaterOrEqual([]byte{0xFF}),
				fdb.RangeOptions{Limit: limit},
			)
			return it.GetAll(cmd.Context())
		})
		if err != nil {
			logger.WithError(err).Fatal("Scan failed")
		}
		for _, kv := range kvs.([]fdb.KeyValue) {
			fmt.Printf("%s: %s\n", kv.Key, kv.Value)
		}
	},
}

//nolint:gochecknoinits
func init() {
	scanCmd.Flags().Int("limit", 0, "maximum number of pairs to return (0 means all)")
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearRangeCmd)
	rootCmd.AddCommand(scanCmd)
}
