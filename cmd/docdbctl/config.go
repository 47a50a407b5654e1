package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvdoc/docdb"
)

// initConfig wires viper to read DOCDB_-prefixed environment variables
// and an optional .env/.env.local pair, following the same pattern
// dKV's cmd/util.InitClientConfig uses for its own client flags.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("docdb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindCommandFlags binds every persistent flag of cmd's root command
// into viper, so each is overridable by its DOCDB_ environment
// variable equivalent.
func bindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Root().PersistentFlags())
}

// storeOptions builds docdb.Options from whatever viper resolved --
// flags, environment, or .env defaults, in that order of precedence.
func storeOptions() (docdb.Options, error) {
	opt := docdb.Options{
		Filename:           viper.GetString("db"),
		Compressed:         viper.GetBool("compressed"),
		ReadCacheMB:        viper.GetInt("read-cache-mb"),
		AutoCommitBufferKB: viper.GetInt("autocommit-buffer-kb"),
		AutoCommitDelayMS:  viper.GetInt("autocommit-delay-ms"),
		Logf: func(format string, args ...any) {
			fmt.Fprintf(cmdErrWriter, "docdbctl: "+format+"\n", args...)
		},
	}
	if viper.GetBool("mem") {
		opt.Filename = ""
	}
	if hexKey := viper.GetString("encryption-key"); hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return docdb.Options{}, fmt.Errorf("docdbctl: --encryption-key must be hex: %w", err)
		}
		opt.EncryptionKey = key
	}
	return opt, nil
}

func openStore() (*docdb.Store, error) {
	opt, err := storeOptions()
	if err != nil {
		return nil, err
	}
	return docdb.Open(opt)
}
