package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kvdoc/docdb"
)

// parseArg turns a CLI key/value argument into raw bytes. A "0x"
// prefix means hex-decode the rest; anything else is taken as a
// literal UTF-8 string, which covers the common case of poking at
// string-keyed raw maps without hex-encoding everything by hand.
func parseArg(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("docdbctl: invalid hex %q: %w", s, err)
		}
		return b, nil
	}
	return []byte(s), nil
}

// formatBytes renders raw bytes for terminal output: the quoted
// literal string if every byte is printable ASCII, hex otherwise.
func formatBytes(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if isPrintable(b) {
		return strconv.Quote(string(b))
	}
	return "0x" + hex.EncodeToString(b)
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c >= 0x7f {
			return false
		}
	}
	return true
}

var getCmd = &cobra.Command{
	Use:   "get [map] [key]",
	Short: "read one raw key from a backend map",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseArg(args[1])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var out []byte
		err = store.View(func(tx *docdb.Tx) error {
			v, err := tx.RawKey(args[0], key)
			out = v
			return err
		})
		if err != nil {
			return err
		}
		cmd.Println(formatBytes(out))
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put [map] [key] [value]",
	Short: "write one raw key into a backend map",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseArg(args[1])
		if err != nil {
			return err
		}
		value, err := parseArg(args[2])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Update(func(tx *docdb.Tx) error {
			return tx.SetRawKey(args[0], key, value)
		}); err != nil {
			return err
		}
		cmd.Println("ok")
		return nil
	},
}

var delCmd = &cobra.Command{
	Use:   "del [map] [key]",
	Short: "delete one raw key from a backend map",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseArg(args[1])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Update(func(tx *docdb.Tx) error {
			return tx.DeleteRawKey(args[0], key)
		}); err != nil {
			return err
		}
		cmd.Println("ok")
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [map]",
	Short: "walk every key-value pair in a backend map in key order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}
		reverse, err := cmd.Flags().GetBool("reverse")
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return store.View(func(tx *docdb.Tx) error {
			m, err := tx.RawMap(args[0])
			if err != nil {
				return err
			}
			lo, up := docdb.Start, docdb.End
			opts := docdb.CursorOptions{Count: limit, Stride: 1, Reverse: reverse}
			if limit <= 0 {
				opts.Count = -1
			}
			cur, err := docdb.NewRawCursor(m, lo, up, true, true, opts)
			if err != nil {
				return err
			}
			defer cur.Close()
			n := 0
			for cur.Next() {
				cmd.Printf("%s = %s\n", formatBytes(cur.Key()), formatBytes(cur.Value()))
				n++
			}
			if err := cur.Err(); err != nil {
				return err
			}
			cmd.Printf("(%d entries)\n", n)
			return nil
		})
	},
}

func init() {
	scanCmd.Flags().Int("limit", 0, "stop after this many entries (0 = unlimited)")
	scanCmd.Flags().Bool("reverse", false, "walk from the last key to the first")
}
