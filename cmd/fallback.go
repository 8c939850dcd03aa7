package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source/fallback"
)

var fallbackCmd = &cobra.Command{
	Use:   "fallback",
	Short: "Inspect the curated fallback table",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := fallback.Default()
		if err != nil {
			return err
		}
		return listFallback(os.Stdout, table)
	},
}

var fallbackShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print one fallback entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := fallback.Default()
		if err != nil {
			return err
		}
		return showFallback(os.Stdout, table, args[0])
	},
}

var fallbackMatchCmd = &cobra.Command{
	Use:   "match <product name>",
	Short: "Show which fallback key a product name maps to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := source.MatchName(source.DefaultNameRules, args[0])
		if key == "" {
			return eris.Errorf("no name rule matches %q", args[0])
		}
		_, err := fmt.Fprintln(os.Stdout, key)
		return err
	},
}

func listFallback(w io.Writer, table *fallback.Table) error {
	for _, key := range table.Keys() {
		e, _ := table.Get(key)
		if _, err := fmt.Fprintf(w, "%-32s fdc:%-8d %s\n", key, e.FDCID, e.Description); err != nil {
			return err
		}
	}
	return nil
}

func showFallback(w io.Writer, table *fallback.Table, key string) error {
	e, ok := table.Get(key)
	if !ok {
		return eris.Errorf("no fallback entry %q", key)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]fallback.Entry{key: e}); err != nil {
		return eris.Wrap(err, "encode entry")
	}
	return enc.Close()
}

func init() {
	fallbackCmd.AddCommand(fallbackShowCmd, fallbackMatchCmd)
	rootCmd.AddCommand(fallbackCmd)
}
