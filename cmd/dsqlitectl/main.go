// Command dsqlitectl is a diagnostics CLI over a dsqlite-managed SQLite
// file: introspecting the live schema, listing dirty rows pending sync, and
// checking sync high-water marks, without requiring the caller's declared
// Go schema (grounded on cmd/sqlite3def's go-flags-per-subcommand shape).
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/declarative-sqlite/dsqlite/engine"
	"github.com/declarative-sqlite/dsqlite/journal"
	"github.com/declarative-sqlite/dsqlite/schema"
	dsync "github.com/declarative-sqlite/dsqlite/sync"
	"github.com/declarative-sqlite/dsqlite/util"
)

var version string

type commonOpts struct {
	Help    bool `long:"help" description:"Show this help"`
	Version bool `long:"version" description:"Show this version"`
}

func main() {
	util.InitSlog()
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "introspect":
		err = runIntrospect(rest)
	case "dirty":
		err = runDirty(rest)
	case "sync-status":
		err = runSyncStatus(rest)
	case "vacuum":
		err = runVacuum(rest)
	case "--version", "version":
		fmt.Println(version)
		return
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: dsqlitectl <command> [options] db_path

Commands:
  introspect   print the live (on-disk) schema
  dirty        list rows pending sync upload
  sync-status  print per-table sync high-water marks
  vacuum       run fileset-agnostic VACUUM on the database file`)
}

func parsePathArg(name string, args []string) (string, error) {
	var opts commonOpts
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[option...] db_path"
	rest, err := parser.ParseArgs(args)
	if err != nil {
		return "", err
	}
	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if len(rest) != 1 {
		parser.WriteHelp(os.Stdout)
		return "", fmt.Errorf("%s: exactly one db_path is required", name)
	}
	return rest[0], nil
}

func runIntrospect(args []string) error {
	path, err := parsePathArg("introspect", args)
	if err != nil {
		return err
	}
	eng, err := engine.Open(path)
	if err != nil {
		return err
	}
	defer eng.Close()

	live, err := schema.NewIntrospector(eng.DB()).Introspect(context.Background())
	if err != nil {
		return err
	}
	for _, t := range live.Tables {
		fmt.Printf("TABLE %s\n", t.Name)
		for _, c := range t.Columns {
			fmt.Printf("  %-24s %s\n", c.Name, c.Storage)
		}
		for _, r := range t.References {
			fmt.Printf("  FK %s -> %s.%s (%v)\n", r.Column, r.Referenced, r.RefColumn, r.Policy)
		}
	}
	return nil
}

func runDirty(args []string) error {
	path, err := parsePathArg("dirty", args)
	if err != nil {
		return err
	}
	eng, err := engine.Open(path)
	if err != nil {
		return err
	}
	defer eng.Close()

	j := journal.New(eng.DB(), nil)
	entries, err := j.GetAll(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("%d dirty row(s)\n", len(entries))
	for _, e := range entries {
		kind := "partial"
		if e.IsFullRow {
			kind = "full"
		}
		fmt.Printf("  %-20s %-36s %-8s %s\n", e.TableName, e.RowID, kind, e.HLC.String())
	}
	return nil
}

func runSyncStatus(args []string) error {
	path, err := parsePathArg("sync-status", args)
	if err != nil {
		return err
	}
	eng, err := engine.Open(path)
	if err != nil {
		return err
	}
	defer eng.Close()

	if _, err := eng.ExecContext(context.Background(), dsync.CreateTableDDL); err != nil {
		return err
	}
	rows, err := eng.QueryContext(context.Background(), `SELECT table_name, server_timestamp FROM `+dsync.TimestampsTable)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var table, ts string
		if err := rows.Scan(&table, &ts); err != nil {
			return err
		}
		fmt.Printf("  %-24s %s\n", table, ts)
	}
	return rows.Err()
}

func runVacuum(args []string) error {
	path, err := parsePathArg("vacuum", args)
	if err != nil {
		return err
	}
	eng, err := engine.Open(path)
	if err != nil {
		return err
	}
	defer eng.Close()
	_, err = eng.ExecContext(context.Background(), "VACUUM")
	return err
}
