package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shivang/stratumdb/storageengine"
	"github.com/shivang/stratumdb/stratumql"
)

// runCmd drives one session against the data directory: with a file
// argument it executes every statement in the file in order; with
// none, it reads an interactive console session from stdin, grounded
// on leftmike-maho.v1/cmd/repl.go's svr.HandleSession(repl.Interact(),
// ...) shape, trimmed to a plain bufio.Scanner loop since this engine
// has no wire protocol server to hand a session off to.
var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute SQL statements from a file, or interactively if none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	eng, err := storageengine.Open(storageengine.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer eng.Close()

	sess := eng.NewSession()
	defer sess.Close()

	if len(args) == 1 {
		return runFile(sess, args[0])
	}
	return runInteractive(sess)
}

func runFile(sess *storageengine.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("stratumdbctl: %w", err)
	}
	for _, stmt := range splitStatements(string(data)) {
		if err := execAndPrint(sess, stmt); err != nil {
			return err
		}
	}
	return nil
}

func runInteractive(sess *storageengine.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("stratumdb> type `help;` for the statement grammar, `exit` to quit")
	var buf strings.Builder
	for {
		fmt.Print("stratumdb> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		buf.WriteString(scanner.Text())
		buf.WriteByte(' ')
		if !strings.Contains(buf.String(), ";") && strings.TrimSpace(buf.String()) != "exit" {
			continue
		}
		for _, stmt := range splitStatements(buf.String()) {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			exit, err := execAndPrintInteractive(sess, stmt)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			if exit {
				return nil
			}
		}
		buf.Reset()
	}
}

// splitStatements breaks input on ';', dropping the empty trailing
// segment a final semicolon leaves behind. stratumql itself only ever
// parses one statement at a time (Parse rejects any token after the
// first statement's semicolon), so a file of several statements must be split here
// before each is handed to Exec.
func splitStatements(input string) []string {
	parts := strings.Split(input, ";")
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

func execAndPrint(sess *storageengine.Session, stmt string) error {
	_, err := execAndPrintInteractive(sess, stmt)
	return err
}

func execAndPrintInteractive(sess *storageengine.Session, stmt string) (exit bool, err error) {
	res, err := stratumql.Exec(sess, stmt)
	if err != nil {
		return false, err
	}
	if res.Exit {
		return true, nil
	}
	printResult(res)
	return false, nil
}

func printResult(res stratumql.Result) {
	if res.Message != "" && len(res.Columns) == 0 {
		fmt.Println(res.Message)
		if res.Count > 0 {
			fmt.Printf("(%d rows)\n", res.Count)
		}
		return
	}
	if len(res.Columns) > 0 {
		fmt.Println(strings.Join(res.Columns, "\t"))
	}
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	log.WithField("rows", len(res.Rows)).Debug("stratumdbctl: statement complete")
}
