package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seslattery/hostgate/internal/allowlist"
	"github.com/seslattery/hostgate/internal/policy"
)

var errDenied = errors.New("one or more hosts denied")

var (
	checkAllow      []string
	checkAllowEmpty bool
	checkEmpty      bool
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] HOST...",
	Short: "Evaluate Host header values against the allow-list",
	Long: `Prints the decision for each HOST as it would be made for a request's Host
header. Exits non-zero when any host is denied.

Patterns come from --allow when given, otherwise from hosts.allowed.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkAllow, "allow", nil, "allowed host pattern (repeatable)")
	checkCmd.Flags().BoolVar(&checkAllowEmpty, "allow-empty", false, "allow empty Host headers (overrides config)")
	checkCmd.Flags().BoolVar(&checkEmpty, "empty", false, "also evaluate a request without a Host header")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !checkEmpty {
		return fmt.Errorf("at least one host required")
	}

	hosts := checkAllow
	allowEmpty := checkAllowEmpty
	if len(hosts) == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		hosts = cfg.Hosts.Allowed
		if !cmd.Flags().Changed("allow-empty") {
			allowEmpty = cfg.Hosts.AllowEmptyHosts
		}
	}

	list, err := allowlist.Resolve(hosts, nil)
	if err != nil {
		return err
	}
	pol, err := policy.New(list, allowEmpty)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	denied := false
	report := func(label string, d policy.Decision) {
		if !d.Allowed() {
			denied = true
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", label, d.Verdict, d.Reason, d.Pattern)
	}

	if checkEmpty {
		report("(none)", pol.Evaluate("", false))
	}
	for _, host := range args {
		report(host, pol.Evaluate(host, true))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if denied {
		return errDenied
	}
	return nil
}
