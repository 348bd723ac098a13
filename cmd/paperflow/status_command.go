package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"paperflow/internal/api"
	"paperflow/internal/daemonrun"
	"paperflow/internal/preflight"
)

const daemonProbeTimeout = 2 * time.Second

type statusReport struct {
	Daemon      *api.DaemonStatus  `json:"daemon,omitempty" yaml:"daemon,omitempty"`
	DaemonError string             `json:"daemon_error,omitempty" yaml:"daemon_error,omitempty"`
	RecordedPID int                `json:"recorded_pid,omitempty" yaml:"recorded_pid,omitempty"`
	Checks      []preflight.Result `json:"checks" yaml:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and dependency checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := commandCtx(cmd)
			report := statusReport{
				RecordedPID: daemonrun.ReadPID(cfg),
				Checks:      preflight.RunAll(runCtx, cfg),
			}
			if client, err := ctx.daemonClient(); err == nil {
				probeCtx, cancel := context.WithTimeout(runCtx, daemonProbeTimeout)
				status, err := client.Status(probeCtx)
				cancel()
				if err == nil {
					report.Daemon = &status
				} else {
					report.DaemonError = describeDaemonError(err)
				}
			} else {
				report.DaemonError = describeDaemonError(err)
			}

			if handled, err := ctx.emit(cmd, report); handled {
				return err
			}
			renderStatus(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
}

func describeDaemonError(err error) string {
	if errors.Is(err, api.ErrDaemonUnavailable) {
		return "not running (start it with `paperflow serve`)"
	}
	return err.Error()
}

func renderStatus(out io.Writer, report statusReport, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if report.Daemon == nil {
		fmt.Fprintf(out, "Daemon: %s\n", paint(report.DaemonError, text.FgRed, colorize))
		if report.RecordedPID > 0 {
			fmt.Fprintf(out, "Stale pid file records pid %d\n", report.RecordedPID)
		}
	} else {
		d := report.Daemon
		pairs := [][2]string{
			{"Running", paint(yesNo(d.Running), text.FgGreen, colorize)},
			{"PID", strconv.Itoa(d.PID)},
			{"Started", d.StartedAt},
			{"Output", d.OutputDir},
			{"Index", d.IndexPath},
		}
		if len(d.Status.Workflow.Active) > 0 {
			ids := make([]string, 0, len(d.Status.Workflow.Active))
			for id, name := range d.Status.Workflow.Active {
				ids = append(ids, id+" ("+name+")")
			}
			sort.Strings(ids)
			pairs = append(pairs, [2]string{"Active", strings.Join(ids, "\n")})
		}
		if d.Status.Workflow.LastError != "" {
			pairs = append(pairs, [2]string{"Last error", d.Status.Workflow.LastTask + ": " + d.Status.Workflow.LastError})
		}
		fmt.Fprintln(out, renderPairs(pairs))
		if len(d.Status.TaskStats) > 0 {
			states := make([]string, 0, len(d.Status.TaskStats))
			for state := range d.Status.TaskStats {
				states = append(states, state)
			}
			sort.Strings(states)
			rows := make([][]string, 0, len(states))
			for _, state := range states {
				rows = append(rows, []string{colorState(state, colorize), strconv.Itoa(d.Status.TaskStats[state])})
			}
			fmt.Fprintln(out, renderTable([]string{"State", "Tasks"}, rows, []columnAlignment{alignLeft, alignRight}))
		}
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := make([][]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		verdict := paint("ok", text.FgGreen, colorize)
		if !check.Passed {
			verdict = paint("fail", text.FgRed, colorize)
		}
		rows = append(rows, []string{check.Name, verdict, check.Detail})
	}
	fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = text.FgBlue.Sprint(line)
		rule = text.FgBlue.Sprint(rule)
	}
	return []string{line, rule}
}

func paint(s string, color text.Color, colorize bool) string {
	if !colorize {
		return s
	}
	return color.Sprint(s)
}
