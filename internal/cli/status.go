package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/mithrel/upbridge/internal/server"
)

// statusReport is what `status --json` prints.
type statusReport struct {
	Stats         server.StatsResponse  `json:"stats"`
	Registrations []server.Registration `json:"registrations"`
	HostVersion   *int32                `json:"host_version,omitempty"`
	HostError     string                `json:"host_error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			rep, err := fetchStatus(cmd.Context(), server.NewClient(app.Cfg.HTTPAddr))
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(rep, "", "  ")
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			printStatus(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func fetchStatus(ctx context.Context, c *server.Client) (statusReport, error) {
	var rep statusReport
	var err error
	if rep.Stats, err = c.Stats(ctx); err != nil {
		return rep, err
	}
	if rep.Registrations, err = c.Registrations(ctx); err != nil {
		return rep, err
	}
	if info, err := c.Host(ctx); err != nil {
		rep.HostError = err.Error()
	} else {
		rep.HostVersion = &info.Version
	}
	return rep, nil
}

func printStatus(w io.Writer, rep statusReport) {
	host := rep.HostError
	if rep.HostVersion != nil {
		host = "version " + strconv.Itoa(int(*rep.HostVersion))
	}
	if !rep.Stats.Bridge.Connected {
		host += " (client not registered)"
	}
	_, _ = fmt.Fprintf(w, "Host: %s\n\n", host)

	st := rep.Stats.Bridge
	rows := [][]string{
		{"registered", strconv.Itoa(st.Registered)},
		{"received", i64(st.Received)},
		{"delivered", i64(st.Delivered)},
		{"decode errors", i64(st.DecodeErrors)},
		{"unknown handles", i64(st.UnknownHandles)},
		{"dropped", i64(st.Dropped)},
		{"listener panics", i64(st.ListenerPanics)},
		{"registration failures", i64(st.RegistrationFailures)},
	}
	if d := st.Dispatch; d != nil {
		rows = append(rows,
			[]string{"queued", i64(d.Submitted)},
			[]string{"executed", i64(d.Executed)},
			[]string{"queue drops", i64(d.Dropped)})
	}
	_, _ = fmt.Fprintln(w, renderTable([]string{"Counter", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(rep.Registrations) == 0 {
		_, _ = fmt.Fprintln(w, "\nNo registrations.")
		return
	}
	regs := make([][]string, 0, len(rep.Registrations))
	for _, r := range rep.Registrations {
		regs = append(regs, []string{r.Handle, r.Topic})
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, renderTable([]string{"Handle", "Topic"}, regs, nil))
}

func i64(v int64) string { return strconv.FormatInt(v, 10) }

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
