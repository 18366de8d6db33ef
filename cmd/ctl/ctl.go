// Package ctl drives a running agm service over its HTTP API
package ctl

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/agm/internal/apiclient"
	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/session"
)

type options struct {
	url    string
	client string
}

// Command creates the ctl command and its sub-commands
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Inspect and control a running agm service",
	}
	cmd.PersistentFlags().StringVar(&opts.url, "url", "", "Service base URL, defaults to the configured API listen address")
	cmd.PersistentFlags().StringVar(&opts.client, "client", "agm-cli", "Client name recorded as session owner")

	newClient := func() (*apiclient.Client, error) {
		base := opts.url
		if base == "" {
			base = apiclient.BaseURLFromListen(settings.API.Listen)
		}
		return apiclient.New(apiclient.Config{BaseURL: base, ClientName: opts.client})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sessions",
			Short: "List sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				defer c.Close()
				infos, err := c.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), infos)
			},
		},
		&cobra.Command{
			Use:   "action <session-id> <action>",
			Short: "Run a lifecycle action (prepare, start, stop, pause, resume, suspend, flush, eos, close)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseUint(args[0], 0, 32)
				if err != nil {
					return fmt.Errorf("invalid session id %q: %w", args[0], err)
				}
				c, err := newClient()
				if err != nil {
					return err
				}
				defer c.Close()
				info, err := c.Action(cmd.Context(), uint32(id), strings.ToLower(args[1]))
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), []session.Info{info})
			},
		},
		&cobra.Command{
			Use:   "close-client <name>",
			Short: "Close every session a client left open",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				defer c.Close()
				res, err := c.CloseClient(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed %d session(s) of %s: %v\n", len(res.Closed), res.Client, res.Closed)
				for _, e := range res.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e)
				}
				return nil
			},
		},
	)
	return cmd
}

func printSessions(w io.Writer, infos []session.Info) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tMODE\tDIRECTION\tINTERFACES")
	for _, info := range infos {
		aifs := make([]string, 0, len(info.Interfaces))
		for _, aif := range info.Interfaces {
			aifs = append(aifs, fmt.Sprintf("%d:%s", aif.ID, aif.State))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", info.ID, info.State, info.Mode, info.Direction, strings.Join(aifs, ","))
	}
	return tw.Flush()
}
