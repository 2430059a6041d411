package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/endorses/notibridge/internal/pkg/config"
	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/host"
	"github.com/endorses/notibridge/internal/pkg/output"
	"github.com/spf13/cobra"
)

var errBridgeUnreachable = errors.New("bridge unreachable")

var ctlJSON bool

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running bridge",
	Long: `Send a control command to a running bridge over its host socket.

The command exits non-zero when the bridge cannot be reached (2) or
refuses the command (3).

Examples:
  notibridge ctl connect
  notibridge ctl debug
  notibridge ctl set filters.chat "+#go #rust"
  notibridge ctl filters`,
	// No Run function - requires a subcommand
}

func init() {
	ctlCmd.PersistentFlags().StringP("socket", "s", "", "host socket path")
	ctlCmd.PersistentFlags().BoolVar(&ctlJSON, "json", false, "print the result as JSON")
	bindKey(ctlCmd.PersistentFlags(), "socket", config.KeySocketPath)

	ctlCmd.AddCommand(
		ctlCommand(host.CommandConnect, "", "(Re)connect to the notification daemon", cobra.NoArgs),
		ctlCommand(host.CommandDisconnect, "", "Disconnect and stop reconnecting", cobra.NoArgs),
		ctlCommand(host.CommandDebug, "", "Toggle the debug surface", cobra.NoArgs),
		ctlCommand(host.CommandStatus, "", "Show the connection state and counters", cobra.NoArgs),
		ctlCommand(host.CommandFilters, "", "Show the live filter configuration", cobra.NoArgs),
		ctlCommand(host.CommandGet, "<key>", "Show one filter setting", cobra.ExactArgs(1)),
		ctlCommand(host.CommandSet, "<key> <value>", "Change one filter setting", cobra.ExactArgs(2)),
	)
}

func ctlCommand(name, usage, short string, args cobra.PositionalArgs) *cobra.Command {
	use := name
	if usage != "" {
		use += " " + usage
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCtl(cmd, name, args)
		},
	}
}

func runCtl(cmd *cobra.Command, name string, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), constants.ControlReplyTimeout)
	defer cancel()

	path := cfg.GetString(config.KeySocketPath)
	c, err := host.Dial(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %w", errBridgeUnreachable, err)
	}
	defer c.Close()

	detail, err := c.Command(ctx, name, args...)
	if werr := output.WriteResult(cmd.OutOrStdout(), output.NewResult(name, args, detail, err), ctlJSON); werr != nil {
		return werr
	}
	return err
}
