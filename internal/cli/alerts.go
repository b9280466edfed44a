package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and acknowledge tenant alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list <tenant>",
	Short: "List a tenant's alerts, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsList,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <tenant> <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(2),
	RunE:  runAlertsAck,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd)

	alertsListCmd.Flags().Bool("active", false, "Only unacknowledged alerts")
	alertsAckCmd.Flags().String("actor", "", "Who acknowledges the alert")
	_ = alertsAckCmd.MarkFlagRequired("actor")
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	active, _ := cmd.Flags().GetBool("active")
	return run(cmd, false, func(a *app) error {
		list := a.monitor.Alerts(args[0])
		if active {
			list = a.monitor.ActiveAlerts(args[0])
		}

		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintf(out, "No alerts for %s.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tTIME\tTIER\tSEVERITY\tUSAGE\tACKED BY\tMESSAGE\n")
		for _, al := range list {
			ackedBy := "-"
			if al.Acknowledged {
				ackedBy = al.AcknowledgedBy
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
				al.ID, al.Timestamp.Format(time.RFC3339), al.Tier, al.Severity,
				al.TriggeredAtFraction*100, ackedBy, al.Message,
			)
		}
		return w.Flush()
	})
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	actor, _ := cmd.Flags().GetString("actor")
	if actor == "" {
		return fmt.Errorf("--actor must not be empty")
	}
	return run(cmd, true, func(a *app) error {
		if !a.monitor.AcknowledgeAlert(args[0], args[1], actor) {
			return fmt.Errorf("alert %s not found for tenant %s", args[1], args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Alert %s acknowledged.\n", args[1])
		return nil
	})
}
