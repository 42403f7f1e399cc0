package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/animus-labs/casework/internal/domain"
	"github.com/animus-labs/casework/internal/guard"
	"github.com/animus-labs/casework/internal/service/sessions"
)

var reprovisionActor string

var reprovisionCmd = &cobra.Command{
	Use:   "reprovision <case-id>",
	Short: "Re-run enrollment provisioning for an accepted case",
	Long: `Re-run enrollment provisioning for a case at or past ACCEPTED.

Existing enrollments are kept; missing ones are created and every selected
workshop's capacity is evaluated again. Safe to run repeatedly.`,
	Args: cobra.ExactArgs(1),
	RunE: runReprovision,
}

var (
	sessionsOrganization string
	sessionsWorkshop     string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List logical workshop sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var (
	guardRole string
	guardFrom string
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Print the role/state transition table",
	Args:  cobra.NoArgs,
	RunE:  runGuard,
}

func init() {
	reprovisionCmd.Flags().StringVar(&reprovisionActor, "actor", "", "Actor id performing the reprovision (COORDINATOR or ADMIN)")
	_ = reprovisionCmd.MarkFlagRequired("actor")

	sessionsCmd.Flags().StringVar(&sessionsOrganization, "organization", "", "Only sessions of this organization")
	sessionsCmd.Flags().StringVar(&sessionsWorkshop, "workshop", "", "Only sessions of this workshop")

	guardCmd.Flags().StringVar(&guardRole, "role", "", "Only this role")
	guardCmd.Flags().StringVar(&guardFrom, "from", "", "Only this current state")
}

func runReprovision(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	caseID := strings.TrimSpace(args[0])
	res, err := a.controller.Reprovision(cmd.Context(), caseID, reprovisionActor, "")
	if err != nil {
		return err
	}
	out := toProvisioningResponse(caseID, res)
	if jsonOutput {
		return writeJSONTo(cmd, out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "case %s: %d created, %d existing, %d failed\n",
		caseID, len(out.Created), len(out.Existing), len(out.Failures))
	for _, wid := range out.Locked {
		fmt.Fprintf(cmd.OutOrStdout(), "  locked workshop %s\n", wid)
	}
	for _, f := range out.Failures {
		fmt.Fprintf(cmd.OutOrStdout(), "  failed %s (%s): %s\n", f.WorkshopID, f.Stage, f.Error)
	}
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.sessions.List(cmd.Context(), sessions.Filter{
		OrganizationID: sessionsOrganization,
		WorkshopID:     sessionsWorkshop,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		out := make([]sessionResponse, 0, len(list))
		for _, s := range list {
			out = append(out, toSessionResponse(s))
		}
		return writeJSONTo(cmd, out)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKSHOP\tORGANIZATION\tSESSION\tPARTICIPANTS\tLOCKED\tDONE\tREPORT")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%t\t%t\n",
			label(s.WorkshopID, s.WorkshopName), label(s.OrganizationID, s.OrganizationName),
			s.SessionNumber, s.Participants, s.Locked, s.ActivityDone, s.HasReport)
	}
	return tw.Flush()
}

func runGuard(cmd *cobra.Command, args []string) error {
	roles := domain.AllRoles()
	if guardRole != "" {
		role, ok := domain.ParseRole(guardRole)
		if !ok {
			return fmt.Errorf("unknown role %q", guardRole)
		}
		roles = []domain.Role{role}
	}
	states := domain.AllStates()
	if guardFrom != "" {
		state, ok := domain.ParseState(guardFrom)
		if !ok {
			return fmt.Errorf("unknown state %q", guardFrom)
		}
		states = []domain.State{state}
	}

	type row struct {
		Role    domain.Role    `json:"role"`
		From    domain.State   `json:"from"`
		Allowed []domain.State `json:"allowed"`
	}
	var rows []row
	for _, role := range roles {
		for _, from := range states {
			allowed := guard.Allowed(role, from)
			if len(allowed) == 0 {
				continue
			}
			rows = append(rows, row{Role: role, From: from, Allowed: allowed})
		}
	}
	if jsonOutput {
		return writeJSONTo(cmd, rows)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tFROM\tALLOWED")
	for _, r := range rows {
		targets := make([]string, 0, len(r.Allowed))
		for _, s := range r.Allowed {
			targets = append(targets, string(s))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Role, r.From, strings.Join(targets, ", "))
	}
	return tw.Flush()
}

func label(id, name string) string {
	if name == "" {
		return id
	}
	return name + " (" + id + ")"
}

func writeJSONTo(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
