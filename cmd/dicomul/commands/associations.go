package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/internal/cli/output"
	"github.com/marmos91/dicomul/internal/cli/timeutil"
	"github.com/marmos91/dicomul/pkg/adapter/dicom"
	"github.com/marmos91/dicomul/pkg/apiclient"
	"github.com/marmos91/dicomul/pkg/audit"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

var (
	assocAPIURL string
	assocToken  string
	assocOutput string
	assocRecent int
)

var associationsCmd = &cobra.Command{
	Use:     "associations",
	Aliases: []string{"assoc"},
	Short:   "List associations on a running server",
	Long: `List the associations running on the acceptor, or with --recent the
finished associations recorded in the audit log.

Examples:
  # Running associations
  dicomul associations

  # Last 20 finished associations
  dicomul associations --recent 20

  # One finished association in detail
  dicomul associations show 3f1c2a9e-...`,
	RunE: runAssociations,
}

var associationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a finished association",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssociationsShow,
}

func init() {
	associationsCmd.PersistentFlags().StringVar(&assocAPIURL, "api-url", "localhost:8080", "API server address")
	associationsCmd.PersistentFlags().StringVar(&assocToken, "token", os.Getenv("DICOMUL_API_TOKEN"), "Bearer token when the API requires one")
	associationsCmd.PersistentFlags().StringVarP(&assocOutput, "output", "o", "table", "Output format (table|json|yaml)")
	associationsCmd.Flags().IntVar(&assocRecent, "recent", 0, "List the last N finished associations instead")
	associationsCmd.AddCommand(associationsShowCmd)
}

func associationsClient() (*apiclient.Client, *output.Printer, error) {
	format, err := output.ParseFormat(assocOutput)
	if err != nil {
		return nil, nil, err
	}
	c := apiclient.New(assocAPIURL)
	if assocToken != "" {
		c = c.WithToken(assocToken)
	}
	return c, output.NewPrinter(os.Stdout, format, true), nil
}

func runAssociations(cmd *cobra.Command, args []string) error {
	c, p, err := associationsClient()
	if err != nil {
		return err
	}

	if assocRecent > 0 {
		records, err := c.RecentAssociations(cmd.Context(), assocRecent)
		if err != nil {
			return err
		}
		if len(records) == 0 && p.Format() == output.FormatTable {
			p.Println("No finished associations recorded.")
			return nil
		}
		return p.Print(recordList(records))
	}

	active, err := c.ActiveAssociations(cmd.Context())
	if err != nil {
		return err
	}
	if len(active) == 0 && p.Format() == output.FormatTable {
		p.Println("No running associations.")
		return nil
	}
	return p.Print(activeList(active))
}

func runAssociationsShow(cmd *cobra.Command, args []string) error {
	c, p, err := associationsClient()
	if err != nil {
		return err
	}
	rec, err := c.Association(cmd.Context(), args[0])
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return fmt.Errorf("association %s not found in the audit log", args[0])
		}
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(rec)
	}

	p.Outcome(rec.Outcome, fmt.Sprintf("Association %s: %s", rec.ID, rec.Outcome))
	pairs := [][2]string{
		{"Peer", rec.Peer},
		{"Calling AE", rec.CallingAETitle},
		{"Called AE", rec.CalledAETitle},
		{"Final state", rec.FinalState},
		{"Started", timeutil.FormatTime(rec.StartedAt)},
		{"Duration", timeutil.FormatDuration(time.Duration(rec.DurationMs) * time.Millisecond)},
		{"Peer max PDU", strconv.FormatInt(rec.PeerMaxPDULength, 10)},
		{"PDUs in/out", fmt.Sprintf("%d/%d", rec.PDUsIn, rec.PDUsOut)},
		{"Bytes in/out", fmt.Sprintf("%d/%d", rec.BytesIn, rec.BytesOut)},
		{"Units captured", strconv.FormatInt(rec.UnitsCaptured, 10)},
	}
	if rec.IdentityMode != "" {
		pairs = append(pairs, [2]string{"Identity", rec.IdentityMode + " " + rec.Username})
	}
	if rec.ConditionID != "" {
		pairs = append(pairs, [2]string{"Condition", rec.ConditionID + " " + rec.ConditionText})
	}
	if err := output.PrintKeyValues(p.Writer(), pairs); err != nil {
		return err
	}
	if len(rec.Contexts) == 0 {
		return nil
	}
	p.Println()
	return output.PrintTable(p.Writer(), contextList(rec.Contexts))
}

type activeList []dicom.AssociationInfo

func (l activeList) Headers() []string {
	return []string{"ID", "PEER", "CALLING", "CALLED", "STATE", "CONTEXTS", "PDUS IN/OUT", "AGE"}
}

func (l activeList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, a := range l {
		rows = append(rows, []string{
			a.ID, a.Peer, a.CallingAETitle, a.CalledAETitle, a.State,
			strconv.Itoa(a.AcceptedContexts),
			fmt.Sprintf("%d/%d", a.PDUsIn, a.PDUsOut),
			timeutil.Since(a.StartedAt),
		})
	}
	return rows
}

type recordList []audit.Record

func (l recordList) Headers() []string {
	return []string{"ID", "PEER", "CALLING", "CALLED", "OUTCOME", "CONTEXTS", "UNITS", "STARTED", "DURATION"}
}

func (l recordList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{
			r.ID, r.Peer, r.CallingAETitle, r.CalledAETitle, r.Outcome,
			fmt.Sprintf("%d/%d", r.AcceptedContexts, r.ProposedContexts),
			strconv.FormatInt(r.UnitsCaptured, 10),
			timeutil.FormatTime(r.StartedAt),
			timeutil.FormatDuration(time.Duration(r.DurationMs) * time.Millisecond),
		})
	}
	return rows
}

type contextList []audit.ContextSummary

func (l contextList) Headers() []string {
	return []string{"ID", "ABSTRACT SYNTAX", "TRANSFER SYNTAX", "ROLE", "RESULT"}
}

func (l contextList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, c := range l {
		rows = append(rows, []string{
			strconv.Itoa(int(c.ID)), uid.Name(c.AbstractSyntax), uid.Name(c.TransferSyntax), c.Role, c.Result,
		})
	}
	return rows
}
