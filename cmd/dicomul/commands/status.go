package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/internal/cli/output"
	"github.com/marmos91/dicomul/pkg/apiclient"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIURL  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the dicomul acceptor.

This command checks the PID file and the readiness endpoint of the API
server, then reports the number of running associations and the health of
the capture and audit stores.

Examples:
  # Check status (uses default settings)
  dicomul status

  # Check status against a custom API address
  dicomul status --api-url localhost:9080

  # Output as JSON
  dicomul status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/dicomul/dicomul.pid)")
	statusCmd.Flags().StringVar(&statusAPIURL, "api-url", "localhost:8080", "API server address")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running            bool          `json:"running" yaml:"running"`
	PID                int           `json:"pid,omitempty" yaml:"pid,omitempty"`
	Ready              bool          `json:"ready" yaml:"ready"`
	ActiveAssociations int           `json:"active_associations" yaml:"active_associations"`
	Stores             []storeStatus `json:"stores,omitempty" yaml:"stores,omitempty"`
	Message            string        `json:"message" yaml:"message"`
}

type storeStatus struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Status  string `json:"status" yaml:"status"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Latency string `json:"latency,omitempty" yaml:"latency,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	status := ServerStatus{Message: "Server is not running"}
	if pid, ok := isProcessRunning(pidPath); ok {
		status.Running = true
		status.PID = pid
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	probeStatus(ctx, apiclient.New(statusAPIURL), &status)

	p := output.NewPrinter(os.Stdout, format, true)
	if format != output.FormatTable {
		return p.Print(status)
	}
	printStatusTable(p, status)
	return nil
}

// probeStatus fills status from the API server. The PID file is not
// authoritative: a foreground server has none.
func probeStatus(ctx context.Context, c *apiclient.Client, status *ServerStatus) {
	ready, err := c.Ready(ctx)
	var apiErr *apiclient.APIError
	switch {
	case err == nil:
		status.Running = true
		status.Ready = true
		status.ActiveAssociations = ready.ActiveAssociations
		status.Message = "Server is running and accepting associations"
	case errors.As(err, &apiErr):
		status.Running = true
		status.Message = fmt.Sprintf("Server is running but not ready: %s", apiErr.Detail)
		return
	case status.Running:
		status.Message = "Server process exists but the API is unreachable"
		return
	default:
		return
	}

	stores, err := c.Stores(ctx)
	if err != nil {
		status.Message = fmt.Sprintf("Server is running but a store is unhealthy: %v", err)
		return
	}
	for _, s := range stores {
		status.Stores = append(status.Stores, storeStatus(s))
	}
}

func printStatusTable(p *output.Printer, status ServerStatus) {
	p.Println()
	p.Println("dicomul Server Status")
	p.Println("=====================")
	p.Println()

	switch {
	case status.Ready:
		p.Success("  Status:     ● Running")
	case status.Running:
		p.Warning("  Status:     ● Running (not ready)")
	default:
		p.Error("  Status:     ○ Stopped")
	}
	if status.PID != 0 {
		p.Printf("  PID:        %d\n", status.PID)
	}
	if status.Ready {
		p.Printf("  Active:     %d association(s)\n", status.ActiveAssociations)
	}

	if len(status.Stores) > 0 {
		p.Println()
		table := output.NewTableData("STORE", "TYPE", "STATUS", "LATENCY", "ERROR")
		for _, s := range status.Stores {
			table.AddRow(s.Name, s.Type, s.Status, s.Latency, s.Error)
		}
		_ = output.PrintTable(p.Writer(), table)
	}

	p.Println()
	p.Printf("  %s\n", status.Message)
	p.Println()
}
