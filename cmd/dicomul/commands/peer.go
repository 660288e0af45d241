package commands

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/internal/cli/credentials"
	"github.com/marmos91/dicomul/internal/cli/output"
	"github.com/marmos91/dicomul/internal/cli/prompt"
	"github.com/marmos91/dicomul/internal/cli/timeutil"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage saved remote acceptors",
	Long: `Manage named peer profiles used by "dicomul echo".

Profiles are stored in $XDG_CONFIG_HOME/dicomul/peers.json with owner-only
permissions. The first profile added becomes the current one.`,
}

var (
	peerAddCallingAE string
	peerAddCalledAE  string
	peerAddUser      string
	peerAddPassword  bool
	peerRemoveForce  bool
	peerListOutput   string
)

var peerAddCmd = &cobra.Command{
	Use:   "add <name> [address]",
	Short: "Add or replace a peer profile",
	Long: `Add or replace a peer profile. Values not given as flags are prompted for.

Examples:
  # Fully specified
  dicomul peer add archive pacs.example.org:104 --called-ae PACS

  # Username and password identity, password prompted
  dicomul peer add archive pacs:104 --user alice --password`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPeerAdd,
}

var peerListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List peer profiles",
	RunE:    runPeerList,
}

var peerUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Select the current peer",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPeerUse,
}

var peerRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a peer profile",
	Args:    cobra.ExactArgs(1),
	RunE:    runPeerRemove,
}

func init() {
	peerAddCmd.Flags().StringVar(&peerAddCallingAE, "calling-ae", "", "Calling AE title")
	peerAddCmd.Flags().StringVar(&peerAddCalledAE, "called-ae", "", "Called AE title")
	peerAddCmd.Flags().StringVar(&peerAddUser, "user", "", "Username to present")
	peerAddCmd.Flags().BoolVar(&peerAddPassword, "password", false, "Prompt for a password to present with --user")
	peerRemoveCmd.Flags().BoolVarP(&peerRemoveForce, "force", "f", false, "Skip confirmation")
	peerListCmd.Flags().StringVarP(&peerListOutput, "output", "o", "table", "Output format (table|json|yaml)")

	peerCmd.AddCommand(peerAddCmd, peerListCmd, peerUseCmd, peerRemoveCmd)
}

func validateAddress(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("expected host:port: %w", err)
	}
	return nil
}

func runPeerAdd(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return err
	}

	name := args[0]
	peer := &credentials.Peer{
		CallingAETitle: peerAddCallingAE,
		CalledAETitle:  peerAddCalledAE,
	}
	if len(args) == 2 {
		peer.Address = args[1]
	} else {
		peer.Address, err = prompt.Input("Address (host:port)", "", validateAddress)
		if err != nil {
			return err
		}
	}
	if err := validateAddress(peer.Address); err != nil {
		return err
	}
	if peer.CalledAETitle == "" {
		peer.CalledAETitle, err = prompt.Input("Called AE title", "ANY-SCP", nil)
		if err != nil {
			return err
		}
	}

	switch {
	case peerAddUser != "" && peerAddPassword:
		pw, err := prompt.Password("Password", 1)
		if err != nil {
			return err
		}
		peer.IdentityType = credentials.IdentityPassword
		peer.Username = peerAddUser
		peer.Password = pw
	case peerAddUser != "":
		peer.IdentityType = credentials.IdentityUsername
		peer.Username = peerAddUser
	case peerAddPassword:
		return errors.New("--password requires --user")
	}

	if err := store.Set(name, peer); err != nil {
		return err
	}
	p := output.DefaultPrinter()
	p.Success(fmt.Sprintf("Peer %q saved", name))
	if store.CurrentName() == name {
		p.Println("It is now the current peer.")
	}
	return nil
}

type peerList struct {
	Current string                       `json:"current" yaml:"current"`
	Peers   map[string]*credentials.Peer `json:"peers" yaml:"peers"`
	names   []string
}

func (l peerList) Headers() []string {
	return []string{"", "NAME", "ADDRESS", "CALLING", "CALLED", "IDENTITY", "TOKEN EXPIRES"}
}

func (l peerList) Rows() [][]string {
	rows := make([][]string, 0, len(l.names))
	for _, name := range l.names {
		p := l.Peers[name]
		marker := ""
		if name == l.Current {
			marker = "*"
		}
		expires := ""
		if p.IdentityType == credentials.IdentityJWT {
			expires = timeutil.FormatTime(p.ExpiresAt)
		}
		rows = append(rows, []string{marker, name, p.Address, p.CallingAETitle, p.CalledAETitle, p.IdentityType, expires})
	}
	return rows
}

func runPeerList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(peerListOutput)
	if err != nil {
		return err
	}
	store, err := credentials.NewStore()
	if err != nil {
		return err
	}

	list := peerList{Current: store.CurrentName(), Peers: map[string]*credentials.Peer{}, names: store.List()}
	for _, name := range list.names {
		p, _ := store.Get(name)
		redacted := *p
		if redacted.Password != "" {
			redacted.Password = "********"
		}
		list.Peers[name] = &redacted
	}

	printer := output.NewPrinter(os.Stdout, format, true)
	if len(list.names) == 0 && format == output.FormatTable {
		printer.Println("No peers saved. Add one with 'dicomul peer add'.")
		return nil
	}
	return printer.Print(list)
}

func runPeerUse(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return err
	}

	var name string
	if len(args) == 1 {
		name = args[0]
	} else {
		names := store.List()
		if len(names) == 0 {
			return errors.New("no peers saved")
		}
		if name, err = prompt.SelectString("Select peer", names); err != nil {
			return err
		}
	}

	if err := store.Use(name); err != nil {
		return fmt.Errorf("peer %q: %w", name, err)
	}
	output.DefaultPrinter().Success(fmt.Sprintf("Current peer is now %q", name))
	return nil
}

func runPeerRemove(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return err
	}
	name := args[0]
	if _, err := store.Get(name); err != nil {
		return fmt.Errorf("peer %q: %w", name, err)
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Remove peer %q", name), peerRemoveForce)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	if !ok {
		return nil
	}
	if err := store.Delete(name); err != nil {
		return err
	}
	output.DefaultPrinter().Success(fmt.Sprintf("Peer %q removed", name))
	return nil
}
