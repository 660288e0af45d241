package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/internal/cli/credentials"
	"github.com/marmos91/dicomul/internal/cli/output"
	"github.com/marmos91/dicomul/internal/cli/prompt"
	"github.com/marmos91/dicomul/internal/cli/timeutil"
	"github.com/marmos91/dicomul/pkg/client"
	"github.com/marmos91/dicomul/pkg/config"
	"github.com/marmos91/dicomul/pkg/ul/assoc"
)

var (
	echoPeer         string
	echoAddress      string
	echoCallingAE    string
	echoCalledAE     string
	echoUser         string
	echoPassword     string
	echoAskPassword  bool
	echoJWT          string
	echoKerberosFile string
	echoPositive     bool
	echoSendCommands []string
	echoSendDatasets []string
	echoContextID    uint8
	echoOutput       string
)

var echoCmd = &cobra.Command{
	Use:   "echo [address]",
	Short: "Open an association with a remote acceptor",
	Long: `Open an association with a remote DICOM acceptor, report how each
proposed presentation context was negotiated and release it.

The proposed contexts come from the client section of the configuration
(Verification by default). Commands and datasets read from files can be
sent on an accepted context before the release.

Connection settings are taken, lowest precedence first, from the client
configuration, the saved peer profile (--peer, or the current peer) and the
flags.

Examples:
  # Verify connectivity
  dicomul echo pacs.example.org:104 --called-ae PACS

  # Use a saved peer profile
  dicomul echo --peer archive

  # Authenticate with username and password
  dicomul echo pacs:104 --user alice --ask-password

  # Send a command and a dataset on context 1
  dicomul echo pacs:104 --send-command cmd.bin --send ds.bin --context 1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEcho,
}

func init() {
	f := echoCmd.Flags()
	f.StringVar(&echoPeer, "peer", "", "Saved peer profile to use (default: current peer)")
	f.StringVar(&echoAddress, "address", "", "Acceptor host:port")
	f.StringVar(&echoCallingAE, "calling-ae", "", "Calling AE title")
	f.StringVar(&echoCalledAE, "called-ae", "", "Called AE title")
	f.StringVar(&echoUser, "user", "", "Username for user identity negotiation")
	f.StringVar(&echoPassword, "password", "", "Password for user identity negotiation")
	f.BoolVar(&echoAskPassword, "ask-password", false, "Prompt for the password")
	f.StringVar(&echoJWT, "jwt", "", "JWT to present as user identity")
	f.StringVar(&echoKerberosFile, "kerberos-token-file", "", "File holding a Kerberos service ticket to present")
	f.BoolVar(&echoPositive, "positive-response", false, "Ask the acceptor to acknowledge the identity")
	f.StringArrayVar(&echoSendCommands, "send-command", nil, "File holding a command to send (repeatable)")
	f.StringArrayVar(&echoSendDatasets, "send", nil, "File holding a dataset to send (repeatable)")
	f.Uint8Var(&echoContextID, "context", 1, "Presentation context ID for sent messages")
	f.StringVarP(&echoOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runEcho(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(echoOutput)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cc := cfg.Client

	peer, err := loadPeer(echoPeer)
	if err != nil {
		return err
	}
	if peer != nil {
		applyPeer(&cc, peer)
	}
	if len(args) == 1 {
		cc.Address = args[0]
	}
	if echoAddress != "" {
		cc.Address = echoAddress
	}
	if echoCallingAE != "" {
		cc.CallingAETitle = echoCallingAE
	}
	if echoCalledAE != "" {
		cc.CalledAETitle = echoCalledAE
	}
	if cc.Address == "" {
		return errors.New("no acceptor address: pass one, use --peer or set client.address")
	}

	params, err := cc.Parameters()
	if err != nil {
		return err
	}
	identity, err := echoIdentity(peer)
	if err != nil {
		return err
	}
	if params.Identity, err = identity.Build(); err != nil {
		return err
	}

	messages, err := readMessages(echoContextID, echoSendCommands, echoSendDatasets)
	if err != nil {
		return err
	}

	res, runErr := client.Run(cmd.Context(), client.Options{
		Address:                 cc.Address,
		Parameters:              params,
		Transport:               cc.Transport,
		RequireIdentityResponse: cc.RequireIdentityResponse,
		Messages:                messages,
	})
	if res == nil {
		return runErr
	}

	p := output.NewPrinter(os.Stdout, format, true)
	if format != output.FormatTable {
		if err := p.Print(res); err != nil {
			return err
		}
		return runErr
	}

	summary := fmt.Sprintf("%s -> %s@%s: %s in %s",
		res.CallingAETitle, res.CalledAETitle, res.Peer, res.Outcome, timeutil.FormatDuration(res.Duration))
	p.Outcome(res.Outcome, summary)
	if res.Rejection != "" {
		p.Printf("  %s\n", res.Rejection)
	}
	if len(res.Contexts) > 0 {
		p.Println()
		if err := p.Print(res); err != nil {
			return err
		}
	}
	if res.Outcome == assoc.OutcomeReleased && res.MessagesSent > 0 {
		p.Printf("\n  Sent %d message(s), %d bytes\n", res.MessagesSent, res.BytesSent)
	}
	return runErr
}

// loadPeer returns the named profile, the current profile when name is
// empty, or nil when no profile applies.
func loadPeer(name string) (*credentials.Peer, error) {
	store, err := credentials.NewStore()
	if err != nil {
		return nil, err
	}
	if name != "" {
		return store.Get(name)
	}
	_, peer, err := store.Current()
	if errors.Is(err, credentials.ErrNoCurrentPeer) {
		return nil, nil
	}
	return peer, err
}

func applyPeer(cc *config.ClientConfig, peer *credentials.Peer) {
	cc.Address = peer.Address
	if peer.CallingAETitle != "" {
		cc.CallingAETitle = peer.CallingAETitle
	}
	if peer.CalledAETitle != "" {
		cc.CalledAETitle = peer.CalledAETitle
	}
}

// echoIdentity merges the identity flags over the peer profile. Any identity
// flag replaces the profile's identity entirely.
func echoIdentity(peer *credentials.Peer) (client.IdentityOptions, error) {
	opts := client.IdentityOptions{PositiveResponse: echoPositive}

	flagged := echoUser != "" || echoJWT != "" || echoKerberosFile != ""
	if !flagged && peer != nil {
		switch peer.IdentityType {
		case credentials.IdentityUsername:
			opts.Username = peer.Username
		case credentials.IdentityPassword:
			opts.Username, opts.Password = peer.Username, peer.Password
		case credentials.IdentityJWT:
			if peer.TokenExpired() {
				return opts, errors.New("the saved token has expired: run 'dicomul token --save-peer' again")
			}
			opts.Token = peer.Token
		}
		return opts, nil
	}

	opts.Username = echoUser
	opts.Password = echoPassword
	if echoAskPassword {
		if echoUser == "" {
			return opts, errors.New("--ask-password requires --user")
		}
		pw, err := prompt.Password("Password", 1)
		if err != nil {
			return opts, err
		}
		opts.Password = pw
	}
	opts.Token = echoJWT
	if echoKerberosFile != "" {
		ticket, err := os.ReadFile(echoKerberosFile)
		if err != nil {
			return opts, fmt.Errorf("failed to read Kerberos token: %w", err)
		}
		opts.KerberosTicket = ticket
	}
	return opts, nil
}

// readMessages loads the files to send: commands first, then datasets, in
// flag order.
func readMessages(contextID uint8, commands, datasets []string) ([]client.Message, error) {
	var out []client.Message
	read := func(path string, command bool) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		out = append(out, client.Message{ContextID: contextID, Command: command, Data: data})
		return nil
	}
	for _, path := range commands {
		if err := read(path, true); err != nil {
			return nil, err
		}
	}
	for _, path := range datasets {
		if err := read(path, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}
