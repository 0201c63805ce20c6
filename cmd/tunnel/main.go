// Command tunnel runs the reverse-tunnel HTTP/HTTPS proxy: it reserves a
// remote port from the device-testing cloud, opens an outbound secure-shell
// session, and forwards every connection the remote agent makes back
// through the developer's local network.
package main

import (
	"fmt"
	"os"

	"github.com/appurify/go-tunnel/pkg/constants"
	"github.com/appurify/go-tunnel/pkg/control"
	"github.com/appurify/go-tunnel/pkg/sshtunnel"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	apiKey    string
	apiSecret string
	username  string
	password  string

	pidFile string
	daemon  bool

	pid       int
	terminate bool
}

func main() {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Reverse-tunnel proxy for remote device testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}

	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "API key (paired with --api-secret)")
	cmd.Flags().StringVar(&flags.apiSecret, "api-secret", "", "API secret (paired with --api-key)")
	cmd.Flags().StringVar(&flags.username, "username", "", "Account username (paired with --password)")
	cmd.Flags().StringVar(&flags.password, "password", "", "Account password (paired with --username)")
	cmd.Flags().StringVar(&flags.pidFile, "pid-file", "", "Path to write the tunnel's pid (default: auto-generated temp file)")
	cmd.Flags().BoolVar(&flags.daemon, "daemon", false, "Double-fork and detach (ignored on Windows)")
	cmd.Flags().IntVar(&flags.pid, "pid", 0, "Pid of a running tunnel, for --terminate")
	cmd.Flags().BoolVar(&flags.terminate, "terminate", false, "Send SIGTERM to a running tunnel identified by --pid or --pid-file")

	cmd.MarkFlagsMutuallyExclusive("api-key", "username")
	cmd.MarkFlagsMutuallyExclusive("api-secret", "password")
	cmd.MarkFlagsRequiredTogether("api-key", "api-secret")
	cmd.MarkFlagsRequiredTogether("username", "password")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags rootFlags) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	if flags.terminate {
		ok, err := terminate(flags, log)
		if err != nil {
			return err
		}
		if !ok {
			os.Exit(1)
		}
		os.Exit(0)
	}

	creds, err := credentialsFrom(flags)
	if err != nil {
		return err
	}

	ctl := control.New(control.ConfigFromEnv(), constants.ProductName, constants.Version)
	sup := sshtunnel.New(ctl, creds, sshtunnel.Options{
		PidFilePath: flags.pidFile,
		Daemon:      flags.daemon,
	}, log)

	os.Exit(sup.Run())
	return nil
}

func credentialsFrom(flags rootFlags) (control.Credentials, error) {
	switch {
	case flags.apiKey != "":
		return control.Credentials{APIKey: flags.apiKey, APISecret: flags.apiSecret}, nil
	case flags.username != "":
		return control.Credentials{Username: flags.username, Password: flags.password}, nil
	default:
		return control.Credentials{}, fmt.Errorf("one of --api-key/--api-secret or --username/--password is required")
	}
}
