package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/standby/client/sossh"
	"github.com/gammadia/standby/server/api"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

const defaultPort = "25380"

var client *api.Client

var verbose bool

var standbyCmd = &cobra.Command{
	Use:   "standby",
	Short: "Standby keeps compute nodes cold until they are needed.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if err != nil {
				err = fmt.Errorf("failed to connect to standby server: %w", err)
			}
		}()

		remote := lo.Must(cmd.Flags().GetString("remote"))

		host, port, _ := strings.Cut(remote, ":")
		if port == "" {
			port = defaultPort
		}
		sshTunneling := lo.Must(cmd.Flags().GetBool("ssh-tunneling"))
		if (host == "127.0.0.1" || host == "localhost") && !cmd.Flags().Changed("ssh-tunneling") {
			sshTunneling = false
		}
		if sshTunneling {
			if _, err := exec.LookPath("ssh"); err != nil {
				return fmt.Errorf("ssh tunneling requires ssh: %w", err)
			}
		}

		var dialer net.Dialer
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if !sshTunneling {
				return dialer.DialContext(ctx, network, addr)
			}

			// The tunnel outlives the dial, so it is tied to the command rather than to ctx
			sshPort := lo.Must(cmd.Flags().GetInt("ssh-port"))
			return sossh.DialContext(
				cmd.Context(),
				network,
				fmt.Sprintf("%s:%d", host, sshPort),
				lo.Must(cmd.Flags().GetString("ssh-username")),
				fmt.Sprintf("127.0.0.1:%s", port),
			)
		}

		client, err = api.NewClient(fmt.Sprintf("%s:%s", host, port), &http.Client{Transport: transport})
		return err
	},
}

func init() {
	standbyCmd.AddCommand(completionCmd)
	standbyCmd.AddCommand(lsCmd)
	standbyCmd.AddCommand(provisionCmd)
	standbyCmd.AddCommand(showCmd)
	standbyCmd.AddCommand(terminateCmd)
	standbyCmd.AddCommand(topCmd)
	standbyCmd.AddCommand(versionCmd)

	standbyCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	standbyCmd.PersistentFlags().String("remote", lo.Must(lo.Coalesce(os.Getenv("STANDBY_REMOTE"), "127.0.0.1:"+defaultPort)), "the server remote address")
	standbyCmd.PersistentFlags().Bool("ssh-tunneling", true, "use ssh tunneling to connect to the server")
	standbyCmd.PersistentFlags().String("ssh-username", "standby", "username to use for ssh tunneling")
	standbyCmd.PersistentFlags().Int("ssh-port", 22, "port to use for ssh tunneling")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	standbyCmd.SetOut(os.Stdout)
	if err := standbyCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
