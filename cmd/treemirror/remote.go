package main

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"treemirror/internal/client"
	"treemirror/internal/config"
)

const remoteTimeout = 30 * time.Second

type remoteOptions struct {
	server string
	token  string
}

// resolve fills the server address and token from the configuration when
// the flags were not given.
func (o *remoteOptions) resolve(cmd *cobra.Command, global *globalOptions) (baseURL, token string, err error) {
	cfg, err := global.loadConfig(cmd, config.Overrides{}, nil)
	if err != nil {
		return "", "", err
	}
	baseURL = o.server
	if baseURL == "" {
		baseURL = cfg.Server.Listen
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	token = o.token
	if !cmd.Flags().Changed("token") {
		token = cfg.Server.Token
	}
	return baseURL, token, nil
}

func newRemoteCommand(global *globalOptions) *cobra.Command {
	options := &remoteOptions{}
	httpClient := &http.Client{Timeout: remoteTimeout}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a running treemirror server",
	}
	cmd.PersistentFlags().StringVar(&options.server, "server", "", "server address (defaults to server.listen)")
	cmd.PersistentFlags().StringVar(&options.token, "token", "", "bearer token (defaults to server.token)")

	cmd.AddCommand(&cobra.Command{
		Use:   "roots",
		Short: "List the server's roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, token, err := options.resolve(cmd, global)
			if err != nil {
				return err
			}
			roots, err := client.FetchRoots(httpClient, baseURL, token)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tWATCHING\tPATH")
			for _, root := range roots {
				fmt.Fprintf(writer, "%s\t%s\t%t\t%s\n", root.ID, root.Name, root.Watching, root.Path)
			}
			return writer.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cat <root-id> <path>",
		Short: "Print a file through the server's consistent read",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, token, err := options.resolve(cmd, global)
			if err != nil {
				return err
			}
			content, err := client.FetchContent(httpClient, baseURL, token, args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), content.Text)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh <root-id>",
		Short: "Reconcile a root against disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, token, err := options.resolve(cmd, global)
			if err != nil {
				return err
			}
			info, err := client.RefreshRoot(httpClient, baseURL, token, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s (%s)\n", info.Name, info.Path)
			return nil
		},
	})
	return cmd
}
