package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	api "github.com/nixpig/jobsearch/api/v1"
	"github.com/nixpig/jobsearch/internal/tlsconfig"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

// TODO: Inject version at build time.
const version = "0.0.1"

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

type config struct {
	serverHostname string
	serverPort     string
	caCertPath     string
	certPath       string
	keyPath        string
}

type cli struct {
	client *api.Client
	conn   *grpc.ClientConn
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	cfg := &config{}

	command := &cobra.Command{
		Use:          "jobctl",
		Short:        "CLI for running job searches on a jobserver",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
				CertPath:   cfg.certPath,
				KeyPath:    cfg.keyPath,
				CACertPath: cfg.caCertPath,
				ServerName: cfg.serverHostname,
			})
			if err != nil {
				return err
			}

			c.conn, err = grpc.NewClient(
				net.JoinHostPort(
					cfg.serverHostname,
					cfg.serverPort,
				),
				grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
			)
			if err != nil {
				return err
			}

			c.client = api.NewClient(c.conn)

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.conn == nil {
				return nil
			}

			// Connection needs to remain open for duration of any child commands.
			return c.conn.Close()
		},
	}

	command.AddCommand(
		c.startCmd(),
		c.statusCmd(),
		c.removeCmd(),
		c.watchCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&cfg.serverHostname,
		"server-hostname",
		"localhost",
		"Server hostname",
	)

	command.PersistentFlags().StringVar(
		&cfg.serverPort,
		"server-port",
		"8443",
		"Server port",
	)

	command.PersistentFlags().StringVar(
		&cfg.certPath,
		"cert-path",
		"certs/client-operator.crt",
		"Path to client TLS certificate",
	)

	command.PersistentFlags().StringVar(
		&cfg.keyPath,
		"key-path",
		"certs/client-operator.key",
		"Path to client TLS private key",
	)

	command.PersistentFlags().StringVar(
		&cfg.caCertPath,
		"ca-cert-path",
		"certs/ca.crt",
		"Path to CA certificate for mTLS",
	)

	return command
}

func (c *cli) startCmd() *cobra.Command {
	var (
		cvPath    string
		companies []string
	)

	command := &cobra.Command{
		Use:   "start [flags]",
		Short: "Start a new job search",
		Example: "  jobctl start --cv ./cv.pdf\n" +
			"  jobctl start --companies Google,Meta",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := newStartRequest(cvPath, companies)
			if err != nil {
				return err
			}

			id, err := c.client.StartTask(cmd.Context(), req)
			if err != nil {
				return mapError(err)
			}

			cmd.OutOrStdout().Write([]byte(id + "\n"))

			return nil
		},
	}

	command.Flags().StringVar(&cvPath, "cv", "", "Path to a CV to search with")
	command.Flags().StringSliceVar(&companies, "companies", nil, "Companies to search")

	command.MarkFlagsMutuallyExclusive("cv", "companies")
	command.MarkFlagsOneRequired("cv", "companies")

	return command
}

// newStartRequest builds a StartRequest from the start flags. The CV path is
// made absolute since the server resolves it relative to its own directory.
func newStartRequest(cvPath string, companies []string) (api.StartRequest, error) {
	req := api.StartRequest{Companies: companies}

	if cvPath != "" {
		abs, err := filepath.Abs(cvPath)
		if err != nil {
			return api.StartRequest{}, err
		}

		req.CVPath = abs
	}

	if err := req.Validate(); err != nil {
		return api.StartRequest{}, errors.New("exactly one of --cv or --companies is required")
	}

	return req, nil
}

func (c *cli) statusCmd() *cobra.Command {
	var format string

	command := &cobra.Command{
		Use:     "status [flags] TASK_ID",
		Short:   "Query status and results of a job search",
		Example: "  jobctl status 9302033c-f8f7-4b6e-9363-a7aa201cce1b -o json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.client.QueryTask(cmd.Context(), args[0])
			if err != nil {
				return mapError(err)
			}

			return renderStatus(cmd.OutOrStdout(), resp, format)
		},
	}

	command.Flags().StringVarP(
		&format,
		"output",
		"o",
		outputTable,
		"Output format: table, json or yaml",
	)

	return command
}

func (c *cli) removeCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "remove [flags] TASK_ID",
		Short:   "Remove a job search and its results",
		Example: "  jobctl remove 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.RemoveTask(cmd.Context(), args[0]); err != nil {
				return mapError(err)
			}

			return nil
		},
	}

	return command
}

func (c *cli) watchCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "watch [flags] TASK_ID",
		Short:   "Stream the log of a job search",
		Example: "  jobctl watch 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := c.client.WatchTask(cmd.Context(), args[0])
			if err != nil {
				return mapError(err)
			}

			for {
				line, err := stream.Recv()
				if err != nil {
					if err == io.EOF {
						break
					}

					if status.Code(err) == codes.Canceled {
						break
					}

					return mapError(err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), line.String())
			}

			return nil
		},
	}

	return command
}

func renderStatus(w io.Writer, s *api.TaskStatus, format string) error {
	switch format {
	case outputJSON:
		data, err := sonic.ConfigStd.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(w, "%s\n", data)
		return err

	case outputYAML:
		return yaml.NewEncoder(w).Encode(s)

	case outputTable:
		return renderStatusTable(w, s)

	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderStatusTable(w io.Writer, s *api.TaskStatus) error {
	// TODO: Only output headers if TTY. Or could add a flag like --plain or
	// --skip-headers to hide headers.
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	ended := "-"
	if s.EndedAt != nil {
		ended = s.EndedAt.Format(time.RFC3339)
	}

	fmt.Fprintf(tw, "TASK ID\tSTATUS\tMODE\tEXIT CODE\tCREATED\tENDED\t\n")
	fmt.Fprintf(
		tw,
		"%s\t%s\t%s\t%d\t%s\t%s\t\n",
		s.TaskID,
		s.Status,
		s.Mode,
		s.ExitCode,
		s.CreatedAt.Format(time.RFC3339),
		ended,
	)

	if err := tw.Flush(); err != nil {
		return err
	}

	if s.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", s.Error)
	}

	if s.ResultsError != "" {
		fmt.Fprintf(w, "\nResults error: %s\n", s.ResultsError)
	}

	if len(s.Jobs) == 0 {
		return nil
	}

	fmt.Fprintln(w)

	fmt.Fprintf(tw, "TITLE\tCOMPANY\tLOCATION\tSALARY\tLINK\t\n")
	for _, j := range s.Jobs {
		fmt.Fprintf(
			tw,
			"%s\t%s\t%s\t%s\t%s\t\n",
			j.Title,
			j.Company,
			j.Location,
			j.Salary,
			j.Link,
		)
	}

	return tw.Flush()
}

// mapError translates gRPC errors to human-readable messages.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return errors.New("not found")
	case codes.PermissionDenied:
		return errors.New("permission denied")
	case codes.Unauthenticated:
		return errors.New("not authenticated")
	case codes.InvalidArgument:
		return fmt.Errorf("%s", st.Message())
	case codes.Unavailable:
		return errors.New("server unavailable")
	case codes.DeadlineExceeded:
		return errors.New("request timed out")
	default:
		return fmt.Errorf("%s", st.Message())
	}
}
