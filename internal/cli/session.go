package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crucible/internal/session"
)

// NewSessionCmd creates the session command group.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage execution sessions",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionDeleteCmd())

	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		envFlags []string
		workdir  string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a named session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := sessionManager(cmd)
			if err != nil {
				return err
			}

			env := map[string]string{}
			for _, kv := range envFlags {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
				}
				env[k] = v
			}

			if _, err := manager.Create(args[0], env, workdir); err != nil {
				return err
			}
			fmt.Printf("session %q created\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&envFlags, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "default working directory")

	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := sessionManager(cmd)
			if err != nil {
				return err
			}
			sessions, err := manager.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENV\tWORKDIR\tLAST USED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					s.Name, len(s.Env), s.Workdir,
					s.LastUsedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := sessionManager(cmd)
			if err != nil {
				return err
			}
			if err := manager.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("session %q deleted\n", args[0])
			return nil
		},
	}
}

func sessionManager(cmd *cobra.Command) (*session.Manager, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, fmt.Errorf("CLI context not initialized")
	}
	return cliCtx.NewSessionManager()
}
