package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/martijn/snapkeep/internal/core/domain"
)

var (
	clientScopes []string
	clientLabel  string
	assumeYes    bool
)

// confirm asks a yes/no question on stdin unless --yes was given.
func confirm(question string) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

type clientView struct {
	ID        string    `yaml:"id"`
	Label     string    `yaml:"label"`
	Scopes    []string  `yaml:"scopes"`
	Secret    string    `yaml:"secret,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

func newClientView(c *domain.Client) clientView {
	return clientView{ID: c.ID, Label: c.Label, Scopes: c.Scopes, CreatedAt: c.CreatedAt}
}

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage API client credentials",
	Long: `API clients exchange their id and secret at POST /auth/token for a
bearer token. Scopes limit what the token may do.`,
}

var clientsAddCmd = &cobra.Command{
	Use:   "add <label>",
	Short: "Create a client and print its secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutputFormat(); err != nil {
			return err
		}
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		client, secret, err := services.AuthService.CreateClient(cmd.Context(), args[0], clientScopes)
		if err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}

		view := newClientView(client)
		view.Secret = secret
		if outputFormat == "yaml" {
			return writeYAML(os.Stdout, view)
		}
		w := newTable()
		fmt.Fprintf(w, "Client ID:\t%s\n", view.ID)
		fmt.Fprintf(w, "Secret:\t%s\n", view.Secret)
		fmt.Fprintf(w, "Scopes:\t%s\n", strings.Join(view.Scopes, ","))
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "\nThe secret is stored hashed and cannot be shown again.")
		return nil
	},
}

var clientsDeleteCmd = &cobra.Command{
	Use:   "delete <client-id>",
	Short: "Revoke a client",
	Long:  "Revoke a client. Tokens it already holds stay valid until they expire.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		client, err := services.AuthService.GetClient(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !confirm(fmt.Sprintf("Delete client %s (%s)?", client.ID, client.Label)) {
			fmt.Println("Cancelled")
			return nil
		}
		if err := services.AuthService.DeleteClient(cmd.Context(), client.ID); err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		fmt.Printf("Deleted client %s\n", client.ID)
		return nil
	},
}

var clientsUpdateCmd = &cobra.Command{
	Use:   "update <client-id>",
	Short: "Change a client's label or scopes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var label *string
		if cmd.Flags().Changed("label") {
			label = &clientLabel
		}
		var scopes []string
		if cmd.Flags().Changed("scope") {
			scopes = clientScopes
		}
		if label == nil && scopes == nil {
			return errors.New("nothing to update: pass --label and/or --scope")
		}
		if err := checkOutputFormat(); err != nil {
			return err
		}

		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		client, err := services.AuthService.UpdateClient(cmd.Context(), args[0], label, scopes)
		if err != nil {
			return fmt.Errorf("failed to update client: %w", err)
		}
		if outputFormat == "yaml" {
			return writeYAML(os.Stdout, newClientView(client))
		}
		fmt.Printf("Updated client %s: %s [%s]\n", client.ID, client.Label, strings.Join(client.Scopes, ","))
		return nil
	},
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutputFormat(); err != nil {
			return err
		}
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		clients, err := services.AuthService.ListClients(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list clients: %w", err)
		}

		views := make([]clientView, len(clients))
		for i, c := range clients {
			views[i] = newClientView(c)
		}
		if outputFormat == "yaml" {
			return writeYAML(os.Stdout, views)
		}
		if len(views) == 0 {
			fmt.Println("No clients found")
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tLABEL\tSCOPES\tCREATED")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Label, strings.Join(v.Scopes, ","), relative(&v.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(clientsCmd)
	clientsCmd.AddCommand(clientsAddCmd, clientsDeleteCmd, clientsUpdateCmd, clientsListCmd)

	scopeHelp := fmt.Sprintf("scopes: %s, %s, %s or %s", domain.ScopeRead, domain.ScopeWrite, domain.ScopeTrigger, domain.ScopeAll)
	clientsAddCmd.Flags().StringSliceVar(&clientScopes, "scope", []string{domain.ScopeAll}, scopeHelp)
	clientsUpdateCmd.Flags().StringSliceVar(&clientScopes, "scope", nil, scopeHelp)
	clientsUpdateCmd.Flags().StringVar(&clientLabel, "label", "", "new label")
	clientsCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or yaml")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to confirmation prompts")
}
