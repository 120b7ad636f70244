package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lexwrite/api/internal/appctx"
	"lexwrite/api/internal/assist"
	"lexwrite/api/internal/client"
)

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "lexctl",
		Short:         "Command line client for the Lexwrite editor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&e.apiURL, "api", e.apiURL, "API base URL")
	root.SetOut(e.out)
	root.AddCommand(
		newLoginCmd(e),
		newLogoutCmd(e),
		newWhoamiCmd(e),
		newDocsCmd(e),
		newAssistCmd(e),
		newCiteCmd(e),
		newUpgradeCmd(e),
	)
	return root
}

func newLoginCmd(e *env) *cobra.Command {
	var email, fullName string
	var signup bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			password, err := e.promptPassword()
			if err != nil {
				return err
			}
			state := appctx.New(client.New(e.apiURL), nil)
			if signup {
				err = state.SignUp(cmd.Context(), email, password, fullName)
			} else {
				err = state.SignIn(cmd.Context(), email, password)
			}
			if err != nil {
				return err
			}
			if err := e.saveSession(*state.Session()); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Signed in as %s\n", email)
			if !state.HasPremium() {
				fmt.Fprintln(e.out, "No active plan. Run `lexctl upgrade` to start a trial.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&signup, "signup", false, "create the account first")
	cmd.Flags().StringVar(&fullName, "name", "", "full name for --signup")
	return cmd
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			stored, err := e.loadSession()
			if err != nil {
				return err
			}
			if stored.AccessToken == "" {
				fmt.Fprintln(e.out, "Not logged in")
				return nil
			}
			c := client.New(e.apiURL)
			c.SetToken(stored.AccessToken)
			remoteErr := c.Logout(cmd.Context(), stored.RefreshToken)
			if err := e.clearSession(); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "Logged out")
			return remoteErr
		},
	}
}

func newWhoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			stored, err := e.loadSession()
			if err != nil {
				return err
			}
			state := appctx.New(client.New(e.apiURL), nil)
			if err := state.Init(cmd.Context(), stored); err != nil {
				return err
			}
			user := state.User()
			if user == nil {
				fmt.Fprintln(e.out, "Not logged in")
				return nil
			}
			fmt.Fprintf(e.out, "%s (%s)\n", user.Email, user.ID)
			fmt.Fprintln(e.out, planLine(state.Profile(), state.HasPremium()))
			return nil
		},
	}
}

func planLine(p *client.Profile, premium bool) string {
	if p == nil {
		return "Plan: unknown (profile not found)"
	}
	switch {
	case premium && p.TrialEndsAt != nil && p.SubscriptionStatus != "active":
		return "Plan: trial until " + p.TrialEndsAt.Local().Format(time.DateOnly)
	case premium:
		line := "Plan: premium"
		if p.SubscriptionInterval != "" {
			line += " (" + p.SubscriptionInterval + "ly)"
		}
		return line
	default:
		return "Plan: free (" + p.SubscriptionStatus + ")"
	}
}

func newDocsCmd(e *env) *cobra.Command {
	docs := &cobra.Command{Use: "docs", Short: "Manage documents"}

	docs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.authedClient()
			if err != nil {
				return err
			}
			list, err := c.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			return printDocuments(e.out, list)
		},
	})

	var content string
	newCmd := &cobra.Command{
		Use:   "new [title]",
		Short: "Create a document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.authedClient()
			if err != nil {
				return err
			}
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			doc, err := c.CreateDocument(cmd.Context(), title, content)
			if err != nil {
				if client.PremiumRequired(err) {
					return errors.New("creating documents needs an active plan, run `lexctl upgrade`")
				}
				return err
			}
			fmt.Fprintf(e.out, "Created %s %q\n", doc.ID, doc.Title)
			return nil
		},
	}
	newCmd.Flags().StringVar(&content, "content", "", "initial HTML content")
	docs.AddCommand(newCmd)

	var yes bool
	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("deleting is permanent, pass --yes to confirm")
			}
			c, err := e.authedClient()
			if err != nil {
				return err
			}
			if err := c.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Deleted %s\n", args[0])
			return nil
		},
	}
	rmCmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	docs.AddCommand(rmCmd)

	return docs
}

func printDocuments(w io.Writer, docs []client.Document) error {
	if len(docs) == 0 {
		_, err := fmt.Fprintln(w, "No documents")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Title, d.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func newAssistCmd(e *env) *cobra.Command {
	var req client.AssistRequest
	cmd := &cobra.Command{
		Use:   "assist <action> [text]",
		Short: "Run an AI writing action (improve, grammar, shorter, longer, translate, summarize, continue, custom, chat)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.authedClient()
			if err != nil {
				return err
			}
			req.Action = args[0]
			if len(args) == 2 {
				req.Text = args[1]
			} else if req.Text == "" {
				raw, err := io.ReadAll(e.in)
				if err != nil {
					return err
				}
				req.Text = strings.TrimSpace(string(raw))
			}
			result, err := c.Assist(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.CustomPrompt, "prompt", "", "instruction for custom or chat")
	cmd.Flags().StringVar(&req.DocumentContext, "context", "", "document text for chat")
	cmd.Flags().StringVar(&req.DocumentTitle, "title", "", "document title for chat")
	return cmd
}

func newCiteCmd(e *env) *cobra.Command {
	var req client.CitationRequest
	cmd := &cobra.Command{
		Use:   "cite <text>",
		Short: "Generate a citation for a study description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.authedClient()
			if err != nil {
				return err
			}
			req.Text = args[0]
			citation, err := c.Cite(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, citation.FormattedCitation)
			if citation.StudyFindings != "" {
				fmt.Fprintf(e.out, "\nFindings: %s\n", citation.StudyFindings)
			}
			if citation.Link != "" {
				fmt.Fprintf(e.out, "Link: %s\n", citation.Link)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Format, "format", "APA", "citation style: "+strings.Join(assist.CitationFormats, ", "))
	cmd.Flags().StringVar(&req.SampleSize, "sample-size", "", "sample size filter")
	cmd.Flags().StringVar(&req.DateRange, "date-range", "", "publication date range")
	cmd.Flags().StringVar(&req.Location, "location", "", "study location")
	cmd.Flags().StringVar(&req.Parameters, "params", "", "additional parameters")
	return cmd
}

func newUpgradeCmd(e *env) *cobra.Command {
	var interval string
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Print a checkout link for a subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.authedClient()
			if err != nil {
				return err
			}
			plans, err := c.Plans(cmd.Context())
			if err != nil {
				return err
			}
			priceID := ""
			for _, p := range plans {
				if p.Interval == interval {
					priceID = p.PriceID
				}
			}
			if priceID == "" {
				return fmt.Errorf("no %s plan is configured", interval)
			}
			url, err := c.Checkout(cmd.Context(), priceID)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Open this link to finish checkout:\n%s\n", url)
			return nil
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "week", "week or month")
	return cmd
}
