package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"modgate/internal/app"
	"modgate/internal/config"
	"modgate/internal/db"
	"modgate/internal/domain"
	"modgate/internal/engine"
	"modgate/internal/repo"
	"modgate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mg",
	Short: "Modgate CLI",
	Long: `Modgate moderates community content through guarded state transitions.
- Accounts apply to become creators; admins approve or reject applications.
- Approved creators submit workflows, which admins moderate the same way.
- Admin-curated content items move draft -> published -> archived (events may be cancelled).
- Every transition is audited and fans out notifications inside the same transaction.
- Roles (admin, creator, user) are projected fresh from the admin set and application history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MODGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("account-id", "", "acting account id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("account-id", rootCmd.PersistentFlags().Lookup("account-id"))
}

func registerCommands() {
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Manage accounts"}
	acc.AddCommand(accountCreateCmd())
	acc.AddCommand(accountShowCmd())
	acc.AddCommand(accountRoleCmd())
	return acc
}

func accountCreateCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAccount(ctx, email)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func accountShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func accountRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role <id>",
		Short: "Show an account's projected role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				role, err := e.EffectiveRole(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"account_id": args[0], "role": string(role)})
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	prof := &cobra.Command{Use: "profile", Short: "Manage profiles"}
	prof.AddCommand(profileShowCmd())
	prof.AddCommand(profileListCmd())
	return prof
}

func profileShowCmd() *cobra.Command {
	var byAccount bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var p domain.Profile
				var err error
				if byAccount {
					p, err = e.Repo.GetProfileByAccount(ctx, args[0])
				} else {
					p, err = e.Repo.GetProfile(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&byAccount, "by-account", false, "treat the argument as an account id")
	return cmd
}

func profileListCmd() *cobra.Command {
	var f repo.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProfiles(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Account", "Name", "Cached Status", "Version"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.AccountID, p.Name, p.CachedStatus, p.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "cached status filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "name substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func applicationCmd() *cobra.Command {
	appCmd := &cobra.Command{
		Use:   "application",
		Short: "Manage creator applications",
		Long:  "Creator applications flow pending -> approved/rejected. Only one may be pending per account; the most recently submitted one decides the creator role.",
	}
	appCmd.AddCommand(applicationSubmitCmd())
	appCmd.AddCommand(applicationListCmd())
	appCmd.AddCommand(applicationShowCmd())
	appCmd.AddCommand(applicationModerateCmd("approve"))
	appCmd.AddCommand(applicationModerateCmd("reject"))
	return appCmd
}

func applicationSubmitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a creator application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				a, err := e.SubmitCreatorApplication(ctx, actor, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for a newly created profile")
	return cmd
}

func applicationListCmd() *cobra.Command {
	var f repo.ApplicationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListApplications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Account", "Status", "Submitted", "Version"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.AccountID, a.Status, a.SubmittedAt, a.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AccountID, "account", "", "account filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func applicationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetApplication(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func applicationModerateCmd(action string) *cobra.Command {
	var version int64
	var reason string
	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: titled(action) + " an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				a, evt, err := e.ModerateApplication(ctx, actor, args[0], domain.Action(action), version, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"application": a, "event": evt})
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version token read before deciding")
	if action == "reject" {
		cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	}
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage workflows"}
	wf.AddCommand(workflowSubmitCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowModerateCmd("approve"))
	wf.AddCommand(workflowModerateCmd("reject"))
	return wf
}

func workflowSubmitCmd() *cobra.Command {
	var profileID, title, body string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a workflow for moderation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				w, err := e.SubmitWorkflow(ctx, actor, profileID, title, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "owning profile id")
	cmd.Flags().StringVar(&title, "title", "", "workflow title")
	cmd.Flags().StringVar(&body, "body", "", "workflow body JSON")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var f repo.WorkflowFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkflows(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner Profile", "Title", "Status", "Version"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.OwnerProfileID, w.Title, w.Status, w.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerProfileID, "profile", "", "owner profile filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "title substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workflowModerateCmd(action string) *cobra.Command {
	var version int64
	var reason string
	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: titled(action) + " a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				w, evt, err := e.ModerateWorkflow(ctx, actor, args[0], domain.Action(action), version, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"workflow": w, "event": evt})
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version token read before deciding")
	if action == "reject" {
		cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	}
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func contentCmd() *cobra.Command {
	content := &cobra.Command{
		Use:   "content",
		Short: "Manage content items",
		Long:  "Content items flow draft -> published -> archived; events may be cancelled from published instead.",
	}
	content.AddCommand(contentCreateCmd())
	content.AddCommand(contentListCmd())
	content.AddCommand(contentShowCmd())
	content.AddCommand(contentTransitionCmd("publish"))
	content.AddCommand(contentTransitionCmd("archive"))
	content.AddCommand(contentTransitionCmd("cancel"))
	return content
}

func contentCreateCmd() *cobra.Command {
	var kind, title string
	var featured bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft content item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				c, err := e.CreateContentItem(ctx, actor, kind, title, featured)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind (event or news)")
	cmd.Flags().StringVar(&title, "title", "", "content title")
	cmd.Flags().BoolVar(&featured, "featured", false, "mark as featured")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func contentListCmd() *cobra.Command {
	var f repo.ContentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List content items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContentItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Title", "Status", "Featured", "Version"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Kind, c.Title, c.Status, c.IsFeatured, c.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "title substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func contentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetContentItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contentTransitionCmd(action string) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: titled(action) + " a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				c, evt, err := e.TransitionContent(ctx, actor, args[0], domain.Action(action), version)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"content": c, "event": evt})
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version token read before deciding")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func notificationsCmd() *cobra.Command {
	notif := &cobra.Command{Use: "notifications", Short: "Manage notifications"}
	notif.AddCommand(notificationsListCmd())
	notif.AddCommand(notificationsReadCmd())
	return notif
}

func notificationsListCmd() *cobra.Command {
	var unread bool
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the acting account's notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor engine.Actor) error {
				items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
					RecipientAccountID: actor.AccountID,
					UnreadOnly:         unread,
					Limit:              limit,
					Offset:             offset,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Priority", "Read", "Message"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Type, n.Priority, n.Read, n.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func notificationsReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.MarkNotificationRead(ctx, args[0]); err != nil {
					return err
				}
				n, err := e.Repo.GetNotification(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the transition log"}
	log.AddCommand(logShowCmd())
	return log
}

func logShowCmd() *cobra.Command {
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the audit trail for one entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListTransitions(ctx, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Action", "From", "To", "Actor", "Role"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Action, evt.FromStatus, evt.ToStatus, evt.ActorAccountID, evt.ActorRole})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	_ = cmd.MarkFlagRequired("entity-kind")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func adminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin membership set",
		Long:  "The admin set is operator-managed configuration; the engine reads it for authorization and fan-out but never writes it.",
	}
	admin.AddCommand(adminSeedCmd())
	admin.AddCommand(adminListCmd())
	return admin
}

func adminSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [account-id...]",
		Short: "Grant admin membership to accounts (defaults to config admins)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids := args
				if len(ids) == 0 && e.Config != nil {
					ids = e.Config.Admins
				}
				if len(ids) == 0 {
					return fmt.Errorf("no account ids given and no admins in config")
				}
				now := time.Now().UTC().Format(time.RFC3339)
				for _, id := range ids {
					if _, err := e.Repo.GetAccount(ctx, id); err != nil {
						return fmt.Errorf("account %s: %w", id, err)
					}
					if err := e.Repo.SeedAdmin(ctx, id, now); err != nil {
						return err
					}
				}
				return printJSONOrTable(map[string]any{"seeded": ids})
			})
		},
	}
	return cmd
}

func adminListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List admin accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.Repo.ListAdminAccountIDs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(ids)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var accountID, name, key string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an API key for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("--key required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetAccount(ctx, accountID); err != nil {
					return err
				}
				rec := domain.APIKey{
					ID:        e.NewID(),
					AccountID: accountID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&key, "key", "", "key material (stored hashed)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, accountID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			jwtSecret := os.Getenv("MODGATE_JWT_SECRET")
			if jwtSecret == "" {
				jwtSecret = cfg.Server.JWTSecret
			}
			if jwtSecret == "" {
				return fmt.Errorf("MODGATE_JWT_SECRET is required for bearer auth")
			}
			authCfg := server.AuthConfig{
				JWTSecret:              jwtSecret,
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
				Logger:                 logger,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving Modgate API", zap.String("addr", addr), zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := app.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, engine.Actor) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actor, err := app.ResolveActor(ctx, e, viper.GetString("account-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func titled(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
