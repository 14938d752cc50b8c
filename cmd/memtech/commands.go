package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"memtech/internal/domain"
	"memtech/internal/engine"
	"memtech/internal/engine/auth"
	"memtech/internal/outline"
	"memtech/internal/repo"
)

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users and API keys"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userCreateSuperuserCmd())
	usr.AddCommand(userListCmd())
	usr.AddCommand(userUpdateCmd())
	usr.AddCommand(userAPIKeyCmd())
	return usr
}

func userFlags(cmd *cobra.Command, opts *engine.UserOptions, role *string) {
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Department, "department", "", "department")
	cmd.Flags().StringVar(role, "role", "", "ADMIN, WRITER or REVIEWER")
}

func userCreateCmd() *cobra.Command {
	var email, password, role string
	var opts engine.UserOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (requires --as an administrator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Role = domain.Role(strings.ToUpper(role))
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				u, err := e.CreateUser(ctx, email, password, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password; empty creates an account that cannot log in")
	userFlags(cmd, &opts, &role)
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userCreateSuperuserCmd() *cobra.Command {
	var email, password, role string
	var opts engine.UserOptions
	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := promptPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			opts.Role = domain.Role(strings.ToUpper(role))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateSuperuser(ctx, email, password, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	userFlags(cmd, &opts, &role)
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var role string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <user-id>",
		Short: "Change the role or the active flag of a user (requires --as an administrator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var access engine.UserAccess
			if cmd.Flags().Changed("role") {
				r := domain.Role(strings.ToUpper(role))
				access.Role = &r
			}
			if cmd.Flags().Changed("active") {
				access.IsActive = &active
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				u, err := e.UpdateUserAccess(ctx, args[0], access, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "ADMIN, WRITER or REVIEWER")
	cmd.Flags().BoolVar(&active, "active", true, "false deactivates the account")
	return cmd
}

func promptPassword(in io.Reader) (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx, domain.Role(strings.ToUpper(role)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable(table.Row{"ID", "Email", "Name", "Role", "Active"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.FullName(), u.Role, u.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func userAPIKeyCmd() *cobra.Command {
	var userEmail, name string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Issue an API key for yourself or, as administrator, for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				userID := actor.UserID
				if userEmail != "" {
					u, err := e.Repo.GetUserByEmail(ctx, engine.NormalizeEmail(userEmail))
					if err != nil {
						return err
					}
					userID = u.ID
				}
				key, plain, err := e.CreateAPIKey(ctx, userID, name, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"api_key": key, "key": plain})
				}
				fmt.Println(plain)
				fmt.Fprintln(os.Stderr, "store this key now; it cannot be shown again")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userEmail, "user", "", "email of the key owner (default: --as)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage contracting authorities (moa) and project managers (moe)"}
	var kind, name, address string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				o, err := e.CreateOrganization(ctx, domain.OrganizationKind(strings.ToLower(kind)), name, address, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	create.Flags().StringVar(&kind, "kind", "", "moa or moe")
	create.Flags().StringVar(&name, "name", "", "organization name")
	create.Flags().StringVar(&address, "address", "", "postal address")
	_ = create.MarkFlagRequired("kind")
	_ = create.MarkFlagRequired("name")

	var listKind string
	list := &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListOrganizations(ctx, domain.OrganizationKind(strings.ToLower(listKind)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Kind", "Name", "Address"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Kind, o.Name, o.Address})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listKind, "kind", "", "moa or moe")
	org.AddCommand(create, list)
	return org
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Document type catalog"}
	cat.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List document types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDocumentTypes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Type", "Mandatory", "Description"})
				for _, dt := range items {
					tw.AppendRow(table.Row{dt.Type, dt.IsMandatory, dt.Description})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cat
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectAddDocsCmd())
	prj.AddCommand(projectRecomputeCmd())
	prj.AddCommand(projectCancelCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var moe, moa, delivery string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and its required documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.MOEID = optionalString(moe)
			opts.MOAID = optionalString(moa)
			opts.OfferDeliveryDate = optionalString(delivery)
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, docs, err := e.CreateProject(ctx, opts, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "documents": docs})
				}
				fmt.Printf("project %s (%s) %s\n", p.ID, p.Name, p.Status)
				return renderDocuments(docs)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&moe, "moe", "", "project manager organization id")
	cmd.Flags().StringVar(&moa, "moa", "", "contracting authority organization id")
	cmd.Flags().StringVar(&delivery, "delivery-date", "", "offer delivery date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&opts.DocumentTypes, "type", nil, "document types (default: mandatory catalog entries)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Status", "Delivery", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, derefOr(p.OfferDeliveryDate, ""), p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				progress, err := e.ProjectProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(progress)
				}
				p := progress.Project
				fmt.Printf("%s (%s) %s: %.0f%% approved (%d/%d)\n", p.Name, p.ID, p.Status, progress.Completion, progress.Approved, progress.Total)
				return renderDocuments(progress.Documents)
			})
		},
	}
}

func renderDocuments(docs []domain.ProjectDocument) error {
	tw := newTable(table.Row{"ID", "Type", "Status", "Completion", "Cycle", "Writer", "Reviewer", "Needs correction"})
	for _, d := range docs {
		tw.AppendRow(table.Row{
			d.ID, d.DocumentType, d.Status, fmt.Sprintf("%.0f%%", d.CompletionPercentage), d.ReviewCycle,
			derefOr(d.WriterID, "-"), derefOr(d.ReviewerID, "-"), d.NeedsCorrection,
		})
	}
	tw.Render()
	return nil
}

func projectAddDocsCmd() *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "add-docs <project-id>",
		Short: "Link more catalog document types to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				docs, err := e.AddRequiredDocuments(ctx, args[0], types, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				return renderDocuments(docs)
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "document types")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func projectRecomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <project-id>",
		Short: "Re-derive the project status from its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RecomputeProjectStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <project-id>",
		Short: "Cancel a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.CancelProject(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Soft-delete a project and remove its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := promptPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.SoftDeleteProject(ctx, args[0], password, actor); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "your password (prompted when empty)")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Work on project documents"}
	doc.AddCommand(docShowCmd())
	doc.AddCommand(docTransitionCmd())
	doc.AddCommand(docAssignCmd())
	doc.AddCommand(docCommentCmd())
	doc.AddCommand(docResolveCmd())
	doc.AddCommand(docHistoryCmd())
	doc.AddCommand(docContentCmd())
	return doc
}

func docShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func docTransitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <document-id> <status>",
		Short: "Move a document to DRAFT, REVIEW_1, CORRECTION, REVIEW_2, VALIDATION or APPROVED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.Transition(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("%s %s: %s (%.0f%%, cycle %d)\n", d.DocumentType, d.ID, d.Status, d.CompletionPercentage, d.ReviewCycle)
				return nil
			})
		},
	}
}

func docAssignCmd() *cobra.Command {
	var writer, reviewer string
	cmd := &cobra.Command{
		Use:   "assign <document-id>",
		Short: "Assign writer and reviewer by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				writerID, err := userIDByEmail(ctx, e, writer)
				if err != nil {
					return err
				}
				reviewerID, err := userIDByEmail(ctx, e, reviewer)
				if err != nil {
					return err
				}
				d, err := e.AssignRoles(ctx, args[0], writerID, reviewerID, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&writer, "writer", "", "writer email")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer email")
	return cmd
}

func userIDByEmail(ctx context.Context, e engine.Engine, email string) (*string, error) {
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	u, err := e.Repo.GetUserByEmail(ctx, engine.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return &u.ID, nil
}

func docCommentCmd() *cobra.Command {
	var content string
	var requiresCorrection bool
	cmd := &cobra.Command{
		Use:   "comment <document-id>",
		Short: "Comment on a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				c, err := e.AddComment(ctx, args[0], content, requiresCorrection, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	cmd.Flags().BoolVar(&requiresCorrection, "requires-correction", false, "flag the document for correction")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func docResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <comment-id>",
		Short: "Resolve a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				c, err := e.ResolveComment(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func docHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <document-id>",
		Short: "Show status history and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				h, err := e.History(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				tw := newTable(table.Row{"When", "From", "To", "By"})
				for _, entry := range h.History {
					tw.AppendRow(table.Row{entry.CreatedAt, entry.FromStatus, entry.ToStatus, entry.UserID})
				}
				tw.Render()
				ct := newTable(table.Row{"ID", "Cycle", "Author", "Correction", "Resolved", "Content"})
				for _, c := range h.Comments {
					ct.AppendRow(table.Row{c.ID, c.ReviewCycle, c.AuthorID, c.RequiresCorrection, c.Resolved, c.Content})
				}
				ct.Render()
				return nil
			})
		},
	}
}

func docContentCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set-content <document-id>",
		Short: "Replace the document body with the contents of --file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.UpdateContent(ctx, args[0], string(data), actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "content file")
	return cmd
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func outlineCmd() *cobra.Command {
	out := &cobra.Command{Use: "outline", Short: "Generate memo outlines from an RC"}
	out.AddCommand(outlineAnalyzeCmd())
	out.AddCommand(outlineShowCmd())
	out.AddCommand(outlineAttachCmd())
	return out
}

func outlineAnalyzeCmd() *cobra.Command {
	var project, file, kind string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Upload an RC (PDF or text) and generate its outline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}
				ref, err := e.UploadReference(ctx, project, kind, filepath.Base(file), f, info.Size(), actor)
				if err != nil {
					return err
				}
				res, err := e.AnalyzeReference(ctx, ref.ID, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("outline from %s (%s, %d tokens)\n\n", ref.Filename, res.Result.Source, res.Result.TokenCount)
				fmt.Print(outline.Render(res.Result.Outline))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&file, "file", "", "RC file")
	cmd.Flags().StringVar(&kind, "kind", "RC", "RC or CCTP")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func outlineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print the latest outline of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.LatestOutline(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Print(outline.Render(res.Result.Outline))
				return nil
			})
		},
	}
}

func outlineAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <document-id>",
		Short: "Append the latest project outline to a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.AttachOutline(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func libraryCmd() *cobra.Command {
	lib := &cobra.Command{Use: "library", Short: "Shared content library"}

	var in engine.LibraryItemInput
	var contentFile string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a library item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				data, err := readInput(cmd.InOrStdin(), contentFile)
				if err != nil {
					return err
				}
				in.Content = string(data)
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				it, err := e.CreateLibraryItem(ctx, in, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	add.Flags().StringVar(&in.Category, "category", "texte", strings.Join(engine.LibraryCategories, ", "))
	add.Flags().StringVar(&in.Title, "title", "", "title")
	add.Flags().StringVar(&in.Content, "content", "", "content")
	add.Flags().StringVar(&contentFile, "content-file", "", "read content from a file (- for stdin)")
	add.Flags().StringSliceVar(&in.Tags, "tag", nil, "tags")
	_ = add.MarkFlagRequired("title")

	var f repo.LibraryFilter
	var favorites bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Search the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if favorites {
					f.FavoritesOf = actor.UserID
				}
				items, err := e.ListLibraryItems(ctx, f, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Category", "Title", "Tags", "Version", "Favorite"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Category, it.Title, strings.Join(it.Tags, ","), it.Version, it.Favorite})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Category, "category", "", "category filter")
	list.Flags().StringVar(&f.Tag, "tag", "", "tag filter")
	list.Flags().StringVar(&f.Query, "q", "", "text search")
	list.Flags().BoolVar(&favorites, "favorites", false, "only your favorites")
	list.Flags().IntVar(&f.Limit, "limit", 50, "maximum items")

	var unset bool
	fav := &cobra.Command{
		Use:   "favorite <item-id>",
		Short: "Mark (or with --unset, unmark) an item as favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				return e.SetFavorite(ctx, args[0], !unset, actor)
			})
		},
	}
	fav.Flags().BoolVar(&unset, "unset", false, "remove from favorites")

	insert := &cobra.Command{
		Use:   "insert <document-id> <item-id>",
		Short: "Append a library item to a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.InsertLibraryItem(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	lib.AddCommand(add, list, fav, insert)
	return lib
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var project string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, project, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&project, "project", "", "project filter")
	lg.AddCommand(tail)
	return lg
}
