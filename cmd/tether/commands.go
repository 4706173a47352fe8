package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/pkg/commands"
	"github.com/tetherhq/tether/pkg/style"
	"github.com/tetherhq/tether/pkg/ui"
)

// newDeps builds the production dependency set with a spinner wired in
// as the progress sink for network operations.
func newDeps(spinner *ui.Spinner) commands.Deps {
	deps := commands.NewDeps()
	if spinner != nil {
		deps.Sink = spinner
	}
	return deps
}

func runCheck(cmd *cobra.Command, entry string) error {
	spinner := ui.NewSpinner("Checking remote")
	deps := newDeps(spinner)
	result, err := commands.Check(cmd.Context(), deps, commands.CheckOptions{
		Entry:     entry,
		PrintDiff: checkPrintDiff,
	})
	if err != nil {
		spinner.Fail("Check failed")
		return err
	}
	spinner.Stop()
	if result.Clean() {
		fmt.Println("Everything is in order.")
	}
	return nil
}

var (
	initGitURL string
	initForce  bool

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Set up the config directory and its git repository",
		Long: `Set up the config directory. With --git, an existing config repository
is cloned and its entries are deployed. Without it, tether authenticates
with GitHub, creates a private repository, and pushes an empty config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spinner := ui.NewSpinner("Initializing")
			deps := newDeps(spinner)
			result, err := commands.Init(cmd.Context(), deps, commands.InitOptions{
				GitURL: initGitURL,
				Force:  initForce,
			})
			if err != nil {
				spinner.Fail("Initialization failed")
				return err
			}
			spinner.Stop()
			if result.ClonedFrom != "" {
				fmt.Printf("Cloned %s into %s\n", result.ClonedFrom, result.ConfigDir)
				for _, name := range result.Deployed {
					fmt.Printf("  deployed %s\n", style.EntryName(name))
				}
			} else {
				fmt.Printf("Created %s and initialized %s\n", result.RepoHTMLURL, result.ConfigDir)
			}
			return nil
		},
	}

	entryCmd = &cobra.Command{
		Use:   "entry",
		Short: "Manage entries and their tracked files",
	}

	entryPush bool

	entryCreateCmd = &cobra.Command{
		Use:   "create <name> [files...]",
		Short: "Create a new entry, optionally tracking initial files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spinner := ui.NewSpinner("Creating entry")
			deps := newDeps(spinner)
			result, err := commands.NewEntry(cmd.Context(), deps, commands.NewEntryOptions{
				Name:  args[0],
				Files: args[1:],
				Push:  entryPush,
			})
			if err != nil {
				spinner.Fail("Could not create entry")
				return err
			}
			spinner.Success(fmt.Sprintf("Created entry %s with %d file(s)",
				result.Name, len(result.Added)))
			return nil
		},
	}

	entryAddCmd = &cobra.Command{
		Use:   "add-files <entry> <files...>",
		Short: "Track additional files in an entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spinner := ui.NewSpinner("Adding files")
			deps := newDeps(spinner)
			result, err := commands.AddFiles(cmd.Context(), deps, commands.AddFilesOptions{
				Entry: args[0],
				Files: args[1:],
				Push:  entryPush,
			})
			if err != nil {
				spinner.Fail("Could not add files")
				return err
			}
			if len(result.Added) == 0 {
				spinner.Warn("All files were already tracked")
				return nil
			}
			spinner.Success(fmt.Sprintf("Added %d file(s) to %s",
				len(result.Added), result.Entry))
			return nil
		},
	}

	entryNoConfirm bool

	entryRemoveCmd = &cobra.Command{
		Use:   "remove-files <entry> <files...>",
		Short: "Stop tracking files, restoring plain copies in place",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := newDeps(nil)
			if entryNoConfirm {
				deps.Confirm = ui.AutoConfirmer{}
			}
			result, err := commands.RemoveFiles(cmd.Context(), deps, commands.RemoveFilesOptions{
				Entry:     args[0],
				Files:     args[1:],
				NoConfirm: entryNoConfirm,
				Push:      entryPush,
			})
			if err != nil {
				return err
			}
			if result.Cancelled {
				fmt.Println("Cancelled.")
				return nil
			}
			fmt.Printf("Removed %d file(s) from %s\n", len(result.Removed), result.Entry)
			return nil
		},
	}

	entryNoReplaceFiles bool

	entryDeleteCmd = &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an entry and its stored copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := newDeps(nil)
			if entryNoConfirm {
				deps.Confirm = ui.AutoConfirmer{}
			}
			result, err := commands.DeleteEntry(cmd.Context(), deps, commands.DeleteEntryOptions{
				Name:           args[0],
				NoConfirm:      entryNoConfirm,
				NoReplaceFiles: entryNoReplaceFiles,
				Push:           entryPush,
			})
			if err != nil {
				return err
			}
			if result.Cancelled {
				fmt.Println("Cancelled.")
				return nil
			}
			fmt.Printf("Deleted entry %s", result.Name)
			if len(result.Restored) > 0 {
				fmt.Printf(", restored %d file(s) in place", len(result.Restored))
			}
			fmt.Println()
			return nil
		},
	}

	entryShowCmd = &cobra.Command{
		Use:   "show <name>",
		Short: "Show an entry's tracked files as a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.ShowEntry(newDeps(nil), commands.ShowEntryOptions{Name: args[0]})
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List all entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.List(newDeps(nil))
		},
	}

	checkPrintDiff bool

	checkCmd = &cobra.Command{
		Use:   "check [entry]",
		Short: "Report remote changes and broken deployments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := ""
			if len(args) > 0 {
				entry = args[0]
			}
			return runCheck(cmd, entry)
		},
	}

	entryCheckCmd = &cobra.Command{
		Use:   "check <name>",
		Short: "Report remote changes and broken deployments for one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args[0])
		},
	}

	updatePrintDiff bool

	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Apply remote changes, merging diverged history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spinner := ui.NewSpinner("Updating")
			deps := newDeps(spinner)
			_, err := commands.Update(cmd.Context(), deps, commands.UpdateOptions{
				PrintDiff: updatePrintDiff,
			})
			if err != nil {
				spinner.Fail("Update failed")
				return err
			}
			spinner.Stop()
			return nil
		},
	}

	pushCmd = &cobra.Command{
		Use:   "push",
		Short: "Push local commits to the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spinner := ui.NewSpinner("Pushing")
			deps := newDeps(spinner)
			if err := commands.Push(cmd.Context(), deps); err != nil {
				spinner.Fail("Push failed")
				return err
			}
			spinner.Success("Pushed")
			return nil
		},
	}

	redeployCmd = &cobra.Command{
		Use:   "redeploy [entries...]",
		Short: "Recreate symlinks for entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Redeploy(newDeps(nil), args...)
		},
	}
)

func init() {
	initCmd.Flags().StringVar(&initGitURL, "git", "",
		"Clone an existing config repository instead of creating one")
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"Reinitialize over an existing config directory")

	entryCmd.PersistentFlags().BoolVar(&entryPush, "push", false,
		"Push the resulting commit to the remote")
	entryRemoveCmd.Flags().BoolVarP(&entryNoConfirm, "no-confirm", "y", false,
		"Skip the confirmation prompt")
	entryDeleteCmd.Flags().BoolVarP(&entryNoConfirm, "no-confirm", "y", false,
		"Skip the confirmation prompt")
	entryDeleteCmd.Flags().BoolVarP(&entryNoReplaceFiles, "no-replace-files", "f", false,
		"Do not restore plain copies at the deployed locations")

	entryCmd.AddCommand(entryCreateCmd)
	entryCmd.AddCommand(entryAddCmd)
	entryCmd.AddCommand(entryRemoveCmd)
	entryCmd.AddCommand(entryDeleteCmd)
	entryCmd.AddCommand(entryShowCmd)
	entryCmd.AddCommand(entryCheckCmd)

	checkCmd.Flags().BoolVarP(&checkPrintDiff, "print-diff", "d", false,
		"Print the pending remote patch")
	entryCheckCmd.Flags().BoolVarP(&checkPrintDiff, "print-diff", "d", false,
		"Print the pending remote patch")
	updateCmd.Flags().BoolVarP(&updatePrintDiff, "print-diff", "d", false,
		"Print the applied patch after a successful update")
}
