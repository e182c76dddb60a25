// Package main is the entry point for the signac CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signac-project/signac/internal/migrate"
	"github.com/signac-project/signac/internal/project"
	"github.com/signac-project/signac/internal/signaclog"
	signacsync "github.com/signac-project/signac/internal/sync"
)

var (
	// Version is set at build time.
	Version = "dev"
	// BuildTime is set at build time.
	BuildTime = "unknown"
)

var (
	projectRoot string
	logLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "signac",
		Short:   "signac - filesystem-native scientific data management",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			signaclog.Setup(logLevel, "console")
		},
	}
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(statepointCmd())
	rootCmd.AddCommand(findCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(notImplementedCmd("view", "open a job's workspace directory in a shell"))
	rootCmd.AddCommand(notImplementedCmd("import", "import an external directory tree of jobs"))
	rootCmd.AddCommand(notImplementedCmd("export", "export jobs to an archive or directory tree"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func notImplementedCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("%s: not implemented in this build", use)
		},
		SilenceUsage: false,
		Args:         cobra.ArbitraryArgs,
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "initialize a new project at --project",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Init(projectRoot)
			if err != nil {
				return err
			}
			fmt.Println("initialized project at", p.Root())
			return nil
		},
	}
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <state-point-json>",
		Short: "open (creating if necessary) the job addressed by a state point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := decodeSP(args[0])
			if err != nil {
				return err
			}
			p, err := project.Open(projectRoot)
			if err != nil {
				return err
			}
			j, err := p.OpenJob(sp)
			if err != nil {
				return err
			}
			if _, err := j.Init(false); err != nil {
				return err
			}
			fmt.Println(j.ID())
			return nil
		},
	}
}

func statepointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statepoint <id>",
		Short: "print a job's state point as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Open(projectRoot)
			if err != nil {
				return err
			}
			j, err := p.OpenJobByID(args[0])
			if err != nil {
				return err
			}
			sp, err := j.StatePoint()
			if err != nil {
				return err
			}
			v, err := sp.Call()
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find [filter-json]",
		Short: "list ids of jobs matching a Mongo-style filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := map[string]any{}
			if len(args) == 1 {
				sp, err := decodeSP(args[0])
				if err != nil {
					return err
				}
				filter = sp
			}
			p, err := project.Open(projectRoot)
			if err != nil {
				return err
			}
			ids, err := p.FindJobs(filter).IDs()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "print the dotted-key schema across every job in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Open(projectRoot)
			if err != nil {
				return err
			}
			ids, err := p.AllIDs()
			if err != nil {
				return err
			}
			schema, err := p.Schema(ids, true)
			if err != nil {
				return err
			}
			if asYAML {
				out, err := yaml.Marshal(schema)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			}
			return printJSON(schema)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML instead of JSON")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "migrate --project to the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate.New().Run(projectRoot)
		},
	}
}

func syncCmd() *cobra.Command {
	var always bool
	var updateDocs bool
	cmd := &cobra.Command{
		Use:   "sync <destination-project>",
		Short: "one-way sync every job from --project into destination-project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := project.Open(projectRoot)
			if err != nil {
				return err
			}
			dst, err := project.Open(args[0])
			if err != nil {
				return err
			}
			opts := signacsync.Options{}
			if always {
				opts.FileStrategy = signacsync.Always
			}
			if updateDocs {
				opts.DocStrategy = signacsync.Update
			}
			return signacsync.Sync(src, dst, opts)
		},
	}
	cmd.Flags().BoolVar(&always, "always", false, "always overwrite conflicting files with the source's copy")
	cmd.Flags().BoolVar(&updateDocs, "update-docs", false, "overwrite destination job documents with the source's")
	return cmd
}

func decodeSP(raw string) (map[string]any, error) {
	sp, err := project.DecodeStatePoint([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode state point: %w", err)
	}
	return sp, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
