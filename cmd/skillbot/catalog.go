package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"skillbot/internal/app"
	"skillbot/internal/entity"
	"skillbot/internal/memory"
	"skillbot/internal/schema"
)

func skillsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List registered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			// Listing never touches the configured database.
			engine, err := app.New(cfg, logger, app.Options{
				Storage:  memory.NewInMemoryStore(),
				Entities: entity.NewMemoryRepository(),
			})
			if err != nil {
				return err
			}
			defer engine.Close()

			skills := engine.Manager.Skills()
			if asJSON {
				return printJSON(cmd, skills)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tNAME\tTAGS")
			for _, s := range skills {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Category, s.Name, strings.Join(s.Tags, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func schemasCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "schemas [domain]",
		Short: "List action schemas from the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			catalog, err := schema.Load(cfg.Catalog.Dir, logger)
			if err != nil {
				return err
			}

			var schemas []schema.ActionSchema
			for _, s := range catalog.Schemas() {
				if len(args) == 0 || s.Domain == args[0] {
					schemas = append(schemas, s)
				}
			}
			if len(args) == 1 && len(schemas) == 0 {
				return fmt.Errorf("unknown domain %q", args[0])
			}
			if asJSON {
				return printJSON(cmd, schemas)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOPERATION\tREQUIRED\tFIELDS")
			for _, s := range schemas {
				var required []string
				for _, f := range s.Fields {
					if f.Required {
						required = append(required, f.Name)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.Operation, strings.Join(required, ","), len(s.Fields))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage domain files in the catalog directory",
		Long:  "Install, remove and list domain definitions in catalog.dir. Changes take effect on the next start.",
	}

	newInstaller := func() (*schema.Installer, func() error, error) {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return nil, nil, err
		}
		in, err := schema.NewInstaller(schema.InstallerConfig{Dir: cfg.Catalog.Dir, Logger: logger})
		if err != nil {
			closeLog()
			return nil, nil, err
		}
		return in, closeLog, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install [url]",
		Short: "Download and validate a domain file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeLog, err := newInstaller()
			if err != nil {
				return err
			}
			defer closeLog()
			d, err := in.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed domain %s (%d entities)\n", d.Name, len(d.Entities))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [domain]",
		Short: "Remove an installed domain file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeLog, err := newInstaller()
			if err != nil {
				return err
			}
			defer closeLog()
			if err := in.Uninstall(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed domain %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed domain files",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeLog, err := newInstaller()
			if err != nil {
				return err
			}
			defer closeLog()
			installed, err := in.List()
			if err != nil {
				return err
			}
			if len(installed) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No domains installed in %s\n", in.Dir())
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tENTITIES\tPATH")
			for _, d := range installed {
				fmt.Fprintf(w, "%s\t%d\t%s\n", d.Name, d.Entities, d.Path)
			}
			return w.Flush()
		},
	})

	return cmd
}
