package cmd

import (
	"context"
	"fmt"
	"strconv"

	"QFMIngest/config"
	"QFMIngest/repository"

	"github.com/spf13/cobra"
)

var catalogFromDB bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "建表并写入音质和元数据字段目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		catalog, err := config.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return err
		}
		a, err := setup(ctx, needs{})
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.database.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if err := a.database.Seed(ctx, catalog); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		fmt.Printf("schema migrated, %d presets and %d fields seeded\n", len(catalog.Presets), len(catalog.Fields))
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "显示音质和元数据字段目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := config.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return err
		}
		if catalogFromDB {
			a, err := setup(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.close()
			if catalog, err = catalogFromDatabase(cmd.Context(), a.database); err != nil {
				return err
			}
		}
		fmt.Println(presetTable(catalog))
		fmt.Println(fieldTable(catalog))
		return nil
	},
}

func catalogFromDatabase(ctx context.Context, database repository.Database) (*config.Catalog, error) {
	presets, err := database.ListPresets(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := database.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	c := &config.Catalog{}
	for _, p := range presets {
		c.Presets = append(c.Presets, config.PresetSpec{
			Name: p.Name, Bitrate: p.Bitrate, Directory: p.Directory, Extension: p.Extension, Args: p.Args,
		})
	}
	for _, f := range fields {
		c.Fields = append(c.Fields, config.FieldSpec{Name: f.Name, Writable: f.Writable, Searchable: f.Searchable})
	}
	return c, nil
}

func presetTable(c *config.Catalog) string {
	rows := make([][]string, 0, len(c.Presets))
	for _, p := range c.Presets {
		bitrate := "original"
		if p.Bitrate != nil {
			bitrate = strconv.Itoa(*p.Bitrate) + " kbps"
		}
		rows = append(rows, []string{p.Name, bitrate, p.Directory, p.Extension, p.Args})
	}
	return renderTable([]string{"Preset", "Bitrate", "Directory", "Ext", "Encoder args"}, rows, 1)
}

func fieldTable(c *config.Catalog) string {
	rows := make([][]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		rows = append(rows, []string{f.Name, yesNo(f.Writable), yesNo(f.Searchable)})
	}
	return renderTable([]string{"Field", "Writable", "Searchable"}, rows)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(migrateCmd, catalogCmd)
	catalogCmd.Flags().BoolVar(&catalogFromDB, "db", false, "read the seeded catalog from the database instead of the file")
}
