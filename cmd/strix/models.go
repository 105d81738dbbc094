package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oriys/strix/internal/modelstore"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage the detection model registry",
	}
	cmd.AddCommand(
		modelsListCmd(),
		modelsImportCmd(),
		modelsDownloadCmd(),
		modelsDeleteCmd(),
		modelsSelectCmd(),
	)
	return cmd
}

func openModels() (*modelstore.Store, error) {
	return modelstore.New(resolveDir("models"))
}

func modelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openModels()
			if err != nil {
				return err
			}
			selected := store.Selected()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tDOWNLOADED\tSELECTED")
			for _, info := range store.List() {
				kind := "custom"
				if info.Builtin {
					kind = "builtin"
				}
				mark := ""
				if info.ID == selected {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", info.ID, info.Name, kind, info.Downloaded, mark)
			}
			return w.Flush()
		},
	}
}

func modelsImportCmd() *cobra.Command {
	var (
		name        string
		description string
	)
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a model file into the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openModels()
			if err != nil {
				return err
			}
			info, err := store.Import(args[0], name, description)
			if err != nil {
				return err
			}
			fmt.Printf("imported %s as %s\n", args[0], info.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	return cmd
}

func modelsDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <model-id>",
		Short: "Download a built-in model's weights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openModels()
			if err != nil {
				return err
			}
			info, err := store.Download(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("downloaded %s (%d bytes)\n", info.ID, info.SizeBytes)
			return nil
		},
	}
}

func modelsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model-id>",
		Short: "Delete a custom model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openModels()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func modelsSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <model-id>",
		Short: "Select the active detection model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openModels()
			if err != nil {
				return err
			}
			if err := store.Select(args[0]); err != nil {
				return err
			}
			fmt.Printf("selected %s\n", args[0])
			return nil
		},
	}
}
