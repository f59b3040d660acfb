package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(voicesCmd)
	voicesCmd.Flags().StringP("language", "l", "", "language code filter, e.g. en-US")
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the narration voices offered by the speech backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, _ := cmd.Flags().GetString("language")
		return withApp(func(ctx context.Context, a *app) error {
			voices, err := a.service.Voices(ctx, lang)
			if err != nil {
				return err
			}
			return render(os.Stdout, outputFormat, voices, func(out io.Writer) error {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tLANGUAGE\tGENDER\tDISPLAY")
				for _, v := range voices {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Name, v.LanguageCode, v.SSMLGender, v.DisplayName)
				}
				return w.Flush()
			})
		})
	},
}
