package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thankyoucode/livekit-webstream/token"
)

type tokenOptions struct {
	Identity string
	Room     string
}

func tokenCmd() *cobra.Command {
	var opts tokenOptions
	cmd := &cobra.Command{
		Use:          "token",
		SilenceUsage: true,
		Short:        "print a room access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			issuer, err := token.NewIssuer(cfg.Token.APIKey, cfg.Token.APISecret, cfg.Token.TTL)
			if err != nil {
				return err
			}
			jwt, err := issuer.Issue(opts.Identity, opts.Room)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), jwt)
			return err
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.Identity, "identity", "", "participant identity")
	fs.StringVar(&opts.Room, "room", "", "room name")
	return cmd
}
