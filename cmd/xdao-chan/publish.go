package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/channels/identity"
	"xdao.co/channels/publish"
	"xdao.co/channels/reconcile"
)

func (a *app) publishCommand() *cobra.Command {
	var (
		file, name, keyRef, budgetRef, schemeName string
		prefixLength                              int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a file as a page on a channel",
		Long: `Publish a file as a page. Nothing is written when the deployed page
already has the same content. A channel that is missing or short of
storage is funded from the budget key first. Without --key a new channel
is created and its key printed.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return usagef("--file is required")
			}
			target, err := publish.TargetFromFile(file, name)
			if err != nil {
				return err
			}
			desired := reconcile.DesiredState{}
			if desired.Delegate, err = a.budget(budgetRef); err != nil {
				return err
			}

			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			pcfg := publish.Config{
				ServerURL:         a.cfg.Server,
				PrefixLength:      a.cfg.Publish.PrefixLength,
				TopUpIncrement:    a.cfg.Publish.TopUpIncrement,
				StorageMultiplier: a.cfg.Publish.StorageMultiplier,
				Retry:             a.cfg.Retry,
				Logger:            a.log,
			}
			if cmd.Flags().Changed("prefix-length") {
				pcfg.PrefixLength = prefixLength
			}
			rec := reconcile.New(dir, reconcile.Config{Retry: a.cfg.Retry, Logger: a.log})
			p := publish.New(dir, rec, pcfg)

			var res publish.Result
			if keyRef == "" {
				scheme, err := identity.ParseScheme(schemeName)
				if err != nil {
					return usagef("--scheme: %v", err)
				}
				res, err = p.PublishNew(cmd.Context(), scheme, target, desired)
				if res.Channel != nil && (res.Outcome == publish.Written || res.Funding != nil) {
					fmt.Fprintf(a.out, "key: %s\n", res.Channel.PrivateKeyText())
				}
				if err != nil {
					return err
				}
			} else {
				channel, err := a.key("key", keyRef)
				if err != nil {
					return err
				}
				if res, err = p.Publish(cmd.Context(), channel, target, desired); err != nil {
					return err
				}
			}

			switch res.Outcome {
			case publish.Skip:
				fmt.Fprintf(a.out, "unchanged: %s\n", res.URL)
			default:
				fmt.Fprintf(a.out, "published: %s\n", res.URL)
			}
			if res.Funding != nil {
				fmt.Fprintf(a.out, "funding: %s\n", res.Funding.Action)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "file to publish")
	f.StringVarP(&name, "name", "n", "", "page name (default: file base name)")
	f.StringVarP(&keyRef, "key", "k", "", "channel private key or @name (default: new channel)")
	f.IntVarP(&prefixLength, "prefix-length", "p", 0, "handle prefix length in the page URL")
	f.StringVar(&budgetRef, "budget-key", "", "budget channel key or @name")
	f.StringVar(&schemeName, "scheme", string(identity.Ed25519), "key scheme for a new channel")
	return cmd
}
