package main

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"xdao.co/channels/directory"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/tokencache"
	"xdao.co/channels/reconcile"
)

const spentTokenHint = "hint: the storage token may already have been used; issue a new one with 'xdao-chan token issue'"

func (a *app) authorizeCommand() *cobra.Command {
	var (
		keyRef, tokenText, budgetRef string
		size                         sizeValue
		atomic                       bool
	)
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Make sure a channel exists and holds enough storage",
		Long: `Probe the channel and take at most one corrective step: create it
from a storage token or the budget channel, or top it up to the requested
size. A token is always applied in full when given.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := a.key("key", keyRef)
			if err != nil {
				return err
			}
			desired := reconcile.DesiredState{}
			if tokenText != "" {
				tok, err := directory.ParseToken(tokenText)
				if err != nil {
					return usagef("--token: %v", err)
				}
				desired.Token = &tok
			}
			if desired.Delegate, err = a.budget(budgetRef); err != nil {
				return err
			}
			if desired.Delegate != nil || size.set {
				desired.TargetQuota = size.or(a.cfg.Authorize.DefaultBudget)
			}

			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			rec := reconcile.New(dir, reconcile.Config{
				DefaultCreateQuota: a.cfg.Authorize.DefaultBudget,
				AtomicTopUp:        atomic,
				Retry:              a.cfg.Retry,
				Logger:             a.log,
			})
			res, err := rec.Reconcile(cmd.Context(), channel, desired)
			if err != nil {
				if desired.Token != nil && fault.IsKind(err, fault.Unauthorized) {
					return withHint(err, spentTokenHint)
				}
				return err
			}
			fmt.Fprintf(a.out, "channel: %s\n", channel.Handle())
			fmt.Fprintf(a.out, "action: %s\n", res.Action)
			if res.After != nil {
				fmt.Fprintf(a.out, "storage: %s\n", humanize.IBytes(res.After.StorageLimit))
			} else if res.Before.Err == nil {
				fmt.Fprintf(a.out, "storage: %s\n", humanize.IBytes(res.Before.Record.StorageLimit))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&keyRef, "key", "k", "", "channel private key or @name")
	f.VarP(&size, "budget", "b", "storage the channel should hold (e.g. 64MiB)")
	f.StringVarP(&tokenText, "token", "t", "", "storage token to apply")
	f.StringVar(&budgetRef, "budget-key", "", "budget channel key or @name")
	f.BoolVar(&atomic, "atomic", false, "top up to the target in one server-side step")
	return cmd
}

func (a *app) channelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Inspect and create channels",
	}
	cmd.AddCommand(a.channelInfoCommand(), a.channelCreateCommand())
	return cmd
}

func (a *app) channelInfoCommand() *cobra.Command {
	var keyRef string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show a channel's storage",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := a.key("key", keyRef)
			if err != nil {
				return err
			}
			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			obs := reconcile.New(dir, reconcile.Config{Retry: a.cfg.Retry, Logger: a.log}).Probe(cmd.Context(), channel)
			if obs.Err != nil {
				return fault.Wrap("channel info", obs.Err)
			}
			fmt.Fprintf(a.out, "channel: %s\n", channel.Handle())
			fmt.Fprintf(a.out, "storage: %s (%d bytes)\n", humanize.IBytes(obs.Record.StorageLimit), obs.Record.StorageLimit)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyRef, "key", "k", "", "channel private key or @name")
	return cmd
}

func (a *app) channelCreateCommand() *cobra.Command {
	var keyRef, tokenText string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a channel from a storage token",
		Long: `Create a channel from a storage token. Without --token the last token
issued against this server is used. Without --key a new key is generated
and printed.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cache *tokencache.Cache
			if a.cfg.TokenCache != "" {
				cache = tokencache.Open(a.cfg.TokenCache)
			}
			fromCache := false
			if tokenText == "" && cache != nil {
				cached, ok, err := cache.Get(a.cfg.Server)
				if err != nil {
					return err
				}
				tokenText, fromCache = cached, ok
			}
			if tokenText == "" {
				return usagef("--token is required (no cached token for %s)", a.cfg.Server)
			}
			tok, err := directory.ParseToken(tokenText)
			if err != nil {
				return usagef("--token: %v", err)
			}

			var channel *identity.Identity
			generated := keyRef == ""
			if generated {
				if channel, err = identity.Generate(identity.Ed25519, rand.Reader); err != nil {
					return err
				}
			} else if channel, err = a.key("key", keyRef); err != nil {
				return err
			}

			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			rec, err := dir.Create(cmd.Context(), channel, tok)
			if err != nil {
				err = fault.Wrap("channel create", err)
				if fault.IsKind(err, fault.Unauthorized) {
					return withHint(err, spentTokenHint)
				}
				return err
			}
			if fromCache {
				if err := cache.Delete(a.cfg.Server); err != nil {
					a.log.Warn("could not clear cached token")
				}
			}
			fmt.Fprintf(a.out, "channel: %s\n", rec.Handle)
			fmt.Fprintf(a.out, "storage: %s\n", humanize.IBytes(rec.StorageLimit))
			if generated {
				fmt.Fprintf(a.out, "key: %s\n", channel.PrivateKeyText())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&keyRef, "key", "k", "", "channel private key or @name (default: generate)")
	f.StringVarP(&tokenText, "token", "t", "", "storage token")
	return cmd
}

func (a *app) tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue storage tokens",
	}
	var (
		budgetRef string
		size      sizeValue
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a storage token from the budget channel",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			budget, err := a.budget(budgetRef)
			if err != nil {
				return err
			}
			if budget == nil {
				return fault.New(fault.MissingBudget, "token issue", "a budget key is required (--budget-key or budget_key in the config)")
			}
			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			tok, err := dir.IssueToken(cmd.Context(), budget, size.or(a.cfg.Authorize.DefaultBudget))
			if err != nil {
				return fault.Wrap("token issue", err)
			}
			if a.cfg.TokenCache != "" {
				if err := tokencache.Open(a.cfg.TokenCache).Put(a.cfg.Server, tok.Hash); err != nil {
					a.log.Warn("could not cache token")
				}
			}
			fmt.Fprintln(a.out, tok.Hash)
			return nil
		},
	}
	f := issue.Flags()
	f.Var(&size, "size", "token size (default from config)")
	f.StringVar(&budgetRef, "budget-key", "", "budget channel key or @name")
	cmd.AddCommand(issue)
	return cmd
}

func (a *app) identityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Generate and inspect channel keys",
	}

	var schemeName, saveName string
	var force bool
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a channel key",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme, err := identity.ParseScheme(schemeName)
			if err != nil {
				return usagef("--scheme: %v", err)
			}
			id, err := identity.Generate(scheme, rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "channel: %s\n", id.Handle())
			if saveName == "" {
				fmt.Fprintf(a.out, "key: %s\n", id.PrivateKeyText())
				return nil
			}
			path, err := a.keys.Save(saveName, id, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "saved: %s (use -k @%s)\n", path, saveName)
			return nil
		},
	}
	nf := newCmd.Flags()
	nf.StringVar(&schemeName, "scheme", string(identity.Ed25519), "ed25519 or dilithium3")
	nf.StringVar(&saveName, "save", "", "store the key under this name instead of printing it")
	nf.BoolVar(&force, "force", false, "overwrite an existing saved key")

	var keyRef string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the handle and scheme of a key",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.key("key", keyRef)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "channel: %s\n", id.Handle())
			fmt.Fprintf(a.out, "scheme: %s\n", id.Scheme())
			return nil
		},
	}
	show.Flags().StringVarP(&keyRef, "key", "k", "", "channel private key or @name")

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List saved keys",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.keys.List()
			if err != nil {
				return err
			}
			if len(names) > 0 {
				fmt.Fprintln(a.out, strings.Join(names, "\n"))
			}
			return nil
		},
	}

	cmd.AddCommand(newCmd, show, listCmd)
	return cmd
}
