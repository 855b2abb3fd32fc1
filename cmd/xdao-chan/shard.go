package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xdao.co/channels/directory"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
	"xdao.co/channels/shard"
	"xdao.co/channels/storage/localfs"
)

// maxFetchBytes bounds what shardify downloads from a URL.
const maxFetchBytes = 1 << 30

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// coordinator builds a shard coordinator over dir with the configured
// local ciphertext cache.
func (a *app) coordinator(dir directory.Client) (*shard.Coordinator, error) {
	cfg := shard.Config{
		VerifyTimeout:   a.cfg.Shard.VerifyTimeout,
		PollInterval:    a.cfg.Shard.PollInterval,
		MaxPollInterval: a.cfg.Shard.MaxPollInterval,
		Logger:          a.log,
	}
	if a.cfg.CacheDir != "" {
		cache, err := localfs.Open(a.cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("shard cache: %w", err)
		}
		cfg.Cache = cache
	}
	return shard.New(dir, cfg), nil
}

// payer resolves the channel shard writes are charged to.
func (a *app) payer(budgetRef string) (*identity.Identity, error) {
	p, err := a.budget(budgetRef)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fault.New(fault.MissingBudget, "shard", "a budget key is required to pay for storage (--budget-key or budget_key in the config)")
	}
	return p, nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) shardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shard",
		Short: "Store and retrieve encrypted shards",
	}
	cmd.AddCommand(a.shardStoreCommand(), a.shardGetCommand())
	return cmd
}

func (a *app) shardStoreCommand() *cobra.Command {
	var (
		file, budgetRef string
		minimal, noWait bool
	)
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Encrypt and store a file, printing its handle",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return usagef("--file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			payer, err := a.payer(budgetRef)
			if err != nil {
				return err
			}
			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			c, err := a.coordinator(dir)
			if err != nil {
				return err
			}
			defer c.Close()

			h, err := c.Store(cmd.Context(), payer, data)
			if err != nil {
				return err
			}
			if !noWait {
				if _, err := h.Verification.Wait(cmd.Context()); err != nil {
					a.log.Warn("shard stored but not verified", zap.String("id", h.ID), zap.Error(err))
				}
			}
			if minimal {
				return a.writeJSON(h.Minimal())
			}
			return a.writeJSON(h.Operational())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "file to store")
	f.BoolVarP(&minimal, "minimal", "m", false, "print only id and key")
	f.BoolVar(&noWait, "no-wait", false, "print the handle without waiting for verification")
	f.StringVar(&budgetRef, "budget-key", "", "channel paying for the storage")
	return cmd
}

func (a *app) shardGetCommand() *cobra.Command {
	var id, key, output string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch and decrypt a shard",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || key == "" {
				return usagef("--id and --key are required")
			}
			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			c, err := a.coordinator(dir)
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Retrieve(cmd.Context(), shard.MinimalHandle{ID: id, Key: key})
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = a.out.Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "shard id")
	f.StringVar(&key, "key", "", "shard key")
	f.StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// source is one input to shardify.
type source struct {
	name        string
	contentType string
	data        []byte
}

func (a *app) shardifyCommand() *cobra.Command {
	var (
		files     []string
		rawURL    string
		budgetRef string
	)
	format := outputFormat{value: "nostr", allowed: []string{"nostr", "handle"}}
	cmd := &cobra.Command{
		Use:   "shardify",
		Short: "Store files or a URL as shards and print nostr events or handles",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(files) == 0) == (rawURL == "") {
				return usagef("give either --file (repeatable) or --url")
			}
			payer, err := a.payer(budgetRef)
			if err != nil {
				return err
			}

			var sources []source
			if rawURL != "" {
				src, err := fetchURL(cmd.Context(), rawURL)
				if err != nil {
					return err
				}
				sources = append(sources, src)
			}
			for _, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return err
				}
				sources = append(sources, source{name: f, contentType: contentTypeOf(f), data: data})
			}

			dir, done, err := a.connect()
			if err != nil {
				return err
			}
			defer done()
			c, err := a.coordinator(dir)
			if err != nil {
				return err
			}
			defer c.Close()

			handles := make([]*shard.Handle, len(sources))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(a.cfg.Shard.Concurrency)
			for i, src := range sources {
				i, src := i, src
				g.Go(func() error {
					h, err := c.Store(ctx, payer, src.data)
					if err != nil {
						return fmt.Errorf("%s: %w", src.name, err)
					}
					if _, err := h.Verification.Wait(ctx); err != nil {
						return fmt.Errorf("%s: verification: %w", src.name, err)
					}
					a.log.Info("shard stored",
						zap.String("source", src.name),
						zap.String("id", h.ID),
						zap.String("size", humanize.IBytes(uint64(len(src.data)))))
					handles[i] = h
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for i, h := range handles {
				var v any = h.Operational()
				if format.value == "nostr" {
					v = shard.NIP94(h, sources[i].contentType, len(sources[i].data), "")
				}
				if err := a.writeJSON(v); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&files, "file", "f", nil, "file to store (repeatable)")
	f.StringVarP(&rawURL, "url", "u", "", "URL to download and store")
	f.VarP(&format, "output", "o", "output format: nostr or handle")
	f.StringVar(&budgetRef, "budget-key", "", "channel paying for the storage")
	return cmd
}

func contentTypeOf(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// fetchURL downloads rawURL. The content type comes from the response,
// falling back to the URL path's extension.
func fetchURL(ctx context.Context, rawURL string) (source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return source{}, usagef("--url: %v", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return source{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return source{}, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return source{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if len(data) > maxFetchBytes {
		return source{}, fmt.Errorf("fetch %s: larger than %s", rawURL, humanize.IBytes(maxFetchBytes))
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	} else {
		ct = contentTypeOf(req.URL.Path)
	}
	return source{name: rawURL, contentType: ct, data: data}, nil
}
