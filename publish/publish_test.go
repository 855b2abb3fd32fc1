package publish

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"xdao.co/channels/directory"
	"xdao.co/channels/directory/memdir"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
	"xdao.co/channels/reconcile"
)

const (
	server = "https://pages.example.net"
	MiB    = 1 << 20
)

func newIdentity(t *testing.T, b byte) *identity.Identity {
	t.Helper()
	id, err := identity.FromSeed(identity.Ed25519, bytes.Repeat([]byte{b}, identity.SeedSize))
	require.NoError(t, err)
	return id
}

func newPublisher(t *testing.T, d *memdir.Directory) *Publisher {
	t.Helper()
	log := zaptest.NewLogger(t)
	rec := reconcile.New(d, reconcile.Config{Logger: log})
	return New(d, rec, Config{ServerURL: server, Logger: log})
}

func TestClassifyType(t *testing.T) {
	for _, m := range []string{"text/html; charset=utf-8", "text/plain", "application/json", "image/svg+xml", "application/ld+json", "application/javascript"} {
		assert.Equal(t, Text, ClassifyType(m), m)
	}
	for _, m := range []string{"image/png", "application/octet-stream", "application/pdf", ""} {
		assert.Equal(t, Binary, ClassifyType(m), m)
	}
}

func TestTextEqualIgnoresBOM(t *testing.T) {
	target := NewTarget("a.txt", []byte("hello"), "text/plain")
	assert.True(t, target.Equal([]byte("\xef\xbb\xbfhello")))
	assert.False(t, target.Equal([]byte("hello!")))

	bin := NewTarget("a.bin", []byte("hello"), "application/octet-stream")
	assert.False(t, bin.Equal([]byte("\xef\xbb\xbfhello")))
	assert.True(t, bin.Equal([]byte("hello")))
}

func TestTargetFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>x</p>"), 0o600))

	target, err := TargetFromFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "index.html", target.Name)
	assert.Equal(t, Text, target.Class)

	target, err = TargetFromFile(path, "home.html")
	require.NoError(t, err)
	assert.Equal(t, "home.html", target.Name)

	odd := filepath.Join(dir, "blob.nosuchext")
	require.NoError(t, os.WriteFile(odd, []byte{1}, 0o600))
	_, err = TargetFromFile(odd, "")
	assert.Error(t, err)
}

func TestPublishThenSkip(t *testing.T) {
	ctx := context.Background()
	d := memdir.New(memdir.Config{})
	ch, budget := newIdentity(t, 1), newIdentity(t, 2)
	d.SeedChannel(ch, 64*MiB)
	d.SeedChannel(budget, 1024*MiB)
	p := newPublisher(t, d)

	body := []byte(strings.Repeat("0123456789", 1024))
	target := NewTarget("notes.txt", body, "text/plain")

	first, err := p.Publish(ctx, ch, target, reconcile.DesiredState{Delegate: budget})
	require.NoError(t, err)
	assert.Equal(t, Written, first.Outcome)
	assert.Nil(t, first.Funding)
	assert.Equal(t, 1, d.CountOp(memdir.OpSetPage))

	d.ResetCalls()
	second, err := p.Publish(ctx, ch, target, reconcile.DesiredState{Delegate: budget})
	require.NoError(t, err)
	assert.Equal(t, Skip, second.Outcome)
	assert.Equal(t, first.URL, second.URL)
	assert.Empty(t, d.Mutations())
	assert.Zero(t, d.CountOp(memdir.OpProbe), "a skip does not look at quota")
}

func TestPublishTopsUpWhenShort(t *testing.T) {
	ctx := context.Background()
	d := memdir.New(memdir.Config{})
	ch, budget := newIdentity(t, 1), newIdentity(t, 2)
	d.SeedChannel(ch, 1024)
	d.SeedChannel(budget, 1024*MiB)
	p := newPublisher(t, d)

	target := NewTarget("pic.png", bytes.Repeat([]byte{0xAB}, 4096), "image/png")
	res, err := p.Publish(ctx, ch, target, reconcile.DesiredState{Delegate: budget})
	require.NoError(t, err)
	assert.Equal(t, Written, res.Outcome)
	require.NotNil(t, res.Funding)
	assert.Equal(t, reconcile.TopUp, res.Funding.Action.Kind)
	assert.Equal(t, uint64(DefaultTopUpIncrement), res.Funding.Action.Amount)

	rec, _ := d.Channel(ch.Handle())
	assert.Equal(t, uint64(1024+DefaultTopUpIncrement-4096), rec.StorageLimit)
}

func TestPublishTopUpScalesWithCost(t *testing.T) {
	d := memdir.New(memdir.Config{})
	p := New(d, reconcile.New(d, reconcile.Config{}), Config{StorageMultiplier: 4})
	cost := p.Cost(3 * MiB)
	assert.Equal(t, uint64(12*MiB), cost)
	assert.Equal(t, uint64(24*MiB), p.TopUpAmount(cost))
	assert.Equal(t, uint64(DefaultTopUpIncrement), p.TopUpAmount(1))
}

func TestPublishCreatesMissingChannel(t *testing.T) {
	ctx := context.Background()
	d := memdir.New(memdir.Config{})
	ch, budget := newIdentity(t, 1), newIdentity(t, 2)
	d.SeedChannel(budget, 1024*MiB)
	p := newPublisher(t, d)

	res, err := p.Publish(ctx, ch, NewTarget("index.html", []byte("<h1>hi</h1>"), "text/html"), reconcile.DesiredState{Delegate: budget})
	require.NoError(t, err)
	assert.Equal(t, Written, res.Outcome)
	require.NotNil(t, res.Funding)
	assert.Equal(t, reconcile.Create, res.Funding.Action.Kind)

	got, err := d.FetchDeployed(ctx, res.URL)
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(got))
}

func TestPublishMissingBudget(t *testing.T) {
	ctx := context.Background()
	d := memdir.New(memdir.Config{})
	ch := newIdentity(t, 1)
	d.SeedChannel(ch, 1)
	p := newPublisher(t, d)

	_, err := p.Publish(ctx, ch, NewTarget("a.json", []byte(`{"a":1}`), "application/json"), reconcile.DesiredState{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.MissingBudget))
	assert.Zero(t, d.CountOp(memdir.OpSetPage))
}

func TestPublishFetchFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	d := memdir.New(memdir.Config{})
	ch := newIdentity(t, 1)
	d.SeedChannel(ch, MiB)
	d.FailNext(memdir.OpFetchDeployed, directory.Errorf(directory.CodeInternal, memdir.OpFetchDeployed, "boom"))
	p := newPublisher(t, d)

	_, err := p.Publish(ctx, ch, NewTarget("a.json", []byte(`{}`), "application/json"), reconcile.DesiredState{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Other))
	assert.Empty(t, d.Mutations())
}

func TestPublishNew(t *testing.T) {
	ctx := context.Background()
	d := memdir.New(memdir.Config{})
	budget := newIdentity(t, 2)
	d.SeedChannel(budget, 1024*MiB)
	p := newPublisher(t, d)

	res, err := p.PublishNew(ctx, identity.Ed25519, NewTarget("a.json", []byte(`{}`), "application/json"), reconcile.DesiredState{Delegate: budget})
	require.NoError(t, err)
	require.NotNil(t, res.Channel)
	assert.Equal(t, Written, res.Outcome)
	_, ok := d.Channel(res.Channel.Handle())
	assert.True(t, ok)

	_, err = p.PublishNew(ctx, identity.Ed25519, NewTarget("a.json", []byte(`{}`), "application/json"), reconcile.DesiredState{})
	assert.True(t, fault.IsKind(err, fault.MissingFundingSource))
}
