package memdir

import (
	"net/http"
	"strings"

	"xdao.co/channels/directory"
	"xdao.co/channels/identity"
)

// SeedChannel registers p with limit bytes of quota, replacing any
// existing record. It is not recorded as a call.
func (d *Directory) SeedChannel(p identity.Principal, limit uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[p.Handle()] = &channel{pub: p.PublicKey(), limit: limit}
}

// SeedToken mints an unused token of size with no mother channel.
func (d *Directory) SeedToken(size uint64) directory.StorageToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok, err := d.mintLocked(size, "")
	if err != nil {
		panic("memdir: mint token: " + err.Error())
	}
	return tok
}

// SeedTokenHash registers a token under a caller-chosen hash.
func (d *Directory) SeedTokenHash(hash string, size uint64) directory.StorageToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok := &directory.StorageToken{Hash: hash, Size: size}
	d.tokens[hash] = tok
	return *tok
}

// Channel returns the current record for h without recording a call.
func (d *Directory) Channel(h identity.Handle) (directory.ChannelRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[h]
	if !ok {
		return directory.ChannelRecord{Handle: h}, false
	}
	return d.record(h, ch), true
}

// Token returns the current state of a token.
func (d *Directory) Token(hash string) (directory.StorageToken, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok, ok := d.tokens[hash]
	if !ok {
		return directory.StorageToken{}, false
	}
	return *tok, true
}

// FailNext makes the next call to op return err before it has any effect.
// Failures queue in order.
func (d *Directory) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], err)
}

// Calls returns a copy of the recorded calls in order.
func (d *Directory) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CountOp returns how many calls to op were recorded.
func (d *Directory) CountOp(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Mutations returns the recorded calls that change service state.
func (d *Directory) Mutations() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.calls {
		if Mutating(c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded calls.
func (d *Directory) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Handler serves published pages under /api/v2/page/ so FetchDeployed
// implementations that speak HTTP can be pointed at the double.
func (d *Directory) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pagePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d.mu.Lock()
		pg, ok := d.pages[strings.TrimPrefix(r.URL.Path, pagePath)]
		d.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if pg.typ != "" {
			w.Header().Set("Content-Type", pg.typ)
		}
		_, _ = w.Write(pg.body)
	})
	return mux
}
