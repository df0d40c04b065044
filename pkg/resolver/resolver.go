// Package resolver owns address parsing and validation: turning the raw
// "domain://path" strings tool callers pass into validated types.Address
// values, and resolving the handful of synthetic "system://" addresses
// (boot, index, recent[/N]) that do not correspond to a stored path. This
// mirrors the teacher's separation between wire-level parsing and storage
// (see pkg/manager's validation pass ahead of pkg/storage writes).
package resolver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/store"
	"github.com/memorypalace/core/pkg/types"
)

// Resolver parses addresses and answers the synthetic system:// namespace.
type Resolver struct {
	store        *store.Store
	validDomains map[string]bool
	coreURIs     []string
}

// New builds a Resolver over store, restricting the domain part of
// user-facing addresses to validDomains (the "system" domain is always
// reserved and never user-creatable).
func New(st *store.Store, validDomains []string, coreMemoryURIs []string) *Resolver {
	vd := make(map[string]bool, len(validDomains))
	for _, d := range validDomains {
		vd[d] = true
	}
	return &Resolver{store: st, validDomains: vd, coreURIs: coreMemoryURIs}
}

// Parse splits a raw "domain://path" string into a validated Address. It
// does not check that the address resolves to anything; callers that need
// an existing record should follow with Resolve.
func (r *Resolver) Parse(raw string) (types.Address, error) {
	domain, path, ok := strings.Cut(raw, "://")
	if !ok {
		return types.Address{}, errs.New(errs.InvalidPath, "address must be of the form domain://path, got: "+raw)
	}
	if domain == "" {
		return types.Address{}, errs.New(errs.InvalidDomain, "address domain is empty")
	}
	if domain == "system" {
		return types.Address{Domain: domain, Path: path}, nil
	}
	if !r.validDomains[domain] {
		return types.Address{}, errs.New(errs.InvalidDomain, "unknown domain: "+domain)
	}
	path = strings.Trim(path, "/")
	if path == "" {
		// An empty path under a valid domain addresses that domain's root
		// (e.g. "notes://"), used as a parent address for top-level
		// creates and as the browse-tree entry point.
		return types.Address{Domain: domain, Path: ""}, nil
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return types.Address{}, errs.New(errs.InvalidPath, "address path has empty segment: "+path)
		}
	}
	return types.Address{Domain: domain, Path: path}, nil
}

// Resolve looks up a parsed address, handling the synthetic system://
// namespace and, for ordinary domains, delegating straight to the store.
func (r *Resolver) Resolve(addr types.Address) (*types.Memory, error) {
	if addr.Domain == "system" {
		return nil, errs.New(errs.InvalidPath, "system:// addresses are not memories; use SystemQuery")
	}
	mem, _, err := r.store.GetByAddress(addr)
	return mem, err
}

// SystemResult is the answer to a system:// pseudo-address query.
type SystemResult struct {
	Boot    []types.Memory
	Index   IndexSummary
	Recent  []types.Memory
}

// IndexSummary is a coarse view of what the full-text/vector side indices
// currently hold, answering system://index.
type IndexSummary struct {
	TotalMemories int
	Deprecated    int
	HasVector     int
}

// SystemQuery answers a system:// address. Supported paths: "boot",
// "index", and "recent" or "recent/N" (N defaults to 10, capped at 100).
func (r *Resolver) SystemQuery(addr types.Address) (SystemResult, error) {
	if addr.Domain != "system" {
		return SystemResult{}, errs.New(errs.InvalidDomain, "not a system:// address")
	}
	switch {
	case addr.Path == "boot":
		return r.systemBoot()
	case addr.Path == "index":
		return r.systemIndex()
	case addr.Path == "recent" || strings.HasPrefix(addr.Path, "recent/"):
		return r.systemRecent(addr.Path)
	default:
		return SystemResult{}, errs.New(errs.InvalidPath, "unknown system:// path: "+addr.Path)
	}
}

// bootRecentCount bounds how many most-recently-accessed memories are
// appended after the core-memory bundle in system://boot, matching
// systemRecent's own default window (spec.md §4.1, §3.1).
const bootRecentCount = 10

func (r *Resolver) systemBoot() (SystemResult, error) {
	var out []types.Memory
	seen := map[string]bool{}
	for _, uri := range r.coreURIs {
		addr, err := r.Parse(uri)
		if err != nil {
			continue
		}
		mem, err := r.Resolve(addr)
		if err != nil {
			continue
		}
		out = append(out, *mem)
		seen[mem.ID] = true
	}

	all, err := r.store.ListAllMemories()
	if err != nil {
		return SystemResult{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastAccessedAt.After(all[j].LastAccessedAt) })
	appended := 0
	for _, m := range all {
		if appended >= bootRecentCount {
			break
		}
		if seen[m.ID] {
			continue
		}
		out = append(out, m)
		seen[m.ID] = true
		appended++
	}
	return SystemResult{Boot: out}, nil
}

func (r *Resolver) systemIndex() (SystemResult, error) {
	all, err := r.store.ListAllMemories()
	if err != nil {
		return SystemResult{}, err
	}
	summary := IndexSummary{}
	for _, m := range all {
		summary.TotalMemories++
		if m.Deprecated {
			summary.Deprecated++
		}
		if r.store.HasVector(m.ID) {
			summary.HasVector++
		}
	}
	return SystemResult{Index: summary}, nil
}

func (r *Resolver) systemRecent(path string) (SystemResult, error) {
	n := 10
	if rest := strings.TrimPrefix(path, "recent/"); rest != path {
		parsed, err := strconv.Atoi(rest)
		if err != nil || parsed <= 0 {
			return SystemResult{}, errs.New(errs.InvalidPath, "invalid recent count: "+rest)
		}
		n = parsed
	}
	if n > 100 {
		n = 100
	}

	all, err := r.store.ListAllMemories()
	if err != nil {
		return SystemResult{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if len(all) > n {
		all = all[:n]
	}
	return SystemResult{Recent: all}, nil
}

// Children returns the direct child addresses of addr as fully-formed
// address strings (domain://path), for browse-style tool calls.
func (r *Resolver) Children(addr types.Address) ([]string, error) {
	paths, err := r.store.ListChildren(addr)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, fmt.Sprintf("%s://%s", p.Domain, p.Path))
	}
	return out, nil
}
