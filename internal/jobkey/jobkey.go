// Package jobkey derives the canonical reuse key under which a running
// aggregation job is published for a given request shape.
package jobkey

import (
	"sort"
	"strings"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/identity"
)

// Shape identifies which of the three key layouts a request resolves to.
type Shape string

const (
	ShapeSingle Shape = "single"
	ShapeMulti  Shape = "multi"
	ShapeGroup  Shape = "group"
)

const prefix = "active:"

// Key is a resolved reuse key.
type Key struct {
	Shape Shape
	Value string
}

func (k Key) String() string {
	return k.Value
}

// Resolve picks the key layout for a request. A wallet group always wins;
// otherwise one account and one chain resolve to the single layout and
// everything else to the multi layout.
func Resolve(accounts []string, chains []model.Chain, walletGroupID string) Key {
	if walletGroupID != "" {
		return Key{Shape: ShapeGroup, Value: Group(walletGroupID, chains)}
	}
	if len(accounts) == 1 && len(uniqueChains(chains)) == 1 {
		return Key{Shape: ShapeSingle, Value: Single(accounts[0], chains[0])}
	}
	return Key{Shape: ShapeMulti, Value: Multi(accounts, chains)}
}

// Single renders active:single:{account}:{chain}.
func Single(account string, chain model.Chain) string {
	return prefix + "single:" + identity.CanonicalAccount(account) + ":" + chain.String()
}

// Multi renders active:multi:{accounts}:{chains}. Accounts are canonicalized,
// de-duplicated and sorted so the key is independent of input order.
func Multi(accounts []string, chains []model.Chain) string {
	return prefix + "multi:" + accountList(accounts) + ":" + ChainList(chains)
}

// Group renders active:group:{groupId}:{chains}.
func Group(walletGroupID string, chains []model.Chain) string {
	return prefix + "group:" + walletGroupID + ":" + ChainList(chains)
}

// ChainList joins the sorted, de-duplicated chain ids with commas.
func ChainList(chains []model.Chain) string {
	unique := uniqueChains(chains)
	parts := make([]string, len(unique))
	for i, c := range unique {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

func accountList(accounts []string) string {
	seen := make(map[string]struct{}, len(accounts))
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		canonical := identity.CanonicalAccount(a)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func uniqueChains(chains []model.Chain) []model.Chain {
	seen := make(map[model.Chain]struct{}, len(chains))
	out := make([]model.Chain, 0, len(chains))
	for _, c := range chains {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	model.SortChains(out)
	return out
}
