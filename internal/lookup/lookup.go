// Package lookup resolves a user query (a symbol or any name the stock has
// carried) to one stock identity.
package lookup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"CandleDesk/internal/model"
	"CandleDesk/internal/store"
)

// Entry is a resolved stock identity. ShortName is the latest display name.
type Entry struct {
	ShortName string
	Symbol    string
}

// NameSource is the part of the bar store the lookup is built from.
type NameSource interface {
	Names(ctx context.Context) ([]store.NameRecord, error)
}

// Lookup is an immutable index over symbols and names.
type Lookup struct {
	bySymbol map[string]Entry
	byName   map[string]Entry
	entries  []Entry
}

// Load builds a Lookup from the names recorded in the bar store.
func Load(ctx context.Context, src NameSource) (*Lookup, error) {
	records, err := src.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("load names: %w", err)
	}
	return New(records), nil
}

// New builds a Lookup from name records. A name carried by several symbols
// resolves to the symbol whose current name it is; failing that, to the
// lowest symbol.
func New(records []store.NameRecord) *Lookup {
	l := &Lookup{
		bySymbol: make(map[string]Entry, len(records)),
		byName:   make(map[string]Entry, len(records)),
	}

	sorted := make([]store.NameRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	current := make(map[string]bool)
	for _, r := range sorted {
		symbol := model.NormalizeSymbol(r.Symbol)
		if symbol == "" {
			continue
		}
		latest := strings.TrimSpace(r.Latest)
		if latest == "" && len(r.Names) > 0 {
			latest = strings.TrimSpace(r.Names[len(r.Names)-1])
		}
		e := Entry{ShortName: latest, Symbol: symbol}
		if _, dup := l.bySymbol[symbol]; dup {
			continue
		}
		l.bySymbol[symbol] = e
		l.entries = append(l.entries, e)

		names := make([]string, 0, len(r.Names)+1)
		names = append(names, r.Names...)
		for _, n := range append(names, latest) {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			isCurrent := n == latest
			if prev, ok := l.byName[n]; ok {
				// keep the earlier (lower) symbol unless only this one still carries the name
				if current[n] || !isCurrent || prev.Symbol == symbol {
					continue
				}
			}
			l.byName[n] = e
			current[n] = current[n] || isCurrent
		}
	}
	return l
}

// Resolve finds the stock named by query. Symbols win over names.
func (l *Lookup) Resolve(query string) (Entry, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Entry{}, false
	}
	if e, ok := l.bySymbol[q]; ok {
		return e, true
	}
	if e, ok := l.bySymbol[model.NormalizeSymbol(q)]; ok {
		return e, true
	}
	e, ok := l.byName[q]
	return e, ok
}

// Len returns the number of known symbols.
func (l *Lookup) Len() int { return len(l.entries) }

// Entries returns every entry ordered by symbol.
func (l *Lookup) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
