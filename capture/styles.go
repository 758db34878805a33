package capture

import (
	"context"
	"fmt"
)

// StyleModification records the inline value of one property before it was
// overridden.
type StyleModification struct {
	Element  Element
	Property string
	Original InlineStyle
}

// StyleLedger collects overrides applied during one render pass so they can
// be reverted exactly. Restore runs at most once per recorded batch.
type StyleLedger struct {
	mods []StyleModification
}

// Len reports the number of recorded modifications.
func (l *StyleLedger) Len() int {
	if l == nil {
		return 0
	}
	return len(l.mods)
}

// Modifications returns a copy of the recorded modifications.
func (l *StyleLedger) Modifications() []StyleModification {
	if l == nil {
		return nil
	}
	return append([]StyleModification(nil), l.mods...)
}

// Override records el's current inline prop and then sets it to value.
func (l *StyleLedger) Override(ctx context.Context, el Element, prop, value, priority string) error {
	orig, err := el.InlineStyle(ctx, prop)
	if err != nil {
		return fmt.Errorf("read inline %s: %w", prop, err)
	}
	l.mods = append(l.mods, StyleModification{Element: el, Property: prop, Original: orig})
	if err := el.SetStyle(ctx, prop, value, priority); err != nil {
		return fmt.Errorf("set %s: %w", prop, err)
	}
	return nil
}

// Declaration is one property value to apply.
type Declaration struct {
	Property string
	Value    string
}

// OverrideAll records el's inline value of every property before setting any
// of them. A shorthand set first would otherwise show up as the recorded
// value of its longhands.
func (l *StyleLedger) OverrideAll(ctx context.Context, el Element, decls []Declaration, priority string) error {
	if len(decls) == 0 {
		return nil
	}
	props := make([]string, len(decls))
	for i, d := range decls {
		props[i] = d.Property
	}
	if err := l.Remember(ctx, el, props...); err != nil {
		return err
	}
	var first error
	for _, d := range decls {
		if err := el.SetStyle(ctx, d.Property, d.Value, priority); err != nil && first == nil {
			first = fmt.Errorf("set %s: %w", d.Property, err)
		}
	}
	return first
}

// Restore reverts every modification in recording order and clears the
// ledger. The first error is returned after all reverts were attempted.
func (l *StyleLedger) Restore(ctx context.Context) error {
	if l == nil {
		return nil
	}
	mods := l.mods
	l.mods = nil
	var first error
	for _, m := range mods {
		var err error
		if m.Original.Present && m.Original.Value != "" {
			err = m.Element.SetStyle(ctx, m.Property, m.Original.Value, m.Original.Priority)
		} else {
			err = m.Element.RemoveStyle(ctx, m.Property)
		}
		if err != nil && first == nil {
			first = fmt.Errorf("restore %s: %w", m.Property, err)
		}
	}
	return first
}

// Remember records the current inline value of each prop without changing
// it, so a later Restore puts back values disturbed by shorthand overrides.
// Nothing is recorded when any read fails.
func (l *StyleLedger) Remember(ctx context.Context, el Element, props ...string) error {
	mods := make([]StyleModification, 0, len(props))
	for _, prop := range props {
		orig, err := el.InlineStyle(ctx, prop)
		if err != nil {
			return fmt.Errorf("read inline %s: %w", prop, err)
		}
		mods = append(mods, StyleModification{Element: el, Property: prop, Original: orig})
	}
	l.mods = append(l.mods, mods...)
	return nil
}
