package store

import (
	"context"
	"fmt"

	"github.com/genometechlab/currentview/extract"
	"github.com/genometechlab/currentview/provider"
	"github.com/genometechlab/currentview/util"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

var (
	// ErrDuplicateLabel is returned by Add when the label is already in use.
	ErrDuplicateLabel = errors.New("duplicate condition label")
	// ErrUnknownLabel is returned when a label names no stored condition.
	ErrUnknownLabel = errors.New("unknown condition label")
)

// AddConfig describes one condition to be added to the store.
type AddConfig struct {
	// Label names the condition.  If "", it defaults to "contig:position".
	Label string
	// Contig and Position locate the window center on the reference.
	Contig   string
	Position int

	// Alignments and Signals supply the underlying data.  The store does
	// not take ownership; the caller closes them.
	Alignments provider.AlignmentProvider
	Signals    provider.SignalProvider

	// AlignmentPath and SignalPath are recorded for diagnostics only.
	AlignmentPath string
	SignalPath    string

	// Opts are the extraction parameters.
	Opts extract.Opts
	// Style is the initial display style.  A zero Color or Alpha is filled
	// in automatically.
	Style Style
}

// StyleUpdate lists display fields to change.  Nil fields are left as-is.
type StyleUpdate struct {
	Color     *string
	Alpha     *float64
	LineWidth *float64
	LineStyle *string
}

// Store holds the conditions of one session, keyed by label, preserving
// insertion order.
type Store struct {
	nextID     uint64
	order      []string
	conditions map[string]*Condition
}

// New creates an empty store.
func New() *Store {
	return &Store{conditions: make(map[string]*Condition)}
}

// Add runs window extraction per cfg and stores the result under the
// condition label.  On any error, including a duplicate label, the store is
// left unchanged.
func (s *Store) Add(ctx context.Context, cfg AddConfig) (*Condition, error) {
	label := cfg.Label
	if label == "" {
		label = fmt.Sprintf("%s:%d", cfg.Contig, cfg.Position)
	}
	if _, ok := s.conditions[label]; ok {
		return nil, errors.Wrapf(ErrDuplicateLabel, "%q", label)
	}
	result, err := extract.Extract(ctx, cfg.Alignments, cfg.Signals, cfg.Contig, cfg.Position, cfg.Opts)
	if err != nil {
		return nil, err
	}
	style := cfg.Style
	if style.Color == "" {
		style.Color = defaultPalette[len(s.conditions)%len(defaultPalette)]
	}
	if style.Alpha == 0 {
		style.Alpha = autoAlpha(len(result.Traces))
	}
	if style.LineWidth == 0 {
		style.LineWidth = 1
	}
	if style.LineStyle == "" {
		style.LineStyle = "solid"
	}
	c := &Condition{
		ID:            s.nextID,
		Label:         label,
		AlignmentPath: cfg.AlignmentPath,
		SignalPath:    cfg.SignalPath,
		Contig:        cfg.Contig,
		Position:      cfg.Position,
		Opts:          cfg.Opts,
		Positions:     result.Positions,
		Traces:        result.Traces,
		Samples:       result.Samples,
		Report:        result.Report,
		Style:         style,
	}
	s.nextID++
	s.order = append(s.order, label)
	s.conditions[label] = c
	log.Printf("store: added condition %q (%s, %d reads)", label, c.Location(), c.NumReads())
	return c, nil
}

// Update changes the display style of the named condition.  Extracted data
// and filter parameters are immutable; re-add the condition to change them.
func (s *Store) Update(label string, u StyleUpdate) error {
	c, ok := s.conditions[label]
	if !ok {
		return s.unknownLabel(label)
	}
	if u.Color != nil {
		c.Style.Color = *u.Color
	}
	if u.Alpha != nil {
		c.Style.Alpha = *u.Alpha
	}
	if u.LineWidth != nil {
		c.Style.LineWidth = *u.LineWidth
	}
	if u.LineStyle != nil {
		c.Style.LineStyle = *u.LineStyle
	}
	return nil
}

// Remove drops the named condition.
func (s *Store) Remove(label string) error {
	if _, ok := s.conditions[label]; !ok {
		return s.unknownLabel(label)
	}
	delete(s.conditions, label)
	for i, l := range s.order {
		if l == label {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Clear drops all conditions.  Condition IDs are not reused afterwards.
func (s *Store) Clear() {
	s.order = nil
	s.conditions = make(map[string]*Condition)
}

// Get returns the named condition.
func (s *Store) Get(label string) (*Condition, error) {
	c, ok := s.conditions[label]
	if !ok {
		return nil, s.unknownLabel(label)
	}
	return c, nil
}

// Names returns the condition labels in insertion order.
func (s *Store) Names() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Len returns the number of stored conditions.
func (s *Store) Len() int { return len(s.order) }

func (s *Store) unknownLabel(label string) error {
	msg := fmt.Sprintf("%q", label)
	if sugg := util.Nearest(label, s.order); sugg != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", sugg)
	}
	return errors.Wrap(ErrUnknownLabel, msg)
}
