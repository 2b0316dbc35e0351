// Package transform flattens repository items into search documents.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/canon"
)

// Output field names that are not derived from metadata keys.
const (
	FieldUUID             = "uuid"
	FieldLastModified     = "lastModified"
	FieldParentCollection = "parentCollection"
	FieldParentCommunity  = "parentCommunityList"
	FieldEmbargoDuration  = "embargoDuration"

	startDateKey = "startDate"
)

var accessionLayouts = []string{
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05Z07:00",
}

// PolicySource resolves the policy list of a bitstream.
type PolicySource interface {
	Policies(ctx context.Context, b dspace.Bitstream) ([]dspace.Policy, error)
}

// Transformer turns one item into one Document. It holds no per-item state and
// is safe for concurrent use when its PolicySource is.
type Transformer struct {
	Policies PolicySource
}

func New(src PolicySource) *Transformer {
	return &Transformer{Policies: src}
}

// Transform builds the flat document for item. Bitstreams that already carry
// policies are not looked up again.
func (t *Transformer) Transform(ctx context.Context, item dspace.Item) (*Document, error) {
	fail := func(err error) (*Document, error) {
		return nil, &TransformError{UUID: item.UUID, Err: err}
	}
	if item.ParentCollection == nil {
		return fail(ErrNoCollection)
	}
	if len(item.ParentCommunityList) == 0 {
		return fail(ErrNoCommunity)
	}

	doc := NewDocument()
	doc.Set(FieldUUID, item.UUID)
	doc.Set(FieldLastModified, item.LastModified)
	doc.Set(FieldParentCollection, item.ParentCollection.Name)
	doc.Set(FieldParentCommunity, item.ParentCommunityList[0].Name)

	// Each bitstream's policies are written once, indexed by the bitstream's
	// position. Earlier bitstreams are not revisited when later ones are added.
	var embargoes []int
	for i, bs := range item.Bitstreams {
		policies, err := t.policiesOf(ctx, bs)
		if err != nil {
			return fail(fmt.Errorf("%w: bitstream %d (%s): %w", ErrPolicies, i, bs.UUID, err))
		}
		prefix := "policies.policy" + strconv.Itoa(i) + "."
		for _, p := range policies {
			for _, f := range p.Fields {
				doc.Set(prefix+f.Key, f.Value)
				if f.Key != startDateKey {
					continue
				}
				days, err := embargoDays(item.Metadata, f.Value)
				if err != nil {
					return fail(err)
				}
				embargoes = append(embargoes, days...)
			}
		}
	}
	if len(embargoes) > 0 {
		doc.Set(FieldEmbargoDuration, mean(embargoes))
	}

	for _, m := range item.Metadata {
		name, value, err := canon.Value(m.Key, m.Value)
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrBadDate, err))
		}
		// Non-string scalars pass through unchanged outside date keys.
		if m.Raw != nil && !canon.IsDateKey(m.Key) {
			doc.Set(name, m.Raw)
			continue
		}
		doc.Set(name, value)
	}
	return doc, nil
}

func (t *Transformer) policiesOf(ctx context.Context, bs dspace.Bitstream) ([]dspace.Policy, error) {
	if bs.Policies != nil {
		return bs.Policies, nil
	}
	if t.Policies == nil {
		return nil, fmt.Errorf("no policy source configured")
	}
	return t.Policies.Policies(ctx, bs)
}

// embargoDays returns one day count per dc.date.accessioned value, or nothing
// when the start date is absent or the literal "null".
func embargoDays(metadata []dspace.MetadataEntry, raw json.RawMessage) ([]int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var start string
	if err := json.Unmarshal(raw, &start); err != nil {
		return nil, fmt.Errorf("%w: startDate %s is not a string", ErrBadDate, raw)
	}
	if start == "null" {
		return nil, nil
	}
	startDay, err := time.Parse("2006-1-2", start)
	if err != nil {
		return nil, fmt.Errorf("%w: startDate %q: %v", ErrBadDate, start, err)
	}

	var out []int
	for _, m := range metadata {
		if m.Key != canon.AccessionedKey {
			continue
		}
		accessioned, err := parseAccessioned(m.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, absDays(accessioned, startDay))
	}
	return out, nil
}

func parseAccessioned(v string) (time.Time, error) {
	for _, layout := range accessionLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q", ErrBadDate, canon.AccessionedKey, v)
}

// absDays counts whole days between two UTC midnights. time.Duration would
// overflow past roughly 292 years, which bad upstream years can reach.
func absDays(a, b time.Time) int {
	d := (a.Unix() - b.Unix()) / 86400
	if d < 0 {
		return int(-d)
	}
	return int(d)
}

func mean(vals []int) float64 {
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return float64(sum) / float64(len(vals))
}
