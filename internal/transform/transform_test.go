package transform

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/dspace-bridge/dspace"
)

type fakePolicies struct {
	byUUID map[string]string
	calls  []string
	err    error
}

func (f *fakePolicies) Policies(_ context.Context, b dspace.Bitstream) ([]dspace.Policy, error) {
	f.calls = append(f.calls, b.UUID)
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.byUUID[b.UUID]
	if !ok {
		return []dspace.Policy{}, nil
	}
	return dspace.MapPoliciesPayload([]byte(raw))
}

func decodeItem(t *testing.T, raw string) dspace.Item {
	t.Helper()
	it, err := dspace.MapItemPayload([]byte(raw))
	require.NoError(t, err)
	return it
}

const baseItem = `{
	"uuid": "abc-1",
	"lastModified": "2022-01-02 10:00:00.0",
	"parentCollection": {"name": "Theses"},
	"parentCommunityList": [{"name": "Graduate School"}, {"name": "University"}],
	"metadata": [
		{"key": "dc.date.accessioned", "value": "2022-01-01T00:00:00+0000"},
		{"key": "dc.title", "value": "Report"},
		{"key": "dc.date.issued", "value": "2020-05-01"}
	],
	"bitstreams": [%s]
}`

func itemWithBitstreams(t *testing.T, bitstreams string) dspace.Item {
	return decodeItem(t, strings.Replace(baseItem, "%s", bitstreams, 1))
}

func stringField(t *testing.T, doc *Document, name string) string {
	t.Helper()
	v, ok := doc.String(name)
	require.True(t, ok, "missing field %s", name)
	return v
}

func TestTransformEmbargoScenario(t *testing.T) {
	src := &fakePolicies{byUUID: map[string]string{
		"bs-0": `[{"startDate": "2022-01-15"}]`,
	}}
	item := itemWithBitstreams(t, `{"uuid": "bs-0", "link": "/rest/bitstreams/bs-0"}`)

	doc, err := New(src).Transform(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, "abc-1", stringField(t, doc, FieldUUID))
	assert.Equal(t, "2022-01-15", stringField(t, doc, "policies.policy0.startDate"))
	v, ok := doc.Get(FieldEmbargoDuration)
	require.True(t, ok)
	assert.Equal(t, 14.0, v)
	assert.Equal(t, []string{"bs-0"}, src.calls)

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"embargoDuration":14`)
	assert.Contains(t, string(b), `"policies.policy0.startDate":"2022-01-15"`)
}

func TestTransformSeedsAndMetadata(t *testing.T) {
	doc, err := New(nil).Transform(context.Background(), itemWithBitstreams(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "Theses", stringField(t, doc, FieldParentCollection))
	assert.Equal(t, "Graduate School", stringField(t, doc, FieldParentCommunity))
	assert.Equal(t, "2022-01-02 10:00:00.0", stringField(t, doc, FieldLastModified))
	assert.Equal(t, "Report", stringField(t, doc, "dc.title.text"))
	assert.False(t, doc.Has("dc.title"))
	assert.Equal(t, "2020-05-01 00:00:00", stringField(t, doc, "dc.date.issued"))
	assert.Equal(t, "2022-01-01T00:00:00+0000", stringField(t, doc, "dc.date.accessioned"))

	assert.Equal(t, []string{
		FieldUUID, FieldLastModified, FieldParentCollection, FieldParentCommunity,
		"dc.date.accessioned", "dc.title.text", "dc.date.issued",
	}, doc.Names())
}

func TestTransformNoBitstreams(t *testing.T) {
	doc, err := New(&fakePolicies{}).Transform(context.Background(), itemWithBitstreams(t, ""))
	require.NoError(t, err)

	for _, name := range doc.Names() {
		assert.False(t, strings.HasPrefix(name, "policies."), name)
	}
	assert.False(t, doc.Has(FieldEmbargoDuration))
}

func TestTransformBitstreamsWithoutStartDate(t *testing.T) {
	src := &fakePolicies{byUUID: map[string]string{
		"bs-0": `[{"id": 7, "action": "READ", "groupId": 0}]`,
	}}
	doc, err := New(src).Transform(context.Background(), itemWithBitstreams(t, `{"uuid": "bs-0"}`))
	require.NoError(t, err)

	assert.Equal(t, "READ", stringField(t, doc, "policies.policy0.action"))
	assert.Equal(t, json.RawMessage("7"), mustGet(t, doc, "policies.policy0.id"))
	assert.False(t, doc.Has(FieldEmbargoDuration))
}

func TestTransformEmbargoMeanAcrossBitstreams(t *testing.T) {
	src := &fakePolicies{byUUID: map[string]string{
		"bs-0": `[{"action": "READ", "startDate": "2022-01-11"}]`,
		"bs-1": `[{"action": "READ", "startDate": "2021-12-12"}]`,
	}}
	item := itemWithBitstreams(t, `{"uuid": "bs-0"}, {"uuid": "bs-1"}`)

	doc, err := New(src).Transform(context.Background(), item)
	require.NoError(t, err)

	// 10 days after and 20 days before accession.
	assert.Equal(t, 15.0, mustGet(t, doc, FieldEmbargoDuration))
	assert.Equal(t, "2022-01-11", stringField(t, doc, "policies.policy0.startDate"))
	assert.Equal(t, "2021-12-12", stringField(t, doc, "policies.policy1.startDate"))
	assert.Equal(t, []string{"bs-0", "bs-1"}, src.calls)
}

func TestTransformEmbargoSpanningCenturies(t *testing.T) {
	src := &fakePolicies{byUUID: map[string]string{
		"bs-0": `[{"startDate": "0022-08-01"}]`,
	}}
	doc, err := New(src).Transform(context.Background(), itemWithBitstreams(t, `{"uuid": "bs-0"}`))
	require.NoError(t, err)

	// Nearly two thousand years, well past what time.Duration can hold.
	assert.Equal(t, 730273.0, mustGet(t, doc, FieldEmbargoDuration))
}

func TestTransformPolicyIndexFollowsBitstream(t *testing.T) {
	src := &fakePolicies{byUUID: map[string]string{
		"bs-0": `[{"action": "READ"}, {"action": "WRITE"}]`,
		"bs-1": `[{"action": "DELETE"}]`,
	}}
	item := itemWithBitstreams(t, `{"uuid": "bs-0"}, {"uuid": "bs-1"}`)

	doc, err := New(src).Transform(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, "WRITE", stringField(t, doc, "policies.policy0.action"))
	assert.Equal(t, "DELETE", stringField(t, doc, "policies.policy1.action"))
	assert.False(t, doc.Has("policies.policy2.action"))
}

func TestTransformNullStartDate(t *testing.T) {
	src := &fakePolicies{byUUID: map[string]string{
		"bs-0": `[{"startDate": "null"}]`,
		"bs-1": `[{"startDate": null}]`,
	}}
	item := itemWithBitstreams(t, `{"uuid": "bs-0"}, {"uuid": "bs-1"}`)

	doc, err := New(src).Transform(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, "null", stringField(t, doc, "policies.policy0.startDate"))
	assert.Equal(t, json.RawMessage("null"), mustGet(t, doc, "policies.policy1.startDate"))
	assert.False(t, doc.Has(FieldEmbargoDuration))
}

func TestTransformAttachedPoliciesAreNotFetched(t *testing.T) {
	src := &fakePolicies{}
	item := itemWithBitstreams(t, `{"uuid": "bs-0", "policies": [{"startDate": "2022-01-08"}]}`)

	doc, err := New(src).Transform(context.Background(), item)
	require.NoError(t, err)

	assert.Empty(t, src.calls)
	assert.Equal(t, 7.0, mustGet(t, doc, FieldEmbargoDuration))
}

func TestTransformDuplicateMetadataLastWins(t *testing.T) {
	item := decodeItem(t, `{
		"uuid": "dup",
		"parentCollection": {"name": "C"},
		"parentCommunityList": [{"name": "K"}],
		"metadata": [
			{"key": "dc.subject", "value": "first"},
			{"key": "dc.subject", "value": "second"},
			{"key": "dc.title", "value": "T"}
		]
	}`)
	doc, err := New(nil).Transform(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, "second", stringField(t, doc, "dc.subject.text"))
	assert.Equal(t, 6, doc.Len())
}

func TestTransformNonStringMetadataPassesThrough(t *testing.T) {
	item := decodeItem(t, `{
		"uuid": "abc-2",
		"parentCollection": {"name": "Theses"},
		"parentCommunityList": [{"name": "Graduate School"}],
		"metadata": [
			{"key": "dc.format.extent", "value": 120},
			{"key": "dc.description.abstract", "value": null},
			{"key": "dc.title", "value": "Report"}
		]
	}`)
	doc, err := New(nil).Transform(context.Background(), item)
	require.NoError(t, err)

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"dc.format.extent":120`)
	assert.Contains(t, string(b), `"dc.description.abstract":null`)
	assert.Contains(t, string(b), `"dc.title.text":"Report"`)
}

func TestTransformDateCorrections(t *testing.T) {
	item := decodeItem(t, `{
		"uuid": "fix",
		"parentCollection": {"name": "C"},
		"parentCommunityList": [{"name": "K"}],
		"metadata": [
			{"key": "dc.date.issued", "value": "0022-08-01"},
			{"key": "dc.date.created", "value": "20018-7"},
			{"key": "lastModified", "value": "0022-08-01"}
		]
	}`)
	doc, err := New(nil).Transform(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, "2022-08-01 00:00:00", stringField(t, doc, "dc.date.issued"))
	assert.Equal(t, "2018-07-01 00:00:00", stringField(t, doc, "dc.date.created"))
	assert.Equal(t, "2022-08-01 00:00:00", stringField(t, doc, "lastModified.text"))
}

func TestTransformStructuralFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{
			name: "empty community list",
			raw:  `{"uuid": "x1", "parentCollection": {"name": "C"}, "parentCommunityList": []}`,
			want: ErrNoCommunity,
		},
		{
			name: "missing collection",
			raw:  `{"uuid": "x1", "parentCommunityList": [{"name": "K"}]}`,
			want: ErrNoCollection,
		},
		{
			name: "unparseable metadata date",
			raw: `{"uuid": "x1", "parentCollection": {"name": "C"}, "parentCommunityList": [{"name": "K"}],
				"metadata": [{"key": "dc.date.issued", "value": "unknown"}]}`,
			want: ErrBadDate,
		},
		{
			name: "unparseable start date",
			raw: `{"uuid": "x1", "parentCollection": {"name": "C"}, "parentCommunityList": [{"name": "K"}],
				"metadata": [{"key": "dc.date.accessioned", "value": "2022-01-01T00:00:00Z"}],
				"bitstreams": [{"uuid": "b", "policies": [{"startDate": "15/01/2022"}]}]}`,
			want: ErrBadDate,
		},
		{
			name: "unparseable accession date",
			raw: `{"uuid": "x1", "parentCollection": {"name": "C"}, "parentCommunityList": [{"name": "K"}],
				"metadata": [{"key": "dc.date.accessioned", "value": "2022-01-01"}],
				"bitstreams": [{"uuid": "b", "policies": [{"startDate": "2022-01-15"}]}]}`,
			want: ErrBadDate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil).Transform(context.Background(), decodeItem(t, tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var te *TransformError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, "x1", te.UUID)
			assert.True(t, IsTransformError(err))
		})
	}
}

func TestTransformPolicyLookupFailure(t *testing.T) {
	src := &fakePolicies{err: errors.New("boom")}
	_, err := New(src).Transform(context.Background(), itemWithBitstreams(t, `{"uuid": "bs-0"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicies)
	assert.Contains(t, err.Error(), "boom")
}

func TestTransformIsDeterministic(t *testing.T) {
	src := &fakePolicies{byUUID: map[string]string{
		"bs-0": `[{"id": 1, "action": "READ", "startDate": "2022-02-01", "endDate": null}]`,
		"bs-1": `[{"id": 2, "action": "READ", "startDate": "2022-03-01"}]`,
	}}
	item := itemWithBitstreams(t, `{"uuid": "bs-0"}, {"uuid": "bs-1"}`)
	tr := New(src)

	first, err := tr.Transform(context.Background(), item)
	require.NoError(t, err)
	second, err := tr.Transform(context.Background(), item)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func mustGet(t *testing.T, doc *Document, name string) any {
	t.Helper()
	v, ok := doc.Get(name)
	require.True(t, ok, "missing field %s", name)
	return v
}
