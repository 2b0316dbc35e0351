package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"dc.title", "dc.title.text"},
		{"dc", "dc.text"},
		{"lastModified", "lastModified.text"},
		{"dc.date.issued", "dc.date.issued"},
		{"dc.contributor.author.orcid", "dc.contributor.author.orcid"},
		{"", ".text"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, FieldName(tt.key))
		})
	}
}

func TestIsDateKey(t *testing.T) {
	assert.True(t, IsDateKey("dc.date.issued"))
	assert.True(t, IsDateKey("dc.date"))
	assert.True(t, IsDateKey("dc.date.available"))
	assert.True(t, IsDateKey("lastModified"))
	assert.False(t, IsDateKey("dc.date.accessioned"))
	assert.False(t, IsDateKey("dc.title"))
	assert.False(t, IsDateKey("dcterms.date"))
}

func TestCorrect(t *testing.T) {
	assert.Equal(t, "2018-7", Correct("20018-7"))
	assert.Equal(t, "2022-08-01", Correct("0022-08-01"))
	assert.Equal(t, "2020-01-01", Correct("2020-01-01"))
}

func TestDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2020-05-01", "2020-05-01 00:00:00"},
		{"2018", "2018-01-01 00:00:00"},
		{"2018-7", "2018-07-01 00:00:00"},
		{"20018-7", "2018-07-01 00:00:00"},
		{"0022-08-01", "2022-08-01 00:00:00"},
		{"2021-03-04T10:11:12Z", "2021-03-04 10:11:12+00:00"},
		{"2021-03-04T10:11:12+0200", "2021-03-04 10:11:12+02:00"},
		{"2021-03-04 10:11:12", "2021-03-04 10:11:12"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Date(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateRejectsGarbage(t *testing.T) {
	_, err := Date("unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnparseableDate)

	_, err = Date("   ")
	assert.ErrorIs(t, err, ErrUnparseableDate)
}

func TestValue(t *testing.T) {
	name, v, err := Value("dc.title", "Report")
	require.NoError(t, err)
	assert.Equal(t, "dc.title.text", name)
	assert.Equal(t, "Report", v)

	name, v, err = Value("dc.date.issued", "2020-05-01")
	require.NoError(t, err)
	assert.Equal(t, "dc.date.issued", name)
	assert.Equal(t, "2020-05-01 00:00:00", v)

	name, v, err = Value("dc.date.accessioned", "2022-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "dc.date.accessioned", name)
	assert.Equal(t, "2022-01-01T00:00:00Z", v)

	_, _, err = Value("dc.date.issued", "unknown")
	assert.ErrorIs(t, err, ErrUnparseableDate)
}
