package dspace

import "encoding/json"

// Item is one record as returned by /rest/filtered-items or /rest/items/{uuid} with expand=all.
type Item struct {
	UUID                string          `json:"uuid"`
	Name                string          `json:"name"`
	Handle              string          `json:"handle"`
	Type                string          `json:"type"`
	Link                string          `json:"link"`
	LastModified        string          `json:"lastModified"`
	Archived            string          `json:"archived"`
	Withdrawn           string          `json:"withdrawn"`
	Metadata            []MetadataEntry `json:"metadata"`
	ParentCollection    *Container      `json:"parentCollection"`
	ParentCommunityList []Container     `json:"parentCommunityList"`
	Bitstreams          []Bitstream     `json:"bitstreams"`
}

// MetadataEntry is one key/value pair. Keys may repeat; slice order is source order.
type MetadataEntry struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Language string `json:"language,omitempty"`
	// Raw holds the upstream value when it was not a JSON string (null,
	// number or bool); Value then carries its text form.
	Raw json.RawMessage `json:"-"`
}

// Container is a collection or community reference.
type Container struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Link   string `json:"link"`
}

// Bitstream is a file attached to an item. Policies is nil unless the upstream
// payload already carried them.
type Bitstream struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	BundleName   string   `json:"bundleName"`
	Link         string   `json:"link"`
	SequenceID   int      `json:"sequenceId"`
	SizeBytes    int64    `json:"sizeBytes"`
	MimeType     string   `json:"mimeType"`
	RetrieveLink string   `json:"retrieveLink"`
	Policies     []Policy `json:"policies"`
}

// Policy is an access rule attached to a bitstream, kept as ordered key/raw-value
// pairs because the upstream shape varies between versions.
type Policy struct {
	Fields []PolicyField
}

// PolicyField is one member of a policy object. Value holds the raw JSON scalar.
type PolicyField struct {
	Key   string
	Value json.RawMessage
}

// Get returns the raw value for key, if present.
func (p Policy) Get(key string) (json.RawMessage, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Status is the body of GET /rest/status.
type Status struct {
	Okay          bool   `json:"okay"`
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email"`
	FullName      string `json:"fullname"`
	APIVersion    string `json:"apiVersion"`
	SourceVersion string `json:"sourceVersion"`
}

// Filter holds the /rest/filtered-items query parameters.
type Filter struct {
	Limit      int
	Offset     int
	QueryField string
	QueryOp    string
	QueryVal   string
	Expand     string
}
