package dspace

import "strings"

// PolicyPath returns the REST path of a bitstream's policy list. The link
// reported by the API is preferred; the uuid form is the fallback.
func PolicyPath(b Bitstream) string {
	link := strings.TrimRight(b.Link, "/")
	if link == "" {
		link = "/rest/bitstreams/" + b.UUID
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return link + "/policy"
}
