package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/sources>; rel="sources"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/layers>; rel="layers"`,
	},
	"/api/v1/layers": {
		`</api/v1/sources>; rel="sources"`,
		`</api/v1/legacy/layers>; rel="legacy"`,
	},
	"/api/v1/layers/{id}": {
		`</api/v1/layers>; rel="collection"`,
	},
	"/api/v1/sources": {
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/data/guess>; rel="guess"`,
	},
	"/api/v1/legacy/layers": {
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/legacy/convert>; rel="convert"`,
	},
}

// itemLinks are appended to every /api/v1/layers/{id}* response with the
// layer path substituted.
var itemLinks = []struct{ suffix, rel string }{
	{"/evaluate", "evaluate"},
	{"/legacy", "legacy"},
	{"/compat", "compat"},
	{"/stream", "stream"},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if op.Path == "/api/v1/layers/{id}" {
			for _, l := range itemLinks {
				ctx.AppendHeader("Link", fmt.Sprintf(`<%s%s>; rel="%s"`, ctx.URL().Path, l.suffix, l.rel))
			}
		}

		return v, nil
	}
}
