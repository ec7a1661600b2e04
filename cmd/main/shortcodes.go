package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CTAG07/shortcodes/pkg/fetchcode"
	"github.com/CTAG07/shortcodes/pkg/shortcode"
)

// EchoPayload is the body the "echo" shortcode posts to /data and gets back.
type EchoPayload struct {
	Foo string `json:"foo"`
	Bar string `json:"bar"`
}

// buildRegistry wires the bundled shortcodes. The registry is immutable once built.
func buildRegistry(cfg *ShortcodeConfig) *shortcode.Registry {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	client := &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSec) * time.Second}

	return shortcode.NewRegistryBuilder().
		Register("products", productsShortcode(base)).
		Register("image", shortcode.TextFunc(imageShortcode)).
		Register("echo", echoShortcode(base)).
		Register("remote", remoteShortcode(client)).
		Build()
}

// productsShortcode embeds a script that loads the product list from /products.
//
//	{{shortcode "display" "products" "limit" "4" "orderby" "price"}}
func productsShortcode(base string) shortcode.Shortcode {
	return shortcode.Func(func(_ context.Context, args shortcode.Args) (string, error) {
		query := url.Values{}
		for _, name := range []string{"limit", "orderby"} {
			if v, ok, err := args.Get(name); err != nil {
				return "", err
			} else if ok {
				query.Set(name, v)
			}
		}
		target := base + "/products"
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		return fetchcode.Script(target, "get", "")
	})
}

// imageShortcode renders an <img> tag. Width and height default to 200.
//
//	{{shortcode "display" "image" "image_src" "/a.png" "width" "300"}}
func imageShortcode(args shortcode.Args) string {
	src := args.GetOr("image_src", "No image attribute specified")
	width := args.GetOr("width", "200")
	height := args.GetOr("height", "200")
	return fmt.Sprintf(`<img src="%s" width="%s" height="%s">`,
		html.EscapeString(src), html.EscapeString(width), html.EscapeString(height))
}

// echoShortcode embeds a script that posts foo and bar to /data.
func echoShortcode(base string) shortcode.Shortcode {
	return shortcode.Func(func(_ context.Context, args shortcode.Args) (string, error) {
		body, err := json.Marshal(EchoPayload{
			Foo: args.GetOr("foo", "no foo"),
			Bar: args.GetOr("bar", "no bar"),
		})
		if err != nil {
			return "", err
		}
		return fetchcode.Script(base+"/data", "post", string(body))
	})
}

// remoteShortcode fetches url on the server while the page renders. Pair it
// with rotate so the upstream is not contacted on every request.
//
//	{{shortcode "display" "remote" "url" "https://example.com/widget" "rotate" "600"}}
func remoteShortcode(client *http.Client) shortcode.Shortcode {
	return shortcode.Func(func(ctx context.Context, args shortcode.Args) (string, error) {
		target, ok, err := args.Get("url")
		if err != nil {
			return "", err
		}
		if !ok || target == "" {
			return "Missing url attribute", nil
		}
		return fetchcode.Fetch(ctx, client, target, args.GetOr("method", "GET"), args.GetOr("body", "")), nil
	})
}
