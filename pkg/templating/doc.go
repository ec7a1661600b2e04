/*
Package templating loads html/template pages and partials from a directory and
renders them with shortcode support.

Templates resolve shortcodes through a single function, "shortcode" by default,
which takes alternating name/value pairs or one map:

	{{shortcode "display" "image" "image_src" "a.png" "rotate" "3600"}}
	{{shortcode (dict "display" "products" "limit" "4")}}

Every value must be a string. The fragment is inserted without escaping, so
shortcodes are trusted to emit well-formed markup. Resolution goes through a
shortcode.Engine, which serves cached fragments from disk when they are fresh.

Templates can be reloaded from disk with Refresh without restarting.
*/
package templating
