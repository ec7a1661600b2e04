/*
Package shortcode implements a disk-backed fragment cache for template shortcodes.

A shortcode is a named, parameterized placeholder in page content. The Engine
derives a stable cache key from the shortcode's arguments, serves a previously
rendered fragment from the cache directory when it is still fresh, and otherwise
invokes the registered Shortcode, persists its output exactly once and returns it.

Entries are plain files named <fingerprint>.html holding the fragment verbatim.
Their age comes from the file's creation time. The time-to-live is supplied per
call through the reserved "rotate" argument and expired entries are removed
lazily, when their exact key is requested again. Nothing sweeps the directory in
the background, so an expired entry lingers on disk until that next request.
*/
package shortcode
