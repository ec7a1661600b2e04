package fetchcode

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Script returns an inline <script> that fetches url when the page loads and
// replaces itself with the response body. A GET script is followed by a
// <noscript> link so crawlers can still reach the content. jsonBody is sent as
// the request body for POST and defaults to "{}".
func Script(url, method, jsonBody string) (string, error) {
	if method == "" {
		method = "GET"
	}
	if jsonBody == "" {
		jsonBody = "{}"
	}

	var request string
	switch strings.ToLower(method) {
	case "get":
		request = fmt.Sprintf(`const response = await fetch(%s);`, strconv.Quote(url))
	case "post":
		request = fmt.Sprintf(`
const request = new Request(%s, {
    headers: (() => {
        const myHeaders = new Headers();
        myHeaders.append("Content-Type", "application/json");
        return myHeaders;
    })(),
    method: "POST",
    body: JSON.stringify(%s),
});
const response = await fetch(request);`, strconv.Quote(url), jsonBody)
	default:
		return "", fmt.Errorf("fetchcode: invalid method %q", method)
	}

	js := fmt.Sprintf(`<script>
(function () {
    async function fetchShortcodeData() {
        try {
            %s
            if (!response.ok) {
                throw new Error(`+"`HTTP error! Status: ${response.status}`"+`);
            }
            return await response.text();
        } catch (error) {
            console.error("Fetch failed:", error);
            return "";
        }
    }
    (async () => {
        const currentScript = document.currentScript;
        const content = await fetchShortcodeData();
        currentScript.insertAdjacentHTML('beforebegin', content);
        currentScript.remove();
    })();
})();
</script>`, request)

	if strings.EqualFold(method, "get") {
		js += fmt.Sprintf(`<noscript><a href="%s">Link for Robots (No JavaScript)</a></noscript>`, html.EscapeString(url))
	}
	return js, nil
}
