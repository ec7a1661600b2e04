// Package fetchcode builds fragments that pull their content from an HTTP
// endpoint, either in the browser through an inline script or on the server
// before the page is sent.
package fetchcode
