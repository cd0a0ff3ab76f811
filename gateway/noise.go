package gateway

import (
	"net/http"
	"strings"
)

// Internet scanners probe the same handful of paths on every reachable
// host. Logging each miss buries real traffic, so GET requests that 404
// on a known probe target skip the access log (a metric still counts
// them).
var (
	noisePrefixes = []string{
		"/favicon.ico",
		"/admin",
		"/login",
		"/cgi-bin",
		"/console",
		"/helpdesk",
		"/owncloud",
		"/zabbix",
		"/WebInterface",
		"/api/session/properties",
		"/ssi.cgi",
		"/jasperserver",
		"/partymgr",
		"/css/",
		"/js/",
		"/version",
	}

	noiseSuffixes = []string{
		".php",
		".pl",
		".ico",
		".html",
		".js",
		".png",
	}
)

// IsScannerNoise reports whether a completed request looks like an
// automated probe whose access log lines should be suppressed. Only
// GETs that missed are candidates; anything that reached a handler is
// always logged.
func IsScannerNoise(method, path string, status int) bool {
	if method != http.MethodGet || status != http.StatusNotFound {
		return false
	}
	if path == "/" {
		return true
	}
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, suffix := range noiseSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
