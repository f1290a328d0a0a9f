package httpapi

import "strings"

func normalizeBasePath(value string) string {
	path := strings.TrimSpace(value)
	if path == "" || path == "/" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimRight(path, "/")
	if path == "/" {
		return ""
	}
	return path
}

// mountPath joins the normalized base path and an absolute route.
func mountPath(basePath, route string) string {
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return normalizeBasePath(basePath) + route
}
